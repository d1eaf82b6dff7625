package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/metrics"
	"github.com/dtroode/electorate-server/internal/model"
)

// heartbeatInterval throttles maintenance sweeps.
const heartbeatInterval = 10 * time.Second

// secretSaltRounds is the number of random salt rounds mixed into a fresh
// vote secret.
const secretSaltRounds = 19

// Election is the election store: it owns votes, ballots, per-vote secrets
// and suspicious-ballot reports. Ballots carry only an anonymous id derived
// from the vote's secret; once a vote closes and its secret is erased, ballot
// ownership can no longer be derived by anyone, including the store itself.
type Election struct {
	archive  model.ElectionArchive
	identity *Identity
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu      sync.Mutex
	votes   map[string]model.VoteAndBallots
	secrets map[string]string
	reports map[string][]model.SuspiciousBallot

	// ballotIDs memoizes user -> ballot id per vote; ballotVoters is the
	// reverse direction. Both are cleared together with the vote's secret.
	ballotIDs     map[string]map[string]string
	ballotVoters  map[string]map[string]string
	lastHeartbeat time.Time

	now func() time.Time
}

// NewElection loads the election state from the archive.
func NewElection(ctx context.Context, archive model.ElectionArchive, identity *Identity, m *metrics.Metrics, logger *logger.Logger) (*Election, error) {
	secrets, err := archive.LoadSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load vote secrets: %w", err)
	}

	votes := map[string]model.VoteAndBallots{}
	for voteID := range secrets {
		vote, err := archive.LoadVote(ctx, voteID)
		if err != nil {
			return nil, fmt.Errorf("failed to load vote %s: %w", voteID, err)
		}
		votes[voteID] = vote
	}

	reports, err := archive.LoadReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load suspicious-ballot reports: %w", err)
	}

	s := &Election{
		archive:      archive,
		identity:     identity,
		metrics:      m,
		logger:       logger,
		votes:        votes,
		secrets:      secrets,
		reports:      reports,
		ballotIDs:    map[string]map[string]string{},
		ballotVoters: map[string]map[string]string{},
		now:          time.Now,
	}
	s.lastHeartbeat = s.now()

	return s, nil
}

// heartbeatLocked performs the throttled maintenance sweep: secrets of closed
// votes are erased and their ballot-id caches dropped, making ballot
// ownership unrecoverable.
func (s *Election) heartbeatLocked(ctx context.Context) error {
	if s.now().Sub(s.lastHeartbeat) < heartbeatInterval {
		return nil
	}
	s.lastHeartbeat = s.now()

	var closed []string
	for voteID, vote := range s.votes {
		if !vote.Vote.Active(s.now()) && s.secrets[voteID] != "" {
			closed = append(closed, voteID)
		}
	}
	if len(closed) == 0 {
		return nil
	}

	for _, voteID := range closed {
		delete(s.ballotIDs, voteID)
		delete(s.ballotVoters, voteID)
		s.secrets[voteID] = ""
	}
	if err := s.archive.SaveSecrets(ctx, s.secrets); err != nil {
		return fmt.Errorf("failed to persist erased vote secrets: %w", err)
	}

	s.metrics.SecretsErased.Add(float64(len(closed)))
	s.logger.Info("erased secrets of closed votes", "count", len(closed))
	return nil
}

// Heartbeat runs the maintenance sweep outside of any other operation.
func (s *Election) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeatLocked(ctx)
}

// ballotIDLocked derives a user's anonymous ballot id for a vote: a SHA3-256
// digest over the user id and the vote's secret. Memoized per vote.
func (s *Election) ballotIDLocked(voteID, userID string) (string, error) {
	secret := s.secrets[voteID]
	if secret == "" {
		return "", fmt.Errorf("vote %s: %w", voteID, model.ErrSecretUnavailable)
	}

	cache := s.ballotIDs[voteID]
	if cache == nil {
		cache = map[string]string{}
		s.ballotIDs[voteID] = cache
	}
	if id, ok := cache[userID]; ok {
		return id, nil
	}

	h := sha3.New256()
	h.Write([]byte(userID))
	h.Write([]byte(secret))
	id := hex.EncodeToString(h.Sum(nil))
	cache[userID] = id
	return id, nil
}

// BallotID derives the ballot id a device's user holds for a vote.
func (s *Election) BallotID(voteID string, device model.Device) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ballotIDLocked(voteID, device.UserID)
}

// findVoterLocked resolves which user cast a ballot by recomputing every
// known user's ballot id. O(registered device owners), bounded by the
// per-vote memo. Never exposed through the API.
func (s *Election) findVoterLocked(voteID string, ballot model.Ballot) string {
	cache := s.ballotVoters[voteID]
	if cache == nil {
		cache = map[string]string{}
		s.ballotVoters[voteID] = cache
	}
	if userID, ok := cache[ballot.ID]; ok {
		return userID
	}

	for _, userID := range s.identity.UserIDs() {
		id, err := s.ballotIDLocked(voteID, userID)
		if err != nil {
			return ""
		}
		if id == ballot.ID {
			cache[ballot.ID] = userID
			return userID
		}
	}
	return ""
}

// newSecret generates a vote's high-entropy secret by hashing the vote id
// with repeated rounds of random salt.
func newSecret(voteID string) (string, error) {
	h := sha3.New256()
	h.Write([]byte(voteID))
	salt := make([]byte, 16)
	for i := 0; i < secretSaltRounds; i++ {
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("failed to generate vote secret: %w", err)
		}
		h.Write(salt)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CastBallot stores a ballot for the device's user, replacing any ballot the
// user cast before. Rejected with a business error once the vote has closed.
func (s *Election) CastBallot(ctx context.Context, voteID string, ballot model.Ballot, device model.Device) (model.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return model.Ballot{}, err
	}

	vote, ok := s.votes[voteID]
	if !ok {
		return model.Ballot{}, fmt.Errorf("vote %s: %w", voteID, model.ErrNotFound)
	}
	if !vote.Vote.Active(s.now()) {
		return model.Ballot{}, model.NewUserError("Vote already closed. Sorry!")
	}

	ballotID, err := s.ballotIDLocked(voteID, device.UserID)
	if err != nil {
		return model.Ballot{}, err
	}

	kept := vote.Ballots[:0:0]
	for _, other := range vote.Ballots {
		if other.ID != ballotID {
			kept = append(kept, other)
		}
	}
	vote.Ballots = kept

	ballot.ID = ballotID
	ballot.Timestamp = s.now().UnixMilli()

	if err := s.checkIfSuspiciousLocked(ctx, voteID, vote, ballot, device); err != nil {
		return model.Ballot{}, err
	}

	vote.Ballots = append(vote.Ballots, ballot)
	s.votes[voteID] = vote

	if err := s.archive.SaveVote(ctx, vote); err != nil {
		return model.Ballot{}, fmt.Errorf("failed to persist vote %s: %w", voteID, err)
	}

	s.metrics.BallotsCast.Inc()
	return ballot, nil
}

// checkIfSuspiciousLocked looks for another voter on the same vote who owns a
// device sharing the casting device's fingerprint. Detection stops at the
// first collision; chained collusion across more than one hop is not flagged.
func (s *Election) checkIfSuspiciousLocked(ctx context.Context, voteID string, vote model.VoteAndBallots, ballot model.Ballot, device model.Device) error {
	persistentID := device.Info.PersistentID
	visitorID := device.Info.VisitorID

	for _, other := range vote.Ballots {
		if other.ID == ballot.ID {
			continue
		}

		voterID := s.findVoterLocked(voteID, other)
		if voterID == "" {
			continue
		}

		for _, otherDevice := range s.identity.DevicesOf(voterID) {
			sharedPersistent := persistentID != "" && otherDevice.Info.PersistentID == persistentID
			sharedVisitor := visitorID != "" && otherDevice.Info.VisitorID == visitorID
			if sharedPersistent || sharedVisitor {
				return s.logSuspiciousBallotLocked(ctx, voteID, ballot, other, device, otherDevice)
			}
		}
	}
	return nil
}

// logSuspiciousBallotLocked appends a report pairing both ballots and both
// device records; reports are never mutated afterwards.
func (s *Election) logSuspiciousBallotLocked(ctx context.Context, voteID string, first, second model.Ballot, firstDevice, secondDevice model.Device) error {
	report := model.SuspiciousBallot{
		ID:           uuid.NewString(),
		FirstBallot:  first,
		SecondBallot: second,
		FirstDevice:  firstDevice,
		SecondDevice: secondDevice,
	}
	s.reports[voteID] = append(s.reports[voteID], report)

	if err := s.archive.SaveReports(ctx, s.reports); err != nil {
		return fmt.Errorf("failed to persist suspicious-ballot reports: %w", err)
	}

	s.metrics.SuspiciousBallots.Inc()
	s.logger.Warn("suspicious ballot detected",
		"vote_id", voteID,
		"ballot_id", first.ID,
		"other_ballot_id", second.ID,
		"device_id", firstDevice.ID,
		"other_device_id", secondDevice.ID)
	return nil
}

// CreateVote creates a vote from a proposal: the id is derived from the name,
// deduplicated with a numeric suffix, and a fresh secret is generated.
func (s *Election) CreateVote(ctx context.Context, proposal model.VoteProposal) (model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return model.Vote{}, err
	}

	if _, err := proposal.Type.Kind(); err != nil {
		return model.Vote{}, err
	}

	baseID := slugify(proposal.Name)
	voteID := baseID
	for suffix := 2; ; suffix++ {
		if _, taken := s.votes[voteID]; !taken {
			break
		}
		voteID = fmt.Sprintf("%s-%d", baseID, suffix)
	}

	secret, err := newSecret(voteID)
	if err != nil {
		return model.Vote{}, err
	}

	vote := model.Vote{
		ID:          voteID,
		Name:        proposal.Name,
		Description: proposal.Description,
		Deadline:    proposal.Deadline,
		Type:        proposal.Type,
		Options:     proposal.Options,
	}
	record := model.VoteAndBallots{Vote: vote, Ballots: []model.Ballot{}}

	s.votes[voteID] = record
	s.secrets[voteID] = secret

	if err := s.archive.SaveVote(ctx, record); err != nil {
		return model.Vote{}, fmt.Errorf("failed to persist vote %s: %w", voteID, err)
	}
	if err := s.archive.SaveSecrets(ctx, s.secrets); err != nil {
		return model.Vote{}, fmt.Errorf("failed to persist vote secrets: %w", err)
	}

	s.metrics.VotesCreated.Inc()
	s.logger.Info("vote created", "vote_id", voteID, "deadline", vote.Deadline)
	return vote, nil
}

// slugify derives a URL-safe vote id from a name: lowercase, alphanumerics
// kept, runs of anything else collapsed to a single hyphen.
func slugify(name string) string {
	var runes []rune
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			runes = append(runes, c)
		case c >= 'A' && c <= 'Z':
			runes = append(runes, c+('a'-'A'))
		case len(runes) > 0 && runes[len(runes)-1] != '-':
			runes = append(runes, '-')
		}
	}
	for len(runes) > 0 && runes[len(runes)-1] == '-' {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

// CancelVote removes a vote and its secret entirely. Only active votes can be
// cancelled; otherwise it is a no-op returning false.
func (s *Election) CancelVote(ctx context.Context, voteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return false, err
	}

	vote, ok := s.votes[voteID]
	if !ok || !vote.Vote.Active(s.now()) {
		return false, nil
	}

	delete(s.votes, voteID)
	delete(s.secrets, voteID)
	delete(s.ballotIDs, voteID)
	delete(s.ballotVoters, voteID)

	if err := s.archive.SaveSecrets(ctx, s.secrets); err != nil {
		return false, fmt.Errorf("failed to persist vote secrets: %w", err)
	}
	if err := s.archive.DeleteVote(ctx, voteID); err != nil {
		return false, err
	}

	s.logger.Info("vote cancelled", "vote_id", voteID)
	return true, nil
}

// EditVote replaces a vote's definition. The candidate roster of a closed
// vote is immutable and the ballot kind must never change; accepted edits
// reconcile existing ballots with the new option list.
func (s *Election) EditVote(ctx context.Context, newVote model.Vote, device model.Device) (model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return model.Vote{}, err
	}

	record, ok := s.votes[newVote.ID]
	if !ok {
		return model.Vote{}, fmt.Errorf("vote %s: %w", newVote.ID, model.ErrNotFound)
	}
	oldVote := record.Vote

	oldOptionIDs := optionIDs(oldVote.Options)
	newOptionIDs := optionIDs(newVote.Options)

	if !equalStrings(oldOptionIDs, newOptionIDs) && !oldVote.Active(s.now()) {
		return model.Vote{}, model.NewUserError("Candidates cannot be added or removed after the election has ended.")
	}

	oldKind, err := oldVote.Type.Kind()
	if err != nil {
		return model.Vote{}, err
	}
	newKind, err := newVote.Type.Kind()
	if err != nil {
		return model.Vote{}, err
	}
	if oldKind != newKind {
		return model.Vote{}, model.NewUserError("Cannot change ballots of type %s to type %s.", oldKind, newKind)
	}

	added := difference(newOptionIDs, oldOptionIDs)
	removed := difference(oldOptionIDs, newOptionIDs)

	record.Vote = newVote
	record.Ballots = reconcileBallots(record.Ballots, newKind, newVote.Type.Min, added, removed)
	s.votes[newVote.ID] = record

	if err := s.archive.SaveVote(ctx, record); err != nil {
		return model.Vote{}, fmt.Errorf("failed to persist vote %s: %w", newVote.ID, err)
	}

	s.logger.Info("vote edited", "vote_id", newVote.ID, "user_id", device.UserID)
	return s.prepareForTransmissionLocked(record, device).Vote, nil
}

func optionIDs(options []model.VoteOption) []string {
	ids := make([]string, 0, len(options))
	for _, opt := range options {
		ids = append(ids, opt.ID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func difference(a, b []string) map[string]struct{} {
	inB := map[string]struct{}{}
	for _, s := range b {
		inB[s] = struct{}{}
	}
	diff := map[string]struct{}{}
	for _, s := range a {
		if _, ok := inB[s]; !ok {
			diff[s] = struct{}{}
		}
	}
	return diff
}

// reconcileBallots adjusts existing ballots to an edited option roster.
// Ratings for removed options are dropped and added options back-filled at
// the minimum rating; choose-one ballots that selected a removed option are
// dropped entirely; ranked ballots pass through unchanged.
func reconcileBallots(ballots []model.Ballot, kind model.BallotKind, minRating int, added, removed map[string]struct{}) []model.Ballot {
	result := make([]model.Ballot, 0, len(ballots))
	for _, ballot := range ballots {
		switch kind {
		case model.BallotKindRateOptions:
			ratings := make([]model.OptionRating, 0, len(ballot.RatingPerOption)+len(added))
			for _, rating := range ballot.RatingPerOption {
				if _, gone := removed[rating.OptionID]; !gone {
					ratings = append(ratings, rating)
				}
			}
			for optionID := range added {
				ratings = append(ratings, model.OptionRating{OptionID: optionID, Rating: minRating})
			}
			ballot.RatingPerOption = ratings
			result = append(result, ballot)
		case model.BallotKindChooseOne:
			if _, gone := removed[ballot.SelectedOptionID]; gone {
				continue
			}
			result = append(result, ballot)
		default:
			result = append(result, ballot)
		}
	}
	return result
}

// AddOption appends a candidate to an active vote, back-filling rating
// ballots at the minimum rating so the ballot schema stays consistent.
func (s *Election) AddOption(ctx context.Context, voteID string, option model.VoteOption, device model.Device) (model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return model.Vote{}, err
	}

	record, ok := s.votes[voteID]
	if !ok {
		return model.Vote{}, fmt.Errorf("vote %s: %w", voteID, model.ErrNotFound)
	}
	if !record.Vote.Active(s.now()) {
		return model.Vote{}, model.NewUserError("Vote already closed. Sorry!")
	}
	if record.Vote.HasOption(option.ID) {
		return model.Vote{}, model.NewUserError("A vote option with ID %s already exists.", option.ID)
	}

	kind, err := record.Vote.Type.Kind()
	if err != nil {
		return model.Vote{}, err
	}

	record.Vote.Options = append(record.Vote.Options, option)
	if kind == model.BallotKindRateOptions {
		for i := range record.Ballots {
			record.Ballots[i].RatingPerOption = append(record.Ballots[i].RatingPerOption, model.OptionRating{
				OptionID: option.ID,
				Rating:   record.Vote.Type.Min,
			})
		}
	}
	s.votes[voteID] = record

	if err := s.archive.SaveVote(ctx, record); err != nil {
		return model.Vote{}, fmt.Errorf("failed to persist vote %s: %w", voteID, err)
	}

	s.logger.Info("vote option added", "vote_id", voteID, "option_id", option.ID, "user_id", device.UserID)
	return s.prepareForTransmissionLocked(record, device).Vote, nil
}

// MarkResignation records that a candidate resigned from their seat. Only
// closed votes accept resignations.
func (s *Election) MarkResignation(ctx context.Context, voteID, optionID string, device model.Device) (model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return model.Vote{}, err
	}

	record, ok := s.votes[voteID]
	if !ok {
		return model.Vote{}, fmt.Errorf("vote %s: %w", voteID, model.ErrNotFound)
	}
	if record.Vote.Active(s.now()) {
		return model.Vote{}, model.NewUserError("Vote not closed yet.")
	}
	for _, resigned := range record.Vote.Resigned {
		if resigned == optionID {
			return model.Vote{}, model.NewUserError("Candidate has already resigned.")
		}
	}

	record.Vote.Resigned = append(record.Vote.Resigned, optionID)
	s.votes[voteID] = record

	if err := s.archive.SaveVote(ctx, record); err != nil {
		return model.Vote{}, fmt.Errorf("failed to persist vote %s: %w", voteID, err)
	}

	s.logger.Info("resignation marked", "vote_id", voteID, "option_id", optionID, "user_id", device.UserID)
	return record.Vote, nil
}

// GetVote returns a vote prepared for transmission to the calling device.
func (s *Election) GetVote(ctx context.Context, voteID string, device model.Device) (model.VoteAndBallots, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return model.VoteAndBallots{}, err
	}

	record, ok := s.votes[voteID]
	if !ok {
		s.logger.Error("attempted to get nonexistent vote", "vote_id", voteID)
		return model.VoteAndBallots{}, fmt.Errorf("vote %s: %w", voteID, model.ErrNotFound)
	}
	return s.prepareForTransmissionLocked(record, device), nil
}

// GetActiveVotes returns every active vote prepared for transmission.
func (s *Election) GetActiveVotes(ctx context.Context, device model.Device) ([]model.VoteAndBallots, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return nil, err
	}

	votes := make([]model.VoteAndBallots, 0)
	for _, record := range s.votes {
		if record.Vote.Active(s.now()) {
			votes = append(votes, s.prepareForTransmissionLocked(record, device))
		}
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].Vote.ID < votes[j].Vote.ID })
	return votes, nil
}

// AllVotes returns every vote definition, without ballots.
func (s *Election) AllVotes(ctx context.Context) ([]model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return nil, err
	}

	votes := make([]model.Vote, 0, len(s.votes))
	for _, record := range s.votes {
		votes = append(votes, record.Vote)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ID < votes[j].ID })
	return votes, nil
}

// SuspiciousBallotsReport returns the reports recorded for a vote.
func (s *Election) SuspiciousBallotsReport(ctx context.Context, voteID string) ([]model.SuspiciousBallot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.heartbeatLocked(ctx); err != nil {
		return nil, err
	}
	return s.reports[voteID], nil
}

// prepareForTransmissionLocked applies the read-side contract: while a vote
// is active, other voters' ballots are withheld and only the caller's own
// ballot (found by forward derivation, never reverse lookup) is attached.
// Closed votes are transmitted in full: identities were never stored, so
// anonymity survives the election.
func (s *Election) prepareForTransmissionLocked(record model.VoteAndBallots, device model.Device) model.VoteAndBallots {
	if !record.Vote.Active(s.now()) {
		return record
	}

	result := model.VoteAndBallots{Vote: record.Vote, Ballots: []model.Ballot{}}
	ballotID, err := s.ballotIDLocked(record.Vote.ID, device.UserID)
	if err != nil {
		return result
	}
	for _, ballot := range record.Ballots {
		if ballot.ID == ballotID {
			own := ballot
			result.OwnBallot = &own
			break
		}
	}
	return result
}
