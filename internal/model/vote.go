package model

import (
	"context"
	"fmt"
	"time"
)

// ElectionArchive persists votes, the per-vote secret index and
// suspicious-ballot reports.
type ElectionArchive interface {
	LoadSecrets(ctx context.Context) (map[string]string, error)
	SaveSecrets(ctx context.Context, secrets map[string]string) error
	LoadVote(ctx context.Context, voteID string) (VoteAndBallots, error)
	SaveVote(ctx context.Context, vote VoteAndBallots) error
	DeleteVote(ctx context.Context, voteID string) error
	LoadReports(ctx context.Context) (map[string][]SuspiciousBallot, error)
	SaveReports(ctx context.Context, reports map[string][]SuspiciousBallot) error
}

// BallotKind describes the shape of ballots a vote collects.
type BallotKind string

const (
	// BallotKindChooseOne is a ballot selecting exactly one option.
	BallotKindChooseOne BallotKind = "choose-one"
	// BallotKindRateOptions is a ballot rating every option.
	BallotKindRateOptions BallotKind = "rate-options"
	// BallotKindRankOptions is a ballot ranking options in preference order.
	BallotKindRankOptions BallotKind = "rank-options"
)

// BallotType describes how a vote is tallied and how many seats it fills.
type BallotType struct {
	Tally     string `json:"tally"`
	Positions int    `json:"positions,omitempty"`
	Min       int    `json:"min,omitempty"`
	Max       int    `json:"max,omitempty"`
}

// Kind derives the ballot kind from the tallying algorithm. An unknown
// algorithm is a configuration error, not a per-request failure.
func (t BallotType) Kind() (BallotKind, error) {
	switch t.Tally {
	case "first-past-the-post", "sainte-lague":
		return BallotKindChooseOne, nil
	case "spsv", "star":
		return BallotKindRateOptions, nil
	case "stv":
		return BallotKindRankOptions, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTally, t.Tally)
	}
}

// Candidate is a person on an option's ticket.
type Candidate struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// VoteOption is a single choice on a ballot.
type VoteOption struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Ticket      []Candidate `json:"ticket,omitempty"`
}

// Vote is a public vote definition.
type Vote struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Deadline    int64        `json:"deadline"`
	Type        BallotType   `json:"type"`
	Options     []VoteOption `json:"options"`
	Resigned    []string     `json:"resigned,omitempty"`
}

// Active reports whether the vote is still open at the given instant.
func (v Vote) Active(now time.Time) bool {
	return now.Unix() < v.Deadline
}

// HasOption reports whether the vote already has an option with the given id.
func (v Vote) HasOption(optionID string) bool {
	for _, opt := range v.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// OptionRating is a single option's rating on a rate-options ballot.
type OptionRating struct {
	OptionID string `json:"optionId"`
	Rating   int    `json:"rating"`
}

// Ballot is an anonymously stored ballot. Exactly one of the selection fields
// is populated, matching the vote's ballot kind. Timestamp is in Unix
// milliseconds.
type Ballot struct {
	ID               string         `json:"id,omitempty"`
	Timestamp        int64          `json:"timestamp,omitempty"`
	SelectedOptionID string         `json:"selectedOptionId,omitempty"`
	RatingPerOption  []OptionRating `json:"ratingPerOption,omitempty"`
	RankedOptionIDs  []string       `json:"rankedOptionIds,omitempty"`
}

// VoteAndBallots is a vote together with every ballot cast for it. OwnBallot
// is only populated on transmission, never persisted.
type VoteAndBallots struct {
	Vote      Vote     `json:"vote"`
	Ballots   []Ballot `json:"ballots"`
	OwnBallot *Ballot  `json:"ownBallot,omitempty"`
}

// SuspiciousBallot pairs a newly cast ballot with an earlier ballot whose
// voter owns a device sharing the casting device's fingerprint.
type SuspiciousBallot struct {
	ID           string `json:"id"`
	FirstBallot  Ballot `json:"firstBallot"`
	SecondBallot Ballot `json:"secondBallot"`
	FirstDevice  Device `json:"firstDevice"`
	SecondDevice Device `json:"secondDevice"`
}

// VoteProposal is a vote definition without an id, as produced by an external
// collaborator. CreateVote derives the id.
type VoteProposal struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Deadline    int64        `json:"deadline"`
	Type        BallotType   `json:"type"`
	Options     []VoteOption `json:"options"`
}
