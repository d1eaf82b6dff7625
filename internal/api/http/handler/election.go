package handler

import (
	"net/http"

	"github.com/dtroode/electorate-server/internal/api/http/httpctx"
	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/service"
)

// Election exposes vote reads, ballot casting and election management.
type Election struct {
	election *service.Election
	ctxMgr   *httpctx.Manager
	logger   *logger.Logger
}

// NewElection creates a new election handler.
func NewElection(election *service.Election, ctxMgr *httpctx.Manager, logger *logger.Logger) *Election {
	return &Election{election: election, ctxMgr: ctxMgr, logger: logger}
}

type voteIDRequest struct {
	VoteID string `json:"voteId"`
}

// ActiveVotes handles POST /api/core/active-votes.
func (h *Election) ActiveVotes(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	votes, err := h.election.GetActiveVotes(r.Context(), device)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

// AllVotes handles POST /api/core/all-votes. Definitions only, no ballots.
func (h *Election) AllVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.election.AllVotes(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

// GetVote handles POST /api/core/vote.
func (h *Election) GetVote(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req voteIDRequest
	if err := decodeJSON(r, &req); err != nil || req.VoteID == "" {
		writeError(w, http.StatusBadRequest, "voteId is required")
		return
	}

	vote, err := h.election.GetVote(r.Context(), req.VoteID, device)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

// CastBallot handles POST /api/core/cast-ballot.
func (h *Election) CastBallot(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req struct {
		VoteID string       `json:"voteId"`
		Ballot model.Ballot `json:"ballot"`
	}
	if err := decodeJSON(r, &req); err != nil || req.VoteID == "" {
		writeError(w, http.StatusBadRequest, "voteId and ballot are required")
		return
	}

	ballot, err := h.election.CastBallot(r.Context(), req.VoteID, req.Ballot, device)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ballot)
}

// CreateVote handles POST /api/election-management/create-vote.
func (h *Election) CreateVote(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req struct {
		Proposal model.VoteProposal `json:"proposal"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Proposal.Name == "" {
		writeError(w, http.StatusBadRequest, "proposal is required")
		return
	}

	vote, err := h.election.CreateVote(r.Context(), req.Proposal)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Info("vote created via api", "vote_id", vote.ID, "user_id", device.UserID)
	writeJSON(w, http.StatusOK, vote)
}

// CancelVote handles POST /api/election-management/cancel-vote.
func (h *Election) CancelVote(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req voteIDRequest
	if err := decodeJSON(r, &req); err != nil || req.VoteID == "" {
		writeError(w, http.StatusBadRequest, "voteId is required")
		return
	}

	cancelled, err := h.election.CancelVote(r.Context(), req.VoteID)
	if err != nil {
		handleError(w, err)
		return
	}
	if cancelled {
		h.logger.Info("vote cancelled via api", "vote_id", req.VoteID, "user_id", device.UserID)
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// EditVote handles POST /api/election-management/edit-vote.
func (h *Election) EditVote(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req struct {
		Vote model.Vote `json:"vote"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Vote.ID == "" {
		writeError(w, http.StatusBadRequest, "vote is required")
		return
	}

	vote, err := h.election.EditVote(r.Context(), req.Vote, device)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

// AddOption handles POST /api/election-management/add-vote-option.
func (h *Election) AddOption(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req struct {
		VoteID string           `json:"voteId"`
		Option model.VoteOption `json:"option"`
	}
	if err := decodeJSON(r, &req); err != nil || req.VoteID == "" || req.Option.ID == "" {
		writeError(w, http.StatusBadRequest, "voteId and option are required")
		return
	}

	vote, err := h.election.AddOption(r.Context(), req.VoteID, req.Option, device)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

// Resign handles POST /api/election-management/resign.
func (h *Election) Resign(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	var req struct {
		VoteID   string `json:"voteId"`
		OptionID string `json:"optionId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.VoteID == "" || req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "voteId and optionId are required")
		return
	}

	vote, err := h.election.MarkResignation(r.Context(), req.VoteID, req.OptionID, device)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}

// SuspiciousBallots handles POST /api/election-management/suspicious-ballots.
func (h *Election) SuspiciousBallots(w http.ResponseWriter, r *http.Request) {
	var req voteIDRequest
	if err := decodeJSON(r, &req); err != nil || req.VoteID == "" {
		writeError(w, http.StatusBadRequest, "voteId is required")
		return
	}

	reports, err := h.election.SuspiciousBallotsReport(r.Context(), req.VoteID)
	if err != nil {
		handleError(w, err)
		return
	}
	if reports == nil {
		reports = []model.SuspiciousBallot{}
	}
	writeJSON(w, http.StatusOK, reports)
}
