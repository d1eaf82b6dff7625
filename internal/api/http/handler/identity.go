package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/dtroode/electorate-server/internal/api/http/httpctx"
	"github.com/dtroode/electorate-server/internal/eligibility"
	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
	"github.com/dtroode/electorate-server/internal/service"
)

// Identity exposes device registration, auth level queries, voter management
// and permission grants.
type Identity struct {
	identity *service.Identity
	tokens   model.TokenManager
	ctxMgr   *httpctx.Manager
	ttl      time.Duration
	logger   *logger.Logger
}

// NewIdentity creates a new identity handler. ttl is the device registration
// lifetime.
func NewIdentity(identity *service.Identity, tokens model.TokenManager, ctxMgr *httpctx.Manager, ttl time.Duration, logger *logger.Logger) *Identity {
	return &Identity{identity: identity, tokens: tokens, ctxMgr: ctxMgr, ttl: ttl, logger: logger}
}

type claimRequest struct {
	Username     string `json:"username"`
	CreatedAt    int64  `json:"createdAt"`
	LinkKarma    int64  `json:"linkKarma"`
	CommentKarma int64  `json:"commentKarma"`
}

func (c claimRequest) toClaim() eligibility.Claim {
	return eligibility.Claim{
		Username:     c.Username,
		CreatedAt:    time.Unix(c.CreatedAt, 0),
		LinkKarma:    c.LinkKarma,
		CommentKarma: c.CommentKarma,
	}
}

// RegisterDevice handles POST /api/device/register. The claim is the output
// of the out-of-scope identity-provider exchange; eligibility is enforced
// before the device is bound.
func (h *Identity) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string           `json:"deviceId"`
		Info     model.DeviceInfo `json:"info"`
		Claim    claimRequest     `json:"claim"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DeviceID == "" || req.Claim.Username == "" {
		writeError(w, http.StatusBadRequest, "deviceId and claim are required")
		return
	}

	claim := req.Claim.toClaim()
	if !h.identity.IsEligible(claim) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":        "requirements-not-met",
			"requirements": h.identity.CheckRequirements(claim),
		})
		return
	}

	device, err := h.identity.RegisterDevice(r.Context(), req.DeviceID, claim.Username, req.Info, h.ttl)
	if err != nil {
		handleError(w, err)
		return
	}

	token, err := h.tokens.GenerateDeviceToken(device.ID, h.ttl)
	if err != nil {
		h.logger.Error("failed to issue device token", "device_id", device.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device": device, "token": token})
}

// UnregisterDevice handles POST /api/device/unregister.
func (h *Identity) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())

	removed, err := h.identity.UnregisterDevice(r.Context(), device.ID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

// IsAuthenticated handles POST /api/core/is-authenticated.
func (h *Identity) IsAuthenticated(w http.ResponseWriter, r *http.Request) {
	var level string
	if device, ok := h.ctxMgr.GetDeviceFromContext(r.Context()); ok {
		level = h.identity.AuthLevel(&device)
	} else {
		level = h.identity.AuthLevel(nil)
	}
	writeJSON(w, http.StatusOK, level)
}

// UserID handles POST /api/core/user-id.
func (h *Identity) UserID(w http.ResponseWriter, r *http.Request) {
	device, _ := h.ctxMgr.GetDeviceFromContext(r.Context())
	writeJSON(w, http.StatusOK, device.UserID)
}

// RegisteredVoters handles POST /api/user-management/registered-voters.
func (h *Identity) RegisteredVoters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.identity.RegisteredVoters())
}

type userIDRequest struct {
	UserID string `json:"userId"`
}

// AddRegisteredVoter handles POST /api/user-management/add-registered-voter.
func (h *Identity) AddRegisteredVoter(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.identity.RegisterUser(r.Context(), req.UserID); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// RemoveRegisteredVoter handles POST /api/user-management/remove-registered-voter.
func (h *Identity) RemoveRegisteredVoter(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := h.identity.UnregisterUser(r.Context(), req.UserID)
	if errors.Is(err, model.ErrIndexCorrupted) {
		h.logger.Error("identity index corruption detected", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type permissionRequest struct {
	Permission string `json:"permission"`
	UserID     string `json:"userId"`
}

// AddPermission handles POST /api/administration/add-permission.
func (h *Identity) AddPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil || req.Permission == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "permission and userId are required")
		return
	}

	perm, err := policy.Parse(req.Permission)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.identity.AddPermission(r.Context(), perm, req.UserID); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// RemovePermission handles POST /api/administration/remove-permission.
func (h *Identity) RemovePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil || req.Permission == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "permission and userId are required")
		return
	}

	perm, err := policy.Parse(req.Permission)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := h.identity.RemovePermission(r.Context(), perm, req.UserID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}
