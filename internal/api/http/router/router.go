// Package router wires the HTTP API: handlers, authentication gates and the
// metrics endpoint.
package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtroode/electorate-server/internal/api/http/handler"
	"github.com/dtroode/electorate-server/internal/api/http/httpctx"
	"github.com/dtroode/electorate-server/internal/api/http/middleware"
	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/metrics"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
	"github.com/dtroode/electorate-server/internal/service"
)

// Router builds the HTTP handler tree for the election server.
type Router struct {
	identity  *service.Identity
	election  *service.Election
	tokens    model.TokenManager
	metrics   *metrics.Metrics
	deviceTTL time.Duration
	logger    *logger.Logger
}

// New creates a new Router instance.
func New(
	identity *service.Identity,
	election *service.Election,
	tokens model.TokenManager,
	m *metrics.Metrics,
	deviceTTL time.Duration,
	logger *logger.Logger,
) *Router {
	return &Router{
		identity:  identity,
		election:  election,
		tokens:    tokens,
		metrics:   m,
		deviceTTL: deviceTTL,
		logger:    logger,
	}
}

// Register assembles the routes and middleware chain.
func (r *Router) Register() http.Handler {
	ctxMgr := httpctx.NewManager()
	auth := middleware.NewAuthenticate(r.tokens, r.identity, ctxMgr, r.logger)
	logging := middleware.NewLogging(r.logger, r.metrics)

	electionHandler := handler.NewElection(r.election, ctxMgr, r.logger)
	identityHandler := handler.NewIdentity(r.identity, r.tokens, ctxMgr, r.deviceTTL, r.logger)

	mux := http.NewServeMux()

	// Core APIs.
	mux.Handle("POST /api/core/active-votes", auth.Require(http.HandlerFunc(electionHandler.ActiveVotes)))
	mux.Handle("POST /api/core/all-votes", http.HandlerFunc(electionHandler.AllVotes))
	mux.Handle("POST /api/core/vote", auth.Require(http.HandlerFunc(electionHandler.GetVote)))
	mux.Handle("POST /api/core/cast-ballot", auth.RequirePermission(policy.VoteCast, http.HandlerFunc(electionHandler.CastBallot)))
	mux.Handle("POST /api/core/is-authenticated", auth.Optional(http.HandlerFunc(identityHandler.IsAuthenticated)))
	mux.Handle("POST /api/core/user-id", auth.Require(http.HandlerFunc(identityHandler.UserID)))

	// Device session APIs.
	mux.Handle("POST /api/device/register", http.HandlerFunc(identityHandler.RegisterDevice))
	mux.Handle("POST /api/device/unregister", auth.Require(http.HandlerFunc(identityHandler.UnregisterDevice)))

	// Election management APIs.
	mux.Handle("POST /api/election-management/create-vote", auth.RequirePermission(policy.ElectionCreate, http.HandlerFunc(electionHandler.CreateVote)))
	mux.Handle("POST /api/election-management/cancel-vote", auth.RequirePermission(policy.ElectionCancel, http.HandlerFunc(electionHandler.CancelVote)))
	mux.Handle("POST /api/election-management/edit-vote", auth.RequirePermission(policy.ElectionEdit, http.HandlerFunc(electionHandler.EditVote)))
	mux.Handle("POST /api/election-management/add-vote-option", auth.RequirePermission(policy.ElectionEdit, http.HandlerFunc(electionHandler.AddOption)))
	mux.Handle("POST /api/election-management/resign", auth.RequirePermission(policy.ElectionEdit, http.HandlerFunc(electionHandler.Resign)))
	mux.Handle("POST /api/election-management/suspicious-ballots", auth.RequirePermission(policy.ElectionViewSuspiciousBallots, http.HandlerFunc(electionHandler.SuspiciousBallots)))

	// User management APIs.
	mux.Handle("POST /api/user-management/registered-voters", auth.RequirePermission(policy.UserManagementViewVoters, http.HandlerFunc(identityHandler.RegisteredVoters)))
	mux.Handle("POST /api/user-management/add-registered-voter", auth.RequirePermission(policy.UserManagementAddVoter, http.HandlerFunc(identityHandler.AddRegisteredVoter)))
	mux.Handle("POST /api/user-management/remove-registered-voter", auth.RequirePermission(policy.UserManagementRemoveVoter, http.HandlerFunc(identityHandler.RemoveRegisteredVoter)))

	// Administration APIs.
	mux.Handle("POST /api/administration/add-permission", auth.RequirePermission(policy.AdministrationGrantPermissions, http.HandlerFunc(identityHandler.AddPermission)))
	mux.Handle("POST /api/administration/remove-permission", auth.RequirePermission(policy.AdministrationRevokePermissions, http.HandlerFunc(identityHandler.RemovePermission)))

	mux.Handle("GET /metrics", promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{}))

	return logging.Handle(mux)
}
