// Package middleware provides request logging, metrics and device
// authentication for the HTTP API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dtroode/electorate-server/internal/api/http/httpctx"
	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/metrics"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
	"github.com/dtroode/electorate-server/internal/service"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logging logs every request and counts it by route and status code.
type Logging struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewLogging creates a new Logging middleware.
func NewLogging(logger *logger.Logger, metrics *metrics.Metrics) *Logging {
	return &Logging{logger: logger, metrics: metrics}
}

// Handle wraps next with request logging and metrics.
func (l *Logging) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		l.metrics.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(recorder.status)).Inc()
		l.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// Authenticate resolves bearer device tokens into device bindings.
type Authenticate struct {
	tokens   model.TokenManager
	identity *service.Identity
	ctxMgr   *httpctx.Manager
	logger   *logger.Logger
}

// NewAuthenticate creates a new Authenticate middleware instance.
func NewAuthenticate(tokens model.TokenManager, identity *service.Identity, ctxMgr *httpctx.Manager, logger *logger.Logger) *Authenticate {
	return &Authenticate{tokens: tokens, identity: identity, ctxMgr: ctxMgr, logger: logger}
}

func (m *Authenticate) resolveDevice(r *http.Request) (model.Device, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return model.Device{}, false
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	deviceID, err := m.tokens.ParseDeviceToken(tokenString)
	if err != nil {
		return model.Device{}, false
	}
	return m.identity.Authenticate(deviceID)
}

// Optional attaches the device to the context when a valid token is present,
// and passes the request through either way.
func (m *Authenticate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if device, ok := m.resolveDevice(r); ok {
			r = r.WithContext(m.ctxMgr.SetDeviceToContext(r.Context(), device))
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests without a valid device binding.
func (m *Authenticate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device, ok := m.resolveDevice(r)
		if !ok {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(m.ctxMgr.SetDeviceToContext(r.Context(), device)))
	})
}

// RequirePermission rejects requests whose device's user does not hold the
// given permission.
func (m *Authenticate) RequirePermission(perm policy.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device, ok := m.resolveDevice(r)
		if !ok {
			unauthorized(w)
			return
		}
		if !m.identity.HasPermission(device.UserID, perm) {
			forbidden(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(m.ctxMgr.SetDeviceToContext(r.Context(), device)))
	})
}

func unauthorized(w http.ResponseWriter) {
	writeErrorJSON(w, http.StatusUnauthorized, "authentication required")
}

func forbidden(w http.ResponseWriter) {
	writeErrorJSON(w, http.StatusForbidden, "permission denied")
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
