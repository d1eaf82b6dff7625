// Package httpctx carries the authenticated device binding through request
// contexts.
package httpctx

import (
	"context"

	"github.com/dtroode/electorate-server/internal/model"
)

type ctxKey int

const deviceKey ctxKey = iota

// Manager sets and retrieves the authenticated device on request contexts.
type Manager struct{}

// NewManager creates a new context manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// SetDeviceToContext returns a context carrying the authenticated device.
func (m *Manager) SetDeviceToContext(ctx context.Context, device model.Device) context.Context {
	return context.WithValue(ctx, deviceKey, device)
}

// GetDeviceFromContext retrieves the authenticated device, if any.
func (m *Manager) GetDeviceFromContext(ctx context.Context) (model.Device, bool) {
	device, ok := ctx.Value(deviceKey).(model.Device)
	return device, ok
}
