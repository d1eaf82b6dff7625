package model

import (
	"context"
	"time"
)

// DefaultDeviceTTL keeps devices registered for thirty days unless the
// configuration overrides it.
const DefaultDeviceTTL = 30 * 24 * time.Hour

// IdentityStore persists the identity registry snapshot.
type IdentityStore interface {
	Load(ctx context.Context) (IdentityState, error)
	Save(ctx context.Context, state IdentityState) error
}

// Device binds a device identifier to a user for a limited time.
type Device struct {
	ID        string     `json:"deviceId"`
	UserID    string     `json:"userId"`
	Info      DeviceInfo `json:"info"`
	ExpiresAt time.Time  `json:"expiry"`
}

// Expired reports whether the device binding has expired at the given instant.
func (d Device) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// DeviceInfo carries the client-supplied device descriptor. PersistentID and
// VisitorID are the fingerprints used for suspicious-ballot detection.
type DeviceInfo struct {
	PersistentID string `json:"persistentId"`
	VisitorID    string `json:"visitorId"`
	Description  string `json:"description,omitempty"`
}

// IdentityState is the durable snapshot of the identity registry: every
// registered device plus the admin, developer, voter and grant tables.
type IdentityState struct {
	Devices          map[string]Device   `json:"devices"`
	Admins           []string            `json:"admins"`
	Developers       []string            `json:"developers"`
	RegisteredVoters []string            `json:"registered-voters"`
	Grants           map[string][]string `json:"grants"`
}

// NewIdentityState returns an empty snapshot with allocated maps.
func NewIdentityState() IdentityState {
	return IdentityState{
		Devices: map[string]Device{},
		Grants:  map[string][]string{},
	}
}
