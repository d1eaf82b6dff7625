package model

import "time"

// TokenManager issues and validates device-session tokens.
type TokenManager interface {
	GenerateDeviceToken(deviceID string, ttl time.Duration) (string, error)
	ParseDeviceToken(token string) (string, error)
}
