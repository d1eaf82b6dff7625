package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// TokenManager is a mock of model.TokenManager.
type TokenManager struct {
	mock.Mock
}

func (m *TokenManager) GenerateDeviceToken(deviceID string, ttl time.Duration) (string, error) {
	args := m.Called(deviceID, ttl)
	return args.String(0), args.Error(1)
}

func (m *TokenManager) ParseDeviceToken(token string) (string, error) {
	args := m.Called(token)
	return args.String(0), args.Error(1)
}
