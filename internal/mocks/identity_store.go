// Package mocks holds testify mocks for the persistence and token ports.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/electorate-server/internal/model"
)

// IdentityStore is a mock of model.IdentityStore.
type IdentityStore struct {
	mock.Mock
}

func (m *IdentityStore) Load(ctx context.Context) (model.IdentityState, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.IdentityState), args.Error(1)
}

func (m *IdentityStore) Save(ctx context.Context, state model.IdentityState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}
