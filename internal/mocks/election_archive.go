package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/electorate-server/internal/model"
)

// ElectionArchive is a mock of model.ElectionArchive.
type ElectionArchive struct {
	mock.Mock
}

func (m *ElectionArchive) LoadSecrets(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *ElectionArchive) SaveSecrets(ctx context.Context, secrets map[string]string) error {
	args := m.Called(ctx, secrets)
	return args.Error(0)
}

func (m *ElectionArchive) LoadVote(ctx context.Context, voteID string) (model.VoteAndBallots, error) {
	args := m.Called(ctx, voteID)
	return args.Get(0).(model.VoteAndBallots), args.Error(1)
}

func (m *ElectionArchive) SaveVote(ctx context.Context, vote model.VoteAndBallots) error {
	args := m.Called(ctx, vote)
	return args.Error(0)
}

func (m *ElectionArchive) DeleteVote(ctx context.Context, voteID string) error {
	args := m.Called(ctx, voteID)
	return args.Error(0)
}

func (m *ElectionArchive) LoadReports(ctx context.Context) (map[string][]model.SuspiciousBallot, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string][]model.SuspiciousBallot), args.Error(1)
}

func (m *ElectionArchive) SaveReports(ctx context.Context, reports map[string][]model.SuspiciousBallot) error {
	args := m.Called(ctx, reports)
	return args.Error(0)
}
