package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dtroode/electorate-server/internal/model"
)

var _ model.ElectionArchive = (*ElectionRepository)(nil)

// ElectionRepository persists votes, the vote-secret index and
// suspicious-ballot reports under a data directory.
type ElectionRepository struct {
	dir string
}

// NewElectionRepository creates an election repository rooted at dir.
func NewElectionRepository(dir string) *ElectionRepository {
	return &ElectionRepository{dir: dir}
}

func (r *ElectionRepository) secretsPath() string {
	return filepath.Join(r.dir, "vote-index.json")
}

func (r *ElectionRepository) reportsPath() string {
	return filepath.Join(r.dir, "suspicious-ballots.json")
}

func (r *ElectionRepository) votePath(voteID string) string {
	return filepath.Join(r.dir, "votes", voteID+".json")
}

// LoadSecrets reads the vote-secret index. A missing file yields an empty
// index.
func (r *ElectionRepository) LoadSecrets(_ context.Context) (map[string]string, error) {
	secrets := map[string]string{}
	err := readJSON(r.secretsPath(), &secrets)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return secrets, nil
}

// SaveSecrets writes the vote-secret index synchronously.
func (r *ElectionRepository) SaveSecrets(_ context.Context, secrets map[string]string) error {
	return writeJSON(r.secretsPath(), secrets)
}

// LoadVote reads a single vote file.
func (r *ElectionRepository) LoadVote(_ context.Context, voteID string) (model.VoteAndBallots, error) {
	var vote model.VoteAndBallots
	err := readJSON(r.votePath(voteID), &vote)
	if errors.Is(err, fs.ErrNotExist) {
		return model.VoteAndBallots{}, fmt.Errorf("vote %s: %w", voteID, model.ErrNotFound)
	}
	if err != nil {
		return model.VoteAndBallots{}, err
	}
	return vote, nil
}

// SaveVote writes a vote and its ballots to the vote's own file.
func (r *ElectionRepository) SaveVote(_ context.Context, vote model.VoteAndBallots) error {
	// OwnBallot is a transmission-only field and must never hit disk.
	vote.OwnBallot = nil
	return writeJSON(r.votePath(vote.Vote.ID), vote)
}

// DeleteVote removes a vote file. Deleting an absent file is not an error.
func (r *ElectionRepository) DeleteVote(_ context.Context, voteID string) error {
	err := os.Remove(r.votePath(voteID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete vote %s: %w", voteID, err)
	}
	return nil
}

// LoadReports reads the suspicious-ballot report file. A missing file yields
// an empty report table.
func (r *ElectionRepository) LoadReports(_ context.Context) (map[string][]model.SuspiciousBallot, error) {
	reports := map[string][]model.SuspiciousBallot{}
	err := readJSON(r.reportsPath(), &reports)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string][]model.SuspiciousBallot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// SaveReports writes the suspicious-ballot report file synchronously.
func (r *ElectionRepository) SaveReports(_ context.Context, reports map[string][]model.SuspiciousBallot) error {
	return writeJSON(r.reportsPath(), reports)
}
