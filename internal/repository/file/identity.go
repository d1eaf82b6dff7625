package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/dtroode/electorate-server/internal/model"
)

var _ model.IdentityStore = (*IdentityRepository)(nil)

// IdentityRepository persists the identity registry snapshot as
// device-index.json.
type IdentityRepository struct {
	path string
}

// NewIdentityRepository creates an identity repository rooted at dir.
func NewIdentityRepository(dir string) *IdentityRepository {
	return &IdentityRepository{path: filepath.Join(dir, "device-index.json")}
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (r *IdentityRepository) Load(_ context.Context) (model.IdentityState, error) {
	state := model.NewIdentityState()
	err := readJSON(r.path, &state)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewIdentityState(), nil
	}
	if err != nil {
		return model.IdentityState{}, err
	}
	if state.Devices == nil {
		state.Devices = map[string]model.Device{}
	}
	if state.Grants == nil {
		state.Grants = map[string][]string{}
	}
	return state, nil
}

// Save writes the snapshot synchronously.
func (r *IdentityRepository) Save(_ context.Context, state model.IdentityState) error {
	return writeJSON(r.path, state)
}
