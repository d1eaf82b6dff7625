package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/electorate-server/internal/eligibility"
	"github.com/dtroode/electorate-server/internal/mocks"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
	"github.com/dtroode/electorate-server/internal/testutil"
)

func newTestIdentity(t *testing.T, pol *policy.Policy) *Identity {
	t.Helper()

	store := &mocks.IdentityStore{}
	store.On("Load", mock.Anything).Return(model.NewIdentityState(), nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	s, err := NewIdentity(context.Background(), store, pol, testutil.MakeNoopLogger())
	require.NoError(t, err)
	return s
}

func TestIdentity_RegisterDevice_Authenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	info := model.DeviceInfo{PersistentID: "p-1", VisitorID: "v-1"}
	device, err := s.RegisterDevice(ctx, "device-1", "alice", info, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "device-1", device.ID)
	assert.Equal(t, "alice", device.UserID)
	assert.Equal(t, info, device.Info)

	got, ok := s.Authenticate("device-1")
	require.True(t, ok)
	assert.Equal(t, "alice", got.UserID)

	_, ok = s.Authenticate("unknown")
	assert.False(t, ok)
}

func TestIdentity_Authenticate_Expired(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	_, err := s.RegisterDevice(ctx, "device-1", "alice", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok := s.Authenticate("device-1")
	assert.False(t, ok)
}

func TestIdentity_RegisterDevice_OverwritesBinding(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	_, err := s.RegisterDevice(ctx, "device-1", "alice", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)
	_, err = s.RegisterDevice(ctx, "device-1", "bob", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)

	got, ok := s.Authenticate("device-1")
	require.True(t, ok)
	assert.Equal(t, "bob", got.UserID)

	// The inverse index must not keep the stale owner.
	assert.Empty(t, s.DevicesOf("alice"))
	assert.Len(t, s.DevicesOf("bob"), 1)
}

func TestIdentity_UnregisterDevice(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	_, err := s.RegisterDevice(ctx, "device-1", "alice", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)

	removed, err := s.UnregisterDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok := s.Authenticate("device-1")
	assert.False(t, ok)

	removed, err = s.UnregisterDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIdentity_RegisterDevice_MarksVoter(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	_, err := s.RegisterDevice(ctx, "device-1", "alice", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)

	assert.Contains(t, s.RegisteredVoters(), "alice")
}

func TestIdentity_UnregisterUser(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	_, err := s.RegisterDevice(ctx, "device-1", "alice", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)
	_, err = s.RegisterDevice(ctx, "device-2", "alice", model.DeviceInfo{}, time.Hour)
	require.NoError(t, err)

	err = s.UnregisterUser(ctx, "alice")
	require.NoError(t, err)

	assert.NotContains(t, s.RegisteredVoters(), "alice")
	_, ok := s.Authenticate("device-1")
	assert.False(t, ok)
	_, ok = s.Authenticate("device-2")
	assert.False(t, ok)
}

func TestIdentity_UnregisterUser_Unknown(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	err := s.UnregisterUser(ctx, "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestIdentity_IsEligible(t *testing.T) {
	ctx := context.Background()

	rules, err := eligibility.Compile([]eligibility.RuleSpec{
		{LHS: "account.age", Operator: ">=", RHS: 30},
		{LHS: "account.total_karma", Operator: ">", RHS: 100},
	})
	require.NoError(t, err)

	pol := policy.Default()
	pol.Requirements = rules

	s := newTestIdentity(t, pol)

	young := eligibility.Claim{
		Username:  "newbie",
		CreatedAt: time.Now().Add(-24 * time.Hour),
		LinkKarma: 500,
	}
	assert.False(t, s.IsEligible(young))

	seasoned := eligibility.Claim{
		Username:     "veteran",
		CreatedAt:    time.Now().Add(-365 * 24 * time.Hour),
		LinkKarma:    90,
		CommentKarma: 20,
	}
	assert.True(t, s.IsEligible(seasoned))

	// Registered voters bypass the requirements.
	require.NoError(t, s.RegisterUser(ctx, "newbie"))
	assert.True(t, s.IsEligible(young))
}

func TestIdentity_CheckRequirements(t *testing.T) {
	rules, err := eligibility.Compile([]eligibility.RuleSpec{
		{LHS: "account.total_karma", Operator: ">=", RHS: 100},
	})
	require.NoError(t, err)

	pol := policy.Default()
	pol.Requirements = rules

	s := newTestIdentity(t, pol)

	results := s.CheckRequirements(eligibility.Claim{Username: "newbie", LinkKarma: 10})
	require.Len(t, results, 1)
	assert.False(t, results[0].Satisfied)
}

func TestIdentity_HasPermission_Bundles(t *testing.T) {
	ctx := context.Background()

	store := &mocks.IdentityStore{}
	store.On("Load", mock.Anything).Return(model.IdentityState{
		Devices:    map[string]model.Device{},
		Admins:     []string{"alice"},
		Developers: []string{"bob"},
		Grants:     map[string][]string{},
	}, nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	s, err := NewIdentity(ctx, store, policy.Default(), testutil.MakeNoopLogger())
	require.NoError(t, err)

	// Everyone authenticated can view and cast.
	assert.True(t, s.HasPermission("carol", policy.VoteView))
	assert.True(t, s.HasPermission("carol", policy.VoteCast))
	assert.False(t, s.HasPermission("carol", policy.ElectionCreate))

	// Admins manage elections and voters but not grants.
	assert.True(t, s.HasPermission("alice", policy.ElectionCreate))
	assert.True(t, s.HasPermission("alice", policy.UserManagementRemoveVoter))
	assert.False(t, s.HasPermission("alice", policy.AdministrationGrantPermissions))

	// Developers additionally hold the administration scope.
	assert.True(t, s.HasPermission("bob", policy.AdministrationGrantPermissions))
	assert.True(t, s.HasPermission("bob", policy.AdministrationUpgradeServer))
}

func TestIdentity_AddRemovePermission(t *testing.T) {
	ctx := context.Background()
	s := newTestIdentity(t, policy.Default())

	assert.False(t, s.HasPermission("carol", policy.ElectionCreate))

	require.NoError(t, s.AddPermission(ctx, policy.ElectionCreate, "carol"))
	assert.True(t, s.HasPermission("carol", policy.ElectionCreate))

	removed, err := s.RemovePermission(ctx, policy.ElectionCreate, "carol")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.HasPermission("carol", policy.ElectionCreate))

	removed, err = s.RemovePermission(ctx, policy.ElectionCreate, "carol")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIdentity_AuthLevel(t *testing.T) {
	ctx := context.Background()

	store := &mocks.IdentityStore{}
	store.On("Load", mock.Anything).Return(model.IdentityState{
		Devices:    map[string]model.Device{},
		Admins:     []string{"alice"},
		Developers: []string{"bob"},
		Grants:     map[string][]string{},
	}, nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	s, err := NewIdentity(ctx, store, policy.Default(), testutil.MakeNoopLogger())
	require.NoError(t, err)

	assert.Equal(t, AuthLevelUnauthenticated, s.AuthLevel(nil))
	assert.Equal(t, AuthLevelAdmin, s.AuthLevel(&model.Device{UserID: "alice"}))
	assert.Equal(t, AuthLevelDeveloper, s.AuthLevel(&model.Device{UserID: "bob"}))
	assert.Equal(t, AuthLevelAuthenticated, s.AuthLevel(&model.Device{UserID: "carol"}))
}

func TestNewIdentity_InvalidGrant(t *testing.T) {
	store := &mocks.IdentityStore{}
	store.On("Load", mock.Anything).Return(model.IdentityState{
		Devices: map[string]model.Device{},
		Grants:  map[string][]string{"vote.fly": {"alice"}},
	}, nil)

	_, err := NewIdentity(context.Background(), store, policy.Default(), testutil.MakeNoopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid grant")
}

func TestNewIdentity_DeviceOwnersAreVoters(t *testing.T) {
	store := &mocks.IdentityStore{}
	store.On("Load", mock.Anything).Return(model.IdentityState{
		Devices: map[string]model.Device{
			"device-1": {UserID: "alice", ExpiresAt: time.Now().Add(time.Hour)},
		},
		Grants: map[string][]string{},
	}, nil)

	s, err := NewIdentity(context.Background(), store, policy.Default(), testutil.MakeNoopLogger())
	require.NoError(t, err)

	assert.Contains(t, s.RegisteredVoters(), "alice")
	assert.Equal(t, []string{"alice"}, s.UserIDs())
}
