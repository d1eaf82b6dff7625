package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dtroode/electorate-server/internal/eligibility"
	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
)

// Auth levels reported to clients.
const (
	AuthLevelUnauthenticated = "unauthenticated"
	AuthLevelAuthenticated   = "authenticated"
	AuthLevelAdmin           = "authenticated-admin"
	AuthLevelDeveloper       = "authenticated-developer"
)

// Identity is the identity registry: it owns the device table, the role and
// voter sets and the permission grant table. Every mutation is persisted
// synchronously before it returns.
type Identity struct {
	store  model.IdentityStore
	pol    *policy.Policy
	logger *logger.Logger

	mu               sync.Mutex
	devices          map[string]model.Device
	usersToDevices   map[string]map[string]model.Device
	admins           map[string]struct{}
	developers       map[string]struct{}
	registeredVoters map[string]struct{}
	grants           map[policy.Permission]map[string]struct{}

	now func() time.Time
}

// NewIdentity loads the identity snapshot from the store and builds the
// in-memory registry. A grant naming a permission outside the catalog is a
// configuration failure.
func NewIdentity(ctx context.Context, store model.IdentityStore, pol *policy.Policy, logger *logger.Logger) (*Identity, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity snapshot: %w", err)
	}

	s := &Identity{
		store:            store,
		pol:              pol,
		logger:           logger,
		devices:          map[string]model.Device{},
		usersToDevices:   map[string]map[string]model.Device{},
		admins:           map[string]struct{}{},
		developers:       map[string]struct{}{},
		registeredVoters: map[string]struct{}{},
		grants:           map[policy.Permission]map[string]struct{}{},
		now:              time.Now,
	}

	for id, device := range state.Devices {
		device.ID = id
		s.devices[id] = device
		s.indexDeviceLocked(device)
		// Every device owner is a registered voter.
		s.registeredVoters[device.UserID] = struct{}{}
	}
	for _, userID := range state.Admins {
		s.admins[userID] = struct{}{}
	}
	for _, userID := range state.Developers {
		s.developers[userID] = struct{}{}
	}
	for _, userID := range state.RegisteredVoters {
		s.registeredVoters[userID] = struct{}{}
	}
	for name, userIDs := range state.Grants {
		perm, err := policy.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid grant in identity snapshot: %w", err)
		}
		users := map[string]struct{}{}
		for _, userID := range userIDs {
			users[userID] = struct{}{}
		}
		s.grants[perm] = users
	}

	return s, nil
}

func (s *Identity) indexDeviceLocked(device model.Device) {
	owned := s.usersToDevices[device.UserID]
	if owned == nil {
		owned = map[string]model.Device{}
		s.usersToDevices[device.UserID] = owned
	}
	owned[device.ID] = device
}

func (s *Identity) snapshotLocked() model.IdentityState {
	state := model.NewIdentityState()
	for id, device := range s.devices {
		state.Devices[id] = device
	}
	state.Admins = sortedKeys(s.admins)
	state.Developers = sortedKeys(s.developers)
	state.RegisteredVoters = sortedKeys(s.registeredVoters)
	for perm, users := range s.grants {
		state.Grants[perm.String()] = sortedKeys(users)
	}
	return state
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Identity) persistLocked(ctx context.Context) error {
	if err := s.store.Save(ctx, s.snapshotLocked()); err != nil {
		return fmt.Errorf("failed to persist identity snapshot: %w", err)
	}
	return nil
}

// RegisterDevice binds a device id to a user, overwriting any prior binding
// for that device id, and marks the user as a registered voter.
func (s *Identity) RegisterDevice(ctx context.Context, deviceID, userID string, info model.DeviceInfo, ttl time.Duration) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = model.DefaultDeviceTTL
	}

	s.removeDeviceLocked(deviceID)

	device := model.Device{
		ID:        deviceID,
		UserID:    userID,
		Info:      info,
		ExpiresAt: s.now().Add(ttl),
	}
	s.devices[deviceID] = device
	s.indexDeviceLocked(device)
	s.registeredVoters[userID] = struct{}{}

	if err := s.persistLocked(ctx); err != nil {
		return model.Device{}, err
	}

	s.logger.Info("device registered", "device_id", deviceID, "user_id", userID)
	return device, nil
}

func (s *Identity) removeDeviceLocked(deviceID string) bool {
	device, ok := s.devices[deviceID]
	if !ok {
		return false
	}
	delete(s.devices, deviceID)
	if owned := s.usersToDevices[device.UserID]; owned != nil {
		delete(owned, deviceID)
		if len(owned) == 0 {
			delete(s.usersToDevices, device.UserID)
		}
	}
	return true
}

// UnregisterDevice removes a device binding and reports whether it existed.
func (s *Identity) UnregisterDevice(ctx context.Context, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeDeviceLocked(deviceID) {
		return false, nil
	}
	if err := s.persistLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RegisterUser adds a user to the registered voters without binding a device.
func (s *Identity) RegisterUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredVoters[userID] = struct{}{}
	return s.persistLocked(ctx)
}

// UnregisterUser removes a user from the registered voters together with
// every device the user owns. A device indexed under the user but absent from
// the primary device map indicates index corruption and is not masked.
func (s *Identity) UnregisterUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registeredVoters[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	delete(s.registeredVoters, userID)

	for deviceID := range s.usersToDevices[userID] {
		if _, ok := s.devices[deviceID]; !ok {
			s.logger.Error("attempted to delete nonexistent device", "device_id", deviceID, "user_id", userID)
			return fmt.Errorf("device %s of user %s: %w", deviceID, userID, model.ErrIndexCorrupted)
		}
		delete(s.devices, deviceID)
	}
	delete(s.usersToDevices, userID)

	return s.persistLocked(ctx)
}

// Authenticate resolves a device id to its binding, honoring expiry.
func (s *Identity) Authenticate(deviceID string) (model.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok || device.Expired(s.now()) {
		return model.Device{}, false
	}
	return device, true
}

// UserIDs returns every user that owns at least one device. The election
// store iterates this set for reverse ballot lookups.
func (s *Identity) UserIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeysOfDevices(s.usersToDevices)
}

func sortedKeysOfDevices(index map[string]map[string]model.Device) []string {
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DevicesOf returns every device registered to a user.
func (s *Identity) DevicesOf(userID string) []model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.usersToDevices[userID]
	devices := make([]model.Device, 0, len(owned))
	for _, device := range owned {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// RegisteredVoters returns the sorted registered voter set.
func (s *Identity) RegisteredVoters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.registeredVoters)
}

// IsEligible reports whether the subject of a claim may vote: registered
// voters always may, everyone else must satisfy every configured rule.
func (s *Identity) IsEligible(claim eligibility.Claim) bool {
	s.mu.Lock()
	registered := false
	if _, ok := s.registeredVoters[claim.Username]; ok {
		registered = true
	}
	s.mu.Unlock()

	return registered || eligibility.AllSatisfied(s.pol.Requirements, claim, s.now())
}

// CheckRequirements evaluates every configured rule against a claim.
func (s *Identity) CheckRequirements(claim eligibility.Claim) []eligibility.RuleResult {
	return eligibility.CheckAll(s.pol.Requirements, claim, s.now())
}

// HasPermission reports whether a user holds a permission: through an
// explicit grant, through the admin or developer role bundle, or through the
// universal authenticated bundle.
func (s *Identity) HasPermission(userID string, perm policy.Permission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if users := s.grants[perm]; users != nil {
		if _, ok := users[userID]; ok {
			return true
		}
	}
	if _, ok := s.admins[userID]; ok && containsPermission(s.pol.Bundles.Admin, perm) {
		return true
	}
	if _, ok := s.developers[userID]; ok && containsPermission(s.pol.Bundles.Developer, perm) {
		return true
	}
	return containsPermission(s.pol.Bundles.Authenticated, perm)
}

func containsPermission(bundle []policy.Permission, perm policy.Permission) bool {
	for _, p := range bundle {
		if p == perm {
			return true
		}
	}
	return false
}

// AddPermission records an explicit grant and persists it.
func (s *Identity) AddPermission(ctx context.Context, perm policy.Permission, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.grants[perm]
	if users == nil {
		users = map[string]struct{}{}
		s.grants[perm] = users
	}
	users[userID] = struct{}{}

	return s.persistLocked(ctx)
}

// RemovePermission revokes an explicit grant. Removing a grant that does not
// exist is a no-op returning false.
func (s *Identity) RemovePermission(ctx context.Context, perm policy.Permission, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.grants[perm]
	if users == nil {
		return false, nil
	}
	if _, ok := users[userID]; !ok {
		return false, nil
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.grants, perm)
	}

	if err := s.persistLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// AuthLevel classifies a device binding for clients.
func (s *Identity) AuthLevel(device *model.Device) string {
	if device == nil {
		return AuthLevelUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.developers[device.UserID]; ok {
		return AuthLevelDeveloper
	}
	if _, ok := s.admins[device.UserID]; ok {
		return AuthLevelAdmin
	}
	return AuthLevelAuthenticated
}
