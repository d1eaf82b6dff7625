package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/electorate-server/internal/eligibility"
	"github.com/dtroode/electorate-server/internal/metrics"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
	"github.com/dtroode/electorate-server/internal/repository/file"
	"github.com/dtroode/electorate-server/internal/service"
	"github.com/dtroode/electorate-server/internal/testutil"
	"github.com/dtroode/electorate-server/internal/token"
)

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, pol *policy.Policy, admins []string) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	identityRepo := file.NewIdentityRepository(dir)
	if len(admins) > 0 {
		state := model.NewIdentityState()
		state.Admins = admins
		require.NoError(t, identityRepo.Save(ctx, state))
	}

	log := testutil.MakeNoopLogger()

	identityService, err := service.NewIdentity(ctx, identityRepo, pol, log)
	require.NoError(t, err)

	m := metrics.New()
	electionService, err := service.NewElection(ctx, file.NewElectionRepository(dir), identityService, m, log)
	require.NoError(t, err)

	tokens := token.NewJWT("test-secret")
	handler := New(identityService, electionService, tokens, m, time.Hour, log).Register()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv}
}

func (s *testServer) post(t *testing.T, path, bearer string, body any) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(http.MethodPost, s.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (s *testServer) registerDevice(t *testing.T, deviceID, username string) string {
	t.Helper()

	status, raw := s.post(t, "/api/device/register", "", map[string]any{
		"deviceId": deviceID,
		"info":     map[string]string{"persistentId": "p-" + deviceID, "visitorId": "v-" + deviceID},
		"claim":    map[string]any{"username": username, "createdAt": time.Now().Unix()},
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	var reply struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(raw, &reply))
	require.NotEmpty(t, reply.Token)
	return reply.Token
}

func TestRouter_Authentication(t *testing.T) {
	s := newTestServer(t, policy.Default(), []string{"admin"})

	status, raw := s.post(t, "/api/core/is-authenticated", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `"unauthenticated"`, string(raw))

	adminToken := s.registerDevice(t, "device-admin", "admin")
	status, raw = s.post(t, "/api/core/is-authenticated", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `"authenticated-admin"`, string(raw))

	voterToken := s.registerDevice(t, "device-voter", "alice")
	status, raw = s.post(t, "/api/core/user-id", voterToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `"alice"`, string(raw))

	status, _ = s.post(t, "/api/core/active-votes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.post(t, "/api/core/active-votes", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRouter_ElectionLifecycle(t *testing.T) {
	s := newTestServer(t, policy.Default(), []string{"admin"})

	adminToken := s.registerDevice(t, "device-admin", "admin")
	voterToken := s.registerDevice(t, "device-voter", "alice")

	proposal := map[string]any{
		"name":     "Community Council",
		"deadline": time.Now().Add(time.Hour).Unix(),
		"type":     map[string]any{"tally": "first-past-the-post", "positions": 1},
		"options": []map[string]string{
			{"id": "alpha", "name": "Alpha"},
			{"id": "beta", "name": "Beta"},
		},
	}

	// Plain voters cannot create votes.
	status, _ := s.post(t, "/api/election-management/create-vote", voterToken, map[string]any{"proposal": proposal})
	assert.Equal(t, http.StatusForbidden, status)

	status, raw := s.post(t, "/api/election-management/create-vote", adminToken, map[string]any{"proposal": proposal})
	require.Equal(t, http.StatusOK, status, string(raw))

	var vote model.Vote
	require.NoError(t, json.Unmarshal(raw, &vote))
	assert.Equal(t, "community-council", vote.ID)

	status, raw = s.post(t, "/api/core/cast-ballot", voterToken, map[string]any{
		"voteId": vote.ID,
		"ballot": map[string]string{"selectedOptionId": "alpha"},
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	var ballot model.Ballot
	require.NoError(t, json.Unmarshal(raw, &ballot))
	assert.Len(t, ballot.ID, 64)

	// While the vote is active the caller only sees their own ballot.
	status, raw = s.post(t, "/api/core/vote", voterToken, map[string]any{"voteId": vote.ID})
	require.Equal(t, http.StatusOK, status)

	var record model.VoteAndBallots
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Empty(t, record.Ballots)
	require.NotNil(t, record.OwnBallot)
	assert.Equal(t, "alpha", record.OwnBallot.SelectedOptionID)

	// Definitions are public.
	status, raw = s.post(t, "/api/core/all-votes", "", nil)
	require.Equal(t, http.StatusOK, status)

	var all []model.Vote
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Len(t, all, 1)

	status, raw = s.post(t, "/api/election-management/suspicious-ballots", adminToken, map[string]any{"voteId": vote.ID})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(raw))

	status, raw = s.post(t, "/api/election-management/cancel-vote", adminToken, map[string]any{"voteId": vote.ID})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `true`, string(raw))
}

func TestRouter_CastBallot_ClosedVote(t *testing.T) {
	s := newTestServer(t, policy.Default(), []string{"admin"})

	adminToken := s.registerDevice(t, "device-admin", "admin")

	status, raw := s.post(t, "/api/election-management/create-vote", adminToken, map[string]any{
		"proposal": map[string]any{
			"name":     "Old Vote",
			"deadline": time.Now().Add(-time.Hour).Unix(),
			"type":     map[string]any{"tally": "first-past-the-post", "positions": 1},
			"options":  []map[string]string{{"id": "alpha", "name": "Alpha"}},
		},
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	var vote model.Vote
	require.NoError(t, json.Unmarshal(raw, &vote))

	status, raw = s.post(t, "/api/core/cast-ballot", adminToken, map[string]any{
		"voteId": vote.ID,
		"ballot": map[string]string{"selectedOptionId": "alpha"},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.JSONEq(t, `{"error":"Vote already closed. Sorry!"}`, string(raw))
}

func TestRouter_RegisterDevice_RequirementsNotMet(t *testing.T) {
	rules, err := eligibility.Compile([]eligibility.RuleSpec{
		{LHS: "account.age", Operator: ">=", RHS: 30},
	})
	require.NoError(t, err)

	pol := policy.Default()
	pol.Requirements = rules

	s := newTestServer(t, pol, nil)

	status, raw := s.post(t, "/api/device/register", "", map[string]any{
		"deviceId": "device-new",
		"claim":    map[string]any{"username": "newbie", "createdAt": time.Now().Unix()},
	})
	require.Equal(t, http.StatusForbidden, status)

	var reply struct {
		Error        string                   `json:"error"`
		Requirements []eligibility.RuleResult `json:"requirements"`
	}
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "requirements-not-met", reply.Error)
	require.Len(t, reply.Requirements, 1)
	assert.False(t, reply.Requirements[0].Satisfied)
}

func TestRouter_UserManagement(t *testing.T) {
	s := newTestServer(t, policy.Default(), []string{"admin"})

	adminToken := s.registerDevice(t, "device-admin", "admin")
	voterToken := s.registerDevice(t, "device-voter", "alice")

	status, _ := s.post(t, "/api/user-management/registered-voters", voterToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, raw := s.post(t, "/api/user-management/add-registered-voter", adminToken, map[string]string{"userId": "carol"})
	require.Equal(t, http.StatusOK, status, string(raw))

	status, raw = s.post(t, "/api/user-management/registered-voters", adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	var voters []string
	require.NoError(t, json.Unmarshal(raw, &voters))
	assert.Contains(t, voters, "carol")
	assert.Contains(t, voters, "alice")

	status, _ = s.post(t, "/api/user-management/remove-registered-voter", adminToken, map[string]string{"userId": "carol"})
	require.Equal(t, http.StatusOK, status)

	status, raw = s.post(t, "/api/user-management/remove-registered-voter", adminToken, map[string]string{"userId": "carol"})
	assert.Equal(t, http.StatusNotFound, status, string(raw))
}

func TestRouter_Administration(t *testing.T) {
	s := newTestServer(t, policy.Default(), []string{"admin"})

	adminToken := s.registerDevice(t, "device-admin", "admin")
	voterToken := s.registerDevice(t, "device-voter", "alice")

	// Admins do not hold the administration scope by default.
	status, _ := s.post(t, "/api/administration/add-permission", adminToken, map[string]string{
		"permission": "election.create",
		"userId":     "alice",
	})
	assert.Equal(t, http.StatusForbidden, status)

	// Grant it explicitly and retry.
	pol := policy.Default()
	pol.Bundles.Admin = append(pol.Bundles.Admin, policy.AdministrationGrantPermissions)

	s2 := newTestServer(t, pol, []string{"admin"})
	adminToken = s2.registerDevice(t, "device-admin", "admin")
	voterToken = s2.registerDevice(t, "device-voter", "alice")

	status, raw := s2.post(t, "/api/administration/add-permission", adminToken, map[string]string{
		"permission": "election.create",
		"userId":     "alice",
	})
	require.Equal(t, http.StatusOK, status, string(raw))

	status, raw = s2.post(t, "/api/election-management/create-vote", voterToken, map[string]any{
		"proposal": map[string]any{
			"name":     "Granted Vote",
			"deadline": time.Now().Add(time.Hour).Unix(),
			"type":     map[string]any{"tally": "stv", "positions": 2},
			"options":  []map[string]string{{"id": "alpha", "name": "Alpha"}},
		},
	})
	assert.Equal(t, http.StatusOK, status, string(raw))

	status, raw = s2.post(t, "/api/administration/add-permission", adminToken, map[string]string{
		"permission": "vote.fly",
		"userId":     "alice",
	})
	assert.Equal(t, http.StatusBadRequest, status, string(raw))
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, policy.Default(), nil)

	resp, err := http.Get(fmt.Sprintf("%s/metrics", s.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
