package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/adapter/repository/postgres"
	"github.com/splitlease/proposal-sync/internal/auth"
	"github.com/splitlease/proposal-sync/internal/config"
	"github.com/splitlease/proposal-sync/internal/outbox"
	"github.com/splitlease/proposal-sync/internal/usecase/negotiation"
	"github.com/splitlease/proposal-sync/internal/user"
	"github.com/splitlease/proposal-sync/pkg/snowflake"
	"github.com/splitlease/proposal-sync/pkg/testhelper"
)

const (
	testSecret     = "test-jwt-secret"
	testAgentToken = "agent-token"
	testAdminToken = "admin-token"
)

type testAPI struct {
	router *Router
	queue  *outbox.Store
	tokens map[string]string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := testhelper.NewSQLiteDB(t, &postgres.ProposalModel{}, &postgres.MeetingModel{}, &outbox.Item{}, &user.User{})
	node, err := snowflake.NewNodeWithID(1)
	require.NoError(t, err)

	users := user.NewService(db, node)
	ctx := context.Background()
	_, err = users.ImportLegacyUser(ctx, "guest-1", "guest@example.com")
	require.NoError(t, err)
	_, err = users.ImportLegacyUser(ctx, "host-1", "host@example.com")
	require.NoError(t, err)

	cfg := &config.Config{
		Port:              "0",
		AuthJWTSecret:     testSecret,
		AgentServiceToken: testAgentToken,
		AdminAPIToken:     testAdminToken,
	}
	queue := outbox.NewStore(db, node)
	repo := postgres.NewRepository(db, queue)
	uc := negotiation.NewUseCase(repo, node, outbox.NewLocalNotifier(), zap.NewNop())

	r := NewRouter(cfg, uc, queue, auth.NewMiddleware(cfg, users, zap.NewNop()), zap.NewNop())
	r.streamPoll = 20 * time.Millisecond

	return &testAPI{
		router: r,
		queue:  queue,
		tokens: map[string]string{
			"guest":    signToken(t, "auth-guest", "guest@example.com"),
			"host":     signToken(t, "auth-host", "host@example.com"),
			"stranger": signToken(t, "auth-stranger", "stranger@example.com"),
		},
	}
}

func signToken(t *testing.T, sub, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	switch caller {
	case "":
	case "agent":
		req.Header.Set(auth.ServiceTokenHeader, testAgentToken)
	case "admin":
		req.Header.Set("X-Admin-Token", testAdminToken)
	default:
		req.Header.Set("Authorization", "Bearer "+a.tokens[caller])
	}

	w := httptest.NewRecorder()
	a.router.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type outcomeBody struct {
	Proposal struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Version int64  `json:"version"`
	} `json:"proposal"`
	Role    string `json:"role"`
	Actions struct {
		Action1 struct {
			Label   string `json:"label"`
			Action  string `json:"action"`
			Visible bool   `json:"visible"`
		} `json:"action1"`
		Meeting string `json:"meeting"`
	} `json:"actions"`
	CorrelationID string `json:"correlation_id"`
}

func createBody(nightlyRate int64) map[string]any {
	return map[string]any{
		"guest_id":   "guest-1",
		"host_id":    "host-1",
		"listing_id": "listing-1",
		"terms": map[string]any{
			"move_in_date":      "2026-04-01T00:00:00Z",
			"days_selected":     []int{1, 2, 3},
			"reservation_weeks": 8,
			"nightly_rate":      nightlyRate,
			"total_price":       nightlyRate * 24,
		},
		"has_rental_application": true,
	}
}

func (a *testAPI) create(t *testing.T) outcomeBody {
	t.Helper()
	w := a.do(t, http.MethodPost, "/proposals", "guest", createBody(12000))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[outcomeBody](t, w)
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	assert.Equal(t, "host_review", created.Proposal.Status)
	assert.Equal(t, "guest", created.Role)
	id := created.Proposal.ID

	w := a.do(t, http.MethodGet, "/proposals/"+id, "host", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hostView := decode[outcomeBody](t, w)
	assert.Equal(t, "host", hostView.Role)
	assert.Equal(t, "accept", hostView.Actions.Action1.Action)
	assert.True(t, hostView.Actions.Action1.Visible)
	assert.Equal(t, "request", hostView.Actions.Meeting)

	w = a.do(t, http.MethodPost, "/proposals/"+id+"/actions/accept", "host", map[string]any{"expected_version": 9})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "concurrent_modification")

	w = a.do(t, http.MethodPost, "/proposals/"+id+"/actions/accept", "host", map[string]any{"expected_version": created.Proposal.Version})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	accepted := decode[outcomeBody](t, w)
	assert.Equal(t, "accepted_drafting_lease", accepted.Proposal.Status)
	assert.NotEqual(t, created.CorrelationID, accepted.CorrelationID)

	w = a.do(t, http.MethodPost, "/proposals/"+id+"/actions/accept", "host", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "action_unavailable")
	assert.Contains(t, w.Body.String(), "this action is no longer available, refresh")

	w = a.do(t, http.MethodGet, "/proposals", "guest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Data []outcomeBody `json:"data"`
	}](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, id, list.Data[0].Proposal.ID)
}

func TestProposalErrorsOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t).Proposal.ID

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		want   int
	}{
		{"no credentials", http.MethodGet, "/proposals/" + id, "", nil, http.StatusUnauthorized},
		{"stranger reads", http.MethodGet, "/proposals/" + id, "stranger", nil, http.StatusForbidden},
		{"stranger acts", http.MethodPost, "/proposals/" + id + "/actions/cancel", "stranger", nil, http.StatusForbidden},
		{"missing proposal", http.MethodGet, "/proposals/1x1", "guest", nil, http.StatusNotFound},
		{"invalid terms", http.MethodPost, "/proposals", "guest", createBody(0), http.StatusUnprocessableEntity},
		{"host cannot create", http.MethodPost, "/proposals", "host", createBody(12000), http.StatusConflict},
		{"malformed body", http.MethodPost, "/proposals", "guest", "nope", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/proposals?limit=abc", "guest", nil, http.StatusBadRequest},
		{"no meeting to cancel", http.MethodPost, "/proposals/" + id + "/meeting/cancel", "guest", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAgentCreatesOnBehalfOfGuest(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/proposals", "agent", createBody(12000))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode[outcomeBody](t, w)
	assert.Equal(t, "agent", out.Role)
	assert.Equal(t, "sl_submitted_pending_confirmation", out.Proposal.Status)

	w = a.do(t, http.MethodPost, "/proposals/"+out.Proposal.ID+"/actions/confirmProposal", "guest", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "host_review", decode[outcomeBody](t, w).Proposal.Status)
}

func TestMeetingOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t).Proposal.ID
	slot := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)

	w := a.do(t, http.MethodPost, "/proposals/"+id+"/meeting", "guest", map[string]any{"proposed_times": []time.Time{slot}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "awaiting_response", decode[outcomeBody](t, w).Actions.Meeting)

	w = a.do(t, http.MethodPost, "/proposals/"+id+"/meeting/respond", "host", map[string]any{
		"accept":       true,
		"booked_time":  slot,
		"meeting_link": "https://meet.example.com/abc",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "booked", decode[outcomeBody](t, w).Actions.Meeting)
}

func TestGetMe(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/me", "guest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"guest-1"`)

	w = a.do(t, http.MethodGet, "/me", "agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":true`)
}

func TestAdminSyncEndpoints(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)

	w := a.do(t, http.MethodGet, "/admin/sync/failed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/admin/sync/failed", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	failed := decode[struct {
		Data []outbox.Item `json:"data"`
	}](t, w)
	assert.Empty(t, failed.Data)

	w = a.do(t, http.MethodGet, "/admin/sync/groups/"+created.CorrelationID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	group := decode[struct {
		Data []outbox.Item `json:"data"`
	}](t, w)
	require.Len(t, group.Data, 2)
	assert.Equal(t, 1, group.Data[0].Sequence)
	assert.Equal(t, outbox.StatusPending, group.Data[0].Status)

	w = a.do(t, http.MethodGet, "/admin/sync/groups/unknown", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/admin/sync/proposals/"+created.Proposal.ID, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/admin/sync/stats", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":2`)

	pendingID := group.Data[0].ID
	w = a.do(t, http.MethodPost, "/admin/sync/items/"+jsonID(pendingID)+"/requeue", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "pending items are not requeued")

	w = a.do(t, http.MethodPost, "/admin/sync/items/"+jsonID(pendingID)+"/resolve", "admin", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/admin/sync/items/abc/requeue", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/admin/sync/items/999999/requeue", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func jsonID(id int64) string {
	encoded, _ := json.Marshal(id)
	return string(encoded)
}

func TestStreamProposal(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t).Proposal.ID

	srv := httptest.NewServer(a.router.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/proposals/"+id+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+a.tokens["host"])

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	first := nextEvent()
	assert.Contains(t, first, `"status":"host_review"`)

	w := a.do(t, http.MethodPost, "/proposals/"+id+"/actions/accept", "host", nil)
	require.Equal(t, http.StatusOK, w.Code)

	second := nextEvent()
	assert.Contains(t, second, `"status":"accepted_drafting_lease"`)
}

func TestStreamProposal_Forbidden(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t).Proposal.ID

	w := a.do(t, http.MethodGet, "/proposals/"+id+"/stream", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
