package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/config"
	"plcgate/internal/copilot"
	"plcgate/internal/db"
	"plcgate/internal/domain"
	"plcgate/internal/engine"
	"plcgate/internal/metrics"
	"plcgate/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Admin  domain.User
	PM     domain.User
	Viewer domain.User
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	m := metrics.New()
	e := engine.New(conn, config.Default(), m)
	ts := &testServer{Engine: e, client: &http.Client{Timeout: 10 * time.Second}}
	for _, u := range []struct {
		dst  *domain.User
		role domain.Role
	}{{&ts.Admin, domain.RoleAdmin}, {&ts.PM, domain.RolePM}, {&ts.Viewer, domain.RoleViewer}} {
		created, err := e.CreateUser(ctx, nil, engine.UserCreateOptions{Name: string(u.role), Email: string(u.role) + "@plc.test", Role: u.role, Password: "pw"})
		require.NoError(t, err)
		*u.dst = created
	}
	_, err = e.CreateProject(ctx, &ts.Admin, "Demo", "PLC")
	require.NoError(t, err)

	handler, err := New(Config{
		Engine:  e,
		Copilot: copilot.Copilot{Backend: e, Metrics: m, TraceSummaryChars: 200},
		Metrics: m,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ts.URL = srv.URL + "/api"
	return ts
}

func (s *testServer) token(t *testing.T, u domain.User) map[string]string {
	t.Helper()
	tok, _, err := s.Engine.Tokens().Issue(u)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	return env.Error.Code
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	res, _ := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := s.do(t, http.MethodGet, "/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = s.do(t, http.MethodGet, "/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)
	res, data := s.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: "pm@plc.test", Password: "pw"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	login := decode[LoginResponse](t, data)
	assert.Equal(t, "bearer", login.TokenType)
	assert.Equal(t, domain.RolePM, login.User.Role)

	res, data = s.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + login.AccessToken})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, s.PM.ID, decode[domain.User](t, data).ID)

	res, _ = s.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: "pm@plc.test", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAPIKeyAuthentication(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/users/%d/api-keys", s.PM.ID)
	res, data := s.do(t, http.MethodPost, path, CreateAPIKeyRequest{Name: "ci"}, s.token(t, s.PM))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	created := decode[APIKeyResponse](t, data)
	require.NotEmpty(t, created.Secret)
	assert.NotContains(t, string(data), "key_hash")

	res, data = s.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": created.Secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, s.PM.ID, decode[domain.User](t, data).ID)

	res, _ = s.do(t, http.MethodGet, path, nil, s.token(t, s.Viewer))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	keyPath := path + "/" + created.Key.ID
	res, _ = s.do(t, http.MethodDelete, keyPath, nil, s.token(t, s.Viewer))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, data = s.do(t, http.MethodDelete, keyPath, nil, s.token(t, s.PM))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, _ = s.do(t, http.MethodDelete, keyPath, nil, s.token(t, s.PM))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = s.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": created.Secret})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestRoleEnforcement(t *testing.T) {
	s := newTestServer(t)
	res, data := s.do(t, http.MethodPost, "/projects/PLC/issues", CreateIssueRequest{Summary: "x"}, s.token(t, s.Viewer))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", errorCode(t, data))

	newUser := CreateUserRequest{Name: "Eve", Email: "eve@plc.test", Role: "pm", Password: "pw"}
	res, _ = s.do(t, http.MethodPost, "/users", newUser, s.token(t, s.PM))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, data = s.do(t, http.MethodPost, "/users", newUser, s.token(t, s.Admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = s.do(t, http.MethodPost, "/users", newUser, s.token(t, s.Admin))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, data))
}

func TestIssueLifecycleThroughGate(t *testing.T) {
	s := newTestServer(t)
	pm := s.token(t, s.PM)

	res, data := s.do(t, http.MethodPost, "/projects/plc/issues", CreateIssueRequest{Summary: "Onboarding revamp", Type: "Epic"}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	is := decode[domain.Issue](t, data)
	assert.Equal(t, "PLC-1", is.Key)
	assert.Equal(t, domain.StageIntroduction, is.PLCStage)

	res, data = s.do(t, http.MethodPost, "/issues/PLC-1/transition", TransitionRequest{TargetStage: "Growth"}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	blocked := decode[TransitionResponse](t, data)
	assert.True(t, blocked.Blocked)
	assert.False(t, blocked.OK)
	assert.Equal(t, "Stage gate not satisfied", blocked.Message)
	require.NotEmpty(t, blocked.MissingRequirements)
	assert.Equal(t, domain.RequirementStageGate, blocked.MissingRequirements[0].Type)

	res, data = s.do(t, http.MethodGet, "/issues/PLC-1/gate?target=growth", nil, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.False(t, decode[GateResponse](t, data).Allowed)

	res, data = s.do(t, http.MethodPost, "/artifacts", CreateArtifactRequest{Kind: "launch_checklist", IssueKey: "plc-1"}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	art := decode[domain.Artifact](t, data)
	assert.Contains(t, art.Content, "PLC-1")

	res, data = s.do(t, http.MethodPost, fmt.Sprintf("/artifacts/%d/request-approval", art.ID), nil, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	ap := decode[domain.Approval](t, data)

	decidePath := fmt.Sprintf("/approvals/%d/decide", ap.ID)
	res, data = s.do(t, http.MethodPost, decidePath, DecideApprovalRequest{Status: "approved"}, s.token(t, s.Admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = s.do(t, http.MethodPost, decidePath, DecideApprovalRequest{Status: "rejected"}, s.token(t, s.Admin))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_state", errorCode(t, data))

	res, data = s.do(t, http.MethodPost, "/issues/PLC-1/transition", TransitionRequest{TargetStage: "Growth"}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	moved := decode[TransitionResponse](t, data)
	require.True(t, moved.OK, string(data))
	assert.Equal(t, domain.StageIntroduction, moved.From)
	require.NotNil(t, moved.Issue)
	assert.Equal(t, domain.StageGrowth, moved.Issue.PLCStage)

	res, data = s.do(t, http.MethodGet, "/issues/PLC-1/audit", nil, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	events := decode[[]domain.AuditEvent](t, data)
	require.Len(t, events, 2)
	assert.Equal(t, "issue_transitioned", events[0].ActionType)
	assert.Equal(t, "issue_created", events[1].ActionType)

	res, data = s.do(t, http.MethodGet, "/projects/PLC/issues?stage=growth", nil, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[[]domain.Issue](t, data), 1)
}

func TestPatchIssueClearsAssignee(t *testing.T) {
	s := newTestServer(t)
	pm := s.token(t, s.PM)
	res, data := s.do(t, http.MethodPost, "/projects/PLC/issues", CreateIssueRequest{Summary: "x", AssigneeID: &s.PM.ID}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.do(t, http.MethodPatch, "/issues/PLC-1", map[string]any{"priority": "P0", "assignee_id": nil}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	is := decode[domain.Issue](t, data)
	assert.Equal(t, domain.PriorityP0, is.Priority)
	assert.Nil(t, is.AssigneeID)

	res, _ = s.do(t, http.MethodGet, "/issues/PLC-99", nil, pm)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCopilotProposeThenExecute(t *testing.T) {
	s := newTestServer(t)
	pm := s.token(t, s.PM)

	res, data := s.do(t, http.MethodPost, "/copilot/message", CopilotMessageRequest{
		Message: "Create issue for onboarding",
		Context: copilot.Context{ProjectKey: "PLC"},
	}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	proposal := decode[copilot.Proposal](t, data)
	assert.Equal(t, copilot.IntentCreateIssue, proposal.Plan.Intent)
	assert.NotEmpty(t, proposal.MessageID)

	res, data = s.do(t, http.MethodPost, "/copilot/execute", CopilotExecuteRequest{ActionPlan: proposal.Plan}, s.token(t, s.Viewer))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = s.do(t, http.MethodPost, "/copilot/execute", CopilotExecuteRequest{ActionPlan: proposal.Plan}, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	out := decode[CopilotExecuteResponse](t, data)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].OK, out.Results[0].Error)

	res, data = s.do(t, http.MethodGet, "/audit?action_type=copilot_tool_call", nil, pm)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[[]domain.AuditEvent](t, data), 1)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/projects/PLC/issues", CreateIssueRequest{Summary: "x"}, s.token(t, s.PM))
	s.do(t, http.MethodGet, "/issues/PLC-1/gate?target=Growth", nil, s.token(t, s.PM))

	res, err := s.client.Get(strings.TrimSuffix(s.URL, "/api") + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `plcgate_gate_decisions_total{outcome="blocked",target="Growth"} 1`)
}

func TestWebhookDeliversFilteredEvents(t *testing.T) {
	s := newTestServer(t)
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
	}))
	defer hook.Close()

	cfg := s.Engine.Config()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"issue_created"}, Secret: "s3cret"}}
	e := engine.New(s.Engine.DB, &cfg, s.Engine.Metrics)
	d := newWebhookDispatcher(e, nil)
	require.NotNil(t, d)

	ctx := context.Background()
	d.dispatchAll(ctx)
	_, err := e.CreateIssue(ctx, s.PM, engine.IssueCreateOptions{ProjectKey: "PLC", Summary: "hooked"})
	require.NoError(t, err)
	_, err = e.UpdateIssue(ctx, s.PM, "PLC-1", engine.IssuePatch{})
	require.NoError(t, err)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "issue_created", received[0].ActionType)
	assert.Equal(t, "PLC-1", received[0].ObjectID)
	assert.Equal(t, "issue_created", headers[0].Get("X-PLC-Event"))
	assert.Equal(t, "s3cret", headers[0].Get("X-PLC-Secret"))
}
