package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/audit"
	"plcgate/internal/config"
	"plcgate/internal/db"
	"plcgate/internal/domain"
	"plcgate/internal/engine"
	"plcgate/internal/engine/auth"
	"plcgate/internal/migrate"
	"plcgate/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.User
	PM     domain.User
	Viewer domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	env := testEnv{Engine: eng, Ctx: ctx}
	mk := func(name string, role domain.Role) domain.User {
		u, err := eng.CreateUser(ctx, nil, engine.UserCreateOptions{Name: name, Email: name + "@plc.test", Role: role, Password: "pw"})
		if err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		return u
	}
	env.Admin = mk("admin", domain.RoleAdmin)
	env.PM = mk("pm", domain.RolePM)
	env.Viewer = mk("viewer", domain.RoleViewer)
	if _, err := eng.CreateProject(ctx, &env.Admin, "Demo", "plc"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return env
}

func (env testEnv) issue(t *testing.T, summary string) domain.Issue {
	t.Helper()
	is, err := env.Engine.CreateIssue(env.Ctx, env.PM, engine.IssueCreateOptions{ProjectKey: "PLC", Summary: summary})
	require.NoError(t, err)
	return is
}

func (env testEnv) auditTypes(t *testing.T, objectType, objectID string) []string {
	t.Helper()
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{ObjectType: objectType, ObjectID: objectID, Ascending: true})
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.ActionType)
	}
	return types
}

func TestSequentialIssueKeys(t *testing.T) {
	env := newTestEnv(t)
	for i, want := range []string{"PLC-1", "PLC-2", "PLC-3"} {
		is := env.issue(t, "issue")
		if is.Key != want {
			t.Fatalf("issue %d: got key %s want %s", i, is.Key, want)
		}
	}
	assert.Equal(t, []string{audit.IssueCreated}, env.auditTypes(t, "issue", "PLC-2"))
}

func TestCreateIssueDefaultsAndLookup(t *testing.T) {
	env := newTestEnv(t)
	is := env.issue(t, "Onboarding")
	assert.Equal(t, domain.IssueTask, is.Type)
	assert.Equal(t, domain.StageIntroduction, is.PLCStage)
	assert.Equal(t, domain.StatusOpen, is.Status)
	require.NotNil(t, is.ReporterID)
	assert.Equal(t, env.PM.ID, *is.ReporterID)

	_, err := env.Engine.CreateIssue(env.Ctx, env.PM, engine.IssueCreateOptions{ProjectKey: "NOPE", Summary: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.CreateIssue(env.Ctx, env.Viewer, engine.IssueCreateOptions{ProjectKey: "PLC", Summary: "x"})
	var forbidden auth.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))
}

func TestDuplicateProjectKeyConflicts(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, &env.Admin, "Again", "PLC")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdateIssueAuditsBeforeAndAfter(t *testing.T) {
	env := newTestEnv(t)
	is := env.issue(t, "before")
	summary := "after"
	prio := domain.PriorityP0
	updated, err := env.Engine.UpdateIssue(env.Ctx, env.PM, "plc-1", engine.IssuePatch{Summary: &summary, Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Summary)
	assert.Equal(t, domain.PriorityP0, updated.Priority)
	assert.Equal(t, is.Description, updated.Description)

	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{ActionType: audit.IssueUpdated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	assert.Equal(t, map[string]any{
		"before": map[string]any{"summary": "before", "priority": "P2"},
		"after":  map[string]any{"summary": "after", "priority": "P0"},
	}, payload)

	bad := domain.Priority("P9")
	_, err = env.Engine.UpdateIssue(env.Ctx, env.PM, "PLC-1", engine.IssuePatch{Priority: &bad})
	assert.Error(t, err)
}

func TestAssignIssue(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "x")
	is, err := env.Engine.AssignIssue(env.Ctx, env.PM, "PLC-1", &env.Viewer.ID)
	require.NoError(t, err)
	require.NotNil(t, is.AssigneeID)
	assert.Equal(t, env.Viewer.ID, *is.AssigneeID)

	missing := int64(999)
	_, err = env.Engine.AssignIssue(env.Ctx, env.PM, "PLC-1", &missing)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	is, err = env.Engine.AssignIssue(env.Ctx, env.PM, "PLC-1", nil)
	require.NoError(t, err)
	assert.Nil(t, is.AssigneeID)
}

func TestTransitionBlockedWithoutApprovedChecklist(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "x")

	res, err := env.Engine.TransitionIssue(env.Ctx, env.PM, "PLC-1", "Growth", "")
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed)
	assert.Equal(t, domain.StageIntroduction, res.Issue.PLCStage)
	assert.Empty(t, env.auditTypes(t, "issue", "PLC-1")[1:])

	a, err := env.Engine.GenerateArtifact(env.Ctx, env.PM, engine.ArtifactCreateOptions{Kind: domain.ArtifactLaunchChecklist, IssueKey: "PLC-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Content, "# Launch Checklist: x"))
	ap, err := env.Engine.RequestApproval(env.Ctx, env.PM, a.ID)
	require.NoError(t, err)

	got, err := env.Engine.Repo.GetArtifact(env.Ctx, nil, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactInReview, got.Status)

	_, err = env.Engine.DecideApproval(env.Ctx, env.Admin, ap.ID, true, "ship it")
	require.NoError(t, err)

	res, err = env.Engine.TransitionIssue(env.Ctx, env.PM, "PLC-1", "growth", "")
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
	assert.Empty(t, res.Decision.Missing)
	assert.Equal(t, domain.StageGrowth, res.Issue.PLCStage)
	assert.Equal(t, domain.StageIntroduction, res.From)
	assert.Equal(t, []string{audit.IssueCreated, audit.IssueTransitioned}, env.auditTypes(t, "issue", "PLC-1"))
}

func TestAdminOverrideRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "x")

	res, err := env.Engine.TransitionIssue(env.Ctx, env.PM, "PLC-1", "Growth", "deadline")
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed, "pm cannot override")

	res, err = env.Engine.TransitionIssue(env.Ctx, env.Admin, "PLC-1", "Growth", "deadline")
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)

	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{ActionType: audit.IssueTransitioned})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"from":"Introduction","to":"Growth","override_reason":"deadline"}`, events[0].Payload)
}

func TestCheckGateDoesNotMutate(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "x")
	is, d, err := env.Engine.CheckGate(env.Ctx, env.Admin, "PLC-1", "Maturity", "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Can only transition to adjacent stage.", d.Missing[0].Message)
	assert.Equal(t, domain.StageIntroduction, is.PLCStage)
}

func TestDecideApprovalIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, "x")
	a, err := env.Engine.GenerateArtifact(env.Ctx, env.PM, engine.ArtifactCreateOptions{Kind: domain.ArtifactDecisionMemo, IssueKey: "PLC-1"})
	require.NoError(t, err)
	ap, err := env.Engine.RequestApproval(env.Ctx, env.PM, a.ID)
	require.NoError(t, err)

	decided, err := env.Engine.DecideApproval(env.Ctx, env.PM, ap.ID, false, "no")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, decided.Status)

	_, err = env.Engine.DecideApproval(env.Ctx, env.PM, ap.ID, true, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := env.Engine.Repo.GetArtifact(env.Ctx, nil, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactInReview, got.Status)
}

func TestGenerateArtifactForProjectHasNoContent(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.GenerateArtifact(env.Ctx, env.PM, engine.ArtifactCreateOptions{Kind: domain.ArtifactDecisionMemo, ProjectKey: "plc"})
	require.NoError(t, err)
	assert.Equal(t, "", a.Content)
	assert.Nil(t, a.IssueID)
	assert.Equal(t, "Decision Memo", a.Title)
	assert.Equal(t, domain.ArtifactDraft, a.Status)

	_, err = env.Engine.GenerateArtifact(env.Ctx, env.PM, engine.ArtifactCreateOptions{Kind: domain.ArtifactDecisionMemo})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchIssueTruncatesDescription(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, env.PM, engine.IssueCreateOptions{ProjectKey: "PLC", Summary: "x", Description: strings.Repeat("a", 800)})
	require.NoError(t, err)
	res, err := env.Engine.SearchIssue(env.Ctx, "PLC-1")
	require.NoError(t, err)
	assert.Len(t, res.DescriptionExcerpt, 500)

	_, err = env.Engine.SearchIssue(env.Ctx, "PLC-7")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineConfigIsFixedAtConstruction(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	cfg.Copilot.SearchExcerptChars = 10
	enabled := true
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://hooks.test", Events: []string{"issue_created"}, Enabled: &enabled}}
	eng := engine.New(env.Engine.DB, cfg, nil)

	cfg.Copilot.SearchExcerptChars = 1
	cfg.Webhooks[0].Events[0] = "issue_updated"
	enabled = false

	got := eng.Config()
	assert.Equal(t, 10, got.Copilot.SearchExcerptChars)
	assert.Equal(t, []string{"issue_created"}, got.Webhooks[0].Events)
	assert.True(t, *got.Webhooks[0].Enabled)

	got.Webhooks[0].URL = "http://elsewhere.test"
	assert.Equal(t, "http://hooks.test", eng.Config().Webhooks[0].URL)

	_, err := eng.CreateIssue(env.Ctx, env.PM, engine.IssueCreateOptions{ProjectKey: "PLC", Summary: "x", Description: strings.Repeat("a", 50)})
	require.NoError(t, err)
	res, err := eng.SearchIssue(env.Ctx, "PLC-1")
	require.NoError(t, err)
	assert.Len(t, res.DescriptionExcerpt, 10)
}

func TestAuthenticateAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.Authenticate(env.Ctx, "PM@plc.test", "pw")
	require.NoError(t, err)
	assert.Equal(t, env.PM.ID, u.ID)

	_, err = env.Engine.Authenticate(env.Ctx, "pm@plc.test", "wrong")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, &env.PM, env.PM.ID, "ci")
	require.NoError(t, err)
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	assert.Equal(t, key.ID, stored.ID)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, &env.PM, env.Admin.ID, "steal")
	assert.Error(t, err)

	err = env.Engine.DeleteAPIKey(env.Ctx, &env.Viewer, key.ID)
	var forbidden auth.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))

	require.NoError(t, env.Engine.DeleteAPIKey(env.Ctx, &env.PM, key.ID))
	_, err = env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteAPIKey(env.Ctx, nil, key.ID), domain.ErrNotFound)

	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, repo.AuditFilters{ObjectType: "api_key", ObjectID: key.ID, Ascending: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.APIKeyCreated, events[0].ActionType)
	assert.Equal(t, audit.APIKeyDeleted, events[1].ActionType)
	require.NotNil(t, events[1].ActorID)
	assert.Equal(t, env.PM.ID, *events[1].ActorID)
}
