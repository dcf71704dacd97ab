package plcsdk_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/app"
	"plcgate/internal/config"
	plcsdk "plcgate/sdk/go"
)

func newSeededServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	a, err := app.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	_, err = a.Seed(context.Background(), app.SeedOptions{Password: "pw"})
	require.NoError(t, err)
	handler, err := a.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL + cfg.Server.BasePath
}

func TestClientIssueFlow(t *testing.T) {
	ctx := context.Background()
	c := plcsdk.New(newSeededServer(t))

	_, err := c.Me(ctx)
	require.Error(t, err)
	assert.True(t, plcsdk.IsCode(err, "unauthorized"), err.Error())

	u, err := c.Login(ctx, "pm@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "pm", u.Role)

	growth, err := c.ListIssues(ctx, "PLC", plcsdk.IssueQuery{Stage: "Growth"})
	require.NoError(t, err)
	require.Len(t, growth, 1)
	assert.Equal(t, "PLC-2", growth[0].Key)

	g, err := c.Gate(ctx, "PLC-1", "Growth")
	require.NoError(t, err)
	assert.False(t, g.Allowed)
	assert.NotEmpty(t, g.MissingRequirements)

	tr, err := c.Transition(ctx, "PLC-1", "Growth", "")
	require.NoError(t, err)
	assert.True(t, tr.Blocked)
	assert.False(t, tr.OK)

	_, err = c.GetIssue(ctx, "PLC-999")
	assert.True(t, plcsdk.IsCode(err, "not_found"), err)
}

func TestClientCopilotRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := plcsdk.New(newSeededServer(t))
	_, err := c.Login(ctx, "pm@example.com", "pw")
	require.NoError(t, err)

	p, err := c.Propose(ctx, "please create issue for the login bug", "PLC", "")
	require.NoError(t, err)
	assert.NotEmpty(t, p.MessageID)
	assert.Equal(t, "create_issue", p.Plan.Intent)
	require.Len(t, p.Plan.Actions, 1)

	results, err := c.Execute(ctx, p.Plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK, results[0].Error)

	created, err := c.ListIssues(ctx, "PLC", plcsdk.IssueQuery{Text: "New issue"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "PLC-6", created[0].Key)

	trail, err := c.IssueAudit(ctx, "PLC-6")
	require.NoError(t, err)
	assert.NotEmpty(t, trail)
}
