package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/config"
	"plcgate/internal/domain"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSeedIsIdempotent(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	first, err := a.Seed(ctx, SeedOptions{Password: "demo"})
	require.NoError(t, err)
	assert.Len(t, first.Users, 3)
	assert.Equal(t, "PLC", first.Project.Key)
	assert.Equal(t, 5, first.IssuesCreated)

	second, err := a.Seed(ctx, SeedOptions{Password: "demo"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.IssuesCreated)
	assert.Equal(t, first.Users[0].ID, second.Users[0].ID)

	growth, err := a.Engine.Repo.GetIssueByKey(ctx, nil, "PLC-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StageGrowth, growth.PLCStage)
	assert.Len(t, growth.EvidenceLinks, a.Config.Gates.MinEvidenceLinks)

	_, err = a.Engine.Authenticate(ctx, "pm@example.com", "demo")
	assert.NoError(t, err)

	_, err = a.Seed(ctx, SeedOptions{})
	assert.Error(t, err)
}

func TestExportIssuesCSV(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	_, err := a.Seed(ctx, SeedOptions{Password: "demo"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := a.ExportIssuesCSV(ctx, &buf, "plc")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, []string{"PLC-2", "Task", "Scale referral program", "open", "Growth", "P2", "low"}, rows[2][:7])
	assert.Equal(t, "3", rows[2][8])

	_, err = a.ExportIssuesCSV(ctx, &buf, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandlerServesHealth(t *testing.T) {
	a := openTestApp(t)
	h, err := a.Handler()
	require.NoError(t, err)
	assert.NotNil(t, h)
}
