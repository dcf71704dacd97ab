package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"plcgate/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v1, err := Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	v2, err := Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('users','projects','issues','artifacts','approvals','audit_events','api_keys')`).Scan(&n))
	require.Equal(t, 7, n)
}
