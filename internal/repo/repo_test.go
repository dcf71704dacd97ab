package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/db"
	"plcgate/internal/domain"
	"plcgate/internal/migrate"
	"plcgate/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

func TestIssueRoundTripKeepsJSONColumns(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	pid, err := r.InsertProject(ctx, nil, domain.Project{Name: "Demo", Key: "PLC", CreatedAt: ts})
	require.NoError(t, err)

	id, err := r.InsertIssue(ctx, nil, domain.Issue{
		Key: "PLC-1", ProjectID: pid, Type: domain.IssueTask, Summary: "s",
		Status: domain.StatusOpen, PLCStage: domain.StageGrowth, Priority: domain.PriorityP2,
		RegulatoryImpact: domain.RegulatoryLow,
		EvidenceLinks:    []domain.EvidenceLink{{Title: "a", URL: "https://a"}},
		CreatedAt:        ts, UpdatedAt: ts,
	})
	require.NoError(t, err)

	got, err := r.GetIssueByKey(ctx, nil, "plc-1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, domain.StageGrowth, got.PLCStage)
	assert.Len(t, got.EvidenceLinks, 1)
	assert.NotNil(t, got.StageExitCriteria)
	assert.Empty(t, got.StageExitCriteria)

	_, err = r.GetIssueByKey(ctx, nil, "PLC-99")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuplicateIssueKeyIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	pid, err := r.InsertProject(ctx, nil, domain.Project{Name: "Demo", Key: "PLC", CreatedAt: ts})
	require.NoError(t, err)
	is := domain.Issue{Key: "PLC-1", ProjectID: pid, Type: domain.IssueTask, Summary: "s", Status: domain.StatusOpen,
		PLCStage: domain.StageIntroduction, Priority: domain.PriorityP2, RegulatoryImpact: domain.RegulatoryLow, CreatedAt: ts, UpdatedAt: ts}
	_, err = r.InsertIssue(ctx, nil, is)
	require.NoError(t, err)
	_, err = r.InsertIssue(ctx, nil, is)
	require.Error(t, err)
	assert.True(t, repo.IsUniqueViolation(err))
}

func TestDecideApprovalOnlyOnce(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	uid, err := r.InsertUser(ctx, nil, domain.User{Name: "A", Email: "a@x.io", Role: domain.RoleAdmin, CreatedAt: ts})
	require.NoError(t, err)
	pid, err := r.InsertProject(ctx, nil, domain.Project{Name: "Demo", Key: "PLC", CreatedAt: ts})
	require.NoError(t, err)
	aid, err := r.InsertArtifact(ctx, nil, domain.Artifact{ProjectID: pid, Kind: domain.ArtifactDecisionMemo, Title: "m", Status: domain.ArtifactDraft, CreatedAt: ts})
	require.NoError(t, err)
	apID, err := r.InsertApproval(ctx, nil, domain.Approval{ArtifactID: aid, RequestedBy: uid, Status: domain.ApprovalPending, CreatedAt: ts})
	require.NoError(t, err)

	decided := ts
	ap := domain.Approval{ID: apID, Status: domain.ApprovalApproved, ApproverID: &uid, DecidedAt: &decided}
	require.NoError(t, r.DecideApproval(ctx, nil, ap))
	assert.ErrorIs(t, r.DecideApproval(ctx, nil, ap), domain.ErrInvalidState)

	got, err := r.GetApproval(ctx, nil, apID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, got.Status)
	require.NotNil(t, got.DecidedAt)
}
