package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	cases := map[string]Stage{
		"Growth":            StageGrowth,
		"growth":            StageGrowth,
		"  MATURITY ":       StageMaturity,
		"new development":   StageNewDevelopment,
		"New_Development":   StageNewDevelopment,
		"new   development": StageNewDevelopment,
	}
	for in, want := range cases {
		got, ok := ParseStage(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "target", "Growthy", "newdevelopment"} {
		_, ok := ParseStage(in)
		assert.False(t, ok, in)
	}
}

func TestStageOrder(t *testing.T) {
	for i, st := range Stages {
		assert.Equal(t, i, st.Order())
		assert.True(t, st.Valid())
	}
	assert.Equal(t, -1, Stage("Retired").Order())
	assert.False(t, Stage("growth").Valid())
}

func TestParseEnums(t *testing.T) {
	typ, err := ParseIssueType("bug")
	require.NoError(t, err)
	assert.Equal(t, IssueBug, typ)

	status, err := ParseIssueStatus(" In_Progress ")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)

	prio, err := ParsePriority("p1")
	require.NoError(t, err)
	assert.Equal(t, PriorityP1, prio)

	level, err := ParseRegulatoryLevel("HIGH")
	require.NoError(t, err)
	assert.Equal(t, RegulatoryHigh, level)

	kind, err := ParseArtifactKind("Decision_Memo")
	require.NoError(t, err)
	assert.Equal(t, ArtifactDecisionMemo, kind)
	assert.Equal(t, "Decision Memo", kind.Title())

	role, err := ParseRole("PM")
	require.NoError(t, err)
	assert.Equal(t, RolePM, role)

	_, err = ParseIssueType("Feature")
	assert.Error(t, err)
	_, err = ParsePriority("P4")
	assert.Error(t, err)
	_, err = ParseRegulatoryLevel("medium")
	assert.Error(t, err)
	_, err = ParseRole("owner")
	assert.Error(t, err)
}

func TestUserPermissions(t *testing.T) {
	assert.True(t, User{Role: RoleAdmin}.CanMutate())
	assert.True(t, User{Role: RolePM}.CanMutate())
	assert.False(t, User{Role: RoleViewer}.CanMutate())
	assert.True(t, User{Role: RoleAdmin}.IsAdmin())
	assert.False(t, User{Role: RolePM}.IsAdmin())
}
