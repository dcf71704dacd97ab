package templates

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/domain"
)

func TestRenderGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	issue := domain.Issue{Key: "PLC-3", Summary: "Onboarding revamp", PLCStage: domain.StageMaturity}
	for _, kind := range []domain.ArtifactKind{domain.ArtifactLaunchChecklist, domain.ArtifactDecisionMemo} {
		t.Run(string(kind), func(t *testing.T) {
			out, err := Render(kind, issue)
			require.NoError(t, err)
			g.Assert(t, string(kind), []byte(out))
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	issue := domain.Issue{Key: "PLC-9", Summary: "x", PLCStage: domain.StageGrowth}
	a, err := Render(domain.ArtifactDecisionMemo, issue)
	require.NoError(t, err)
	b, err := Render(domain.ArtifactDecisionMemo, issue)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRenderUnknownKind(t *testing.T) {
	_, err := Render(domain.ArtifactKind("press_release"), domain.Issue{})
	assert.Error(t, err)
}
