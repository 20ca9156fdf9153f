package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/sentinel-cvx/internal/modules/constraints"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSet = `
name: balanced
assets: [AAA, BBB, CCC]
target: [0.3, 0.3, 0.3]
horizon: 2
constraints:
  - type: long_only
  - type: max_weights
    limit: [0.5, 0.5, 0.4]
  - type: participation_rate_limit
    max_fraction: 0.05
  - type: market_neutral
    volume_window: 20
  - type: max_weights_at_times
    limit: 0.2
    cron: "0 0 * * 1"
`

func TestParseConstraintSet(t *testing.T) {
	set, err := ParseConstraintSet([]byte(validSet))
	require.NoError(t, err)

	assert.Equal(t, "balanced", set.Name)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, set.Assets)
	assert.Equal(t, []float64{0.3, 0.3, 0.3}, set.Target)
	assert.Equal(t, 2, set.Horizon)
	require.Len(t, set.Constraints, 5)
	assert.Equal(t, constraints.TypeMaxWeights, set.Constraints[1].Type)
	assert.Equal(t, []float64{0.5, 0.5, 0.4}, set.Constraints[1].Limit.Vector)
	assert.Equal(t, 20, set.Constraints[3].VolumeWindow)
}

func TestParseConstraintSet_CollectsEveryProblem(t *testing.T) {
	doc := `
assets: [AAA, AAA]
target: [0.5]
horizon: -1
constraints:
  - type: long_short
  - type: leverage_limit
  - type: max_weights_at_times
    limit: 0.2
    cron: "every monday"
  - type: participation_rate_limit
`
	_, err := ParseConstraintSet([]byte(doc))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	byField := map[string]string{}
	for _, e := range verrs {
		byField[e.Field] = e.Message
	}
	assert.Contains(t, byField, "horizon")
	assert.Contains(t, byField["assets[1]"], "duplicate")
	assert.Contains(t, byField["target"], "1 weights for 2 assets")
	assert.Contains(t, byField["constraints[0]"], "unknown type")
	assert.Contains(t, byField["constraints[1]"], "limit is required")
	assert.Contains(t, byField["constraints[2]"], "cron")
	assert.NotContains(t, byField, "constraints[3]")
}

func TestParseConstraintSet_ChecksShapesAgainstAssets(t *testing.T) {
	doc := `
assets: [AAA, BBB]
constraints:
  - type: leverage_limit
    limit: [1, 2]
  - type: max_weights
    limit: [0.5, 0.5, 0.4]
  - type: min_weights
    limit: [0.1, 0.1]
  - type: factor_max_limit
    exposure: [[1, 0, 0]]
    limit: [0.2]
`
	_, err := ParseConstraintSet([]byte(doc))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	byField := map[string]string{}
	for _, e := range verrs {
		byField[e.Field] = e.Message
	}
	assert.Contains(t, byField, "constraints[0]")
	assert.Contains(t, byField, "constraints[1]")
	assert.NotContains(t, byField, "constraints[2]")
	assert.Contains(t, byField, "constraints[3]")
}

func TestParseConstraintSet_SkipsShapesWithoutAssets(t *testing.T) {
	doc := `
constraints:
  - type: max_weights
    limit: [0.5, 0.5, 0.4]
`
	set, err := ParseConstraintSet([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, set.Assets)
}

func TestParseConstraintSet_RequiresConstraints(t *testing.T) {
	_, err := ParseConstraintSet([]byte("name: empty\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one constraint")
}

func TestParseConstraintSet_RejectsMalformedYAML(t *testing.T) {
	_, err := ParseConstraintSet([]byte("constraints: [long_only\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestLoadConstraintSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSet), 0o600))

	set, err := LoadConstraintSet(path)
	require.NoError(t, err)
	assert.Equal(t, "balanced", set.Name)

	_, err = LoadConstraintSet(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConstraintSet_ApplyDefaults(t *testing.T) {
	set := &ConstraintSet{
		Constraints: []constraints.Spec{
			{Type: constraints.TypeMarketNeutral},
			{Type: constraints.TypeMarketNeutral, Window: 30},
			{Type: constraints.TypeLongOnly},
		},
	}
	set.ApplyDefaults(&Config{MPOHorizon: 3, MarketNeutralWindow: 90})

	assert.Equal(t, 3, set.Horizon)
	assert.Equal(t, 90, set.Constraints[0].Window)
	assert.Equal(t, 30, set.Constraints[1].Window)
	assert.Equal(t, 0, set.Constraints[2].Window)

	set.Horizon = 1
	set.ApplyDefaults(&Config{MPOHorizon: 4})
	assert.Equal(t, 1, set.Horizon)
}
