package promotion_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/imishinist/aqi-mlops/internal/models"
	"github.com/imishinist/aqi-mlops/internal/testutil"
)

func TestProperty_BootstrapAlwaysPromotes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		metric := rapid.Float64Range(-1e9, 1e9).Draw(rt, "metric")
		lowerIsBetter := rapid.Bool().Draw(rt, "lowerIsBetter")

		reg := testutil.NewMemoryRegistry()
		reg.AddRun("run-1", models.RunMetrics{"rmse": metric})
		req := rmseRequest("run-1")
		req.LowerIsBetter = lowerIsBetter

		d, err := newPromoter(reg).DecideAndPromote(context.Background(), req)
		require.NoError(rt, err)
		require.True(rt, d.Promoted)
		require.Len(rt, productionVersions(reg.Versions(modelName)), 1)
	})
}

func TestProperty_TieNeverPromotes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		metric := rapid.Float64Range(-1e9, 1e9).Draw(rt, "metric")
		lowerIsBetter := rapid.Bool().Draw(rt, "lowerIsBetter")

		reg := testutil.NewMemoryRegistry()
		reg.AddRun("run-prod", models.RunMetrics{"rmse": metric})
		reg.AddRun("run-new", models.RunMetrics{"rmse": metric})
		reg.SeedVersion(modelName, "run-prod", models.StageProduction)
		req := rmseRequest("run-new")
		req.LowerIsBetter = lowerIsBetter

		d, err := newPromoter(reg).DecideAndPromote(context.Background(), req)
		require.NoError(rt, err)
		require.False(rt, d.Promoted)
		require.Zero(rt, reg.Mutations())
	})
}

// Promotes exactly when the challenger strictly beats production in the
// configured direction, and otherwise leaves every version untouched.
func TestProperty_DecisionMatchesComparison(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		baseline := rapid.Float64Range(0, 100).Draw(rt, "baseline")
		challenger := rapid.Float64Range(0, 100).Draw(rt, "challenger")
		lowerIsBetter := rapid.Bool().Draw(rt, "lowerIsBetter")

		reg := testutil.NewMemoryRegistry()
		reg.AddRun("run-prod", models.RunMetrics{"rmse": baseline})
		reg.AddRun("run-new", models.RunMetrics{"rmse": challenger})
		reg.SeedVersion(modelName, "run-prod", models.StageProduction)
		before := reg.Versions(modelName)
		req := rmseRequest("run-new")
		req.LowerIsBetter = lowerIsBetter

		d, err := newPromoter(reg).DecideAndPromote(context.Background(), req)
		require.NoError(rt, err)

		want := challenger > baseline
		if lowerIsBetter {
			want = challenger < baseline
		}
		require.Equal(rt, want, d.Promoted)
		if !d.Promoted {
			require.Equal(rt, before, reg.Versions(modelName))
		}
	})
}

func TestProperty_AtMostOneProduction(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "calls")
		lowerIsBetter := rapid.Bool().Draw(rt, "lowerIsBetter")
		reg := testutil.NewMemoryRegistry()
		p := newPromoter(reg)

		for i := 0; i < n; i++ {
			runID := fmt.Sprintf("run-%d", i)
			// Occasionally replay an earlier run instead of training a new one.
			if i > 0 && rapid.Bool().Draw(rt, "replay") {
				runID = fmt.Sprintf("run-%d", rapid.IntRange(0, i-1).Draw(rt, "replayOf"))
			} else {
				reg.AddRun(runID, models.RunMetrics{"rmse": rapid.Float64Range(0, 50).Draw(rt, "rmse")})
			}
			req := rmseRequest(runID)
			req.LowerIsBetter = lowerIsBetter

			before := reg.Versions(modelName)
			d, err := p.DecideAndPromote(context.Background(), req)
			require.NoError(rt, err)

			versions := reg.Versions(modelName)
			prods := productionVersions(versions)
			require.LessOrEqual(rt, len(prods), 1)
			if d.Promoted {
				require.Len(rt, prods, 1)
				require.Equal(rt, runID, prods[0].SourceRunID)
				require.Equal(rt, d.Version, prods[0].Version)
			} else {
				require.Equal(rt, before, versions)
				if d.Reused {
					require.Len(rt, prods, 1)
					require.Equal(rt, runID, prods[0].SourceRunID)
				}
			}
		}
	})
}
