package backtest

import (
	"context"
	"fmt"
	"runtime"

	"github.com/aristath/sentinel-cvx/internal/modules/historical"
	"github.com/aristath/sentinel-cvx/internal/modules/optimization"
	"golang.org/x/sync/errgroup"
)

// Scenario is one independent backtest path.
type Scenario struct {
	Name    string
	Dataset *historical.Dataset
	Config  Config
}

// PolicyFactory builds a fresh policy for a scenario. Policies are never shared
// between scenarios.
type PolicyFactory func(Scenario) (*optimization.Policy, error)

// RunScenarios runs every scenario concurrently, each with its own policy. The first
// failure cancels the rest. Results follow the order of scenarios.
func (r *Runner) RunScenarios(ctx context.Context, scenarios []Scenario, factory PolicyFactory) ([]*Result, error) {
	results := make([]*Result, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, sc := range scenarios {
		g.Go(func() error {
			policy, err := factory(sc)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
			res, err := r.Run(gctx, sc.Dataset, policy, sc.Config)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
