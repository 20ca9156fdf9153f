package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/sentinel-cvx/internal/config"
	"github.com/aristath/sentinel-cvx/internal/modules/backtest"
	"github.com/aristath/sentinel-cvx/internal/modules/constraints"
	"github.com/aristath/sentinel-cvx/internal/modules/historical"
	"github.com/aristath/sentinel-cvx/internal/modules/optimization"
	"github.com/aristath/sentinel-cvx/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest against stored history",
	Long: `Runs a backtest over the history database with the constraints of a
constraint set file. Assets, target weights and horizon default to the values
in the file; flags override them. The full history before --from is loaded so
trailing windows are filled from the first step. Without --from the run starts
once the constraints have the history they need.

With --windows N the selected period is split into N consecutive windows that
run concurrently, each with its own policy.

Example:
  backtest run --constraints neutral.yaml --from 2024-01-01 --to 2024-06-30
  backtest run --constraints neutral.yaml --assets AAA,BBB --target 0.5,0.4 --horizon 3
  backtest run --constraints neutral.yaml --windows 4 --out steps.csv --metrics-addr :9102`,
	RunE: runBacktest,
}

var (
	runDB           string
	runConstraints  string
	runAssets       []string
	runTarget       []float64
	runFrom         string
	runTo           string
	runHorizon      int
	runInitialValue float64
	runWindows      int
	runOut          string
	runMetricsAddr  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runDB, "db", "", "history database (default HISTORY_DB_PATH)")
	runCmd.Flags().StringVar(&runConstraints, "constraints", "", "constraint set file")
	runCmd.Flags().StringSliceVar(&runAssets, "assets", nil, "assets to trade (default: file, then every stored asset)")
	runCmd.Flags().Float64SliceVar(&runTarget, "target", nil, "target asset weights (default: file, then equal weights)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "first simulated date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runTo, "to", "", "last simulated date (YYYY-MM-DD)")
	runCmd.Flags().IntVar(&runHorizon, "horizon", 0, "lookahead periods (default: file, then MPO_HORIZON)")
	runCmd.Flags().Float64Var(&runInitialValue, "initial-value", 1_000_000, "starting portfolio value")
	runCmd.Flags().IntVar(&runWindows, "windows", 1, "split the period into this many concurrent runs")
	runCmd.Flags().StringVar(&runOut, "out", "", "write per-step weights to this CSV file")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz here while running (default METRICS_ADDR)")
	_ = runCmd.MarkFlagRequired("constraints")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	set, err := config.LoadConstraintSet(runConstraints)
	if err != nil {
		return err
	}
	set.ApplyDefaults(cfg)
	horizon := set.Horizon
	if cmd.Flags().Changed("horizon") {
		horizon = runHorizon
	}

	from, err := parseDateFlag("from", runFrom)
	if err != nil {
		return err
	}
	to, err := parseDateFlag("to", runTo)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, store, err := openHistory(runDB)
	if err != nil {
		return err
	}
	defer db.Close()

	assets := firstNonEmpty(runAssets, set.Assets)
	if len(assets) == 0 {
		if assets, err = store.Assets(ctx); err != nil {
			return err
		}
	}
	target := runTarget
	if len(target) == 0 {
		target = set.Target
	}
	if len(target) == 0 {
		target = equalWeights(len(assets))
	}
	if len(target) != len(assets) {
		return fmt.Errorf("target has %d weights for %d assets", len(target), len(assets))
	}

	ds, err := store.LoadDataset(ctx, assets, time.Time{}, to)
	if err != nil {
		return err
	}

	metricsAddr := runMetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		srv := server.New(server.Config{Log: log, Addr: metricsAddr, HistoryDB: db, Runs: store})
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	newPolicy := policyFactory(set, ds, horizon)
	runner := backtest.NewRunner(log, backtest.WithRecorder(store))
	base := backtest.Config{Target: target, InitialValue: runInitialValue, From: from, To: to}

	var results []*backtest.Result
	if runWindows <= 1 {
		policy, err := newPolicy()
		if err != nil {
			return err
		}
		res, err := runner.Run(ctx, ds, policy, base)
		if err != nil {
			return err
		}
		results = []*backtest.Result{res}
	} else {
		sizing, err := newPolicy()
		if err != nil {
			return err
		}
		scenarios, err := splitWindows(ds, base, runWindows, sizing.MinHistory())
		if err != nil {
			return err
		}
		results, err = runner.RunScenarios(ctx, scenarios, func(backtest.Scenario) (*optimization.Policy, error) {
			return newPolicy()
		})
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for i, res := range results {
		printSummary(out, res, runInitialValue)
		if runOut == "" {
			continue
		}
		path := runOut
		if len(results) > 1 {
			ext := filepath.Ext(runOut)
			path = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(runOut, ext), i+1, ext)
		}
		if err := writeSteps(path, ds, res); err != nil {
			return err
		}
	}
	return nil
}

// policyFactory returns a builder of fresh policies for the constraint set. Every
// call rebuilds every constraint, so policies never share estimator state.
func policyFactory(set *config.ConstraintSet, ds *historical.Dataset, horizon int) func() (*optimization.Policy, error) {
	env := constraints.BuildEnv{Volumes: ds.Volumes}
	return func() (*optimization.Policy, error) {
		return optimization.NewPolicy(
			func() ([]constraints.Constraint, error) {
				return constraints.BuildAll(set.Constraints, env)
			},
			optimization.WithHorizon(horizon),
			optimization.WithPenaltyWeight(cfg.PenaltyWeight),
			optimization.WithLogger(log),
		)
	}
}

// splitWindows cuts the selected period into n consecutive, non-overlapping
// scenarios of near-equal length. An open From starts after warmup rows.
func splitWindows(ds *historical.Dataset, base backtest.Config, n, warmup int) ([]backtest.Scenario, error) {
	tl, err := ds.Timeline(base.From, base.To)
	if err != nil {
		return nil, err
	}
	if base.From.IsZero() {
		if tl, err = backtest.SkipWarmup(tl, warmup); err != nil {
			return nil, err
		}
	}
	if n > tl.Len() {
		return nil, fmt.Errorf("cannot split %d steps into %d windows", tl.Len(), n)
	}

	scenarios := make([]backtest.Scenario, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		end := (i + 1) * tl.Len() / n
		wc := base
		wc.From = tl.At(start)
		wc.To = tl.At(end - 1)
		scenarios = append(scenarios, backtest.Scenario{
			Name:    fmt.Sprintf("window-%d", i+1),
			Dataset: ds,
			Config:  wc,
		})
		start = end
	}
	return scenarios, nil
}

func writeSteps(path string, ds *historical.Dataset, res *backtest.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := backtest.WriteStepsCSV(f, ds.Universe, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(out io.Writer, res *backtest.Result, initial float64) {
	var violated, unconverged int
	for _, s := range res.Steps {
		if len(s.Violated) > 0 {
			violated++
		}
		if !s.Converged {
			unconverged++
		}
	}
	first, last := "-", "-"
	if len(res.Steps) > 0 {
		first = res.Steps[0].Time.Format("2006-01-02")
		last = res.Steps[len(res.Steps)-1].Time.Format("2006-01-02")
	}
	fmt.Fprintf(out, "run %s  %s..%s  steps=%d  final=%.2f  return=%.2f%%  violated=%d  unconverged=%d\n",
		res.ID, first, last, len(res.Steps), res.FinalValue,
		100*(res.FinalValue/initial-1), violated, unconverged)
}

func parseDateFlag(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func firstNonEmpty(candidates ...[]string) []string {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
