// Command folio is the portfolio construction CLI: it loads a dated return
// sample from CSV, assembles a spec model from flags, and runs single
// solves, backtests or frontier sweeps against it.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/convexfolio/convexfolio/internal/config"
	"github.com/convexfolio/convexfolio/internal/database"
	"github.com/convexfolio/convexfolio/internal/modules/backtest"
	"github.com/convexfolio/convexfolio/internal/modules/frontier"
	"github.com/convexfolio/convexfolio/internal/modules/optimizer"
	"github.com/convexfolio/convexfolio/internal/modules/program"
	"github.com/convexfolio/convexfolio/internal/modules/returns"
	"github.com/convexfolio/convexfolio/internal/modules/solver"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
	"github.com/convexfolio/convexfolio/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries the wired engine shared by all subcommands.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	opt *optimizer.Optimizer
}

// modelFlags accumulate the portfolio model described on the command line.
type modelFlags struct {
	returnsPath string
	longOnly    bool
	boxLower    float64
	boxUpper    float64
	groups      []string

	objectives []string
	aversion   float64
	tail       float64

	mode         string
	backend      string
	riskFreeRate float64
}

func newRootCmd() *cobra.Command {
	a := &app{}
	mf := &modelFlags{}

	root := &cobra.Command{
		Use:           "folio",
		Short:         "Convex portfolio construction engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: !cfg.LogJSON})
			adapter := solver.NewAdapter(solver.Defaults{
				LP:   cfg.SolverLP,
				QP:   cfg.SolverQP,
				SOCP: cfg.SolverSOCP,
			}, a.log)
			a.opt = optimizer.New(adapter, a.log)
			if !cmd.Flags().Changed("risk-free-rate") {
				mf.riskFreeRate = cfg.RiskFreeRate
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&mf.returnsPath, "returns", "r", "", "CSV of per-period returns: date column then one column per asset")
	pf.BoolVar(&mf.longOnly, "long-only", true, "forbid short positions")
	pf.Float64Var(&mf.boxLower, "box-lower", 0, "uniform per-asset lower weight bound (with --box-upper)")
	pf.Float64Var(&mf.boxUpper, "box-upper", 0, "uniform per-asset upper weight bound, 0 disables the box")
	pf.StringArrayVar(&mf.groups, "group", nil, "group bound as SYM1+SYM2=lo:hi, repeatable")
	pf.StringSliceVar(&mf.objectives, "objective", []string{"mean_return", "variance"}, "objectives: mean_return, variance, expected_shortfall, eqs")
	pf.Float64Var(&mf.aversion, "risk-aversion", 1, "risk aversion multiplier on the risk objective")
	pf.Float64Var(&mf.tail, "tail", spec.DefaultTailProbability, "tail probability for shortfall objectives")
	pf.StringVar(&mf.mode, "mode", "plain", "solve mode: plain, max_sharpe, max_es_ratio, max_eqs_ratio")
	pf.StringVar(&mf.backend, "backend", "", "force a solver backend: simplex, bfgs, neldermead")
	pf.Float64Var(&mf.riskFreeRate, "risk-free-rate", 0, "risk-free rate for ratio modes")
	root.MarkPersistentFlagRequired("returns")

	root.AddCommand(newOptimizeCmd(a, mf))
	root.AddCommand(newBacktestCmd(a, mf))
	root.AddCommand(newFrontierCmd(a, mf))
	return root
}

func newOptimizeCmd(a *app, mf *modelFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Solve the model over the full sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := loadSample(mf.returnsPath)
			if err != nil {
				return err
			}
			model, err := buildModel(sample.Symbols(), mf)
			if err != nil {
				return err
			}
			mode, err := parseMode(mf.mode)
			if err != nil {
				return err
			}
			window, err := sample.Full()
			if err != nil {
				return err
			}
			res, err := a.opt.Solve(cmd.Context(), model, window, optimizer.Options{
				Mode:         mode,
				Backend:      mf.backend,
				RiskFreeRate: mf.riskFreeRate,
			})
			if err != nil {
				return err
			}
			out := map[string]any{
				"weights":   weightMap(sample.Symbols(), res.Weights),
				"mean":      res.Mean,
				"objective": res.Objective,
				"solver":    res.Solver,
			}
			if _, ok := model.RiskObjective(); ok {
				out["risk"] = res.Risk
				out["risk_kind"] = res.RiskKind.String()
			}
			return printJSON(out)
		},
	}
}

func newBacktestCmd(a *app, mf *modelFlags) *cobra.Command {
	var (
		frequency string
		training  int
		rolling   int
		save      bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Re-solve the model over a rolling or expanding schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := loadSample(mf.returnsPath)
			if err != nil {
				return err
			}
			model, err := buildModel(sample.Symbols(), mf)
			if err != nil {
				return err
			}
			mode, err := parseMode(mf.mode)
			if err != nil {
				return err
			}
			freq, err := parseFrequency(frequency)
			if err != nil {
				return err
			}

			onFailure := backtest.MarkNaN
			if a.cfg.BacktestHoldOnFailure {
				onFailure = backtest.HoldPrevious
			}
			opts := backtest.Options{
				Frequency:       freq,
				TrainingPeriods: training,
				RollingWindow:   rolling,
				Mode:            mode,
				Backend:         mf.backend,
				RiskFreeRate:    mf.riskFreeRate,
				OnFailure:       onFailure,
				Workers:         a.cfg.BacktestWorkers,
			}
			driver := backtest.NewDriver(a.opt, a.log)
			result, err := driver.Run(cmd.Context(), model, sample, opts)
			if err != nil {
				return err
			}

			out := map[string]any{
				"rebalances": len(result.Entries),
				"failures":   result.Failures(),
			}
			if save {
				db, err := database.Open(a.cfg.DatabasePath())
				if err != nil {
					return err
				}
				defer db.Close()
				store := backtest.NewStore(db)
				if err := store.Init(); err != nil {
					return err
				}
				id, err := store.SaveRun(model, opts, result)
				if err != nil {
					return err
				}
				out["run_id"] = id
			}

			entries := make([]map[string]any, len(result.Entries))
			for i, e := range result.Entries {
				entries[i] = map[string]any{
					"date":    e.Date.Format("2006-01-02"),
					"weights": weightMap(sample.Symbols(), e.Result.Weights),
					"failed":  e.Failed,
				}
				if e.Failed {
					entries[i]["reason"] = e.Reason
				}
			}
			out["entries"] = entries
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "monthly", "rebalance cadence: every_period, monthly, quarterly, annually")
	cmd.Flags().IntVar(&training, "training", 12, "minimum observations before the first rebalance")
	cmd.Flags().IntVar(&rolling, "window", 0, "rolling window width, 0 for expanding")
	cmd.Flags().BoolVar(&save, "save", false, "persist the run to the data directory database")
	return cmd
}

func newFrontierCmd(a *app, mf *modelFlags) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Trace the efficient frontier for the model's risk measure",
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := loadSample(mf.returnsPath)
			if err != nil {
				return err
			}
			model, err := buildModel(sample.Symbols(), mf)
			if err != nil {
				return err
			}
			riskObj, ok := model.RiskObjective()
			if !ok {
				return fmt.Errorf("frontier requires a risk objective, add e.g. --objective variance")
			}
			if points == 0 {
				points = a.cfg.FrontierPoints
			}

			gen := frontier.New(a.opt, a.log)
			result, err := gen.Generate(cmd.Context(), model, sample, frontier.Options{
				RiskKind:        riskObj.Kind,
				TailProbability: riskObj.P,
				Points:          points,
				Backend:         mf.backend,
			})
			if err != nil {
				return err
			}

			pts := make([]map[string]any, len(result.Points))
			for i, p := range result.Points {
				pts[i] = map[string]any{
					"target":  p.Target,
					"mean":    p.Mean,
					"risk":    p.Risk,
					"weights": weightMap(sample.Symbols(), p.Weights),
				}
			}
			return printJSON(map[string]any{
				"risk_monotonic": result.RiskMonotonic,
				"points":         pts,
			})
		},
	}
	cmd.Flags().IntVar(&points, "points", 0, "number of frontier targets, 0 uses the configured default")
	return cmd
}

// loadSample reads a return CSV whose header is "date,SYM1,SYM2,..." and
// whose rows carry ISO dates and decimal returns.
func loadSample(path string) (*returns.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open returns file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse returns file: %w", err)
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("returns file needs a header row and at least one observation")
	}

	symbols := records[0][1:]
	dates := make([]time.Time, 0, len(records)-1)
	rows := make([][]float64, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(symbols)+1 {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i+2, len(rec), len(symbols)+1)
		}
		d, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid date %q: %w", i+2, rec[0], err)
		}
		row := make([]float64, len(symbols))
		for j, field := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: invalid return %q: %w", i+2, symbols[j], field, err)
			}
			row[j] = v
		}
		dates = append(dates, d)
		rows = append(rows, row)
	}
	return returns.New(symbols, dates, rows)
}

func buildModel(symbols []string, mf *modelFlags) (spec.Model, error) {
	model, err := spec.New(symbols)
	if err != nil {
		return spec.Model{}, err
	}
	model = model.WithConstraint(spec.NewFullInvestment())
	if mf.longOnly {
		model = model.WithConstraint(spec.NewLongOnly())
	}
	if mf.boxUpper != 0 {
		model = model.WithConstraint(spec.NewBox(mf.boxLower, mf.boxUpper))
	}
	for _, g := range mf.groups {
		c, err := parseGroup(g)
		if err != nil {
			return spec.Model{}, err
		}
		model = model.WithConstraint(c)
	}

	for _, name := range mf.objectives {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "mean_return":
			model = model.WithObjective(spec.NewMeanReturn())
		case "variance":
			model = model.WithObjective(spec.NewVariance(mf.aversion))
		case "expected_shortfall", "es":
			model = model.WithObjective(spec.NewExpectedShortfall(mf.aversion, mf.tail))
		case "eqs", "expected_quadratic_shortfall":
			model = model.WithObjective(spec.NewExpectedQuadraticShortfall(mf.aversion, mf.tail))
		default:
			return spec.Model{}, fmt.Errorf("unknown objective %q", name)
		}
	}

	if err := model.Validate(); err != nil {
		return spec.Model{}, err
	}
	return model, nil
}

// parseGroup parses SYM1+SYM2=lo:hi.
func parseGroup(s string) (spec.Constraint, error) {
	lhs, bounds, ok := strings.Cut(s, "=")
	if !ok {
		return spec.Constraint{}, fmt.Errorf("invalid group %q, want SYM1+SYM2=lo:hi", s)
	}
	lo, hi, ok := strings.Cut(bounds, ":")
	if !ok {
		return spec.Constraint{}, fmt.Errorf("invalid group bounds %q, want lo:hi", bounds)
	}
	lower, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return spec.Constraint{}, fmt.Errorf("invalid group lower bound %q: %w", lo, err)
	}
	upper, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return spec.Constraint{}, fmt.Errorf("invalid group upper bound %q: %w", hi, err)
	}
	return spec.NewGroup(strings.Split(lhs, "+"), lower, upper), nil
}

func parseMode(s string) (program.Mode, error) {
	switch strings.ToLower(s) {
	case "plain", "":
		return program.ModePlain, nil
	case "max_sharpe":
		return program.ModeMaxSharpe, nil
	case "max_es_ratio":
		return program.ModeMaxESRatio, nil
	case "max_eqs_ratio":
		return program.ModeMaxEQSRatio, nil
	}
	return program.ModePlain, fmt.Errorf("unknown mode %q", s)
}

func parseFrequency(s string) (backtest.Frequency, error) {
	switch strings.ToLower(s) {
	case "every_period":
		return backtest.EveryPeriod, nil
	case "monthly":
		return backtest.Monthly, nil
	case "quarterly":
		return backtest.Quarterly, nil
	case "annually":
		return backtest.Annually, nil
	}
	return backtest.EveryPeriod, fmt.Errorf("unknown frequency %q", s)
}

func weightMap(symbols []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		if i < len(weights) {
			out[s] = weights[i]
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
