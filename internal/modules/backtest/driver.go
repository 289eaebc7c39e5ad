// Package backtest re-solves a portfolio spec over successive time windows
// and assembles the resulting weight time series. Between rebalance dates
// weights are held constant; the driver never interpolates.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/convexfolio/convexfolio/internal/modules/optimizer"
	"github.com/convexfolio/convexfolio/internal/modules/program"
	"github.com/convexfolio/convexfolio/internal/modules/returns"
	"github.com/convexfolio/convexfolio/internal/modules/solver"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
)

// State is the driver's position in its schedule.
type State int

const (
	// Accumulating means the first training window is not yet full.
	Accumulating State = iota
	// Rebalancing means scheduled dates are being solved.
	Rebalancing
	// Exhausted means no rebalance dates remain. Terminal.
	Exhausted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Rebalancing:
		return "rebalancing"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// FailurePolicy selects what a failed rebalance records as its weights.
type FailurePolicy int

const (
	// HoldPrevious carries the previous entry's weights forward. The
	// first entry has no predecessor and records NaN weights.
	HoldPrevious FailurePolicy = iota
	// MarkNaN records NaN weights, leaving the gap visible downstream.
	MarkNaN
)

// Options configure one backtest run.
type Options struct {
	// Frequency is the rebalancing cadence over the date index.
	Frequency Frequency
	// TrainingPeriods is the minimum number of observations a window must
	// contain before a scheduled date is solved. Scheduled dates with a
	// smaller window are skipped, not failed.
	TrainingPeriods int
	// RollingWindow fixes the window width W so the training slice is
	// [d-W, d). Zero selects an expanding window [start, d).
	RollingWindow int

	// Mode, Backend and RiskFreeRate are forwarded to each solve.
	Mode         program.Mode
	Backend      string
	RiskFreeRate float64

	// OnFailure selects the recorded weights for a failed date.
	OnFailure FailurePolicy
	// AbortOnFailure escalates the first per-date failure and stops the
	// run. Off by default: a failed date is recorded and the run
	// continues.
	AbortOnFailure bool

	// Workers enables concurrent window solves when > 1. Entries are
	// merged back in chronological order regardless.
	Workers int
}

// Entry is one (rebalance date, result) pair.
type Entry struct {
	Date   time.Time
	Index  int // observation index of the rebalance date
	Result optimizer.Result
	Failed bool
	Reason string // failure description, empty on success
}

// Result is the ordered weight time series produced by one run.
type Result struct {
	Entries []Entry
}

// Driver runs backtests against an optimizer.
type Driver struct {
	opt *optimizer.Optimizer
	log zerolog.Logger
}

// NewDriver creates a backtest driver.
func NewDriver(opt *optimizer.Optimizer, log zerolog.Logger) *Driver {
	return &Driver{
		opt: opt,
		log: log.With().Str("component", "backtest").Logger(),
	}
}

// Run walks the rebalance schedule, solving the model on each trailing
// window. Per-date solver failures are recorded and the run continues
// unless AbortOnFailure is set. Windows are independent, so with
// Workers > 1 they are solved concurrently and merged chronologically.
func (d *Driver) Run(ctx context.Context, model spec.Model, sample *returns.Sample, opts Options) (*Result, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if err := sample.AlignTo(model); err != nil {
		return nil, err
	}
	if opts.TrainingPeriods < 1 {
		return nil, fmt.Errorf("%w: training periods must be >= 1, got %d", spec.ErrValidation, opts.TrainingPeriods)
	}
	if opts.RollingWindow < 0 {
		return nil, fmt.Errorf("%w: negative rolling window %d", spec.ErrValidation, opts.RollingWindow)
	}

	schedule := Schedule(sample.Dates(), opts.Frequency)

	// Resolve each scheduled date to its training slice, dropping dates
	// whose window is still short. This is the Accumulating phase.
	type task struct {
		index      int
		start, end int
	}
	var tasks []task
	state := Accumulating
	for _, idx := range schedule {
		start := 0
		if opts.RollingWindow > 0 {
			start = idx - opts.RollingWindow
			if start < 0 {
				start = 0
			}
		}
		if idx-start < opts.TrainingPeriods {
			continue
		}
		if state == Accumulating {
			state = Rebalancing
			d.log.Debug().
				Str("date", sample.Date(idx).Format("2006-01-02")).
				Msg("Training window full, first rebalance")
		}
		tasks = append(tasks, task{index: idx, start: start, end: idx})
	}

	entries := make([]Entry, len(tasks))

	solveOne := func(ctx context.Context, t task) (Entry, error) {
		entry := Entry{Date: sample.Date(t.index), Index: t.index}
		window, err := sample.Window(t.start, t.end)
		if err != nil {
			return entry, err // precondition violation, not a solver failure
		}
		res, err := d.opt.Solve(ctx, model, window, optimizer.Options{
			Mode:         opts.Mode,
			Backend:      opts.Backend,
			RiskFreeRate: opts.RiskFreeRate,
		})
		entry.Result = res
		if err != nil {
			entry.Failed = true
			entry.Reason = err.Error()
			if entry.Result.Status == solver.StatusOptimal {
				entry.Result.Status = solver.StatusInfeasible
			}
			if opts.AbortOnFailure {
				return entry, fmt.Errorf("rebalance at %s failed: %w", entry.Date.Format("2006-01-02"), err)
			}
			d.log.Warn().
				Str("date", entry.Date.Format("2006-01-02")).
				Str("solver", res.Solver).
				Err(err).
				Msg("Rebalance failed, continuing")
		}
		return entry, nil
	}

	if opts.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i, t := range tasks {
			i, t := i, t
			g.Go(func() error {
				entry, err := solveOne(gctx, t)
				entries[i] = entry
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, t := range tasks {
			entry, err := solveOne(ctx, t)
			if err != nil {
				return nil, err
			}
			entries[i] = entry
		}
	}

	// Apply the failure policy in chronological order, after the merge.
	n := model.NumAssets()
	for i := range entries {
		if !entries[i].Failed {
			continue
		}
		if opts.OnFailure == HoldPrevious && i > 0 && entries[i-1].Result.Weights != nil {
			entries[i].Result.Weights = append([]float64(nil), entries[i-1].Result.Weights...)
		} else {
			entries[i].Result.Weights = nanWeights(n)
		}
	}

	state = Exhausted
	d.log.Info().
		Int("scheduled", len(schedule)).
		Int("rebalances", len(entries)).
		Str("state", state.String()).
		Msg("Backtest complete")

	return &Result{Entries: entries}, nil
}

func nanWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.NaN()
	}
	return w
}

// Dates returns the ordered rebalance dates of the run.
func (r *Result) Dates() []time.Time {
	out := make([]time.Time, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Date
	}
	return out
}

// Failures counts the failed entries.
func (r *Result) Failures() int {
	var c int
	for _, e := range r.Entries {
		if e.Failed {
			c++
		}
	}
	return c
}
