// Package pipeline runs a named sequence of steps over a shared run context.
// One failing step is recorded and, by default, does not stop the later
// steps; each step's wall time is captured for the run report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/abelbrown/heatline/internal/budget"
	"github.com/abelbrown/heatline/internal/ingest"
	"github.com/abelbrown/heatline/internal/logging"
	"github.com/abelbrown/heatline/internal/marketdata"
	"github.com/abelbrown/heatline/internal/topics"
)

// Context is the mutable state one run threads through its steps. Steps read
// what earlier steps wrote; the runner owns Errors and Perf.
type Context struct {
	RunID       string
	WindowStart time.Time
	WindowEnd   time.Time
	Budget      budget.Budget

	Messages    []ingest.Message
	Topics      []topics.Topic
	Market      map[string]*marketdata.Metrics
	Watchlist   []string
	Diagnostics []string

	Errors []string
	Perf   map[string]time.Duration
}

// NewContext creates a run context with its bookkeeping maps initialized.
func NewContext(runID string, start, end time.Time, bud budget.Budget) *Context {
	return &Context{
		RunID:       runID,
		WindowStart: start,
		WindowEnd:   end,
		Budget:      bud,
		Market:      make(map[string]*marketdata.Metrics),
		Perf:        make(map[string]time.Duration),
	}
}

// Failed reports whether any step recorded an error.
func (c *Context) Failed() bool { return len(c.Errors) > 0 }

// StepFunc is one unit of pipeline work.
type StepFunc func(ctx context.Context, pc *Context) error

// Step pairs a stable name with its implementation. The name keys the perf
// entry and the failure marker, so it must be unique within a runner.
type Step struct {
	Name string
	Run  StepFunc
}

// Runner executes steps in order.
type Runner struct {
	Steps []Step
	// ContinueOnError keeps running later steps after a failure. Failures
	// are always recorded on the context either way.
	ContinueOnError bool
	// Skip names steps to leave out. Only, when non-empty, restricts the
	// run to the named steps; Skip still applies within that set.
	Skip map[string]bool
	Only map[string]bool
}

// Run executes the configured steps against pc. It returns the first step
// error when ContinueOnError is false, nil otherwise. Panicking steps are
// converted to recorded failures, never propagated.
func (r *Runner) Run(ctx context.Context, pc *Context) error {
	lg := logging.WithPrefix("pipeline")
	for _, step := range r.Steps {
		if len(r.Only) > 0 && !r.Only[step.Name] {
			continue
		}
		if r.Skip[step.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			pc.Errors = append(pc.Errors, fmt.Sprintf("step_failed:%s:%v", step.Name, err))
			return err
		}

		lg.Debug("step start", "run", pc.RunID, "step", step.Name, "remaining", pc.Budget.Remaining())
		err := r.runStep(ctx, step, pc)
		if err != nil {
			pc.Errors = append(pc.Errors, fmt.Sprintf("step_failed:%s:%v", step.Name, err))
			lg.Warn("step failed", "run", pc.RunID, "step", step.Name, "err", err)
			if !r.ContinueOnError {
				return err
			}
			continue
		}
		lg.Debug("step done", "run", pc.RunID, "step", step.Name, "took", pc.Perf["step_"+step.Name])
	}
	return nil
}

// runStep times one step and turns panics into errors.
func (r *Runner) runStep(ctx context.Context, step Step, pc *Context) (err error) {
	start := time.Now()
	defer func() {
		pc.Perf["step_"+step.Name] = time.Since(start)
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return step.Run(ctx, pc)
}
