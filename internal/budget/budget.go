// Package budget provides a wall-clock deadline shared by a whole pipeline run.
//
// A Budget answers one question: "do we still have at least X of slack?" Stages
// consult it before starting expensive work (network calls, embedding batches,
// summarization). It never interrupts work in flight; in-flight calls carry
// their own timeouts.
package budget

import "time"

// Budget is a deadline-based time budget. The zero value is unusable; create
// one with Start. Budget is an immutable value and safe to copy and share.
//
// time.Time carries Go's monotonic clock reading, so Elapsed/Remaining are
// unaffected by wall-clock adjustments during a run.
type Budget struct {
	start    time.Time
	deadline time.Time
}

// Start creates a Budget covering total from now.
func Start(total time.Duration) Budget {
	now := time.Now()
	return Budget{start: now, deadline: now.Add(total)}
}

// Elapsed returns time spent since the budget started.
func (b Budget) Elapsed() time.Duration {
	d := time.Since(b.start)
	if d < 0 {
		return 0
	}
	return d
}

// Remaining returns time left until the deadline, never negative.
func (b Budget) Remaining() time.Duration {
	d := time.Until(b.deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Over reports whether less than reserve remains. A stage that needs roughly
// reserve of runway calls Over(reserve) and skips (or falls back) when true.
func (b Budget) Over(reserve time.Duration) bool {
	return b.Remaining() < reserve
}
