package paddock

import (
	"time"
)

// stopThreshold is the fraction of an invocation's budget after which no
// new item may be started.
const stopThreshold = 0.8

// taskTimer decides when a time-boxed invocation must stop taking on work.
// Items are never interrupted: the timer is only consulted between them.
type taskTimer struct {
	budget      time.Duration
	start       time.Time
	last        time.Time
	worst       time.Duration
	completions int
	now         func() time.Time
}

func newTaskTimer(budget time.Duration) *taskTimer {
	return &taskTimer{
		budget: budget,
		now:    time.Now,
	}
}

// Start records the beginning of the invocation.
func (t *taskTimer) Start() {
	t.start = t.now()
	t.last = t.start
}

// ItemCompleted records that one item (a mapped record or reduced key) has
// been fully applied.
func (t *taskTimer) ItemCompleted() {
	now := t.now()
	if d := now.Sub(t.last); d > t.worst {
		t.worst = d
	}
	t.last = now
	t.completions++
}

// ShouldStop reports whether starting another item risks overrunning the
// budget, assuming the next item takes as long as the slowest one so far.
// The first item always runs.
func (t *taskTimer) ShouldStop() bool {
	if t.completions == 0 {
		return false
	}
	return t.Overdue(t.worst)
}

// Overdue reports whether now plus the given estimate is past the stop
// threshold of the budget.
func (t *taskTimer) Overdue(estimate time.Duration) bool {
	worstCaseElapsed := t.now().Add(estimate).Sub(t.start)
	return worstCaseElapsed > time.Duration(float64(t.budget)*stopThreshold)
}

// Elapsed is the time since Start.
func (t *taskTimer) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}
