package paddock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeTimer(budget time.Duration) (*taskTimer, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	timer := newTaskTimer(budget)
	timer.now = clock.Now
	timer.Start()
	return timer, clock
}

func TestTimerFirstItemAlwaysRuns(t *testing.T) {
	timer, clock := newFakeTimer(10 * time.Second)
	clock.Advance(time.Minute)
	assert.False(t, timer.ShouldStop())
}

func TestTimerStopsBeforeThreshold(t *testing.T) {
	timer, clock := newFakeTimer(10 * time.Second)

	clock.Advance(3 * time.Second)
	timer.ItemCompleted()
	// 3s elapsed + 3s worst case = 6s, within 8s
	assert.False(t, timer.ShouldStop())

	clock.Advance(2 * time.Second)
	timer.ItemCompleted()
	// 5s elapsed + 3s worst case = 8s, not past 8s
	assert.False(t, timer.ShouldStop())

	clock.Advance(1 * time.Second)
	timer.ItemCompleted()
	// 6s elapsed + 3s worst case = 9s
	assert.True(t, timer.ShouldStop())
	assert.Equal(t, 6*time.Second, timer.Elapsed())
}

func TestTimerOverdue(t *testing.T) {
	timer, clock := newFakeTimer(10 * time.Second)
	assert.False(t, timer.Overdue(0))
	clock.Advance(8*time.Second + time.Millisecond)
	assert.True(t, timer.Overdue(0))
}
