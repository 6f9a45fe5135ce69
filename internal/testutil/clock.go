package testutil

import (
	"strconv"
	"sync"
	"time"
)

// StubClock is a controllable snapshot.Clock. Safe for concurrent use, since
// parallel file transfers share it.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC, which
// gives snapshots the label "2024-01-15".
func FixedClock() *StubClock {
	return &StubClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

// Now returns the current stub time, then moves it forward by the step.
func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = now.Add(c.step)
	return now
}

// Step makes every later call to Now advance the clock by d, so a run
// measured with two calls reports a duration of d.
func (c *StubClock) Step(d time.Duration) *StubClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
	return c
}

// StubIDGenerator hands out run IDs "run-1", "run-2", and so on.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{next: 1}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "run-" + strconv.Itoa(g.next)
	g.next++
	return id
}
