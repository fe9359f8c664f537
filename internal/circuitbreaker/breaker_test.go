package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock, cfg Config, opts ...Option) *Breaker {
	return New(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestBreaker_ClosedAllows(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock, Config{ErrorPct: 50, WindowDuration: 10 * time.Second, OpenDuration: 5 * time.Second})

	assert.True(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TripsOnErrorRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock, Config{ErrorPct: 50, MinRequests: 3, WindowDuration: 10 * time.Second, OpenDuration: 5 * time.Second})

	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "below MinRequests the breaker stays closed")

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_OldFailuresLeaveWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock, Config{ErrorPct: 50, MinRequests: 2, WindowDuration: time.Second, OpenDuration: 5 * time.Second})

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var transitions []string
	b := newTestBreaker(clock,
		Config{ErrorPct: 50, WindowDuration: 10 * time.Second, OpenDuration: time.Second, HalfOpenProbes: 1},
		OnTransition(func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) }),
	)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.True(t, b.Allow(), "first probe is allowed")
	assert.False(t, b.Allow(), "probe budget is exhausted")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State(), "failed probe reopens")

	clock.Advance(time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}, transitions)
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{ErrorPct: 10, WindowDuration: time.Second, OpenDuration: time.Second}.Enabled())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unknown", State(42).String())
}
