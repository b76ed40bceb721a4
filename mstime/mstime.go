// Package mstime provides a free running 32 bit millisecond counter and
// polled timers built on it. Elapsed time is always computed by unsigned
// subtraction so the counter may roll over.
package mstime

import (
	"sync/atomic"
	"time"
)

// Clock returns a monotonically increasing millisecond count which wraps at
// 2^32.
type Clock interface {
	Millis() uint32
}

// Since returns the milliseconds elapsed from start to now, correct across
// a counter rollover.
func Since(now, start uint32) uint32 {
	return now - start
}

// ToMillis converts d to whole milliseconds, saturating at the counter range.
func ToMillis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(ms)
}

// System is a Clock backed by the Go monotonic clock.
type System struct {
	start time.Time
}

// NewSystem returns a clock counting from now.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Millis implements Clock.
func (s *System) Millis() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// Manual is a Clock that only moves when told to. It is used by tests and
// simulations.
type Manual struct {
	now atomic.Uint32
}

// NewManual returns a manual clock reading start.
func NewManual(start uint32) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// Millis implements Clock.
func (m *Manual) Millis() uint32 {
	return m.now.Load()
}

// Advance moves the clock forward by ms milliseconds.
func (m *Manual) Advance(ms uint32) {
	m.now.Add(ms)
}

// Timer is a one shot polled timer. The zero value is stopped.
type Timer struct {
	start    uint32
	duration uint32
	armed    bool
}

// Start arms the timer to expire d milliseconds after now. Starting an armed
// timer replaces its previous deadline.
func (t *Timer) Start(now, d uint32) {
	t.start = now
	t.duration = d
	t.armed = true
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.armed = false
}

// Armed reports whether the timer is running.
func (t *Timer) Armed() bool {
	return t.armed
}

// Expired reports whether an armed timer has reached its deadline. An
// expired timer is disarmed so that expiry is reported once.
func (t *Timer) Expired(now uint32) bool {
	if !t.armed || Since(now, t.start) < t.duration {
		return false
	}
	t.armed = false
	return true
}
