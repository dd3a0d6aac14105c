// Package clock is the monotonic-time collaborator TCPSST consumes only
// at its interface (spec.md §1(a)/§6): a Now() in floating-point seconds
// and a Duration supporting add/subtract and ms/µs conversion, modeled
// on original_source/libcore/src/task/Time.hpp's DeltaTime/AbsTime pair
// at the interface level only. The default implementation is backed by
// github.com/benbjohnson/clock so tests can substitute a Mock and drive
// timeout-retire paths without a real sleep.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Seconds is a point in monotonic time, expressed as seconds since an
// unspecified epoch. Only differences between two Seconds values are
// meaningful.
type Seconds float64

// Duration is an elapsed or relative time, in seconds.
type Duration float64

func (d Duration) Add(other Duration) Duration { return d + other }
func (d Duration) Sub(other Duration) Duration { return d - other }

func (d Duration) Milliseconds() float64 { return float64(d) * 1000 }
func (d Duration) Microseconds() float64 { return float64(d) * 1e6 }

// Sub returns the elapsed Duration between two Seconds values (a - b).
func (a Seconds) Sub(b Seconds) Duration { return Duration(a - b) }

// Add returns a Seconds value offset by d.
func (a Seconds) Add(d Duration) Seconds { return a + Seconds(d) }

// Clock is the interface the TCPSST core consumes for the ACK_CLOSE
// timeout-retire path and for any other time-dependent bookkeeping.
type Clock interface {
	Now() Seconds
	After(d Duration) <-chan struct{}
}

// realClock wraps github.com/benbjohnson/clock's real implementation,
// which behaves exactly like the standard library but is swappable for
// a clock.Mock in tests.
type realClock struct {
	c clock.Clock
}

// New returns a Clock backed by wall-clock time.
func New() Clock {
	return &realClock{c: clock.New()}
}

func (r *realClock) Now() Seconds {
	return Seconds(float64(r.c.Now().UnixNano()) / 1e9)
}

func (r *realClock) After(d Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	t := r.c.Timer(durationToStd(d))
	go func() {
		<-t.C
		ch <- struct{}{}
	}()
	return ch
}

func durationToStd(d Duration) time.Duration {
	return time.Duration(float64(d) * float64(time.Second))
}

// NewMock returns a Clock whose Now()/After() are driven by the caller
// via the returned *clock.Mock's Add/Set methods, grounded on
// dep2p-go-dep2p's use of benbjohnson/clock for deterministic tests.
func NewMock() (Clock, *clock.Mock) {
	m := clock.NewMock()
	return &mockClock{c: m}, m
}

type mockClock struct {
	c *clock.Mock
}

func (m *mockClock) Now() Seconds {
	return Seconds(float64(m.c.Now().UnixNano()) / 1e9)
}

func (m *mockClock) After(d Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	t := m.c.Timer(durationToStd(d))
	go func() {
		<-t.C
		ch <- struct{}{}
	}()
	return ch
}
