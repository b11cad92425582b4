package clock

import (
	"time"
)

// Clock supplies monotonic timestamps in nanoseconds. The origin is arbitrary,
// only differences between two readings of the same clock are meaningful.
type Clock interface {
	Now() uint64
}

// Monotonic reads the runtime's monotonic clock.
type Monotonic struct {
	origin time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{origin: time.Now()}
}

func (m *Monotonic) Now() uint64 {
	// time.Since uses the monotonic reading embedded in origin.
	return uint64(time.Since(m.origin))
}

// Manual is a clock moved explicitly by its owner. It is used when timestamps
// come from an external source, like a recorded trace.
type Manual struct {
	ns uint64
}

func NewManual(ns uint64) *Manual {
	return &Manual{ns: ns}
}

func (m *Manual) Now() uint64 {
	return m.ns
}

func (m *Manual) Set(ns uint64) {
	m.ns = ns
}

func (m *Manual) Advance(d time.Duration) {
	m.ns += uint64(d)
}

// Clamped wraps a clock and never returns a value lower than one it already
// returned.
type Clamped struct {
	src    Clock
	latest uint64
}

func NewClamped(src Clock) *Clamped {
	return &Clamped{src: src}
}

func (c *Clamped) Now() uint64 {
	ns := c.src.Now()
	if ns < c.latest {
		return c.latest
	}
	c.latest = ns
	return ns
}
