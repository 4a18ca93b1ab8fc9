package api

import "sync"

// VideoClock supplies the current playback position of the video being
// tagged, in seconds, and accepts seek requests. Sessions read it exactly
// once, at creation; seeks are fire-and-forget and must not block.
type VideoClock interface {
	CurrentTimestamp() float64
	Seek(seconds float64)
}

// ManualClock is a VideoClock whose position is set by the caller. Seek
// simply moves the position. It is safe for concurrent use and is intended
// for tests and local tooling.
type ManualClock struct {
	mu  sync.Mutex
	pos float64
}

// NewManualClock returns a ManualClock positioned at the given timestamp.
func NewManualClock(seconds float64) *ManualClock {
	return &ManualClock{pos: seconds}
}

func (c *ManualClock) CurrentTimestamp() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *ManualClock) Seek(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = seconds
}

// Set moves the clock without going through the seek path.
func (c *ManualClock) Set(seconds float64) {
	c.Seek(seconds)
}

// ClockFunc adapts a plain function to VideoClock. Seeks are discarded,
// which suits read-only playback integrations.
type ClockFunc func() float64

func (f ClockFunc) CurrentTimestamp() float64 { return f() }

func (ClockFunc) Seek(float64) {}
