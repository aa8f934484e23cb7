package sh2

import "time"

// Clock provides a monotonic microsecond counter which wraps at 32 bits.
type Clock interface {
	NowUs() uint32
}

// ClockFunc is func form of Clock.
type ClockFunc func() uint32

// NowUs implements Clock.
func (f ClockFunc) NowUs() uint32 {
	return f()
}

type monotonicClock struct {
	start time.Time
}

// NewClock creates a Clock counting from now.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

// NowUs implements Clock.
func (c *monotonicClock) NowUs() uint32 {
	return uint32(time.Since(c.start) / time.Microsecond)
}

// ElapsedUs returns microseconds passed since start, tolerating wrap.
func ElapsedUs(c Clock, start uint32) uint32 {
	return c.NowUs() - start
}

// Expired tells if d has passed since start.
func Expired(c Clock, start uint32, d time.Duration) bool {
	return time.Duration(ElapsedUs(c, start))*time.Microsecond >= d
}

// Delay spins on the clock until d has passed.
func Delay(c Clock, d time.Duration) {
	start := c.NowUs()
	for !Expired(c, start, d) {
	}
}
