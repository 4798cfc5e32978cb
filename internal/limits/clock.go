package limits

import "time"

// Clock is the time source used by the duration-bounded triggers.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// WallClock returns the real clock.
func WallClock() Clock {
	return wallClock{}
}
