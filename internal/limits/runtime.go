package limits

import "time"

// DefaultTick is the sleep interval between elapsed-time checks.
const DefaultTick = time.Second

// RunFor suspends in tick-sized steps until target has elapsed on clock.
// It returns the elapsed time and the number of ticks slept. The loop exits
// within one tick of target.
func RunFor(clock Clock, target, tick time.Duration) (time.Duration, int) {
	if tick <= 0 {
		tick = DefaultTick
	}
	start := clock.Now()
	ticks := 0
	for clock.Now().Sub(start) < target {
		clock.Sleep(tick)
		ticks++
	}
	return clock.Now().Sub(start), ticks
}

// SpinFor burns CPU until window has elapsed on clock and returns the
// number of iterations performed. It never sleeps.
func SpinFor(clock Clock, window time.Duration) uint64 {
	start := clock.Now()
	var n uint64
	for clock.Now().Sub(start) < window {
		n++
	}
	return n
}
