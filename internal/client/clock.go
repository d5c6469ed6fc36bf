package client

import "time"

// Clock schedules the reconnect and keepalive timers. Tests swap in a
// manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop cancels the timer. It reports false if f already ran or was
	// already stopped.
	Stop() bool
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
