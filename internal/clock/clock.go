// Package clock provides the time source used by dwell timers and the
// expiration sweeper. Production code uses Real; tests drive a Fake.
package clock

import "time"

// Timer is a scheduled one-shot task.
type Timer interface {
	// Stop cancels the task. It reports whether the call prevented the task
	// from running.
	Stop() bool
}

// Clock tells the time and schedules one-shot tasks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
