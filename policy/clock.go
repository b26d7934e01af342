package policy

import "time"

// Clock abstracts the current time so time-dependent policies can inject a
// fake in tests.
type Clock interface {
	Now() time.Time
}

// systemClock is the default clock backed by the real system time.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by the real system time (UTC).
func SystemClock() Clock {
	return systemClock{}
}
