package clock

import "time"

// Clock abstracts time so cache expiry and ledger timestamps can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func New() Clock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
