package periodic

import (
	"fmt"
	"time"
)

// Schedule determines when the next run starts.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

// Every runs at a fixed interval measured from the end of the previous run.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		panic("periodic: interval must be positive")
	}
	return intervalSchedule{every: d}
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}
