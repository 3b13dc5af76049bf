package cache

import (
	"time"
)

// AlignedSchedule fires on wall-clock multiples of Interval (xx:00, xx:15, ... for 15m), so replicas
// started at different moments still wake in phase and contend for the refresh lock together.
// It implements cron.Schedule.
type AlignedSchedule struct {
	Interval time.Duration
}

// Next returns the first aligned instant strictly after t. A non-positive interval never fires.
func (s AlignedSchedule) Next(t time.Time) time.Time {
	if s.Interval <= 0 {
		return time.Time{}
	}
	rem := time.Duration(t.UnixNano() % int64(s.Interval))
	return t.Add(s.Interval - rem)
}
