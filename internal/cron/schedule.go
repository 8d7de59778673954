package cron

import (
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// Schedules accept five fields, an optional leading seconds field, or a
// descriptor such as "@hourly" or "@every 90s".
var parser = robfig.NewParser(robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

func ParseSchedule(expr string) (robfig.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// LatestFireTime returns the last activation of schedule in
// [now-lookback, now], or false when there is none. "@every" schedules are
// anchored to multiples of their delay so every process computes the same
// fire times.
func LatestFireTime(schedule robfig.Schedule, now time.Time, lookback time.Duration) (time.Time, bool) {
	if every, ok := schedule.(robfig.ConstantDelaySchedule); ok {
		latest := now.Truncate(every.Delay)
		return latest, now.Sub(latest) <= lookback
	}

	var latest time.Time
	found := false
	for t := schedule.Next(now.Add(-lookback).Add(-time.Nanosecond)); !t.IsZero() && !t.After(now); t = schedule.Next(t) {
		latest, found = t, true
	}
	return latest, found
}
