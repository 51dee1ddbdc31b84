// Package expiry provides composable calendar-based expiry policies for
// cached resources. A policy maps the time a resource was last checked to the
// instant at which it should be checked again.
//
// Policies are pure values: evaluating one has no side effects and the same
// inputs always produce the same expiry instant. Callers evaluating several
// resources together should share a single "now" snapshot so that resources
// checked in one batch either all flip to expired or none do.
package expiry

import (
	"fmt"
	"strings"
	"time"

	"github.com/magictractor/webcache/pkg/errs"
)

// Policy decides when a resource last checked at a given time expires.
// The zero Policy is always expired.
type Policy struct {
	name string
	next func(last time.Time) time.Time
}

// Next returns the expiry instant for a resource last checked at last.
// The second return value is false when the policy expires unconditionally.
func (p Policy) Next(last time.Time) (time.Time, bool) {
	if p.next == nil {
		return time.Time{}, false
	}
	return p.next(last), true
}

// Expired reports whether the expiry instant for last has passed at now.
func (p Policy) Expired(last, now time.Time) bool {
	next, ok := p.Next(last)
	if !ok {
		return true
	}
	return next.Before(now)
}

func (p Policy) String() string {
	if p.name == "" {
		return "always"
	}
	return p.name
}

// Always expires unconditionally, forcing a refetch on every read.
func Always() Policy {
	return Policy{name: "always"}
}

// OnHours expires at the next hour-of-day among the given sorted hours that
// is strictly after the last-checked hour, rolling to the first given hour on
// the following day when none remain.
func OnHours(hours ...int) Policy {
	descs := make([]string, len(hours))
	for i, h := range hours {
		descs[i] = fmt.Sprintf("%02d:00", h)
	}
	return Policy{
		name: "onHours(" + strings.Join(descs, ",") + ")",
		next: func(last time.Time) time.Time {
			return NextHourFrom(last, hours...)
		},
	}
}

// Daily expires at the next occurrence of the given time-of-day at or after
// the last-checked instant.
func Daily(hour, minute int) Policy {
	return Policy{
		name: fmt.Sprintf("daily(%02d:%02d)", hour, minute),
		next: func(last time.Time) time.Time {
			return DailyAt(last, hour, minute)
		},
	}
}

// DayOfWeek expires at the next occurrence of the given time-of-day on the
// given weekday at or after the last-checked instant.
func DayOfWeek(day time.Weekday, hour, minute int) Policy {
	return Policy{
		name: fmt.Sprintf("dayOfWeek(%s %02d:%02d)", day, hour, minute),
		next: func(last time.Time) time.Time {
			return NextDayOfWeek(last, day, hour, minute)
		},
	}
}

// WaitDays expires the given number of days after the last check.
func WaitDays(days int) (Policy, error) {
	if days <= 0 {
		return Policy{}, errs.Usagef("wait must be positive, got %d days", days)
	}
	return Policy{
		name: fmt.Sprintf("waitDays(%d)", days),
		next: func(last time.Time) time.Time {
			return PlusWait(last, days, 0, 0)
		},
	}, nil
}

// WaitHours expires the given number of hours after the last check. For use
// with origins that support 304 responses.
func WaitHours(hours int) (Policy, error) {
	if hours <= 0 {
		return Policy{}, errs.Usagef("wait must be positive, got %d hours", hours)
	}
	return Policy{
		name: fmt.Sprintf("waitHours(%d)", hours),
		next: func(last time.Time) time.Time {
			return PlusWait(last, 0, hours, 0)
		},
	}, nil
}

// WaitMinutes expires the given number of minutes after the last check.
// A minimum of greater than 10 minutes is imposed so that nothing, including
// automated tests, can poll an external resource in a tight loop.
func WaitMinutes(minutes int) (Policy, error) {
	if minutes <= 10 {
		return Policy{}, errs.Usagef("minimum wait is 10 minutes, got %d", minutes)
	}
	return Policy{
		name: fmt.Sprintf("waitMinutes(%d)", minutes),
		next: func(last time.Time) time.Time {
			return PlusWait(last, 0, 0, minutes)
		},
	}, nil
}

// PlusWait adds the wait to the last-checked instant and rounds the result up
// so that repeat checks never happen at sub-minute granularity: fractional
// seconds round up to the next second, seconds round up to the next whole
// minute, and long waits additionally round the minute up to the next hour
// boundary (waits over two days) or 15-minute boundary (shorter waits of more
// than two hours).
func PlusWait(last time.Time, days, hours, minutes int) time.Time {
	result := last.AddDate(0, 0, days).Add(time.Duration(hours) * time.Hour)

	if ns := result.Nanosecond(); ns > 0 {
		result = result.Add(time.Duration(int(time.Second) - ns))
	}
	if s := result.Second(); s > 0 {
		result = result.Add(time.Duration(60-s) * time.Second)
	}

	roundMinutes := 0
	switch {
	case days > 2:
		roundMinutes = 60
	case days > 0:
		roundMinutes = 15
	case hours > 2:
		roundMinutes = 15
	}

	if roundMinutes > 0 {
		if remainder := result.Minute() % roundMinutes; remainder > 0 {
			result = result.Add(time.Duration(minutes+roundMinutes-remainder) * time.Minute)
		}
	} else {
		result = result.Add(time.Duration(minutes) * time.Minute)
	}

	return result
}

// NextHourFrom returns the next hour-of-day among hoursOfDay strictly after
// the last-checked hour, or the first given hour on the following day.
func NextHourFrom(last time.Time, hoursOfDay ...int) time.Time {
	// Fall back to the first hour of the next day.
	nextHour := hoursOfDay[0]
	nextDay := true

	lastHour := last.Hour()
	for _, h := range hoursOfDay {
		if lastHour < h {
			nextHour = h
			nextDay = false
			break
		}
	}

	next := time.Date(last.Year(), last.Month(), last.Day(), nextHour, 0, 0, 0, last.Location())
	if nextDay {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// DailyAt returns the next occurrence of the given time-of-day at or after
// the last-checked instant.
func DailyAt(last time.Time, hour, minute int) time.Time {
	next := time.Date(last.Year(), last.Month(), last.Day(), hour, minute, 0, 0, last.Location())
	if next.Before(last) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextDayOfWeek returns the next occurrence of the given time-of-day on the
// given weekday at or after the last-checked instant.
func NextDayOfWeek(last time.Time, day time.Weekday, hour, minute int) time.Time {
	next := DailyAt(last, hour, minute)
	for next.Weekday() != day {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
