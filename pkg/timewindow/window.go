// Package timewindow resolves symbolic time filters into concrete date
// bounds used to scope a harvesting run.
package timewindow

import (
	"fmt"
	"time"
)

// Filter selects the harvesting window relative to "now".
type Filter string

const (
	// FilterWeek covers the last 7 days.
	FilterWeek Filter = "week"

	// FilterMonth covers the last 30 days.
	FilterMonth Filter = "month"

	// FilterQuarter covers the last 90 days.
	FilterQuarter Filter = "quarter"

	// FilterYear covers the last 365 days.
	FilterYear Filter = "year"

	// FilterNone disables date filtering entirely.
	FilterNone Filter = "none"

	// FilterCustom uses explicit caller-supplied bounds.
	FilterCustom Filter = "custom"
)

// ConfigError is a fatal pre-flight configuration failure. It is raised
// before any network call is issued and aborts the run.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// Window is a resolved, closed date interval. It is computed once per run
// and immutable thereafter.
type Window struct {
	From time.Time
	To   time.Time

	// Bounded is false for FilterNone, in which case From and To are zero
	// and no date parameters are attached to upstream queries.
	Bounded bool
}

// Resolve converts a filter into a concrete window ending now. For
// FilterCustom the explicit from/to bounds are used and validated.
func Resolve(filter Filter, from, to time.Time) (Window, error) {
	return ResolveAt(time.Now(), filter, from, to)
}

// ResolveAt is Resolve with an explicit reference time, for deterministic
// resolution in tests.
func ResolveAt(now time.Time, filter Filter, from, to time.Time) (Window, error) {
	switch filter {
	case FilterWeek:
		return Window{From: now.AddDate(0, 0, -7), To: now, Bounded: true}, nil
	case FilterMonth:
		return Window{From: now.AddDate(0, 0, -30), To: now, Bounded: true}, nil
	case FilterQuarter:
		return Window{From: now.AddDate(0, 0, -90), To: now, Bounded: true}, nil
	case FilterYear:
		return Window{From: now.AddDate(0, 0, -365), To: now, Bounded: true}, nil
	case FilterNone:
		return Window{}, nil
	case FilterCustom:
		if from.IsZero() || to.IsZero() {
			return Window{}, &ConfigError{
				Field:  "filter",
				Reason: "custom filter requires explicit from and to dates",
			}
		}
		if !from.Before(to) {
			return Window{}, &ConfigError{
				Field:  "filter",
				Reason: fmt.Sprintf("from date %s must be before to date %s", from.Format("2006-01-02"), to.Format("2006-01-02")),
			}
		}
		return Window{From: from, To: to, Bounded: true}, nil
	default:
		return Window{}, &ConfigError{
			Field:  "filter",
			Reason: fmt.Sprintf("unknown filter %q", filter),
		}
	}
}

// FromEpoch returns the lower bound as a Unix timestamp, or 0 if unbounded.
func (w Window) FromEpoch() int64 {
	if !w.Bounded {
		return 0
	}
	return w.From.Unix()
}

// ToEpoch returns the upper bound as a Unix timestamp, or 0 if unbounded.
func (w Window) ToEpoch() int64 {
	if !w.Bounded {
		return 0
	}
	return w.To.Unix()
}

// Contains reports whether the given epoch timestamp falls inside the
// window. An unbounded window contains everything.
func (w Window) Contains(epoch int64) bool {
	if !w.Bounded {
		return true
	}
	return epoch >= w.From.Unix() && epoch <= w.To.Unix()
}

// String describes the window for logging and output file naming.
func (w Window) String() string {
	if !w.Bounded {
		return "all"
	}
	return fmt.Sprintf("%s_to_%s", w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))
}
