// Package timewindow resolves named dashboard periods to absolute time
// ranges anchored to local-calendar midnight in an arbitrary IANA zone.
package timewindow

import (
	"fmt"
	"time"
)

// Period identifies a named dashboard time window.
type Period string

const (
	// Last7 covers the last 7 fully elapsed local days plus today.
	Last7 Period = "last7"
	// Last7Prev covers the 7 fully elapsed local days before today.
	Last7Prev Period = "last7_prev"
	// MonthToDate covers the 1st of the current local month through today.
	MonthToDate Period = "month_to_date"
	// PrevMonth covers the full previous local calendar month.
	PrevMonth Period = "prev_month"
	// PrevMonthMinus1 covers the calendar month before PrevMonth.
	PrevMonthMinus1 Period = "prev_month_minus_1"
	// YTD covers Jan 1 of the current local year through today.
	YTD Period = "ytd"
	// YTDPrev covers the same elapsed duration as YTD, one year earlier.
	YTDPrev Period = "ytd_prev"
)

// Periods lists every known period in dashboard display order.
func Periods() []Period {
	return []Period{Last7, Last7Prev, MonthToDate, PrevMonth, PrevMonthMinus1, YTD, YTDPrev}
}

// ParsePeriod validates a period identifier from user input.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	switch p {
	case Last7, Last7Prev, MonthToDate, PrevMonth, PrevMonthMinus1, YTD, YTDPrev:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Window is a half-open [Start, End) interval in absolute time.
// Both bounds fall on local midnight in the zone the window was
// resolved for (YTDPrev's end may not, after a leap-day shift).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns the number of local calendar days the window spans in loc.
func (w Window) Days(loc *time.Location) int {
	n := 0
	for d := w.Start.In(loc); d.Before(w.End); {
		n++
		y, m, day := d.Date()
		d = time.Date(y, m, day+1, 0, 0, 0, 0, loc)
	}
	return n
}

// DayStarts enumerates the local midnight instant of every calendar day
// in the window, chronologically ascending.
func (w Window) DayStarts(loc *time.Location) []time.Time {
	var days []time.Time
	for d := w.Start.In(loc); d.Before(w.End); {
		y, m, day := d.Date()
		start := time.Date(y, m, day, 0, 0, 0, 0, loc)
		days = append(days, start)
		d = time.Date(y, m, day+1, 0, 0, 0, 0, loc)
	}
	return days
}

// Resolve computes the absolute [start, end) range for a period, with
// calendar boundaries evaluated at local midnight in the IANA zone tz.
// now is the reference instant; pass time.Now() outside of tests.
//
// Calendar arithmetic goes through time.Date, which normalizes
// out-of-range day/month values in the target zone. That keeps day
// boundaries correct across DST transitions, where fixed-offset or
// duration-based arithmetic would drift by an hour.
func Resolve(period Period, tz string, now time.Time) (Window, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Window{}, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	switch period {
	case Last7:
		return Window{Start: time.Date(y, m, d-7, 0, 0, 0, 0, loc), End: tomorrow}, nil
	case Last7Prev:
		return Window{Start: time.Date(y, m, d-7, 0, 0, 0, 0, loc), End: today}, nil
	case MonthToDate:
		return Window{Start: time.Date(y, m, 1, 0, 0, 0, 0, loc), End: tomorrow}, nil
	case PrevMonth:
		return Window{
			Start: time.Date(y, m-1, 1, 0, 0, 0, 0, loc),
			End:   time.Date(y, m, 1, 0, 0, 0, 0, loc),
		}, nil
	case PrevMonthMinus1:
		return Window{
			Start: time.Date(y, m-2, 1, 0, 0, 0, 0, loc),
			End:   time.Date(y, m-1, 1, 0, 0, 0, 0, loc),
		}, nil
	case YTD:
		return Window{Start: time.Date(y, 1, 1, 0, 0, 0, 0, loc), End: tomorrow}, nil
	case YTDPrev:
		// Same elapsed duration as YTD shifted back one year, so a
		// leap-year YTD and its baseline stay comparable.
		curStart := time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		prevStart := time.Date(y-1, 1, 1, 0, 0, 0, 0, loc)
		return Window{Start: prevStart, End: prevStart.Add(tomorrow.Sub(curStart))}, nil
	}
	return Window{}, fmt.Errorf("unknown period %q", period)
}

// Comparison returns the baseline period a displayed period is diffed
// against, and false for periods that are themselves baselines.
func Comparison(period Period) (Period, bool) {
	switch period {
	case Last7:
		return Last7Prev, true
	case MonthToDate:
		return PrevMonth, true
	case PrevMonth:
		return PrevMonthMinus1, true
	case YTD:
		return YTDPrev, true
	}
	return "", false
}
