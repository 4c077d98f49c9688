// Package timewindow models the acquisition time interval and the date
// helpers used to derive it from the command line.
package timewindow

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the dd-mm-YYYY layout accepted by ParseDate.
const DateLayout = "02-01-2006"

// ErrInvalidWindow is returned when a window would end before it starts.
var ErrInvalidWindow = errors.New("invalid time window")

// Window is a closed time interval. Construct it with New so Start <= End
// holds.
type Window struct {
	Start time.Time
	End   time.Time
}

// New returns the window [start, end].
func New(start, end time.Time) (Window, error) {
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// String renders the window as an ISO 8601 interval.
func (w Window) String() string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

// ParseDate parses a dd-mm-YYYY date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not in dd-mm-YYYY form: %w", s, err)
	}
	return t, nil
}

// LastMonthSpan returns the month ending at date.
func LastMonthSpan(date time.Time) Window {
	return Window{Start: MonthsBefore(date, 1), End: date}
}

// LastMonths returns the n months ending at now.
func LastMonths(now time.Time, n int) (Window, error) {
	if n < 1 {
		return Window{}, fmt.Errorf("%w: month count must be positive, got %d", ErrInvalidWindow, n)
	}
	return Window{Start: MonthsBefore(now, n), End: now}, nil
}

// MonthsBefore steps n calendar months back from t. When the target month is
// shorter the day is clamped to its last day, so 31 March minus one month is
// 28 or 29 February rather than early March.
func MonthsBefore(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
