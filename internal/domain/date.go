package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "triplab/pkg/errors"
)

// DateLayout is the ISO calendar-day layout used for every stored date.
const DateLayout = "2006-01-02"

// Date is an ISO calendar day ("2024-07-02"). Valid dates compare
// chronologically as plain strings.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", apperrors.NewValidationError("invalid date", map[string]interface{}{
			"date":   s,
			"format": "YYYY-MM-DD",
		})
	}
	return Date(s), nil
}

// MustDate panics on an invalid date. Intended for tests and constants.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Time returns midnight UTC of the day. Invalid dates return the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) Valid() bool {
	_, err := time.Parse(DateLayout, string(d))
	return err == nil
}

func (d Date) String() string { return string(d) }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d < other }

// SameMonth reports whether d falls in the given year and month.
func (d Date) SameMonth(year int, month time.Month) bool {
	t := d.Time()
	return !t.IsZero() && t.Year() == year && t.Month() == month
}

// UnmarshalText rejects anything that is not a calendar day.
func (d *Date) UnmarshalText(b []byte) error {
	if _, err := time.Parse(DateLayout, string(b)); err != nil {
		return fmt.Errorf("invalid date %q", string(b))
	}
	*d = Date(b)
	return nil
}

// SortDates sorts dates ascending in place.
func SortDates(dates []Date) {
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
}

// UniqueSorted returns a sorted copy of dates without duplicates.
func UniqueSorted(dates []Date) []Date {
	seen := make(map[Date]struct{}, len(dates))
	out := make([]Date, 0, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	SortDates(out)
	return out
}

// SameDates compares two date lists as sets.
func SameDates(a, b []Date) bool {
	as := make(map[Date]struct{}, len(a))
	for _, d := range a {
		as[d] = struct{}{}
	}
	bs := make(map[Date]struct{}, len(b))
	for _, d := range b {
		bs[d] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for d := range as {
		if _, ok := bs[d]; !ok {
			return false
		}
	}
	return true
}

// Timestamp is a Unix time in milliseconds, the unit stored in trip documents.
type Timestamp int64

func TimestampOf(t time.Time) Timestamp { return Timestamp(t.UnixMilli()) }

func (ts Timestamp) Time() time.Time { return time.UnixMilli(int64(ts)) }
