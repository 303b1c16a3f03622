// Package types provides the core data types for Meridian.
package types

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the ISO calendar date layout used on every external surface.
const DateLayout = "2006-01-02"

// Date is a calendar date stored as days since 1970-01-01 (UTC).
// Dates compare with the ordinary integer operators.
type Date int32

// OpenEnd is the sentinel end date of an interval whose entity is still a
// member as of the last processed date. It sorts after every real date.
const OpenEnd Date = math.MaxInt32

// NoDate marks an absent date (e.g. an empty build has no first date).
const NoDate Date = math.MinInt32

const secondsPerDay = 24 * 60 * 60

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) Date {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Date(midnight.Unix() / secondsPerDay)
}

// NewDate builds a Date from its year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return NoDate, fmt.Errorf("types: invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// AddDays returns the date n calendar days later (earlier for negative n).
func (d Date) AddDays(n int) Date {
	return d + Date(n)
}

// Weekday returns the day of the week.
func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// IsOpen reports whether d is the open-interval sentinel.
func (d Date) IsOpen() bool {
	return d == OpenEnd
}

// String formats the date as YYYY-MM-DD, or "open" for the sentinel.
func (d Date) String() string {
	switch d {
	case OpenEnd:
		return "open"
	case NoDate:
		return ""
	}
	return d.Time().Format(DateLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*d = OpenEnd
		return nil
	case "":
		*d = NoDate
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
