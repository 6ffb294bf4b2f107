// Package dates provides a calendar-day type that marshals as YYYY-MM-DD.
package dates

import (
	"fmt"
	"regexp"
	"time"
)

const format = "2006-01-02"

var pattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date represents a calendar date without time or timezone.
type Date struct {
	time.Time
}

// New creates a Date from year, month, day.
func New(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Today returns today's date.
func Today() Date {
	now := time.Now()
	return New(now.Year(), now.Month(), now.Day())
}

// Parse parses a YYYY-MM-DD string into a Date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(format, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// Valid reports whether s has the YYYY-MM-DD shape and parses as a real day.
func Valid(s string) bool {
	if !pattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(format, s)
	return err == nil
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(format)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
