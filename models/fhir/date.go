package fhir

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// partialDateLayouts are tried in order. FHIR allows a date to be reduced to
// a month or a year; those resolve to the first day of the period.
var partialDateLayouts = []string{
	"2006-01-02", // YYYY-MM-DD
	"2006-01",    // YYYY-MM
	"2006",       // YYYY
}

// Date represents a FHIR date (no time component)
type Date struct {
	time.Time
}

// NewDate creates a new Date from a time.Time, dropping the time of day
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a FHIR date string in any of the allowed precisions
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range partialDateLayouts {
		if len(s) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date format: %q", s)
}

// String returns the date in YYYY-MM-DD format
func (d Date) String() string {
	return d.Format(dateLayout)
}
