package core

import (
	"strings"
	"time"
)

const periodLayout = "2006-01"

// PeriodKey identifies a calendar month, formatted YYYY-MM.
type PeriodKey string

// PeriodOf returns the month containing t, evaluated in loc (UTC when nil).
func PeriodOf(t time.Time, loc *time.Location) PeriodKey {
	if loc == nil {
		loc = time.UTC
	}
	return PeriodKey(t.In(loc).Format(periodLayout))
}

func ParsePeriodKey(s string) (PeriodKey, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(periodLayout, s); err != nil || len(s) != len(periodLayout) {
		return "", &ValidationError{Field: "period", Err: ErrInvalidPeriod}
	}
	return PeriodKey(s), nil
}

func (p PeriodKey) String() string { return string(p) }

// Bounds returns the half-open interval [start, end) of the month in loc.
func (p PeriodKey) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(periodLayout, string(p), loc)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	return t, t.AddDate(0, 1, 0)
}

func (p PeriodKey) Contains(t time.Time, loc *time.Location) bool {
	return PeriodOf(t, loc) == p
}
