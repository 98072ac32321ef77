package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Month identifies a calendar month, written as a YYYY-MM key.
type Month struct {
	Year  int
	Month time.Month
}

// Preset selects which months a listing covers.
type Preset string

const (
	PresetCurrent Preset = "1m"
	PresetThree   Preset = "3m"
	PresetSix     Preset = "6m"
	PresetCustom  Preset = "custom"
)

// ParseMonth parses a YYYY-MM key.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	y, m, ok := strings.Cut(s, "-")
	if !ok || len(y) != 4 || len(m) != 2 {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	year, err := strconv.Atoi(y)
	if err != nil || year < 1 {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

// MonthOf returns the month containing t in t's location.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Window returns the half-open interval [start, end) covering the month:
// start is the first day at midnight in loc, end is the first day of the
// following month at midnight in loc.
func (m Month) Window(loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start = time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
	end = time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, loc)
	return start, end
}

// Contains reports whether t falls inside the month's window.
func (m Month) Contains(t time.Time, loc *time.Location) bool {
	start, end := m.Window(loc)
	return !t.Before(start) && t.Before(end)
}

// AddMonths moves n months forward (or backward for negative n).
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, m.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return MonthOf(t)
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// RecentMonths returns the n months ending with the month of now, newest
// first.
func RecentMonths(now time.Time, n int) []Month {
	current := MonthOf(now)
	out := make([]Month, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, current.AddMonths(-i))
	}
	return out
}

// ParsePreset accepts the listing presets; empty means PresetCurrent.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetCurrent, nil
	case PresetCurrent, PresetThree, PresetSix, PresetCustom:
		return p, nil
	default:
		return "", fmt.Errorf("invalid preset %q", s)
	}
}

// Months resolves the preset relative to now. PresetCustom requires custom.
func (p Preset) Months(now time.Time, custom Month) ([]Month, error) {
	switch p {
	case PresetCurrent, "":
		return RecentMonths(now, 1), nil
	case PresetThree:
		return RecentMonths(now, 3), nil
	case PresetSix:
		return RecentMonths(now, 6), nil
	case PresetCustom:
		if custom.IsZero() {
			return nil, fmt.Errorf("%w: custom preset needs a month", ErrInvalidMonth)
		}
		return []Month{custom}, nil
	default:
		return nil, fmt.Errorf("invalid preset %q", string(p))
	}
}
