package fhir

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// Precision is the granularity a FHIR date, dateTime or instant literal was
// written with.
type Precision int

const (
	PrecisionYear Precision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionMinute
	PrecisionSecond
	PrecisionMillisecond
)

func (p Precision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	case PrecisionMinute:
		return "minute"
	case PrecisionSecond:
		return "second"
	case PrecisionMillisecond:
		return "millisecond"
	}
	return fmt.Sprintf("precision(%d)", int(p))
}

// Add advances t by n units of the precision.
func (p Precision) Add(t time.Time, n int) time.Time {
	switch p {
	case PrecisionYear:
		return t.AddDate(n, 0, 0)
	case PrecisionMonth:
		return t.AddDate(0, n, 0)
	case PrecisionDay:
		return t.AddDate(0, 0, n)
	case PrecisionMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case PrecisionSecond:
		return t.Add(time.Duration(n) * time.Second)
	default:
		return t.Add(time.Duration(n) * time.Millisecond)
	}
}

const (
	// MinInstantMillis stands in for an open-ended past bound.
	MinInstantMillis int64 = math.MinInt64
	// MaxInstantMillis stands in for an open-ended future bound.
	MaxInstantMillis int64 = math.MaxInt64
)

// Temporal is a parsed date, dateTime or instant literal together with the
// precision it was written with. Values without an explicit zone are UTC.
type Temporal struct {
	Time      time.Time
	Precision Precision
	raw       string
}

// String returns the literal the value was parsed from.
func (t Temporal) String() string {
	if t.raw != "" {
		return t.raw
	}
	return t.Time.Format(time.RFC3339Nano)
}

// IsZero reports whether the temporal was never set.
func (t Temporal) IsZero() bool {
	return t.Time.IsZero() && t.raw == ""
}

// IsDateOnly reports whether the literal carries no time component.
func (t Temporal) IsDateOnly() bool {
	return t.Precision <= PrecisionDay
}

// Millis returns the lower bound of the value in epoch milliseconds.
func (t Temporal) Millis() int64 {
	return t.Time.UnixMilli()
}

// UpperMillis returns the inclusive upper bound in epoch milliseconds. A
// value written to the second or finer is exact; coarser values cover every
// instant up to the start of the next precision unit.
func (t Temporal) UpperMillis() int64 {
	if t.Precision >= PrecisionSecond {
		return t.Time.UnixMilli()
	}
	return t.Precision.Add(t.Time, 1).UnixMilli() - 1
}

// EpochDay returns the number of days between 1970-01-01 and the calendar
// date of the literal.
func (t Temporal) EpochDay() int64 {
	return epochDay(t.Time)
}

// LastEpochDay returns the epoch day of the last calendar day covered by the
// literal's precision.
func (t Temporal) LastEpochDay() int64 {
	if t.Precision > PrecisionDay {
		return t.EpochDay()
	}
	return epochDay(t.Precision.Add(t.Time, 1)) - 1
}

func epochDay(t time.Time) int64 {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return day.Unix() / 86400
}

var (
	dateRe     = regexp.MustCompile(`^(\d{4})(?:-(\d{2})(?:-(\d{2}))?)?$`)
	dateTimeRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2})(?::(\d{2})(\.\d+)?)?(Z|[+-]\d{2}:\d{2})?$`)
)

// ParseDate parses a FHIR date literal (YYYY, YYYY-MM or YYYY-MM-DD).
func ParseDate(s string) (Temporal, error) {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return Temporal{}, fmt.Errorf("invalid date %q", s)
	}
	year, _ := strconv.Atoi(m[1])
	month, day := 1, 1
	precision := PrecisionYear
	if m[2] != "" {
		month, _ = strconv.Atoi(m[2])
		precision = PrecisionMonth
	}
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
		precision = PrecisionDay
	}
	if month < 1 || month > 12 {
		return Temporal{}, fmt.Errorf("invalid date %q: month out of range", s)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return Temporal{}, fmt.Errorf("invalid date %q: day out of range", s)
	}
	return Temporal{Time: t, Precision: precision, raw: s}, nil
}

// ParseDateTime parses a FHIR dateTime or instant literal. Date-only
// literals are accepted and keep their coarse precision.
func ParseDateTime(s string) (Temporal, error) {
	if dateRe.MatchString(s) {
		return ParseDate(s)
	}
	m := dateTimeRe.FindStringSubmatch(s)
	if m == nil {
		return Temporal{}, fmt.Errorf("invalid dateTime %q", s)
	}

	precision := PrecisionMinute
	layout := "2006-01-02T15:04"
	value := m[1] + "-" + m[2] + "-" + m[3] + "T" + m[4] + ":" + m[5]
	if m[6] != "" {
		precision = PrecisionSecond
		layout += ":05"
		value += ":" + m[6]
	}
	if m[7] != "" {
		precision = PrecisionMillisecond
		layout += ".999999999"
		value += m[7]
	}

	loc := time.UTC
	if m[8] != "" && m[8] != "Z" {
		offset, err := parseOffset(m[8])
		if err != nil {
			return Temporal{}, fmt.Errorf("invalid dateTime %q: %w", s, err)
		}
		loc = time.FixedZone(m[8], offset)
	}

	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return Temporal{}, fmt.Errorf("invalid dateTime %q: %w", s, err)
	}
	return Temporal{Time: t, Precision: precision, raw: s}, nil
}

// ParseInstant parses a FHIR instant, which must carry seconds and a zone.
func ParseInstant(s string) (Temporal, error) {
	t, err := ParseDateTime(s)
	if err != nil {
		return Temporal{}, err
	}
	if t.Precision < PrecisionSecond {
		return Temporal{}, fmt.Errorf("invalid instant %q: seconds are required", s)
	}
	return t, nil
}

func parseOffset(s string) (int, error) {
	hours, err := strconv.Atoi(s[1:3])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(s[4:6])
	if err != nil {
		return 0, err
	}
	if hours > 14 || minutes > 59 {
		return 0, fmt.Errorf("offset %s out of range", s)
	}
	offset := hours*3600 + minutes*60
	if s[0] == '-' {
		offset = -offset
	}
	return offset, nil
}
