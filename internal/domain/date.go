package domain

import "time"

// DateLayout is the canonical calendar-date encoding.
const DateLayout = "2006-01-02"

// Date is a calendar date. It is held as midnight UTC so that two Dates for
// the same day compare equal with == regardless of where they were built.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components. Out-of-range values normalize
// the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t: t}, nil
}

// Components returns year, month and day.
func (d Date) Components() (int, time.Month, int) { return d.t.Date() }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time { return d.t }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// String renders the date as YYYY-MM-DD.
func (d Date) String() string { return d.t.Format(DateLayout) }

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	y, m, day := d.t.Date()
	return NewDate(y, m, day+n)
}

// AddMonths returns the date n months after d. Unlike time.AddDate the day
// is clamped to the end of the target month, so Mar 31 minus one month is
// Feb 29 in a leap year rather than Mar 2.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.t.Date()
	ty, tm, _ := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC).Date()
	if last := time.Date(ty, tm+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}
	return NewDate(ty, tm, day)
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// DaysUntil returns the number of days from d to o (negative when o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
