// Package calendar provides day-granularity dates for billing rules.
//
// A Date carries no time of day and no location. Boundaries are inclusive:
// a date D is "within" a boundary B while D <= B, and "past" it from B+1 on.
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Layout is the wire and storage format of a Date.
const Layout = "2006-01-02"

// Date is a calendar day.
type Date struct {
	d civil.Date
}

// New builds a Date from its components. Out-of-range days roll over the
// same way time.Date does.
func New(year int, month time.Month, day int) Date {
	return Of(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Of returns the calendar day of t in t's own location.
func Of(t time.Time) Date {
	return Date{d: civil.DateOf(t)}
}

// Parse reads a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	if !d.IsValid() {
		return Date{}, fmt.Errorf("parse date %q: invalid calendar day", s)
	}
	return Date{d: d}, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.d == civil.Date{}
}

// Year returns the year component.
func (d Date) Year() int { return d.d.Year }

// Month returns the month component.
func (d Date) Month() time.Month { return d.d.Month }

// Day returns the day-of-month component.
func (d Date) Day() int { return d.d.Day }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{d: d.d.AddDays(n)}
}

// DaysSince returns the number of days from s to d (negative when d is earlier).
func (d Date) DaysSince(s Date) int {
	return d.d.DaysSince(s.d)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.d.Before(o.d) }

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return d.d.After(o.d) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.d == o.d }

// OnOrBefore is the inclusive boundary test used by every billing rule.
func (d Date) OnOrBefore(boundary Date) bool {
	return !d.After(boundary)
}

// Max returns the later of d and o.
func (d Date) Max(o Date) Date {
	if o.After(d) {
		return o
	}
	return d
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return d.d.In(loc)
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.d.String()
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.d.String(), nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Date{d: civil.Date{Year: v.Year(), Month: v.Month(), Day: v.Day()}}
		return nil
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	default:
		return fmt.Errorf("calendar: cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if len(s) > len(Layout) {
		s = s[:len(Layout)]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
