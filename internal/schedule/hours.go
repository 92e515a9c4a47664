package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrInvalidDayHours  = errors.New("invalid opening hours")
	ErrInvalidDate      = errors.New("invalid date")
)

// TimeOfDay is a wall clock time expressed in minutes since local midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	v := strings.TrimSpace(s)
	if len(v) != 5 || v[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, errH := strconv.Atoi(v[:2])
	m, errM := strconv.Atoi(v[3:])
	if errH != nil || errM != nil || h < 0 || m < 0 || m > 59 || h*60+m > minutesPerDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// DayHours is the open interval of a single weekday, in facility local time.
type DayHours struct {
	Open  TimeOfDay
	Close TimeOfDay
}

const closedText = "Closed"

// ParseDayHours parses "09:00-17:00" or "Closed". A nil result means closed.
func ParseDayHours(s string) (*DayHours, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, closedText) {
		return nil, nil
	}

	openText, closeText, found := strings.Cut(s, "-")
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDayHours, s)
	}
	o, err := ParseTimeOfDay(openText)
	if err != nil {
		return nil, err
	}
	c, err := ParseTimeOfDay(closeText)
	if err != nil {
		return nil, err
	}
	if c <= o {
		return nil, fmt.Errorf("%w: close %s is not after open %s", ErrInvalidDayHours, c, o)
	}
	return &DayHours{Open: o, Close: c}, nil
}

func (d *DayHours) String() string {
	if d == nil {
		return closedText
	}
	return d.Open.String() + "-" + d.Close.String()
}

// OperatingHours is a facility's booking configuration. It is owned by the
// facility and passed into every calculation.
type OperatingHours struct {
	Location       *time.Location
	Week           [7]*DayHours // indexed by time.Weekday, nil is closed
	Granularity    time.Duration
	MinLeadTime    time.Duration
	MaxAdvanceDays int
}

func (h OperatingHours) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// Day returns the opening hours for a weekday, nil when closed.
func (h OperatingHours) Day(wd time.Weekday) *DayHours {
	return h.Week[wd]
}

// Bounds returns the open and close instants of the given local date.
func (h OperatingHours) Bounds(d Date) (opensAt, closesAt time.Time, isOpen bool) {
	loc := h.location()
	day := h.Day(d.Weekday())
	if day == nil {
		return time.Time{}, time.Time{}, false
	}
	return d.At(day.Open, loc), d.At(day.Close, loc), true
}

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// At returns the instant of a wall clock time on d in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, int(t), 0, 0, loc)
}

// Start returns local midnight of d in loc.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool { return o.Before(d) }
