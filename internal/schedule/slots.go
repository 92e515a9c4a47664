// Package schedule turns a facility's operating hours into bookable slots and
// computes which of them are still free. Everything here is deterministic:
// the caller passes the hours, the date, the current instant and the busy
// intervals in.
package schedule

import "time"

// Slot is a half-open candidate interval [Start, End), always in UTC.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Interval is a reserved range that blocks slots.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (s Slot) Overlaps(iv Interval) bool {
	return s.Start.Before(iv.End) && iv.Start.Before(s.End)
}

// Generate returns the ordered slots of a day. A closed day, or hours with a
// non-positive granularity, produce no slots. No slot ends after closing.
func Generate(h OperatingHours, d Date) []Slot {
	if h.Granularity <= 0 {
		return nil
	}
	opensAt, closesAt, isOpen := h.Bounds(d)
	if !isOpen {
		return nil
	}

	var slots []Slot
	for start := opensAt; !start.Add(h.Granularity).After(closesAt); start = start.Add(h.Granularity) {
		slots = append(slots, Slot{
			Start: start.UTC(),
			End:   start.Add(h.Granularity).UTC(),
		})
	}
	return slots
}

// Today returns the facility-local date of now.
func (h OperatingHours) Today(now time.Time) Date {
	return DateOf(now.In(h.location()))
}

// LocalDate returns the facility-local date of an instant.
func (h OperatingHours) LocalDate(t time.Time) Date {
	return DateOf(t.In(h.location()))
}

// LastBookableDate is the furthest date inside the advance window.
func (h OperatingHours) LastBookableDate(now time.Time) Date {
	return h.Today(now).AddDays(h.MaxAdvanceDays)
}

// Earliest is the first instant a slot may start at.
func (h OperatingHours) Earliest(now time.Time) time.Time {
	return now.Add(h.MinLeadTime)
}

// Available returns the slots of d that do not overlap any busy interval,
// start no earlier than now plus the lead time, and lie inside the advance
// window.
func Available(h OperatingHours, d Date, now time.Time, busy []Interval) []Slot {
	if d.After(h.LastBookableDate(now)) {
		return nil
	}
	earliest := h.Earliest(now)

	var free []Slot
	for _, s := range Generate(h, d) {
		if s.Start.Before(earliest) {
			continue
		}
		if overlapsAny(s, busy) {
			continue
		}
		free = append(free, s)
	}
	return free
}

func overlapsAny(s Slot, busy []Interval) bool {
	for _, iv := range busy {
		if s.Overlaps(iv) {
			return true
		}
	}
	return false
}

// Window is the outcome of checking a start time against the booking window.
type Window int

const (
	WithinWindow Window = iota
	TooSoon
	TooFar
)

// CheckWindow reports whether start is bookable at now.
func (h OperatingHours) CheckWindow(now, start time.Time) Window {
	if start.Before(h.Earliest(now)) {
		return TooSoon
	}
	if h.LocalDate(start).After(h.LastBookableDate(now)) {
		return TooFar
	}
	return WithinWindow
}

// Fits reports whether [start, start+dur) lies inside the opening hours of
// start's local day and start falls on the slot grid.
func (h OperatingHours) Fits(start time.Time, dur time.Duration) bool {
	if h.Granularity <= 0 || dur <= 0 {
		return false
	}
	opensAt, closesAt, isOpen := h.Bounds(h.LocalDate(start))
	if !isOpen {
		return false
	}
	if start.Before(opensAt) || start.Add(dur).After(closesAt) {
		return false
	}
	return start.Sub(opensAt)%h.Granularity == 0
}

// SnapDuration rounds dur up to a whole number of granularity steps.
func SnapDuration(dur, granularity time.Duration) time.Duration {
	if granularity <= 0 || dur <= 0 {
		return dur
	}
	steps := (dur + granularity - 1) / granularity
	return steps * granularity
}

// DayWindow returns the UTC range covering the facility-local day d.
func (h OperatingHours) DayWindow(d Date) (from, to time.Time) {
	loc := h.location()
	return d.Start(loc).UTC(), d.AddDays(1).Start(loc).UTC()
}
