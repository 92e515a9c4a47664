package facility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/facility-booking/internal/schedule"
)

var ErrFacilityNotFound = errors.New("facility not found")

// AccessPointType classifies a healthcare access point.
type AccessPointType string

const (
	GPSurgery          AccessPointType = "gp_surgery"
	WalkInCentre       AccessPointType = "walk_in_centre"
	UrgentCareCentre   AccessPointType = "urgent_care_centre"
	CommunityClinic    AccessPointType = "community_clinic"
	SpecialistClinic   AccessPointType = "specialist_clinic"
	HospitalOutpatient AccessPointType = "hospital_outpatient"
)

var weekdayNames = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// Facility is a healthcare access point that offers appointments.
type Facility struct {
	ID             uuid.UUID
	Name           string
	Type           AccessPointType
	Postcode       string
	Phone          string
	TimeZone       string
	SlotMinutes    int
	LeadTime       time.Duration
	MaxAdvanceDays int
	// OpeningHours maps lower-case weekday names to "HH:MM-HH:MM" or "Closed".
	OpeningHours map[string]string
}

// Hours converts the facility record into the booking configuration.
func (f Facility) Hours() (schedule.OperatingHours, error) {
	loc, err := time.LoadLocation(f.TimeZone)
	if err != nil {
		return schedule.OperatingHours{}, fmt.Errorf("facility %s time zone: %w", f.ID, err)
	}

	h := schedule.OperatingHours{
		Location:       loc,
		Granularity:    time.Duration(f.SlotMinutes) * time.Minute,
		MinLeadTime:    f.LeadTime,
		MaxAdvanceDays: f.MaxAdvanceDays,
	}
	for day := range f.OpeningHours {
		if weekdayIndex(day) < 0 {
			return schedule.OperatingHours{}, fmt.Errorf("facility %s: unknown weekday %q", f.ID, day)
		}
	}
	for wd, name := range weekdayNames {
		day, err := schedule.ParseDayHours(f.OpeningHours[name])
		if err != nil {
			return schedule.OperatingHours{}, fmt.Errorf("facility %s %s: %w", f.ID, name, err)
		}
		h.Week[wd] = day
	}
	return h, nil
}

func weekdayIndex(name string) int {
	for i, n := range weekdayNames {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// Directory is an in-memory facility lookup, usually loaded from a file.
type Directory struct {
	mu         sync.RWMutex
	facilities map[uuid.UUID]Facility
}

func NewDirectory(facilities ...Facility) *Directory {
	d := &Directory{facilities: make(map[uuid.UUID]Facility, len(facilities))}
	for _, f := range facilities {
		d.facilities[f.ID] = f
	}
	return d
}

// Put adds or replaces a facility.
func (d *Directory) Put(f Facility) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.facilities[f.ID] = f
}

func (d *Directory) Get(_ context.Context, id uuid.UUID) (*Facility, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.facilities[id]
	if !ok {
		return nil, ErrFacilityNotFound
	}
	return &f, nil
}

func (d *Directory) OperatingHours(ctx context.Context, id uuid.UUID) (schedule.OperatingHours, error) {
	f, err := d.Get(ctx, id)
	if err != nil {
		return schedule.OperatingHours{}, err
	}
	return f.Hours()
}

func (d *Directory) List(_ context.Context) ([]Facility, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Facility, 0, len(d.facilities))
	for _, f := range d.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
