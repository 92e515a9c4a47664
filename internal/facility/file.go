package facility

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/facility-booking/internal/validate"
)

type fileFacility struct {
	ID             string            `yaml:"id" validate:"required,uuid"`
	Name           string            `yaml:"name" validate:"required,max=100"`
	Type           string            `yaml:"type" validate:"omitempty,oneof=gp_surgery walk_in_centre urgent_care_centre community_clinic specialist_clinic hospital_outpatient"`
	Postcode       string            `yaml:"postcode" validate:"required"`
	Phone          string            `yaml:"phone" validate:"required"`
	TimeZone       string            `yaml:"time_zone" validate:"required"`
	SlotMinutes    int               `yaml:"slot_minutes" validate:"required,min=5,max=120"`
	LeadTime       string            `yaml:"lead_time" validate:"required"`
	MaxAdvanceDays int               `yaml:"advance_days" validate:"required,min=1,max=365"`
	Hours          map[string]string `yaml:"hours" validate:"required"`
}

type fileContents struct {
	Facilities []fileFacility `yaml:"facilities" validate:"required,dive"`
}

// LoadFile reads facilities from a YAML file.
func LoadFile(path string) ([]Facility, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facilities file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a facilities document.
func Parse(data []byte) ([]Facility, error) {
	var doc fileContents
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal facilities yaml: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("facilities validation failed: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(doc.Facilities))
	out := make([]Facility, 0, len(doc.Facilities))
	for _, ff := range doc.Facilities {
		f, err := ff.toFacility()
		if err != nil {
			return nil, err
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("facility %s listed twice", f.ID)
		}
		seen[f.ID] = true
		out = append(out, f)
	}
	return out, nil
}

func (ff fileFacility) toFacility() (Facility, error) {
	id, err := uuid.Parse(ff.ID)
	if err != nil {
		return Facility{}, fmt.Errorf("facility id %q: %w", ff.ID, err)
	}
	if r := validate.Postcode(ff.Postcode); !r.Valid {
		return Facility{}, fmt.Errorf("facility %s postcode %q: %s", id, ff.Postcode, r.Reason)
	}
	if r := validate.PhoneNumber(ff.Phone); !r.Valid {
		return Facility{}, fmt.Errorf("facility %s phone %q: %s", id, ff.Phone, r.Reason)
	}
	lead, err := time.ParseDuration(ff.LeadTime)
	if err != nil || lead < 0 {
		return Facility{}, fmt.Errorf("facility %s lead_time %q is not a duration", id, ff.LeadTime)
	}

	typ := AccessPointType(ff.Type)
	if typ == "" {
		typ = GPSurgery
	}

	f := Facility{
		ID:             id,
		Name:           ff.Name,
		Type:           typ,
		Postcode:       ff.Postcode,
		Phone:          ff.Phone,
		TimeZone:       ff.TimeZone,
		SlotMinutes:    ff.SlotMinutes,
		LeadTime:       lead,
		MaxAdvanceDays: ff.MaxAdvanceDays,
		OpeningHours:   ff.Hours,
	}
	// Surface bad hours and zones at load time rather than on the first booking.
	if _, err := f.Hours(); err != nil {
		return Facility{}, err
	}
	return f, nil
}
