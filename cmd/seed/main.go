package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/appointment"
	"github.com/hackgods/facility-booking/internal/config"
	"github.com/hackgods/facility-booking/internal/db"
	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/logging"
	"github.com/hackgods/facility-booking/internal/validate"
)

var (
	appointmentTypes = []string{"routine", "routine", "routine", "follow_up", "urgent", "vaccination", "blood_test"}
	reasons          = []string{"Medication review", "Persistent cough", "Annual check-up", "Blood pressure", "Travel vaccines", "Back pain", "Repeat prescription"}
)

func main() {
	log := logging.New(os.Getenv("APP_ENV"), "seed")
	log.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	path := cfg.FacilitiesFile
	if path == "" {
		path = "facilities.yml"
	}
	facilities, err := facility.LoadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("load facilities")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "seed"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	repo := facility.NewPgRepository(pool)
	for _, f := range facilities {
		if err := repo.Upsert(ctx, f); err != nil {
			log.Fatal().Err(err).Msg("seed facilities")
		}
	}
	log.Info().Int("count", len(facilities)).Msg("facilities seeded")

	svc := appointment.NewService(appointment.NewPgStore(pool), repo, cfg.Booking, appointment.WithLogger(zerolog.Nop()))

	days := getInt("SEED_DAYS", 5)
	perDay := getInt("SEED_PER_DAY", 20)
	for _, f := range facilities {
		booked, err := seedAppointments(ctx, svc, f, days, perDay)
		if err != nil {
			log.Fatal().Err(err).Str("facility", f.Name).Msg("seed appointments")
		}
		log.Info().Str("facility", f.Name).Int("booked", booked).Msg("appointments seeded")
	}

	log.Info().Msg("seed complete")
}

// seedAppointments books up to perDay random free slots on each of the next
// days. Slots taken in between are skipped.
func seedAppointments(ctx context.Context, svc *appointment.Service, f facility.Facility, days, perDay int) (int, error) {
	h, err := f.Hours()
	if err != nil {
		return 0, err
	}

	booked := 0
	today := h.Today(time.Now())
	for d := 0; d < days; d++ {
		date := today.AddDays(d)
		slots, err := svc.AvailableSlots(ctx, f.ID.String(), date)
		if err != nil {
			return booked, err
		}
		gofakeit.ShuffleAnySlice(slots)

		for i := 0; i < len(slots) && i < perDay; i++ {
			_, err := svc.Reserve(ctx, appointment.ReserveRequest{
				FacilityID:    f.ID.String(),
				PatientNumber: fakePatientNumber(),
				Start:         slots[i].Start,
				Type:          gofakeit.RandomString(appointmentTypes),
				Reason:        gofakeit.RandomString(reasons),
				ContactEmail:  gofakeit.Email(),
				ContactPhone:  fakeMobile(),
				CreatedBy:     "seed",
			})
			if errors.Is(err, appointment.ErrSlotAlreadyBooked) {
				continue
			}
			if err != nil {
				return booked, fmt.Errorf("reserve %s: %w", slots[i].Start, err)
			}
			booked++
		}
	}
	return booked, nil
}

// fakePatientNumber draws nine digits until they admit a check digit.
func fakePatientNumber() string {
	for {
		first9 := gofakeit.Numerify("#########")
		if check, ok := validate.CheckDigit(first9); ok {
			return first9 + strconv.Itoa(check)
		}
	}
}

func fakeMobile() string {
	return gofakeit.Numerify("07### ######")
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
