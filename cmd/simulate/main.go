package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/logging"
	"github.com/hackgods/facility-booking/internal/validate"
)

type SimConfig struct {
	APIBaseURL   string
	FacilityID   string
	Date         string
	Duration     time.Duration
	Workers      int
	HotSlots     int // bookings aim at the first HotSlots free slots to force contention
	Patients     int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
}

type booking struct {
	ID      uuid.UUID
	Version int64
}

type DataPool struct {
	Patients []string
	Slots    []time.Time

	mu           sync.Mutex
	appointments []booking
}

func (dp *DataPool) AddAppointment(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return booking{}, false
	}
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Slots         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	log := logging.New(getEnv("APP_ENV", "dev"), "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("hot_slots", cfg.HotSlots).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := sim.loadDataPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool
	log.Info().Int("patients", len(pool.Patients)).Int("slots", len(pool.Slots)).Msg("data pool ready")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		FacilityID:   getEnv("SIM_FACILITY_ID", "0b7f3d7c-4e1a-4c5e-9d0e-6f2b8c9a1d33"),
		Date:         getEnv("SIM_DATE", time.Now().AddDate(0, 0, 1).Format("2006-01-02")),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		HotSlots:     getInt("SIM_HOT_SLOTS", 5),
		Patients:     getInt("SIM_PATIENTS", 500),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if _, err := uuid.Parse(cfg.FacilityID); err != nil {
		return fmt.Errorf("SIM_FACILITY_ID must be a UUID: %w", err)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 || cfg.Patients <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS and SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool fetches the free slots of the target day and makes up a
// population of valid patient identifiers.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	url := fmt.Sprintf("%s/facilities/%s/slots?date=%s", s.config.APIBaseURL, s.config.FacilityID, s.config.Date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch slots: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch slots: status %d", resp.StatusCode)
	}

	var slots []struct {
		Start time.Time `json:"start"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no free slots on %s", s.config.Date)
	}

	dp := &DataPool{}
	for i := 0; i < len(slots) && i < s.config.HotSlots; i++ {
		dp.Slots = append(dp.Slots, slots[i].Start)
	}
	for len(dp.Patients) < s.config.Patients {
		first9 := gofakeit.Numerify("#########")
		if check, ok := validate.CheckDigit(first9); ok {
			dp.Patients = append(dp.Patients, first9+strconv.Itoa(check))
		}
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			switch rng.IntN(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doSlots(ctx)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	body := map[string]any{
		"facility_id":    s.config.FacilityID,
		"patient_number": s.pool.Patients[rng.IntN(len(s.pool.Patients))],
		"start":          s.pool.Slots[rng.IntN(len(s.pool.Slots))],
		"created_by":     "simulator",
	}

	var created struct {
		ID      uuid.UUID `json:"id"`
		Version int64     `json:"version"`
	}
	latency, status, err := s.call(ctx, http.MethodPost, "/appointments", body, &created, "Idempotency-Key", uuid.NewString())
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(booking{ID: created.ID, Version: created.Version})
	}
	s.metrics.Booking.Record(latency, status, err)
}

// doCancel cancels a known appointment. Several workers may pick the same
// one, so STALE_WRITE and INVALID_TRANSITION conflicts are expected.
func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]any{
		"status":           "cancelled",
		"expected_version": b.Version,
		"actor":            "simulator",
		"reason":           "load test",
	}
	latency, status, err := s.call(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/transition", body, nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	latency, status, err := s.call(ctx, http.MethodGet, "/appointments/"+b.ID.String(), nil, nil)
	s.metrics.ReadByID.Record(latency, status, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.IntN(len(s.pool.Patients))]
	latency, status, err := s.call(ctx, http.MethodGet, "/appointments?patient_number="+patient+"&limit=20&offset=0", nil, nil)
	s.metrics.ListByPatient.Record(latency, status, err)
}

func (s *Simulator) doSlots(ctx context.Context) {
	path := fmt.Sprintf("/facilities/%s/slots?date=%s", s.config.FacilityID, s.config.Date)
	latency, status, err := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.Slots.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any, header ...string) (time.Duration, int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return latency, resp.StatusCode, err
		}
	}
	return latency, resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Available slots", &s.metrics.Slots)

	// Every contended slot can hold one booking at most.
	if booked := atomic.LoadInt64(&s.metrics.Booking.Success); booked > int64(len(s.pool.Slots)) {
		fmt.Printf("WARNING: %d bookings succeeded for %d slots\n", booked, len(s.pool.Slots))
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
