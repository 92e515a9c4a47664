package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/appointment"
	"github.com/hackgods/facility-booking/internal/config"
	"github.com/hackgods/facility-booking/internal/db"
	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "noshow-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, "noshow-worker")
	log.Info().
		Str("schedule", cfg.NoShowSchedule).
		Dur("grace", cfg.NoShowGrace).
		Msg("noshow-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "noshow-worker", MaxConns: 4})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	svc := appointment.NewService(
		appointment.NewPgStore(pgPool),
		facility.NewPgRepository(pgPool),
		cfg.Booking,
		appointment.WithLogger(log),
	)

	// Run once at startup, then on the schedule. SkipIfStillRunning keeps
	// sweeps from overlapping when one runs long.
	runOnce(rootCtx, log, svc, cfg.NoShowGrace)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.NoShowSchedule, func() {
		runOnce(rootCtx, log, svc, cfg.NoShowGrace)
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.NoShowSchedule).Msg("invalid NOSHOW_SCHEDULE")
	}
	c.Start()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping noshow worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, log zerolog.Logger, svc *appointment.Service, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.SweepNoShows(runCtx, grace)
	if err != nil {
		log.Error().Err(err).Int("marked", n).Msg("no-show sweep error")
		return
	}
	log.Info().Int("marked", n).Dur("took", time.Since(start)).Msg("no-show sweep complete")
}
