package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/api"
	"github.com/hackgods/facility-booking/internal/appointment"
	"github.com/hackgods/facility-booking/internal/config"
	"github.com/hackgods/facility-booking/internal/db"
	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/logging"
	redisclient "github.com/hackgods/facility-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "api-server")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "api-server"})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	facilities, err := facilitySource(rootCtx, cfg, pgPool)
	if err != nil {
		log.Fatal().Err(err).Msg("load facilities")
	}

	opts := []appointment.Option{appointment.WithLogger(log)}
	var redisPing api.PingFunc
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			// The cache only speeds up replays; run without it.
			log.Warn().Err(err).Msg("redis unavailable, idempotency cache disabled")
		} else {
			defer closeRedis(log, rdb)
			opts = append(opts, appointment.WithIdempotencyCache(redisclient.NewIdempotencyCache(rdb)))
			redisPing = func(ctx context.Context) error { return redisclient.Ping(ctx, rdb) }
			log.Info().Msg("connected to Redis")
		}
	}

	svc := appointment.NewService(appointment.NewPgStore(pgPool), facilities, cfg.Booking, opts...)

	health := api.NewHealthHandler(
		func(ctx context.Context) error { return db.Ping(ctx, pgPool) },
		redisPing,
		cfg.Env,
		version,
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: svc,
			Health:  health,
			Logger:  log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// facilitySource serves facilities from FACILITIES_FILE when set, otherwise
// from the facilities table. File facilities are upserted first so that
// appointments can reference them.
func facilitySource(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (appointment.FacilityDirectory, error) {
	repo := facility.NewPgRepository(pool)
	if cfg.FacilitiesFile == "" {
		return repo, nil
	}
	list, err := facility.LoadFile(cfg.FacilitiesFile)
	if err != nil {
		return nil, err
	}
	for _, f := range list {
		if err := repo.Upsert(ctx, f); err != nil {
			return nil, err
		}
	}
	return facility.NewDirectory(list...), nil
}

func closeRedis(log zerolog.Logger, rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis")
	}
}
