package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/replyhq/metering/internal/api"
	"github.com/replyhq/metering/pkg/metering"
	"github.com/replyhq/metering/pkg/pg"
	"github.com/replyhq/metering/pkg/plan"
)

type appConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Optional YAML plan catalog override; built-in defaults apply otherwise.
	PlansPath string `env:"PLANS_PATH"`

	// Optional Redis URL; summary caching is disabled when empty.
	RedisURL        string        `env:"REDIS_URL"`
	SummaryCacheTTL time.Duration `env:"SUMMARY_CACHE_TTL" envDefault:"30s"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(log); err != nil {
		log.Error("meteringd exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	// The .env file is a dev convenience; absence is fine.
	_ = godotenv.Load()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return err
	}
	var pgCfg pg.Config
	if err := env.Parse(&pgCfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	src := plan.NewStaticSource(plan.Default())
	if cfg.PlansPath != "" {
		src = plan.NewYAMLSource(cfg.PlansPath)
	}

	svc, err := metering.NewService(ctx, src, metering.NewPostgresStore(pool),
		metering.WithLogger(log))
	if err != nil {
		return err
	}

	health := map[string]api.HealthFunc{
		"postgres": pg.Healthcheck(pool),
	}

	var cache *api.SummaryCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		cache = api.NewSummaryCache(rdb, cfg.SummaryCacheTTL, log)
		health["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}

	handler := api.NewHandler(svc, cache, log)
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.NewRouter(handler, health),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting metering api", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
