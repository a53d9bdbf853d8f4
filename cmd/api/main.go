package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/komi0929/veganmap/internal/adapters/gemini"
	server "github.com/komi0929/veganmap/internal/adapters/http_server"
	"github.com/komi0929/veganmap/internal/adapters/observability"
	"github.com/komi0929/veganmap/internal/adapters/places"
	redisad "github.com/komi0929/veganmap/internal/adapters/redis"
	"github.com/komi0929/veganmap/internal/ai"
	"github.com/komi0929/veganmap/internal/app"
	"github.com/komi0929/veganmap/internal/shared"
	mysqlrepo "github.com/komi0929/veganmap/internal/storage/mysql"
	"github.com/komi0929/veganmap/internal/supervisor"
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := redisad.Ping(context.Background(), rdb); err != nil {
		log.Warn().Err(err).Msg("redis unavailable; reads and leases will degrade")
	}
	cache := redisad.NewFromClient(rdb)

	pc, err := places.New(cfg.PlacesBase, cfg.PlacesKey, cfg.PlacesLang, cfg.PlacesRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize places client")
	}
	gc, err := gemini.New(cfg.GeminiBase, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gemini client")
	}
	extractor := ai.NewExtractor(gc, cfg.PhotoPacing, ai.SleepCtx)

	syncSvc := app.NewSyncService(pc, extractor, repo, cache, app.SyncConfig{
		StaleAfter:     cfg.StaleAfter,
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		AIPacing:       cfg.AIPacing,
		AttemptTimeout: cfg.AttemptTimeout,
		LockTTL:        cfg.LockTTL,
	}, app.WithLocker(redisad.NewLock(rdb, "veganmap:lock:")))
	sweep := app.NewSweepService(syncSvc, repo, cfg.SweepPacing, cfg.SweepWorkers, cfg.StaleAfter)
	q := app.NewQueryService(repo, pc, cache, cfg.CacheTTL())

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(server.NewHandlers(q, syncSvc, sweep, cfg.SyncSecret, cfg.CronSecret, cfg.SyncRateLimit))

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}

	root := supervisor.New("veganmap", supervisor.DefaultConfig())
	root.Add(supervisor.NewHTTPService(httpSrv, 15*time.Second))
	if cfg.SweepEnabled {
		root.Add(supervisor.NewSweepTicker(sweep, cfg.SweepInterval, cfg.SweepLimit))
		log.Info().Dur("interval", cfg.SweepInterval).Msg("scheduled sweep enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	if err := root.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("supervisor stopped")
	}
	log.Info().Msg("shutdown complete")
}
