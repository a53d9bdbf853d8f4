package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/komi0929/veganmap/internal/adapters/gemini"
	"github.com/komi0929/veganmap/internal/adapters/observability"
	"github.com/komi0929/veganmap/internal/adapters/places"
	redisad "github.com/komi0929/veganmap/internal/adapters/redis"
	"github.com/komi0929/veganmap/internal/ai"
	"github.com/komi0929/veganmap/internal/app"
	"github.com/komi0929/veganmap/internal/domain"
	"github.com/komi0929/veganmap/internal/shared"
	mysqlrepo "github.com/komi0929/veganmap/internal/storage/mysql"
)

// syncer runs a single sweep and exits; it is meant for cron jobs outside
// the API process.
func main() {
	filter := flag.String("filter", string(domain.SweepStale), "all | stale | missing_photos")
	limit := flag.Int("limit", 0, "max restaurants to visit (0 = sweep_limit from config)")
	force := flag.Bool("force", false, "sync even when the record is fresh")
	workers := flag.Int("workers", 0, "parallel syncs (0 = sweep_workers from config)")
	flag.Parse()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	f := domain.SweepFilter(*filter)
	switch f {
	case domain.SweepAll, domain.SweepStale, domain.SweepMissingPhotos:
	default:
		log.Fatal().Str("filter", *filter).Msg("unknown filter")
	}
	if *limit <= 0 {
		*limit = cfg.SweepLimit
	}
	if *workers <= 0 {
		*workers = cfg.SweepWorkers
	}

	log.Info().
		Str("filter", *filter).
		Int("limit", *limit).
		Int("workers", *workers).
		Bool("force", *force).
		Msg("syncer starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := redisad.Ping(context.Background(), rdb); err != nil {
		log.Warn().Err(err).Msg("redis unavailable; reads and leases will degrade")
	}
	defer rdb.Close()

	pc, err := places.New(cfg.PlacesBase, cfg.PlacesKey, cfg.PlacesLang, cfg.PlacesRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize places client")
	}
	gc, err := gemini.New(cfg.GeminiBase, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gemini client")
	}

	syncSvc := app.NewSyncService(pc, ai.NewExtractor(gc, cfg.PhotoPacing, ai.SleepCtx), repo,
		redisad.NewFromClient(rdb), app.SyncConfig{
			StaleAfter:     cfg.StaleAfter,
			MaxAttempts:    cfg.MaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			AIPacing:       cfg.AIPacing,
			AttemptTimeout: cfg.AttemptTimeout,
			LockTTL:        cfg.LockTTL,
		}, app.WithLocker(redisad.NewLock(rdb, "veganmap:lock:")))
	sweep := app.NewSweepService(syncSvc, repo, cfg.SweepPacing, *workers, cfg.StaleAfter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := sweep.RunSweep(ctx, app.SweepOptions{Filter: f, Limit: *limit, Force: *force})
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}
	for _, d := range rep.Details {
		if !d.Success {
			log.Warn().Str("id", d.ID).Str("name", d.Name).Str("error", d.Error).Msg("sync failed")
		}
	}
	log.Info().Int("total", rep.Total).Int("synced", rep.Synced).Int("skipped", rep.Skipped).Int("failed", rep.Failed).Msg("sweep completed")
	if rep.Failed > 0 {
		stop()
		_ = rdb.Close()
		_ = db.Close()
		os.Exit(1)
	}
}
