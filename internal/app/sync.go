package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/komi0929/veganmap/internal/adapters/observability"
	"github.com/komi0929/veganmap/internal/domain"
	"github.com/komi0929/veganmap/internal/mining"
)

type SyncConfig struct {
	StaleAfter  time.Duration
	MaxAttempts int
	BaseDelay   time.Duration // backoff before attempt n is BaseDelay * 2^(n-1)
	AIPacing    time.Duration // between consecutive model calls
	// AttemptTimeout bounds one pass. The default covers a 20s details call,
	// two 20s photo fetches and three 60s model calls.
	AttemptTimeout time.Duration
	// LockTTL is raised to MinLease when set lower.
	LockTTL    time.Duration
	PhotoWidth int
	VibePhotos int
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		StaleAfter:     72 * time.Hour,
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		AIPacing:       time.Second,
		AttemptTimeout: 4 * time.Minute,
		LockTTL:        15 * time.Minute,
		PhotoWidth:     800,
		VibePhotos:     2,
	}
}

// MinLease is the longest a full retry run can take: every attempt hitting
// its timeout plus all backoff sleeps, with a minute of slack.
func (c SyncConfig) MinLease() time.Duration {
	d := time.Duration(c.MaxAttempts) * c.AttemptTimeout
	for retry := 0; retry < c.MaxAttempts-1; retry++ {
		d += c.BaseDelay * time.Duration(1<<retry)
	}
	return d + time.Minute
}

type SyncStats struct {
	Photos  int `json:"photos"`
	Menu    int `json:"menu"`
	Summary int `json:"summary"`
	Vibes   int `json:"vibes"`
}

// SyncResult is what callers get back from a sync; pipeline failures are
// reported here, never as a Go error.
type SyncResult struct {
	Restaurant domain.Restaurant
	Synced     bool // the pipeline ran
	Success    bool
	InProgress bool // another runner holds the lease; Restaurant is the stored record
	Error      string
	Attempts   int
	Stats      SyncStats
}

type SyncService struct {
	places domain.PlaceProvider
	ai     domain.AIExtractor
	repo   domain.RestaurantRepository
	cache  domain.Cache
	cfg    SyncConfig

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	locker domain.Locker
	group  singleflight.Group
}

type Option func(*SyncService)

func WithClock(now func() time.Time) Option { return func(s *SyncService) { s.now = now } }

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *SyncService) { s.sleep = sleep }
}

// WithLocker adds a cross-process lease on top of the in-process single-flight.
func WithLocker(l domain.Locker) Option { return func(s *SyncService) { s.locker = l } }

func NewSyncService(p domain.PlaceProvider, ai domain.AIExtractor, r domain.RestaurantRepository,
	cache domain.Cache, cfg SyncConfig, opts ...Option) *SyncService {
	def := DefaultSyncConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if floor := cfg.MinLease(); cfg.LockTTL < floor {
		log.Warn().Dur("lock_ttl", cfg.LockTTL).Dur("min_lease", floor).Msg("lock ttl shorter than a full retry run; raising it")
		cfg.LockTTL = floor
	}
	if cfg.PhotoWidth <= 0 {
		cfg.PhotoWidth = def.PhotoWidth
	}
	if cfg.VibePhotos <= 0 {
		cfg.VibePhotos = def.VibePhotos
	}
	s := &SyncService{places: p, ai: ai, repo: r, cache: cache, cfg: cfg, now: time.Now, sleep: sleepCtx}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncIfStale runs the pipeline only when the record is older than the
// staleness threshold or force is set. A fresh record is a successful no-op.
func (s *SyncService) SyncIfStale(ctx context.Context, id string, force bool) (SyncResult, error) {
	rest, err := s.repo.GetRestaurant(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	if !force && !rest.StaleAfter(s.cfg.StaleAfter, s.now()) {
		observability.ObserveSync("fresh", 0)
		return SyncResult{Restaurant: rest, Success: true}, nil
	}
	return s.run(ctx, rest), nil
}

// SyncOne runs the full pipeline regardless of staleness.
func (s *SyncService) SyncOne(ctx context.Context, id string) (SyncResult, error) {
	rest, err := s.repo.GetRestaurant(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	return s.run(ctx, rest), nil
}

func (s *SyncService) run(ctx context.Context, rest domain.Restaurant) SyncResult {
	v, _, shared := s.group.Do(rest.ID, func() (any, error) {
		return s.runLocked(ctx, rest), nil
	})
	if shared {
		log.Debug().Str("restaurant_id", rest.ID).Msg("joined in-flight sync")
	}
	return v.(SyncResult)
}

func (s *SyncService) runLocked(ctx context.Context, rest domain.Restaurant) SyncResult {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "sync:"+rest.ID, s.cfg.LockTTL)
		switch {
		case err != nil:
			// merges are monotonic, so running without the lease is still safe
			log.Warn().Err(err).Str("restaurant_id", rest.ID).Msg("sync lease unavailable; continuing without it")
		case !ok:
			observability.ObserveSync("in_progress", 0)
			return SyncResult{Restaurant: rest, Success: true, InProgress: true}
		default:
			defer release()
		}
	}
	return s.attempts(ctx, rest)
}

func (s *SyncService) backoff(retry int) time.Duration {
	return s.cfg.BaseDelay * time.Duration(1<<retry)
}

// attempts is the bounded retry loop. The attempt index doubles as the
// persisted retry counter.
func (s *SyncService) attempts(ctx context.Context, rest domain.Restaurant) SyncResult {
	var lastErr error
	last := 0
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.backoff(attempt-1)); err != nil {
				lastErr = fmt.Errorf("backoff interrupted: %w", err)
				break
			}
		}
		last = attempt

		if err := s.repo.SetSyncState(ctx, rest.ID, domain.SyncProcessing, attempt, nil); err != nil {
			lastErr = err
			log.Warn().Err(err).Str("restaurant_id", rest.ID).Int("attempt", attempt).Msg("sync state write failed")
			continue
		}

		actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		res, err := s.attempt(actx, rest)
		cancel()
		if err == nil {
			res.Synced, res.Success, res.Attempts = true, true, attempt+1
			observability.ObserveSync("completed", res.Attempts)
			log.Info().Str("restaurant_id", rest.ID).Int("attempts", res.Attempts).
				Int("photos", res.Stats.Photos).Int("menu", res.Stats.Menu).Msg("sync completed")
			return res
		}
		lastErr = err
		log.Warn().Err(err).Str("restaurant_id", rest.ID).Int("attempt", attempt).Msg("sync attempt failed")
	}

	msg := lastErr.Error()
	// bookkeeping must land even if the caller went away
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.repo.SetSyncState(wctx, rest.ID, domain.SyncFailed, last, &msg); err != nil {
		log.Error().Err(err).Str("restaurant_id", rest.ID).Msg("failed to record sync failure")
	}
	s.invalidate(wctx, rest.ID)

	rest.SyncStatus = domain.SyncFailed
	rest.SyncError = &msg
	rest.SyncRetryCount = last
	observability.ObserveSync("failed", last+1)
	log.Error().Str("restaurant_id", rest.ID).Int("attempts", last+1).Str("error", msg).Msg("sync failed")
	return SyncResult{Restaurant: rest, Synced: true, Error: msg, Attempts: last + 1}
}

// attempt is one pass: fetch, reorder, AI sub-calls, mining, merge, persist.
func (s *SyncService) attempt(ctx context.Context, rest domain.Restaurant) (SyncResult, error) {
	d, err := s.places.FetchDetails(ctx, rest.PlaceID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch details for %s: %w", rest.PlaceID, err)
	}
	name := d.Name
	if name == "" {
		name = rest.Name
	}

	photos := ReorderPhotos(d.Photos)
	upd := domain.SyncUpdate{Details: &d, Photos: photos}

	calls := 0
	pace := func() error {
		calls++
		if calls == 1 {
			return nil
		}
		return s.sleep(ctx, s.cfg.AIPacing)
	}

	if len(d.Reviews) > 0 {
		if err := pace(); err != nil {
			return SyncResult{}, err
		}
		menu, err := s.ai.ExtractMenu(ctx, name, d.Reviews)
		if s.isolate(rest.ID, "menu", err) {
			upd.RealMenu = menu
		}

		if err := pace(); err != nil {
			return SyncResult{}, err
		}
		ins, err := s.ai.ExtractInsights(ctx, name, d.Reviews)
		if s.isolate(rest.ID, "insights", err) {
			if len(ins.Pros) > 0 {
				upd.AISummary = &domain.AISummary{Pros: ins.Pros}
			}
			upd.Highlights = ins.Highlights
			upd.TouristScores = ins.Scores
		}
		upd.TouristScores = touristFallback(upd.TouristScores, rest.TouristScores, d.Reviews)
	}

	if len(photos) > 0 {
		images := s.loadImages(ctx, photos[:min(len(photos), s.cfg.VibePhotos)])
		if len(images) > 0 {
			if err := pace(); err != nil {
				return SyncResult{}, err
			}
			vibes, err := s.ai.ClassifyVibe(ctx, images)
			if s.isolate(rest.ID, "vibe", err) {
				upd.Vibes = vibes
			}
		}
	}

	if len(upd.RealMenu) == 0 {
		upd.RealMenu = mining.ExtractMenuCandidates(d.Reviews)
	}
	upd.DietaryTags = mining.InferDietaryTags(d.Reviews, name)
	upd.Snippets = mining.ExtractSnippets(d.Reviews, mining.DefaultKeywords)
	now := s.now()
	upd.CompletedAt = &now

	log.Debug().Str("restaurant_id", rest.ID).Int("reviews", len(d.Reviews)).Msg("reviews mined")

	saved, err := s.repo.ApplySync(ctx, rest.ID, upd)
	if err != nil {
		return SyncResult{}, err
	}
	s.invalidate(ctx, rest.ID)

	stats := SyncStats{Photos: len(saved.Photos), Menu: len(upd.RealMenu), Vibes: len(upd.Vibes)}
	if upd.AISummary != nil {
		stats.Summary = len(upd.AISummary.Pros)
	}
	return SyncResult{Restaurant: saved, Stats: stats}, nil
}

// touristFallback fills TouristPopular from the share of reviews not written
// in Japanese when the model gave no usable value. Scores already stored are
// kept over a fallback-only set.
func touristFallback(fresh, stored *domain.TouristScores, reviews []domain.RawReview) *domain.TouristScores {
	if fresh == nil && stored != nil {
		return nil
	}
	var out domain.TouristScores
	if fresh != nil {
		if p := fresh.TouristPopular; p != nil && *p >= 0 && *p <= 100 {
			return fresh
		}
		out = *fresh
	}
	v := int(math.Round((1 - mining.LocalRatio(reviews)) * 100))
	out.TouristPopular = &v
	return &out
}

// isolate logs and counts a failed AI sub-call. It reports whether the
// result may be used.
func (s *SyncService) isolate(id, task string, err error) bool {
	if err == nil {
		return true
	}
	observability.ObserveAIFailure(task)
	log.Warn().Err(err).Str("restaurant_id", id).Str("task", task).Msg("ai sub-call failed; continuing without it")
	return false
}

func (s *SyncService) loadImages(ctx context.Context, refs []string) []domain.Image {
	var out []domain.Image
	for _, ref := range refs {
		img, err := s.places.FetchPhoto(ctx, ref, s.cfg.PhotoWidth)
		if err != nil {
			log.Debug().Err(err).Str("photo_reference", ref).Msg("photo fetch failed")
			continue
		}
		out = append(out, img)
	}
	return out
}

func (s *SyncService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, restaurantKey(id))
}

func restaurantKey(id string) string { return "restaurant:" + id }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
