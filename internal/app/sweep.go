package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/komi0929/veganmap/internal/adapters/observability"
	"github.com/komi0929/veganmap/internal/domain"
)

// Syncer is the part of SyncService a sweep needs.
type Syncer interface {
	SyncIfStale(ctx context.Context, id string, force bool) (SyncResult, error)
}

type SweepOptions struct {
	Limit  int
	Filter domain.SweepFilter
	Force  bool
}

type SweepDetail struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Synced  bool   `json:"synced"`
	Error   string `json:"error,omitempty"`
}

// SweepReport tallies a sweep. Skipped counts successful no-ops: records
// that were still fresh or were being synced elsewhere.
type SweepReport struct {
	Total   int           `json:"total"`
	Synced  int           `json:"synced"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Details []SweepDetail `json:"details"`
}

type SweepService struct {
	syncer     Syncer
	repo       domain.RestaurantRepository
	pacing     time.Duration
	workers    int
	staleAfter time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type SweepOption func(*SweepService)

func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *SweepService) { s.now = now }
}

func WithSweepSleeper(sleep func(ctx context.Context, d time.Duration) error) SweepOption {
	return func(s *SweepService) { s.sleep = sleep }
}

// NewSweepService runs entities one at a time unless workers > 1. The pacing
// delay is taken before every entity after the first either way.
func NewSweepService(sy Syncer, r domain.RestaurantRepository, pacing time.Duration, workers int,
	staleAfter time.Duration, opts ...SweepOption) *SweepService {
	if workers <= 0 {
		workers = 1
	}
	if staleAfter <= 0 {
		staleAfter = DefaultSyncConfig().StaleAfter
	}
	s := &SweepService{
		syncer: sy, repo: r, pacing: pacing, workers: workers, staleAfter: staleAfter,
		now: time.Now, sleep: sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SweepService) RunSweep(ctx context.Context, opt SweepOptions) (SweepReport, error) {
	if opt.Filter == "" {
		opt.Filter = domain.SweepAll
	}
	list, err := s.repo.ListForSweep(ctx, domain.SweepQuery{
		Filter:      opt.Filter,
		Limit:       opt.Limit,
		StaleBefore: s.now().Add(-s.staleAfter),
	})
	if err != nil {
		return SweepReport{}, err
	}

	log.Info().Str("filter", string(opt.Filter)).Int("total", len(list)).Int("workers", s.workers).Msg("sweep starting")

	details := make([]SweepDetail, len(list))
	for i, r := range list {
		details[i] = SweepDetail{ID: r.ID, Name: r.Name}
	}

	sem := semaphore.NewWeighted(int64(s.workers))
	var wg sync.WaitGroup
	stopped := -1
	var stopErr error

	for i, r := range list {
		// acquire before pacing so a single worker waits for the previous entity
		if err := sem.Acquire(ctx, 1); err != nil {
			stopped, stopErr = i, err
			break
		}
		if i > 0 {
			if err := s.sleep(ctx, s.pacing); err != nil {
				sem.Release(1)
				stopped, stopErr = i, err
				break
			}
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := s.syncer.SyncIfStale(ctx, id, opt.Force)
			switch {
			case err != nil:
				details[i].Error = err.Error()
			case !res.Success:
				details[i].Error = res.Error
				details[i].Synced = res.Synced
			default:
				details[i].Success = true
				details[i].Synced = res.Synced
			}
		}(i, r.ID)
	}
	wg.Wait()

	if stopped >= 0 {
		for i := stopped; i < len(details); i++ {
			details[i].Error = "not attempted: " + stopErr.Error()
		}
	}

	rep := SweepReport{Total: len(list), Details: details}
	for _, d := range details {
		observability.ObserveSweep(string(opt.Filter), d.Success)
		switch {
		case !d.Success:
			rep.Failed++
		case d.Synced:
			rep.Synced++
		default:
			rep.Skipped++
		}
	}
	log.Info().Str("filter", string(opt.Filter)).Int("synced", rep.Synced).Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).Msg("sweep finished")
	return rep, nil
}
