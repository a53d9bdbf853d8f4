package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/komi0929/veganmap/internal/domain"
)

// ---- repo ----

type stateWrite struct {
	State domain.SyncState
	Retry int
	Err   string
}

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]domain.Restaurant
	states   []stateWrite
	applies  int
	applyErr []error // consumed one per ApplySync call
	sweep    []domain.Restaurant
	sweepQ   []domain.SweepQuery
	dishes   []domain.DishMatch
	reads    chan string // optional; receives the id of every GetRestaurant
}

func newFakeRepo(rs ...domain.Restaurant) *fakeRepo {
	f := &fakeRepo{rows: map[string]domain.Restaurant{}}
	for _, r := range rs {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeRepo) GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error) {
	f.mu.Lock()
	r, ok := f.rows[id]
	f.mu.Unlock()
	if f.reads != nil {
		f.reads <- id
	}
	if !ok {
		return domain.Restaurant{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) SetSyncState(ctx context.Context, id string, st domain.SyncState, retry int, errText *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := stateWrite{State: st, Retry: retry}
	if errText != nil {
		w.Err = *errText
	}
	f.states = append(f.states, w)
	r := f.rows[id]
	r.SyncStatus, r.SyncRetryCount, r.SyncError = st, retry, errText
	f.rows[id] = r
	return nil
}

func (f *fakeRepo) ApplySync(ctx context.Context, id string, u domain.SyncUpdate) (domain.Restaurant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if len(f.applyErr) > 0 {
		err := f.applyErr[0]
		f.applyErr = f.applyErr[1:]
		if err != nil {
			return domain.Restaurant{}, &domain.PersistenceError{Op: "update", Err: err}
		}
	}
	r, ok := f.rows[id]
	if !ok {
		return domain.Restaurant{}, domain.ErrNotFound
	}
	u.ApplyTo(&r)
	f.rows[id] = r
	return r, nil
}

func (f *fakeRepo) CreateRestaurant(ctx context.Context, r domain.Restaurant) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.PlaceID == r.PlaceID {
			return id, nil
		}
	}
	if r.ID == "" {
		r.ID = fmt.Sprintf("r%d", len(f.rows)+1)
	}
	f.rows[r.ID] = r
	return r.ID, nil
}

func (f *fakeRepo) ListForSweep(ctx context.Context, q domain.SweepQuery) ([]domain.Restaurant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepQ = append(f.sweepQ, q)
	out := f.sweep
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeRepo) SearchDishes(ctx context.Context, q string, limit int) ([]domain.DishMatch, error) {
	var out []domain.DishMatch
	for _, d := range f.dishes {
		if strings.Contains(strings.ToLower(d.Item.Name), strings.ToLower(q)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRepo) row(id string) domain.Restaurant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

// ---- place provider ----

type fakePlaces struct {
	mu       sync.Mutex
	details  domain.PlaceDetails
	errs     []error // consumed one per FetchDetails call; nil entries succeed
	alwaysErr error
	block    bool // FetchDetails waits for the context to end
	calls    int
	photos   int
	photoErr error
	results  []domain.PlaceCandidate
}

func (f *fakePlaces) FetchDetails(ctx context.Context, placeID string) (domain.PlaceDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.block {
		<-ctx.Done()
		return domain.PlaceDetails{}, ctx.Err()
	}
	if f.alwaysErr != nil {
		return domain.PlaceDetails{}, f.alwaysErr
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.PlaceDetails{}, err
		}
	}
	return f.details, nil
}

func (f *fakePlaces) FetchPhoto(ctx context.Context, ref string, maxWidth int) (domain.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos++
	if f.photoErr != nil {
		return domain.Image{}, f.photoErr
	}
	return domain.Image{MIME: "image/jpeg", Data: []byte(ref)}, nil
}

func (f *fakePlaces) Search(ctx context.Context, q domain.SearchQuery) ([]domain.PlaceCandidate, error) {
	return f.results, nil
}

func (f *fakePlaces) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- AI ----

var errModel = errors.New("model unavailable")

type fakeAI struct {
	mu    sync.Mutex
	order []string

	menu       []domain.MenuItem
	menuErr    error
	insights   domain.Insights
	insightErr error
	vibes      []string
	vibeErr    error
	classes    []domain.PhotoClassification
	classErr   error
	vibeImages int
}

func failingAI() *fakeAI {
	return &fakeAI{menuErr: errModel, insightErr: errModel, vibeErr: errModel, classErr: errModel}
}

func (f *fakeAI) record(task string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, task)
}

func (f *fakeAI) ExtractMenu(ctx context.Context, name string, rs []domain.RawReview) ([]domain.MenuItem, error) {
	f.record("menu")
	return f.menu, f.menuErr
}

func (f *fakeAI) ExtractInsights(ctx context.Context, name string, rs []domain.RawReview) (domain.Insights, error) {
	f.record("insights")
	return f.insights, f.insightErr
}

func (f *fakeAI) ClassifyVibe(ctx context.Context, images []domain.Image) ([]string, error) {
	f.record("vibe")
	f.mu.Lock()
	f.vibeImages = len(images)
	f.mu.Unlock()
	return f.vibes, f.vibeErr
}

func (f *fakeAI) ClassifyPhotos(ctx context.Context, images []domain.Image) ([]domain.PhotoClassification, error) {
	f.record("photos")
	return f.classes, f.classErr
}

// ---- cache ----

type fakeCache struct {
	mu    sync.Mutex
	store map[string]any
	dels  []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*domain.Restaurant); ok {
		*d = v.(domain.Restaurant)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels = append(c.dels, key)
	delete(c.store, key)
	return nil
}

// ---- locker ----

type fakeLocker struct {
	held     bool
	acquired int
	released int
	ttl      time.Duration
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.ttl = ttl
	if l.held {
		return nil, false, nil
	}
	l.acquired++
	return func() { l.released++ }, true, nil
}

// ---- time ----

type sleepRecorder struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = append(s.d, d)
	return ctx.Err()
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.d...)
}

// gatedSleeper blocks the first sleep until release is closed and passes
// every later one straight through.
type gatedSleeper struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedSleeper() *gatedSleeper {
	return &gatedSleeper{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSleeper) sleep(ctx context.Context, d time.Duration) error {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return ctx.Err()
	}
	close(g.entered)
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func ptr[T any](v T) *T { return &v }
