//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"github.com/komi0929/veganmap/internal/domain"
	mysqlrepo "github.com/komi0929/veganmap/internal/storage/mysql"
)

// ---------- small helpers ----------
func pstr(s string) *string     { return &s }
func pint(i int) *int           { return &i }
func pfloat(f float64) *float64 { return &f }

func migrationsDir(t *testing.T) string {
	t.Helper()
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("..", "..", "..", "migrations")
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := migrationsDir(t)

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir %s: %v", dir, err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)

	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=veganmap",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:%s@tcp(127.0.0.1:%s)/%s?parseTime=true&multiStatements=true&charset=utf8mb4&loc=UTC",
		"root", hostPort, "veganmap")

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

// ---------- the test ----------
func TestRepo_MySQL_ApplySyncMergesAndQueries(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	id, err := repo.CreateRestaurant(ctx, domain.Restaurant{
		PlaceID: "ChIJ-test-1",
		Name:    "Green Kitchen",
		Address: pstr("Tokyo"),
		Coords:  &domain.Coords{Lat: 35.68, Lng: 139.76},
		Tags:    []string{"ramen"},
	})
	if err != nil {
		t.Fatalf("CreateRestaurant: %v", err)
	}
	// a second discovery of the same place keeps the original id
	again, err := repo.CreateRestaurant(ctx, domain.Restaurant{PlaceID: "ChIJ-test-1", Name: "dup"})
	if err != nil || again != id {
		t.Fatalf("duplicate insert: id=%s again=%s err=%v", id, again, err)
	}

	got, err := repo.GetRestaurant(ctx, id)
	if err != nil {
		t.Fatalf("GetRestaurant: %v", err)
	}
	if got.SyncStatus != domain.SyncIdle || got.LastSyncedAt != nil || got.Name != "Green Kitchen" {
		t.Fatalf("unexpected new record: %+v", got)
	}

	if err := repo.SetSyncState(ctx, id, domain.SyncProcessing, 1, nil); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := domain.SyncUpdate{
		Details: &domain.PlaceDetails{
			Address:      pstr("1-1 Tokyo"),
			Rating:       pfloat(4.5),
			RatingCount:  pint(120),
			OpeningHours: []string{"Monday: 11:00-20:00"},
		},
		Photos:      []string{"p1", "p2"},
		RealMenu:    []domain.MenuItem{{Name: "Curry", Count: 2, Sentiment: 4.5}},
		DietaryTags: domain.DietaryTags{Halal: true},
		CompletedAt: &now,
	}
	if _, err := repo.ApplySync(ctx, id, first); err != nil {
		t.Fatalf("ApplySync first: %v", err)
	}

	// second pass finds no halal evidence and no menu; both must survive
	second := domain.SyncUpdate{
		Details:     &domain.PlaceDetails{Rating: pfloat(4.6), RatingCount: pint(121)},
		Photos:      []string{"p3"},
		DietaryTags: domain.DietaryTags{Kosher: true},
		CompletedAt: &now,
	}
	out, err := repo.ApplySync(ctx, id, second)
	if err != nil {
		t.Fatalf("ApplySync second: %v", err)
	}
	if !out.DietaryTags.Halal || !out.DietaryTags.Kosher {
		t.Fatalf("dietary tags not merged: %+v", out.DietaryTags)
	}

	got, err = repo.GetRestaurant(ctx, id)
	if err != nil {
		t.Fatalf("GetRestaurant: %v", err)
	}
	if got.SyncStatus != domain.SyncCompleted || got.SyncRetryCount != 0 || got.SyncError != nil {
		t.Fatalf("sync bookkeeping not reset: %+v", got)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(now) {
		t.Fatalf("last_synced_at: %v", got.LastSyncedAt)
	}
	if len(got.RealMenu) != 1 || got.RealMenu[0].Name != "Curry" {
		t.Fatalf("menu should be preserved: %+v", got.RealMenu)
	}
	if len(got.Photos) != 1 || got.Photos[0] != "p3" || *got.Rating != 4.6 {
		t.Fatalf("replaceable fields not replaced: photos=%v rating=%v", got.Photos, *got.Rating)
	}
	if !got.DietaryTags.Halal {
		t.Fatalf("halal lost on re-read")
	}

	matches, err := repo.SearchDishes(ctx, "curr", 10)
	if err != nil {
		t.Fatalf("SearchDishes: %v", err)
	}
	if len(matches) != 1 || matches[0].RestaurantID != id {
		t.Fatalf("unexpected dish matches: %+v", matches)
	}

	missing, err := repo.ListForSweep(ctx, domain.SweepQuery{Filter: domain.SweepMissingPhotos, Limit: 10})
	if err != nil {
		t.Fatalf("ListForSweep: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("restaurant with photos listed as missing photos: %+v", missing)
	}
	stale, err := repo.ListForSweep(ctx, domain.SweepQuery{Filter: domain.SweepStale, Limit: 10, StaleBefore: now.Add(time.Hour)})
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale sweep: %v %+v", err, stale)
	}

	if _, err := repo.GetRestaurant(ctx, "00000000-0000-0000-0000-000000000000"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
