//go:build integration

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"github.com/komi0929/veganmap/internal/adapters/gemini"
	server "github.com/komi0929/veganmap/internal/adapters/http_server"
	"github.com/komi0929/veganmap/internal/adapters/places"
	redisad "github.com/komi0929/veganmap/internal/adapters/redis"
	"github.com/komi0929/veganmap/internal/ai"
	"github.com/komi0929/veganmap/internal/app"
	"github.com/komi0929/veganmap/internal/domain"
	mysqlrepo "github.com/komi0929/veganmap/internal/storage/mysql"
)

const secret = "s3cret"

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = filepath.Join("..", "..", "migrations")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
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
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=veganmap"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/veganmap?parseTime=true&multiStatements=true&charset=utf8mb4&loc=UTC",
		resource.GetPort("3306/tcp"))
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

// placesAPI serves one place with three reviews and two photos.
func placesAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/details/json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "OK",
			"result": map[string]any{
				"name":               "Green Kitchen",
				"formatted_address":  "1-1 Shibuya, Tokyo",
				"photos":             []map[string]string{{"photo_reference": "ph1"}, {"photo_reference": "ph2"}},
				"rating":             4.5,
				"user_ratings_total": 88,
				"reviews": []map[string]any{
					{"author_name": "a", "rating": 5, "language": "en", "text": "The vegan ramen was amazing. Fully vegan menu."},
					{"author_name": "b", "rating": 4, "language": "en", "text": "Great gyoza, halal friendly staff."},
					{"author_name": "c", "rating": 5, "language": "ja", "text": "ヴィーガンラーメンが美味しかった"},
				},
			},
		})
	})
	mux.HandleFunc("/photo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg:" + r.URL.Query().Get("photo_reference")))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// modelAPI answers each prompt kind with a canned reply.
func modelAPI(t *testing.T) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, text string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}}},
		})
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		prompt := string(b)
		switch {
		case strings.Contains(prompt, "List the concrete dishes"):
			reply(w, "```json\n[\"Vegan Ramen\", \"Gyoza\"]\n```")
		case strings.Contains(prompt, "vegan travellers"):
			reply(w, `{"pros":["ラーメンが美味しい"],"highlights":{"en":["Vegan ramen"]},"scores":{"englishFriendly":70,"veganConfidence":92}}`)
		case strings.Contains(prompt, "atmosphere"):
			reply(w, `["quiet","Spaceship"]`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTP_EndToEnd_SyncThenRead(t *testing.T) {
	db := startMySQL(t)
	mr := miniredis.RunT(t)
	rdb := redisad.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rdb.Close() })

	repo := mysqlrepo.New(db)
	cache := redisad.NewFromClient(rdb)

	pc, err := places.New(placesAPI(t).URL, "k", "ja", 100)
	if err != nil {
		t.Fatalf("places: %v", err)
	}
	gc, err := gemini.New(modelAPI(t).URL, "k", "gemini-test", 100)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	syncSvc := app.NewSyncService(pc, ai.NewExtractor(gc, 0, nil), repo, cache,
		app.SyncConfig{BaseDelay: time.Millisecond}, app.WithLocker(redisad.NewLock(rdb, "test:lock:")))
	sweep := app.NewSweepService(syncSvc, repo, 0, 1, 0)
	q := app.NewQueryService(repo, pc, cache, time.Minute)

	srv := server.New()
	srv.MountHandlers(server.NewHandlers(q, syncSvc, sweep, secret, secret, 100))
	api := httptest.NewServer(srv.Mux())
	t.Cleanup(api.Close)

	ctx := context.Background()
	id, err := repo.CreateRestaurant(ctx, domain.Restaurant{PlaceID: "place-1", Name: "Green Kitchen"})
	if err != nil {
		t.Fatalf("CreateRestaurant: %v", err)
	}

	// wrong secret: rejected, nothing written
	res, err := http.Post(api.URL+"/api/restaurants/sync-one?secret=nope&restaurantId="+id, "application/json", nil)
	if err != nil {
		t.Fatalf("POST sync-one: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", res.StatusCode)
	}
	if r, _ := repo.GetRestaurant(ctx, id); r.SyncStatus != domain.SyncIdle {
		t.Fatalf("rejected call changed state: %s", r.SyncStatus)
	}

	res, err = http.Post(api.URL+"/api/restaurants/sync-one?secret="+secret+"&restaurantId="+id, "application/json", nil)
	if err != nil {
		t.Fatalf("POST sync-one: %v", err)
	}
	var one struct {
		Success    bool   `json:"success"`
		Restaurant string `json:"restaurant"`
		Data       struct {
			Photos, Menu, Summary, Vibes int
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&one); err != nil {
		t.Fatalf("decode sync-one: %v", err)
	}
	res.Body.Close()
	if !one.Success || one.Restaurant != "Green Kitchen" || one.Data.Photos != 2 || one.Data.Menu != 2 || one.Data.Vibes != 1 {
		t.Fatalf("unexpected sync-one response: %+v", one)
	}

	// read path, then conditional read
	res, err = http.Get(api.URL + "/v1/restaurants/" + id)
	if err != nil {
		t.Fatalf("GET restaurant: %v", err)
	}
	etag := res.Header.Get("ETag")
	var got domain.Restaurant
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode restaurant: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || etag == "" {
		t.Fatalf("status=%d etag=%q", res.StatusCode, etag)
	}
	if got.SyncStatus != domain.SyncCompleted || got.LastSyncedAt == nil {
		t.Fatalf("sync bookkeeping: %+v", got)
	}
	if !got.DietaryTags.Halal || len(got.Vibes) != 1 || got.Vibes[0] != "Quiet" {
		t.Fatalf("enrichment: tags=%+v vibes=%v", got.DietaryTags, got.Vibes)
	}
	if got.TouristScores == nil || *got.TouristScores.VeganConfidence != 92 || got.TouristScores.CardsAccepted != nil {
		t.Fatalf("scores: %+v", got.TouristScores)
	}

	req, _ := http.NewRequest(http.MethodGet, api.URL+"/v1/restaurants/"+id, nil)
	req.Header.Set("If-None-Match", etag)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional GET: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotModified {
		t.Fatalf("want 304, got %d", res.StatusCode)
	}

	res, err = http.Get(api.URL + "/api/search/dishes?q=ramen")
	if err != nil {
		t.Fatalf("GET dishes: %v", err)
	}
	var dishes struct {
		TotalMatches int `json:"totalMatches"`
	}
	_ = json.NewDecoder(res.Body).Decode(&dishes)
	res.Body.Close()
	if dishes.TotalMatches != 1 {
		t.Fatalf("dish matches: %d", dishes.TotalMatches)
	}

	// just synced: the public trigger is a no-op
	body, _ := json.Marshal(map[string]any{"restaurantId": id})
	res, err = http.Post(api.URL+"/api/restaurants/sync", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST sync: %v", err)
	}
	var fresh struct {
		Synced  bool   `json:"synced"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(res.Body).Decode(&fresh)
	res.Body.Close()
	if fresh.Synced || fresh.Message != "Data is fresh" {
		t.Fatalf("unexpected fresh response: %+v", fresh)
	}
}
