package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/komi0929/veganmap/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

// valJSON encodes v as JSON text. nil pointers and empty slices become NULL.
func valJSON[T any](v T) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	switch string(b) {
	case "null", "[]", "{}":
		return nil
	}
	return string(b)
}

// decodeJSON fills dst from a JSON column. A shape we cannot decode is
// treated as absent rather than passed through.
func decodeJSON(id, col string, raw []byte, dst any) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Str("restaurant_id", id).Str("column", col).Err(err).Msg("dropping malformed json column")
	}
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

var _ domain.RestaurantRepository = (*Repo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestaurant(s rowScanner) (domain.Restaurant, error) {
	var r domain.Restaurant
	var (
		address, phone, website, mapURL, syncErr sql.NullString
		lat, lng, rating                         sql.NullFloat64
		ratingCount, priceLevel                  sql.NullInt64
		lastSynced                               sql.NullTime
		status                                   string
		tags, dietary, hours, photos, foodPhotos []byte
		snippets, menu, summary, highlights      []byte
		scores, vibes                            []byte
	)
	if err := s.Scan(
		&r.ID, &r.PlaceID, &r.Name, &address, &lat, &lng, &r.IsVerified, &tags, &dietary,
		&rating, &ratingCount, &priceLevel, &phone, &website, &mapURL,
		&hours, &photos, &foodPhotos, &snippets, &menu, &summary,
		&highlights, &scores, &vibes,
		&lastSynced, &status, &syncErr, &r.SyncRetryCount,
	); err != nil {
		return domain.Restaurant{}, err
	}

	if address.Valid {
		a := address.String
		r.Address = &a
	}
	if lat.Valid && lng.Valid {
		r.Coords = &domain.Coords{Lat: lat.Float64, Lng: lng.Float64}
	}
	if rating.Valid {
		f := rating.Float64
		r.Rating = &f
	}
	if ratingCount.Valid {
		n := int(ratingCount.Int64)
		r.RatingCount = &n
	}
	if priceLevel.Valid {
		n := int(priceLevel.Int64)
		r.PriceLevel = &n
	}
	if phone.Valid {
		s := phone.String
		r.Phone = &s
	}
	if website.Valid {
		s := website.String
		r.Website = &s
	}
	if mapURL.Valid {
		s := mapURL.String
		r.MapURL = &s
	}
	if lastSynced.Valid {
		t := lastSynced.Time.UTC()
		r.LastSyncedAt = &t
	}
	if syncErr.Valid {
		s := syncErr.String
		r.SyncError = &s
	}
	r.SyncStatus = domain.SyncState(status)

	decodeJSON(r.ID, "tags", tags, &r.Tags)
	decodeJSON(r.ID, "dietary_tags", dietary, &r.DietaryTags)
	decodeJSON(r.ID, "opening_hours", hours, &r.OpeningHours)
	decodeJSON(r.ID, "photos", photos, &r.Photos)
	decodeJSON(r.ID, "food_photos", foodPhotos, &r.FoodPhotos)
	decodeJSON(r.ID, "cached_reviews", snippets, &r.Reviews)
	decodeJSON(r.ID, "real_menu", menu, &r.RealMenu)
	decodeJSON(r.ID, "ai_summary", summary, &r.AISummary)
	decodeJSON(r.ID, "multilingual_summary", highlights, &r.Highlights)
	decodeJSON(r.ID, "inbound_scores", scores, &r.TouristScores)
	decodeJSON(r.ID, "vibe_tags", vibes, &r.Vibes)
	r.TouristScores = r.TouristScores.Sanitize()
	if r.Highlights.Empty() {
		r.Highlights = nil
	}
	return r, nil
}

func (r *Repo) GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error) {
	rest, err := scanRestaurant(r.db.QueryRowContext(ctx, selectRestaurantSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Restaurant{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Restaurant{}, &domain.PersistenceError{Op: "get", Err: err}
	}
	return rest, nil
}

func (r *Repo) SetSyncState(ctx context.Context, id string, st domain.SyncState, retryCount int, errText *string) error {
	if _, err := r.db.ExecContext(ctx, updateSyncStateSQL, string(st), retryCount, valStr(errText), id); err != nil {
		return &domain.PersistenceError{Op: "set sync state", Err: err}
	}
	return nil
}

// ApplySync re-reads the row under FOR UPDATE so additive fields merge with
// the latest committed value, not with whatever the caller read earlier.
func (r *Repo) ApplySync(ctx context.Context, id string, u domain.SyncUpdate) (domain.Restaurant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Restaurant{}, &domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanRestaurant(tx.QueryRowContext(ctx, selectRestaurantForUpdateSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Restaurant{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Restaurant{}, &domain.PersistenceError{Op: "reread", Err: err}
	}

	u.ApplyTo(&cur)

	if _, err := tx.ExecContext(ctx, updateEnrichmentSQL,
		valStr(cur.Address),
		valF64(cur.Rating),
		valInt(cur.RatingCount),
		valInt(cur.PriceLevel),
		valStr(cur.Phone),
		valStr(cur.Website),
		valStr(cur.MapURL),
		valJSON(cur.OpeningHours),
		valJSON(cur.Photos),
		valJSON(cur.FoodPhotos),
		valJSON(cur.Reviews),
		valJSON(cur.RealMenu),
		valJSON(cur.AISummary),
		valJSON(cur.Highlights),
		valJSON(cur.TouristScores),
		valJSON(cur.Vibes),
		valJSON(cur.DietaryTags),
		valTime(cur.LastSyncedAt),
		string(cur.SyncStatus),
		valStr(cur.SyncError),
		cur.SyncRetryCount,
		id,
	); err != nil {
		return domain.Restaurant{}, &domain.PersistenceError{Op: "update", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.Restaurant{}, &domain.PersistenceError{Op: "commit", Err: err}
	}
	return cur, nil
}

func (r *Repo) ListForSweep(ctx context.Context, q domain.SweepQuery) ([]domain.Restaurant, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	var (
		rows *sql.Rows
		err  error
	)
	switch q.Filter {
	case domain.SweepStale:
		rows, err = r.db.QueryContext(ctx, sweepStaleSQL, q.StaleBefore.UTC(), limit)
	case domain.SweepMissingPhotos:
		rows, err = r.db.QueryContext(ctx, sweepMissingPhotosSQL, limit)
	default:
		rows, err = r.db.QueryContext(ctx, sweepAllSQL, limit)
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []domain.Restaurant
	for rows.Next() {
		rest, err := scanRestaurant(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "scan", Err: err}
		}
		out = append(out, rest)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

func (r *Repo) SearchDishes(ctx context.Context, q string, limit int) ([]domain.DishMatch, error) {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, searchDishesSQL, "%"+escapeLike(needle)+"%", limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "search dishes", Err: err}
	}
	defer rows.Close()

	var out []domain.DishMatch
	for rows.Next() {
		var id, name string
		var raw []byte
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return nil, &domain.PersistenceError{Op: "scan", Err: err}
		}
		var menu []domain.MenuItem
		decodeJSON(id, "real_menu", raw, &menu)
		for _, it := range menu {
			if strings.Contains(strings.ToLower(it.Name), needle) {
				out = append(out, domain.DishMatch{RestaurantID: id, RestaurantName: name, Item: it})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "search dishes", Err: err}
	}
	return out, nil
}

// CreateRestaurant inserts an idle record for a newly discovered place and
// returns its id. An existing place keeps its id and data.
func (r *Repo) CreateRestaurant(ctx context.Context, rest domain.Restaurant) (string, error) {
	id := rest.ID
	if id == "" {
		id = uuid.NewString()
	}
	var lat, lng any
	if rest.Coords != nil {
		lat, lng = rest.Coords.Lat, rest.Coords.Lng
	}
	if _, err := r.db.ExecContext(ctx, insertRestaurantSQL,
		id, rest.PlaceID, rest.Name, valStr(rest.Address), lat, lng, valJSON(rest.Tags),
	); err != nil {
		return "", &domain.PersistenceError{Op: "insert", Err: err}
	}
	var got string
	if err := r.db.QueryRowContext(ctx, selectIDByPlaceSQL, rest.PlaceID).Scan(&got); err != nil {
		return "", &domain.PersistenceError{Op: "insert", Err: err}
	}
	return got, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
