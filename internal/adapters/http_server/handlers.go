// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/komi0929/veganmap/internal/app"
	"github.com/komi0929/veganmap/internal/domain"
)

// SyncRunner is the sync surface the trigger routes drive.
type SyncRunner interface {
	SyncOne(ctx context.Context, id string) (app.SyncResult, error)
	SyncIfStale(ctx context.Context, id string, force bool) (app.SyncResult, error)
	Enhance(ctx context.Context, id string) (app.EnhanceResult, error)
}

type SweepRunner interface {
	RunSweep(ctx context.Context, opt app.SweepOptions) (app.SweepReport, error)
}

type Reader interface {
	GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error)
	SearchDishes(ctx context.Context, q string, limit int) ([]domain.DishMatch, error)
	SearchPlaces(ctx context.Context, q domain.SearchQuery) ([]domain.PlaceCandidate, error)
	ImportPlace(ctx context.Context, c domain.PlaceCandidate, tags []string) (string, error)
}

type Handlers struct {
	Q     Reader
	Sync  SyncRunner
	Sweep SweepRunner

	SyncSecret    string
	CronSecret    string
	SyncRateLimit int // requests per minute per IP on the public sync route

	validate *validator.Validate
}

func NewHandlers(q Reader, s SyncRunner, sw SweepRunner, syncSecret, cronSecret string, rateLimit int) *Handlers {
	if rateLimit <= 0 {
		rateLimit = 30
	}
	return &Handlers{
		Q: q, Sync: s, Sweep: sw,
		SyncSecret: syncSecret, CronSecret: cronSecret, SyncRateLimit: rateLimit,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const (
	fullSyncDefaultLimit  = 10
	batchSyncLimit        = 50
	dishQueryMinRunes     = 2
	dishSearchLimit       = 50
	readTimeout           = 15 * time.Second
	importSyncGracePeriod = 10 * time.Minute
)

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(readTimeout))
		r.Get("/v1/restaurants/{id}", h.getRestaurant)
		r.Get("/api/places/search", h.searchPlaces)
		r.Get("/api/search/dishes", h.searchDishes)
	})

	s.mux.With(httprate.LimitByIP(h.SyncRateLimit, time.Minute)).Post("/api/restaurants/sync", h.syncIfStale)

	s.mux.Group(func(r chi.Router) {
		r.Use(requireSecret(h.SyncSecret))
		r.Post("/api/restaurants/sync-one", h.syncOne)
		r.Post("/api/restaurants/full-sync", h.fullSync)
		r.Post("/api/restaurants/batch-sync", h.batchSync)
		r.Post("/api/restaurants/enhance", h.enhance)
		r.Post("/api/restaurants/add", h.addRestaurant)
	})

	s.mux.With(requireSecret(h.CronSecret)).Get("/api/cron/weekly-sync", h.weeklySync)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// writeLookupError maps errors from an id lookup to a problem response.
func writeLookupError(w http.ResponseWriter, err error) {
	var pe *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "restaurant not found")
	case errors.As(err, &pe), errors.Is(err, domain.ErrProviderEmpty):
		writeProblem(w, http.StatusBadGateway, "Upstream Error", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// restaurantID reads and validates an id; ok is false once a problem has
// been written.
func restaurantID(w http.ResponseWriter, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "restaurantId is required")
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "restaurantId must be a UUID")
		return "", false
	}
	return id.String(), true
}

// detached keeps request values but not the request's cancellation.
func detached(r *http.Request) context.Context { return context.WithoutCancel(r.Context()) }

// ---- reads ----

func (h *Handlers) getRestaurant(w http.ResponseWriter, r *http.Request) {
	id, ok := restaurantID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	resp, err := h.Q.GetRestaurant(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	etag, body := calcETagAndBody(resp)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write getRestaurant body")
	}
}

func (h *Handlers) searchDishes(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if len([]rune(q)) < dishQueryMinRunes {
		writeProblem(w, http.StatusBadRequest, "Invalid query", "q must be at least 2 characters")
		return
	}
	matches, err := h.Q.SearchDishes(r.Context(), q, dishSearchLimit)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if matches == nil {
		matches = []domain.DishMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"query":        q,
		"totalMatches": len(matches),
		"results":      matches,
	})
}

func (h *Handlers) searchPlaces(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	sq := domain.SearchQuery{Text: strings.TrimSpace(qs.Get("query")), Keyword: qs.Get("keyword")}
	if sq.Text == "" {
		lat, errLat := strconv.ParseFloat(qs.Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(qs.Get("lng"), 64)
		if errLat != nil || errLng != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid search", "query or location (lat/lng) is required")
			return
		}
		if h.validate.Var(lat, "latitude") != nil || h.validate.Var(lng, "longitude") != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid search", "lat/lng out of range")
			return
		}
		sq.Lat, sq.Lng = &lat, &lng
		if rs := qs.Get("radius"); rs != "" {
			radius, err := strconv.Atoi(rs)
			if err != nil || radius <= 0 || radius > 50000 {
				writeProblem(w, http.StatusBadRequest, "Invalid radius", "radius must be an integer between 1 and 50000")
				return
			}
			sq.Radius = radius
		}
	}
	places, err := h.Q.SearchPlaces(r.Context(), sq)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"places": places})
}

// ---- triggers ----

type syncRequest struct {
	RestaurantID string `json:"restaurantId" validate:"required,uuid"`
	ForceSync    bool   `json:"forceSync"`
}

type syncResponse struct {
	Synced     bool              `json:"synced"`
	Message    string            `json:"message,omitempty"`
	Restaurant domain.Restaurant `json:"restaurant"`
}

func (h *Handlers) syncIfStale(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "restaurantId must be a UUID")
		return
	}
	res, err := h.Sync.SyncIfStale(detached(r), req.RestaurantID, req.ForceSync)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	out := syncResponse{Restaurant: res.Restaurant}
	switch {
	case res.InProgress:
		out.Message = "Sync already in progress"
	case !res.Synced:
		out.Message = "Data is fresh"
	case res.Success:
		out.Synced = true
		out.Message = "Data synchronized successfully"
	default:
		out.Message = "Sync failed: " + res.Error
	}
	writeJSON(w, http.StatusOK, out)
}

type syncOneResponse struct {
	Success    bool           `json:"success"`
	Restaurant string         `json:"restaurant"`
	Data       *app.SyncStats `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	InProgress bool           `json:"inProgress,omitempty"`
}

func (h *Handlers) syncOne(w http.ResponseWriter, r *http.Request) {
	id, ok := restaurantID(w, r.URL.Query().Get("restaurantId"))
	if !ok {
		return
	}
	res, err := h.Sync.SyncOne(detached(r), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	out := syncOneResponse{
		Success:    res.Success,
		Restaurant: res.Restaurant.Name,
		Attempts:   res.Attempts,
		InProgress: res.InProgress,
	}
	if res.Success && !res.InProgress {
		stats := res.Stats
		out.Data = &stats
	} else if !res.Success {
		out.Error = res.Error
	}
	writeJSON(w, http.StatusOK, out)
}

type sweepResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Results app.SweepReport `json:"results"`
}

func (h *Handlers) runSweep(w http.ResponseWriter, r *http.Request, label string, opt app.SweepOptions) {
	rep, err := h.Sweep.RunSweep(detached(r), opt)
	if err != nil {
		log.Error().Err(err).Str("sweep", label).Msg("sweep failed")
		writeProblem(w, http.StatusInternalServerError, "Sweep failed", "could not list restaurants")
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		Success: true,
		Message: fmt.Sprintf("%s completed: %d/%d restaurants", label, rep.Synced, rep.Total),
		Results: rep,
	})
}

func (h *Handlers) fullSync(w http.ResponseWriter, r *http.Request) {
	limit := fullSyncDefaultLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 1000 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 1000")
			return
		}
		limit = l
	}
	// Every restaurant up to limit, fresh or not.
	h.runSweep(w, r, "Full sync", app.SweepOptions{Limit: limit, Filter: domain.SweepAll, Force: true})
}

func (h *Handlers) batchSync(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("forceAll"))
	h.runSweep(w, r, "Batch sync", app.SweepOptions{Limit: batchSyncLimit, Filter: domain.SweepMissingPhotos, Force: force})
}

func (h *Handlers) weeklySync(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, "Weekly sync", app.SweepOptions{Filter: domain.SweepAll, Force: true})
}

type enhanceResponse struct {
	Success    bool   `json:"success"`
	Restaurant string `json:"restaurant"`
	Results    struct {
		TotalPhotos            int  `json:"totalPhotos"`
		FoodPhotos             int  `json:"foodPhotos"`
		HasMultilingualSummary bool `json:"hasMultilingualSummary"`
		HasInboundScores       bool `json:"hasInboundScores"`
	} `json:"results"`
}

func (h *Handlers) enhance(w http.ResponseWriter, r *http.Request) {
	id, ok := restaurantID(w, r.URL.Query().Get("restaurantId"))
	if !ok {
		return
	}
	res, err := h.Sync.Enhance(detached(r), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	out := enhanceResponse{Success: true, Restaurant: res.Restaurant.Name}
	out.Results.TotalPhotos = res.Classified
	out.Results.FoodPhotos = res.FoodPhotos
	out.Results.HasMultilingualSummary = res.Highlights
	out.Results.HasInboundScores = res.Scores
	writeJSON(w, http.StatusOK, out)
}

type addRequest struct {
	PlaceID string   `json:"googlePlaceId" validate:"required"`
	Name    string   `json:"name" validate:"required"`
	Address string   `json:"address"`
	Lat     *float64 `json:"latitude" validate:"omitempty,latitude"`
	Lng     *float64 `json:"longitude" validate:"omitempty,longitude"`
	Tags    []string `json:"tags" validate:"omitempty,max=20,dive,min=1,max=40"`
}

// addRestaurant registers a place and starts its first sync in the
// background; the response does not wait for it.
func (h *Handlers) addRestaurant(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	c := domain.PlaceCandidate{PlaceID: req.PlaceID, Name: req.Name, Address: req.Address}
	if req.Lat != nil && req.Lng != nil {
		c.Coords = &domain.Coords{Lat: *req.Lat, Lng: *req.Lng}
	}
	id, err := h.Q.ImportPlace(r.Context(), c, req.Tags)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	go func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, importSyncGracePeriod)
		defer cancel()
		if _, err := h.Sync.SyncIfStale(ctx, id, false); err != nil {
			log.Warn().Err(err).Str("restaurant_id", id).Msg("initial sync failed")
		}
	}(detached(r))

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id})
}
