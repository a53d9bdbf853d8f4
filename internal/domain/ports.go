package domain

import (
	"context"
	"time"
)

type RestaurantRepository interface {
	// Write paths
	SetSyncState(ctx context.Context, id string, st SyncState, retryCount int, errText *string) error
	// ApplySync re-reads the record under a row lock, applies u and writes it back.
	ApplySync(ctx context.Context, id string, u SyncUpdate) (Restaurant, error)
	// CreateRestaurant inserts an idle record and returns its id. A known
	// PlaceID keeps its existing record and id.
	CreateRestaurant(ctx context.Context, r Restaurant) (string, error)

	// Read paths
	GetRestaurant(ctx context.Context, id string) (Restaurant, error)
	ListForSweep(ctx context.Context, q SweepQuery) ([]Restaurant, error)
	SearchDishes(ctx context.Context, q string, limit int) ([]DishMatch, error)
}

type PlaceProvider interface {
	FetchDetails(ctx context.Context, placeID string) (PlaceDetails, error)
	FetchPhoto(ctx context.Context, ref string, maxWidth int) (Image, error)
}

type PlaceSearcher interface {
	Search(ctx context.Context, q SearchQuery) ([]PlaceCandidate, error)
}

// Insights is the combined pros / highlights / scores extraction.
type Insights struct {
	Pros       []string
	Highlights *Highlights
	Scores     *TouristScores
}

type AIExtractor interface {
	ExtractMenu(ctx context.Context, name string, reviews []RawReview) ([]MenuItem, error)
	ExtractInsights(ctx context.Context, name string, reviews []RawReview) (Insights, error)
	ClassifyVibe(ctx context.Context, images []Image) ([]string, error)
	ClassifyPhotos(ctx context.Context, images []Image) ([]PhotoClassification, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Locker hands out short-lived per-key leases. ok is false when another
// holder has the lease.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
