package domain

import "time"

type SyncState string

const (
	SyncIdle       SyncState = "idle"
	SyncProcessing SyncState = "processing"
	SyncCompleted  SyncState = "completed"
	SyncFailed     SyncState = "failed"
)

type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Restaurant is the unit of enrichment. ID and PlaceID never change after
// the record is created.
type Restaurant struct {
	ID         string   `json:"id"`
	PlaceID    string   `json:"place_id"`
	Name       string   `json:"name"`
	Address    *string  `json:"address,omitempty"`
	Coords     *Coords  `json:"coords,omitempty"`
	IsVerified bool     `json:"is_verified"`
	Tags       []string `json:"tags,omitempty"`

	DietaryTags DietaryTags `json:"dietary_tags"`

	// mirrored from the place provider, replaced on every sync
	Rating       *float64 `json:"rating,omitempty"`
	RatingCount  *int     `json:"user_ratings_total,omitempty"`
	PriceLevel   *int     `json:"price_level,omitempty"`
	Phone        *string  `json:"phone,omitempty"`
	Website      *string  `json:"website,omitempty"`
	MapURL       *string  `json:"google_maps_uri,omitempty"`
	OpeningHours []string `json:"opening_hours,omitempty"`
	Photos       []string `json:"photos,omitempty"`

	// enrichment, only replaced by non-empty results
	FoodPhotos    []FoodPhoto     `json:"food_photos,omitempty"`
	Reviews       []ReviewSnippet `json:"cached_reviews,omitempty"`
	RealMenu      []MenuItem      `json:"real_menu,omitempty"`
	AISummary     *AISummary      `json:"ai_summary,omitempty"`
	Highlights    *Highlights     `json:"multilingual_summary,omitempty"`
	TouristScores *TouristScores  `json:"inbound_scores,omitempty"`
	Vibes         []string        `json:"vibe_tags,omitempty"`

	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	SyncStatus     SyncState  `json:"sync_status"`
	SyncError      *string    `json:"sync_error,omitempty"`
	SyncRetryCount int        `json:"sync_retry_count"`
}

// StaleAfter reports whether the record is older than threshold at now.
// A record that was never synced is always stale.
func (r Restaurant) StaleAfter(threshold time.Duration, now time.Time) bool {
	if r.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*r.LastSyncedAt) > threshold
}

type AISummary struct {
	Pros []string `json:"pros"`
}

// Highlights holds short selling points per supported language.
type Highlights struct {
	Ja []string `json:"ja,omitempty"`
	En []string `json:"en,omitempty"`
	Ko []string `json:"ko,omitempty"`
	Zh []string `json:"zh,omitempty"`
}

func (h *Highlights) Empty() bool {
	return h == nil || len(h.Ja)+len(h.En)+len(h.Ko)+len(h.Zh) == 0
}

// TouristScores are independent 0-100 scores. A nil field means absent.
type TouristScores struct {
	EnglishFriendly *int `json:"englishFriendly,omitempty"`
	CardsAccepted   *int `json:"cardsAccepted,omitempty"`
	VeganConfidence *int `json:"veganConfidence,omitempty"`
	TouristPopular  *int `json:"touristPopular,omitempty"`
}

// Sanitize drops out-of-range scores. It returns nil when nothing is left.
func (t *TouristScores) Sanitize() *TouristScores {
	if t == nil {
		return nil
	}
	keep := func(p *int) *int {
		if p == nil || *p < 0 || *p > 100 {
			return nil
		}
		v := *p
		return &v
	}
	out := &TouristScores{
		EnglishFriendly: keep(t.EnglishFriendly),
		CardsAccepted:   keep(t.CardsAccepted),
		VeganConfidence: keep(t.VeganConfidence),
		TouristPopular:  keep(t.TouristPopular),
	}
	if out.EnglishFriendly == nil && out.CardsAccepted == nil && out.VeganConfidence == nil && out.TouristPopular == nil {
		return nil
	}
	return out
}

type PhotoType string

const (
	PhotoFood     PhotoType = "food"
	PhotoMenu     PhotoType = "menu"
	PhotoInterior PhotoType = "interior"
	PhotoExterior PhotoType = "exterior"
	PhotoOther    PhotoType = "other"
)

// PhotoClassification describes one photo, in the order the photos were sent.
type PhotoClassification struct {
	Type       PhotoType `json:"type"`
	DishName   string    `json:"dishName,omitempty"`
	Confidence float64   `json:"confidence"`
}

type FoodPhoto struct {
	Ref      string `json:"photo_reference"`
	DishName string `json:"dish_name,omitempty"`
}

// Image is a binary payload handed to vision sub-calls.
type Image struct {
	MIME string
	Data []byte
}
