package domain

import "time"

// SyncUpdate is the merged result of one sync pass. ApplyTo is the single
// merge contract; the store calls it on a freshly re-read record.
type SyncUpdate struct {
	// Details carries the replaceable fields. nil leaves them untouched.
	Details *PlaceDetails
	// Photos is the reordered photo list. With Details set it always replaces
	// the stored list; otherwise only a non-empty list does.
	Photos []string

	RealMenu      []MenuItem
	Snippets      []ReviewSnippet
	AISummary     *AISummary
	Highlights    *Highlights
	TouristScores *TouristScores
	Vibes         []string
	FoodPhotos    []FoodPhoto
	DietaryTags   DietaryTags

	// CompletedAt marks the pass as a finished sync: state becomes completed,
	// error and retry counter are cleared and LastSyncedAt is stamped.
	CompletedAt *time.Time
}

func (u SyncUpdate) ApplyTo(r *Restaurant) {
	if d := u.Details; d != nil {
		r.Address = d.Address
		r.Rating = d.Rating
		r.RatingCount = d.RatingCount
		r.PriceLevel = d.PriceLevel
		r.OpeningHours = d.OpeningHours
		r.Phone = d.Phone
		r.MapURL = d.MapURL
		r.Website = d.Website
		r.Photos = u.Photos
	} else if len(u.Photos) > 0 {
		r.Photos = u.Photos
	}

	if len(u.RealMenu) > 0 {
		r.RealMenu = u.RealMenu
	}
	if len(u.Snippets) > 0 {
		r.Reviews = u.Snippets
	}
	if u.AISummary != nil && len(u.AISummary.Pros) > 0 {
		r.AISummary = u.AISummary
	}
	if !u.Highlights.Empty() {
		r.Highlights = u.Highlights
	}
	if s := u.TouristScores.Sanitize(); s != nil {
		r.TouristScores = s
	}
	if len(u.Vibes) > 0 {
		r.Vibes = u.Vibes
	}
	if len(u.FoodPhotos) > 0 {
		r.FoodPhotos = u.FoodPhotos
	}
	r.DietaryTags = r.DietaryTags.Merge(u.DietaryTags)

	if u.CompletedAt != nil {
		t := u.CompletedAt.UTC()
		r.LastSyncedAt = &t
		r.SyncStatus = SyncCompleted
		r.SyncError = nil
		r.SyncRetryCount = 0
	}
}

type SweepFilter string

const (
	SweepAll           SweepFilter = "all"
	SweepStale         SweepFilter = "stale"
	SweepMissingPhotos SweepFilter = "missing_photos"
)

// SweepQuery selects entities for a batch pass. StaleBefore is only used
// with SweepStale.
type SweepQuery struct {
	Filter      SweepFilter
	Limit       int
	StaleBefore time.Time
}
