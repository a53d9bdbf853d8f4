package domain

// PlaceDetails is the normalized result of a successful place lookup.
type PlaceDetails struct {
	Name         string
	Address      *string
	Coords       *Coords
	Rating       *float64
	RatingCount  *int
	PriceLevel   *int
	OpeningHours []string // weekday text, one line per day
	Phone        *string
	MapURL       *string
	Website      *string
	Photos       []string // provider photo references, provider order
	Reviews      []RawReview
}

type PlaceCandidate struct {
	PlaceID     string   `json:"place_id"`
	Name        string   `json:"name"`
	Address     string   `json:"address,omitempty"`
	Coords      *Coords  `json:"coords,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	RatingCount *int     `json:"user_ratings_total,omitempty"`
}

// SearchQuery is either a text search (Text set) or a nearby search (Lat/Lng set).
type SearchQuery struct {
	Text    string
	Lat     *float64
	Lng     *float64
	Radius  int
	Keyword string
}
