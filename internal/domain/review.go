package domain

// RawReview is a review as returned by the place provider.
type RawReview struct {
	Author   string  `json:"author_name"`
	Rating   float64 `json:"rating"` // 0 when the provider omitted it
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Time     int64   `json:"time,omitempty"`
}

// ReviewSnippet is a cached excerpt of a review that mentions dietary keywords.
type ReviewSnippet struct {
	Text     string   `json:"text"`
	Rating   float64  `json:"rating"`
	Keywords []string `json:"keywords"`
}

// MenuItem is a dish mentioned in reviews. Sentiment is an average in 1..5.
type MenuItem struct {
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	Sentiment float64 `json:"sentiment"`
}

// DishMatch is a menu item found by dish search, with its restaurant.
type DishMatch struct {
	RestaurantID   string   `json:"restaurant_id"`
	RestaurantName string   `json:"restaurant_name"`
	Item           MenuItem `json:"item"`
}
