// internal/adapters/places/client.go
package places

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/komi0929/veganmap/internal/adapters/observability"
	"github.com/komi0929/veganmap/internal/domain"
)

// DetailFields is the fixed field set requested for every details lookup.
const DetailFields = "name,formatted_address,geometry,opening_hours,photos,reviews,rating," +
	"user_ratings_total,price_level,formatted_phone_number,website,url"

const (
	maxPhotos     = 10
	defaultRadius = 5000
	searchSuffix  = " vegan vegetarian"
	maxPhotoBytes = 8 << 20
)

// Client is a thin call-through to the Places web service. It never retries;
// retry policy belongs to the caller.
type Client struct {
	base string
	key  string
	lang string
	hc   *http.Client
	rl   *rate.Limiter
}

func New(base, key, lang string, rps int) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	if lang == "" {
		lang = "ja"
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		lang: lang,
		hc:   &http.Client{Timeout: 20 * time.Second},
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

var (
	_ domain.PlaceProvider = (*Client)(nil)
	_ domain.PlaceSearcher = (*Client)(nil)
)

// ---- wire types ----

type location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type detailsResult struct {
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	Geometry         *struct {
		Location location `json:"location"`
	} `json:"geometry"`
	OpeningHours *struct {
		WeekdayText []string `json:"weekday_text"`
	} `json:"opening_hours"`
	Photos []struct {
		Ref string `json:"photo_reference"`
	} `json:"photos"`
	Reviews          []domain.RawReview `json:"reviews"`
	Rating           *float64           `json:"rating"`
	UserRatingsTotal *int               `json:"user_ratings_total"`
	PriceLevel       *int               `json:"price_level"`
	Phone            string             `json:"formatted_phone_number"`
	Website          string             `json:"website"`
	URL              string             `json:"url"`
}

type detailsResponse struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	Result       detailsResult `json:"result"`
}

type searchResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID          string   `json:"place_id"`
		Name             string   `json:"name"`
		FormattedAddress string   `json:"formatted_address"`
		Vicinity         string   `json:"vicinity"`
		Rating           *float64 `json:"rating"`
		UserRatingsTotal *int     `json:"user_ratings_total"`
		Geometry         *struct {
			Location location `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// ---- Public API ----

// FetchDetails maps OK to details, ZERO_RESULTS/NOT_FOUND to
// domain.ErrProviderEmpty and anything else to *domain.ProviderError.
func (c *Client) FetchDetails(ctx context.Context, placeID string) (domain.PlaceDetails, error) {
	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", DetailFields)
	q.Set("language", c.lang)

	var dr detailsResponse
	if err := c.getJSON(ctx, "details", q, &dr); err != nil {
		return domain.PlaceDetails{}, err
	}
	switch dr.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return domain.PlaceDetails{}, domain.ErrProviderEmpty
	default:
		return domain.PlaceDetails{}, &domain.ProviderError{Status: dr.Status, HTTPStatus: http.StatusOK, Message: dr.ErrorMessage}
	}
	return toDetails(dr.Result), nil
}

// Search runs a text search when q.Text is set, a nearby search otherwise.
func (c *Client) Search(ctx context.Context, sq domain.SearchQuery) ([]domain.PlaceCandidate, error) {
	q := url.Values{}
	q.Set("language", c.lang)
	endpoint := "textsearch"
	switch {
	case strings.TrimSpace(sq.Text) != "":
		q.Set("query", strings.TrimSpace(sq.Text)+searchSuffix)
	case sq.Lat != nil && sq.Lng != nil:
		endpoint = "nearbysearch"
		radius := sq.Radius
		if radius <= 0 {
			radius = defaultRadius
		}
		q.Set("location", strconv.FormatFloat(*sq.Lat, 'f', -1, 64)+","+strconv.FormatFloat(*sq.Lng, 'f', -1, 64))
		q.Set("radius", strconv.Itoa(radius))
		kw := sq.Keyword
		if kw == "" {
			kw = "vegan"
		}
		q.Set("keyword", kw)
	default:
		return nil, fmt.Errorf("search needs a query or a location")
	}

	var sr searchResponse
	if err := c.getJSON(ctx, endpoint, q, &sr); err != nil {
		return nil, err
	}
	switch sr.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []domain.PlaceCandidate{}, nil
	default:
		return nil, &domain.ProviderError{Status: sr.Status, HTTPStatus: http.StatusOK, Message: sr.ErrorMessage}
	}

	out := make([]domain.PlaceCandidate, 0, len(sr.Results))
	for _, r := range sr.Results {
		pc := domain.PlaceCandidate{
			PlaceID:     r.PlaceID,
			Name:        r.Name,
			Address:     r.FormattedAddress,
			Rating:      r.Rating,
			RatingCount: r.UserRatingsTotal,
		}
		if pc.Address == "" {
			pc.Address = r.Vicinity
		}
		if r.Geometry != nil {
			pc.Coords = &domain.Coords{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
		}
		out = append(out, pc)
	}
	return out, nil
}

// PhotoURL is the binary photo endpoint for ref.
func (c *Client) PhotoURL(ref string, maxWidth int) string {
	q := url.Values{}
	q.Set("maxwidth", strconv.Itoa(maxWidth))
	q.Set("photo_reference", ref)
	q.Set("key", c.key)
	return c.base + "/photo?" + q.Encode()
}

// FetchPhoto downloads one photo. The endpoint answers with a redirect to the
// image which the http.Client follows.
func (c *Client) FetchPhoto(ctx context.Context, ref string, maxWidth int) (domain.Image, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return domain.Image{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PhotoURL(ref, maxWidth), nil)
	if err != nil {
		return domain.Image{}, err
	}
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("places", "photo", 0, time.Since(start))
		return domain.Image{}, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("places", "photo", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return domain.Image{}, &domain.ProviderError{Status: "PHOTO_FAILED", HTTPStatus: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return domain.Image{}, err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return domain.Image{MIME: mime, Data: b}, nil
}

// ---- Internals ----

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	q.Set("key", c.key)
	u := fmt.Sprintf("%s/%s/json?%s", c.base, endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "veganmap-sync/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("places", endpoint, 0, time.Since(start))
		return err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("places", endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.ProviderError{Status: "HTTP_ERROR", HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Status: "BAD_RESPONSE", HTTPStatus: resp.StatusCode, Message: err.Error()}
	}
	return nil
}

func toDetails(r detailsResult) domain.PlaceDetails {
	d := domain.PlaceDetails{
		Name:        r.Name,
		Address:     nonEmpty(r.FormattedAddress),
		Rating:      r.Rating,
		RatingCount: r.UserRatingsTotal,
		PriceLevel:  r.PriceLevel,
		Phone:       nonEmpty(r.Phone),
		MapURL:      nonEmpty(r.URL),
		Website:     nonEmpty(r.Website),
		Reviews:     r.Reviews,
	}
	if r.Geometry != nil {
		d.Coords = &domain.Coords{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
	}
	if r.OpeningHours != nil {
		d.OpeningHours = r.OpeningHours.WeekdayText
	}
	for _, p := range r.Photos {
		if p.Ref == "" {
			continue
		}
		d.Photos = append(d.Photos, p.Ref)
		if len(d.Photos) == maxPhotos {
			break
		}
	}
	return d
}

func nonEmpty(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
