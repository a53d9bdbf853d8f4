// Package ai turns reviews and photos into structured enrichment through a
// generative model. Every method returns an error instead of partial data;
// the orchestrator decides what a failure means for the pipeline.
package ai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/komi0929/veganmap/internal/domain"
)

// Generator is the raw model call: prompt and optional images in, free text out.
type Generator interface {
	Generate(ctx context.Context, prompt string, images []domain.Image) (string, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

const (
	maxMenuItems     = 5
	maxVibeImages    = 2
	photoBatchSize   = 3
	maxPromptReviews = 20
	maxReviewRunes   = 600
	maxHighlights    = 5
	maxHighlightLen  = 40
)

// VibeTags is the closed set of atmosphere labels the model may return.
var VibeTags = []string{"Romantic", "Work Friendly", "Solo Friendly", "Lively", "Quiet", "Family Friendly"}

type Extractor struct {
	gen         Generator
	batchPacing time.Duration
	sleep       Sleeper
}

func NewExtractor(gen Generator, batchPacing time.Duration, sleep Sleeper) *Extractor {
	if sleep == nil {
		sleep = SleepCtx
	}
	return &Extractor{gen: gen, batchPacing: batchPacing, sleep: sleep}
}

var _ domain.AIExtractor = (*Extractor)(nil)

func (e *Extractor) ExtractMenu(ctx context.Context, name string, reviews []domain.RawReview) ([]domain.MenuItem, error) {
	text, err := e.gen.Generate(ctx, menuPrompt(name, reviews), nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := decodeFirst(text, '[', &names); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []domain.MenuItem
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		idx := len(out)
		out = append(out, domain.MenuItem{
			Name:      n,
			Count:     1,
			Sentiment: math.Round((4.5-0.2*float64(idx))*10) / 10,
		})
		if len(out) == maxMenuItems {
			break
		}
	}
	return out, nil
}

type insightsPayload struct {
	Pros       []string            `json:"pros"`
	Highlights map[string][]string `json:"highlights"`
	Scores     map[string]*float64 `json:"scores"`
}

func (e *Extractor) ExtractInsights(ctx context.Context, name string, reviews []domain.RawReview) (domain.Insights, error) {
	text, err := e.gen.Generate(ctx, insightsPrompt(name, reviews), nil)
	if err != nil {
		return domain.Insights{}, err
	}
	var p insightsPayload
	if err := decodeFirst(text, '{', &p); err != nil {
		return domain.Insights{}, err
	}

	out := domain.Insights{Pros: cleanList(p.Pros, maxHighlights, 0)}
	h := &domain.Highlights{
		Ja: cleanList(p.Highlights["ja"], maxHighlights, maxHighlightLen),
		En: cleanList(p.Highlights["en"], maxHighlights, maxHighlightLen),
		Ko: cleanList(p.Highlights["ko"], maxHighlights, maxHighlightLen),
		Zh: cleanList(p.Highlights["zh"], maxHighlights, maxHighlightLen),
	}
	if !h.Empty() {
		out.Highlights = h
	}
	if len(p.Scores) > 0 {
		out.Scores = &domain.TouristScores{
			EnglishFriendly: score(p.Scores["englishFriendly"]),
			CardsAccepted:   score(p.Scores["cardsAccepted"]),
			VeganConfidence: score(p.Scores["veganConfidence"]),
			TouristPopular:  score(p.Scores["touristPopular"]),
		}
	}
	if len(out.Pros) == 0 && out.Highlights == nil && out.Scores == nil {
		return domain.Insights{}, fmt.Errorf("%w: insights object has no usable fields", domain.ErrAIParse)
	}
	return out, nil
}

func (e *Extractor) ClassifyVibe(ctx context.Context, images []domain.Image) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if len(images) > maxVibeImages {
		images = images[:maxVibeImages]
	}
	text, err := e.gen.Generate(ctx, vibePrompt(len(images)), images)
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := decodeFirst(text, '[', &tags); err != nil {
		return nil, err
	}
	allowed := make(map[string]string, len(VibeTags))
	for _, t := range VibeTags {
		allowed[strings.ToLower(t)] = t
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range tags {
		canon, ok := allowed[strings.ToLower(strings.TrimSpace(t))]
		if !ok || seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	return out, nil
}

type photoPayload struct {
	Type       string   `json:"type"`
	DishName   *string  `json:"dishName"`
	Confidence *float64 `json:"confidence"`
}

// ClassifyPhotos returns one classification per image, in input order. A batch
// that fails is reported as "other" with zero confidence; an error is only
// returned when every batch failed.
func (e *Extractor) ClassifyPhotos(ctx context.Context, images []domain.Image) ([]domain.PhotoClassification, error) {
	out := make([]domain.PhotoClassification, 0, len(images))
	var lastErr error
	failed := 0
	batches := 0
	for start := 0; start < len(images); start += photoBatchSize {
		if start > 0 {
			if err := e.sleep(ctx, e.batchPacing); err != nil {
				return nil, err
			}
		}
		end := min(start+photoBatchSize, len(images))
		batch := images[start:end]
		batches++

		res, err := e.classifyBatch(ctx, batch)
		if err != nil {
			lastErr = err
			failed++
			for range batch {
				out = append(out, domain.PhotoClassification{Type: domain.PhotoOther})
			}
			continue
		}
		out = append(out, res...)
	}
	if batches > 0 && failed == batches {
		return nil, lastErr
	}
	return out, nil
}

func (e *Extractor) classifyBatch(ctx context.Context, batch []domain.Image) ([]domain.PhotoClassification, error) {
	text, err := e.gen.Generate(ctx, photoPrompt(len(batch)), batch)
	if err != nil {
		return nil, err
	}
	var raw []photoPayload
	if err := decodeFirst(text, '[', &raw); err != nil {
		return nil, err
	}
	out := make([]domain.PhotoClassification, len(batch))
	for j := range batch {
		out[j] = domain.PhotoClassification{Type: domain.PhotoOther}
		if j >= len(raw) {
			continue
		}
		c := domain.PhotoClassification{Type: photoType(raw[j].Type), Confidence: 0.5}
		if raw[j].Confidence != nil && *raw[j].Confidence >= 0 && *raw[j].Confidence <= 1 {
			c.Confidence = *raw[j].Confidence
		}
		if raw[j].DishName != nil {
			c.DishName = strings.TrimSpace(*raw[j].DishName)
		}
		out[j] = c
	}
	return out, nil
}

func photoType(s string) domain.PhotoType {
	switch t := domain.PhotoType(strings.ToLower(strings.TrimSpace(s))); t {
	case domain.PhotoFood, domain.PhotoMenu, domain.PhotoInterior, domain.PhotoExterior:
		return t
	}
	return domain.PhotoOther
}

// score keeps the model's value as-is (rounded); range checks happen at the
// persistence boundary.
func score(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(math.Round(*f))
	return &v
}

func cleanList(in []string, limit, maxRunes int) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if maxRunes > 0 {
			if r := []rune(s); len(r) > maxRunes {
				s = string(r[:maxRunes])
			}
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

// SleepCtx waits for d or returns ctx.Err() if ctx is done first.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
