package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/komi0929/veganmap/internal/domain"
)

const maxEnhancePhotos = 10

type EnhanceResult struct {
	Restaurant domain.Restaurant
	Classified int
	FoodPhotos int
	Highlights bool
	Scores     bool
}

// Enhance classifies the stored photos, puts food photos first and refreshes
// the multilingual highlights and tourist scores. It is a single best-effort
// pass: it does not touch sync state, and the stored photo list is only
// replaced when at least one photo was classified.
func (s *SyncService) Enhance(ctx context.Context, id string) (EnhanceResult, error) {
	v, err, _ := s.group.Do("enhance:"+id, func() (any, error) {
		return s.enhance(ctx, id)
	})
	if err != nil {
		return EnhanceResult{}, err
	}
	return v.(EnhanceResult), nil
}

func (s *SyncService) enhance(ctx context.Context, id string) (EnhanceResult, error) {
	rest, err := s.repo.GetRestaurant(ctx, id)
	if err != nil {
		return EnhanceResult{}, err
	}
	d, err := s.places.FetchDetails(ctx, rest.PlaceID)
	if err != nil {
		return EnhanceResult{}, fmt.Errorf("fetch details for %s: %w", rest.PlaceID, err)
	}
	refs := rest.Photos
	if len(refs) == 0 {
		refs = ReorderPhotos(d.Photos)
	}
	if len(refs) > maxEnhancePhotos {
		refs = refs[:maxEnhancePhotos]
	}

	var upd domain.SyncUpdate
	var res EnhanceResult

	// classify only what we could download, then map back by position
	var images []domain.Image
	var loaded []int
	for i, ref := range refs {
		img, err := s.places.FetchPhoto(ctx, ref, s.cfg.PhotoWidth)
		if err != nil {
			log.Debug().Err(err).Str("photo_reference", ref).Msg("photo fetch failed")
			continue
		}
		images = append(images, img)
		loaded = append(loaded, i)
	}
	if len(images) > 0 {
		cls, err := s.ai.ClassifyPhotos(ctx, images)
		if s.isolate(id, "photos", err) {
			perRef := make([]domain.PhotoClassification, len(refs))
			for i := range perRef {
				perRef[i] = domain.PhotoClassification{Type: domain.PhotoOther}
			}
			for j, idx := range loaded {
				if j < len(cls) {
					perRef[idx] = cls[j]
				}
			}
			upd.Photos, upd.FoodPhotos = FoodFirst(refs, perRef)
			if len(rest.Photos) > len(refs) {
				upd.Photos = append(upd.Photos, rest.Photos[len(refs):]...)
			}
			res.Classified = len(cls)
			res.FoodPhotos = len(upd.FoodPhotos)
		}
		if len(d.Reviews) > 0 {
			if err := s.sleep(ctx, s.cfg.AIPacing); err != nil {
				return EnhanceResult{}, err
			}
		}
	}

	if len(d.Reviews) > 0 {
		name := d.Name
		if name == "" {
			name = rest.Name
		}
		ins, err := s.ai.ExtractInsights(ctx, name, d.Reviews)
		if s.isolate(id, "insights", err) {
			upd.Highlights = ins.Highlights
			upd.TouristScores = ins.Scores
			if len(ins.Pros) > 0 {
				upd.AISummary = &domain.AISummary{Pros: ins.Pros}
			}
			res.Highlights = !ins.Highlights.Empty()
			res.Scores = ins.Scores.Sanitize() != nil
		}
	}

	saved, err := s.repo.ApplySync(ctx, id, upd)
	if err != nil {
		return EnhanceResult{}, err
	}
	s.invalidate(ctx, id)
	res.Restaurant = saved
	return res, nil
}
