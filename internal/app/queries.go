package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/komi0929/veganmap/internal/domain"
)

type QueryService struct {
	repo     domain.RestaurantRepository
	places   domain.PlaceSearcher
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.RestaurantRepository, p domain.PlaceSearcher, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, places: p, cache: c, cacheTTL: ttl}
}

// GetRestaurant serves the last stored record, from cache when possible. It
// never waits on a running sync.
func (s *QueryService) GetRestaurant(ctx context.Context, id string) (domain.Restaurant, error) {
	key := restaurantKey(id)
	var r domain.Restaurant
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &r); ok {
			return r, nil
		}
	}
	r, err := s.repo.GetRestaurant(ctx, id)
	if err != nil {
		return domain.Restaurant{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, r, int(s.cacheTTL.Seconds()))
	}
	return r, nil
}

func (s *QueryService) SearchDishes(ctx context.Context, q string, limit int) ([]domain.DishMatch, error) {
	return s.repo.SearchDishes(ctx, q, limit)
}

func (s *QueryService) SearchPlaces(ctx context.Context, q domain.SearchQuery) ([]domain.PlaceCandidate, error) {
	return s.places.Search(ctx, q)
}

// ImportPlace registers a provider candidate as an idle restaurant. The record
// is filled in by the next sync.
func (s *QueryService) ImportPlace(ctx context.Context, c domain.PlaceCandidate, tags []string) (string, error) {
	if strings.TrimSpace(c.PlaceID) == "" || strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("place id and name are required")
	}
	r := domain.Restaurant{PlaceID: c.PlaceID, Name: c.Name, Coords: c.Coords, Tags: tags, SyncStatus: domain.SyncIdle}
	if a := strings.TrimSpace(c.Address); a != "" {
		r.Address = &a
	}
	return s.repo.CreateRestaurant(ctx, r)
}
