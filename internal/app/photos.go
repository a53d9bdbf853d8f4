package app

import (
	"sort"

	"github.com/komi0929/veganmap/internal/domain"
)

// ReorderPhotos moves provider positions 2-4 ahead of the first photo, which
// upstream is usually an exterior shot. Lists shorter than 3 are unchanged.
// The input is never modified.
func ReorderPhotos(refs []string) []string {
	if len(refs) < 3 {
		return append([]string(nil), refs...)
	}
	cut := min(4, len(refs))
	out := make([]string, 0, len(refs))
	out = append(out, refs[1:cut]...)
	out = append(out, refs[0])
	out = append(out, refs[cut:]...)
	return out
}

var photoRank = map[domain.PhotoType]int{
	domain.PhotoFood:     0,
	domain.PhotoMenu:     1,
	domain.PhotoInterior: 2,
	domain.PhotoExterior: 3,
	domain.PhotoOther:    4,
}

// FoodFirst orders refs by classification (food, menu, interior, exterior,
// other; higher confidence first within a type) and lists the food photos.
// cls[i] describes refs[i]; refs without a classification count as other.
func FoodFirst(refs []string, cls []domain.PhotoClassification) ([]string, []domain.FoodPhoto) {
	type item struct {
		ref string
		c   domain.PhotoClassification
	}
	items := make([]item, len(refs))
	for i, ref := range refs {
		c := domain.PhotoClassification{Type: domain.PhotoOther}
		if i < len(cls) {
			c = cls[i]
		}
		items[i] = item{ref: ref, c: c}
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := photoRank[items[i].c.Type], photoRank[items[j].c.Type]
		if ri != rj {
			return ri < rj
		}
		return items[i].c.Confidence > items[j].c.Confidence
	})

	ordered := make([]string, len(items))
	var food []domain.FoodPhoto
	for i, it := range items {
		ordered[i] = it.ref
		if it.c.Type == domain.PhotoFood {
			food = append(food, domain.FoodPhoto{Ref: it.ref, DishName: it.c.DishName})
		}
	}
	return ordered, food
}
