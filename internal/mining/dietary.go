package mining

import (
	"strings"
	"unicode"

	"github.com/komi0929/veganmap/internal/domain"
)

type dietaryRule struct {
	phrases []string // lowercase; English and Japanese forms side by side
	set     func(*domain.DietaryTags)
}

var dietaryRules = []dietaryRule{
	{[]string{"no garlic", "no onion", "without garlic", "without onion", "五葷", "ニンニク抜き", "にんにく不使用", "オリエンタルヴィーガン"},
		func(t *domain.DietaryTags) { t.OrientalVegan = true }},
	{[]string{"no alcohol", "alcohol-free", "alcohol free", "halal", "ノンアルコール", "アルコール不使用"},
		func(t *domain.DietaryTags) { t.AlcoholFree = true }},
	{[]string{"nut-free", "nut free", "no nuts", "ナッツ不使用", "ナッツフリー"},
		func(t *domain.DietaryTags) { t.NutFree = true }},
	{[]string{"soy-free", "soy free", "no soy", "大豆不使用", "ソイフリー"},
		func(t *domain.DietaryTags) { t.SoyFree = true }},
	{[]string{"gluten-free", "gluten free", "グルテンフリー"},
		func(t *domain.DietaryTags) { t.GlutenFree = true }},
	{[]string{"halal", "ハラル", "ハラール"},
		func(t *domain.DietaryTags) { t.Halal = true }},
	{[]string{"kosher", "コーシャ"},
		func(t *domain.DietaryTags) { t.Kosher = true }},
}

// InferDietaryTags ORs keyword evidence across the name and every review.
// Absence of a phrase never produces a false that could override stored data;
// callers merge the result.
func InferDietaryTags(reviews []domain.RawReview, name string) domain.DietaryTags {
	var b strings.Builder
	b.WriteString(name)
	for _, rv := range reviews {
		b.WriteByte(' ')
		b.WriteString(rv.Text)
	}
	text := strings.ToLower(b.String())

	var tags domain.DietaryTags
	for _, r := range dietaryRules {
		for _, p := range r.phrases {
			if strings.Contains(text, p) {
				r.set(&tags)
				break
			}
		}
	}
	return tags
}

// LocalRatio is the share of reviews written in Japanese script, 0..1.
func LocalRatio(reviews []domain.RawReview) float64 {
	if len(reviews) == 0 {
		return 0
	}
	local := 0
	for _, rv := range reviews {
		if rv.Language == "ja" || hasJapanese(rv.Text) {
			local++
		}
	}
	return float64(local) / float64(len(reviews))
}

func hasJapanese(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
			return true
		}
	}
	return false
}
