// Package mining extracts structured signal from raw review text. Everything
// here is pure and deterministic.
package mining

import (
	"sort"
	"strings"

	"github.com/komi0929/veganmap/internal/domain"
)

// DefaultKeywords are the lowercase phrases that make a review worth caching.
var DefaultKeywords = []string{
	"vegan", "vegetarian", "gluten", "meat", "dashi", "egg", "milk",
	"friendly", "english menu", "halal", "kosher", "allergy", "organic",
	"plant-based", "dairy-free", "nut-free", "soy-free", "no msg",
}

const (
	maxSnippets          = 3
	maxSentencesPerQuote = 2
	fallbackRunes        = 200
)

// ExtractSnippets returns up to three keyword-bearing excerpts, ranked by the
// number of distinct keywords the review hit.
func ExtractSnippets(reviews []domain.RawReview, keywords []string) []domain.ReviewSnippet {
	type scored struct {
		s    domain.ReviewSnippet
		hits int
	}
	var all []scored
	for _, rv := range reviews {
		text := strings.TrimSpace(rv.Text)
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		var matched []string
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				matched = append(matched, k)
			}
		}
		if len(matched) == 0 {
			continue
		}
		all = append(all, scored{
			s:    domain.ReviewSnippet{Text: quote(text, matched), Rating: rv.Rating, Keywords: matched},
			hits: len(matched),
		})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].hits > all[j].hits })
	if len(all) > maxSnippets {
		all = all[:maxSnippets]
	}
	out := make([]domain.ReviewSnippet, 0, len(all))
	for _, sc := range all {
		out = append(out, sc.s)
	}
	return out
}

func quote(text string, matched []string) string {
	var picked []string
	for _, s := range splitSentences(text) {
		ls := strings.ToLower(s)
		for _, k := range matched {
			if strings.Contains(ls, k) {
				picked = append(picked, s)
				break
			}
		}
		if len(picked) == maxSentencesPerQuote {
			break
		}
	}
	if len(picked) == 0 {
		return truncateRunes(text, fallbackRunes)
	}
	return strings.Join(picked, ". ")
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			return true
		}
		return false
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
