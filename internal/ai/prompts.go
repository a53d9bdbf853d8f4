package ai

import (
	"fmt"
	"strings"

	"github.com/komi0929/veganmap/internal/domain"
)

func reviewBlock(reviews []domain.RawReview) string {
	var b strings.Builder
	n := 0
	for _, rv := range reviews {
		text := strings.TrimSpace(rv.Text)
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > maxReviewRunes {
			text = string(r[:maxReviewRunes])
		}
		if n > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%g★] %s", rv.Rating, text)
		n++
		if n == maxPromptReviews {
			break
		}
	}
	return b.String()
}

func menuPrompt(name string, reviews []domain.RawReview) string {
	return fmt.Sprintf(`Below are customer reviews of the restaurant %q.
List the concrete dishes or drinks the reviewers mention by name.

Reviews:
%s

Rules:
- dish and drink names only (e.g. "カレー", "Vegan Ramen", "Oat Latte")
- never include the restaurant name, atmosphere, staff or service
- keep each name in the language the reviewer used
- at most %d names
- reply with a JSON array of strings, [] when nothing qualifies`, name, reviewBlock(reviews), maxMenuItems)
}

func insightsPrompt(name string, reviews []domain.RawReview) string {
	return fmt.Sprintf(`Below are customer reviews of the restaurant %q. Analyse them for vegan travellers visiting Japan.

Reviews:
%s

Reply with a single JSON object and nothing else:
{
  "pros": ["3-5 short strengths of the restaurant, in Japanese"],
  "highlights": {
    "ja": ["3-5 items, at most 20 characters each"],
    "en": ["..."],
    "ko": ["..."],
    "zh": ["..."]
  },
  "scores": {
    "englishFriendly": 0-100,
    "cardsAccepted": 0-100,
    "veganConfidence": 0-100,
    "touristPopular": 0-100
  }
}

englishFriendly: can visitors get by in English (menu, staff, signs)?
cardsAccepted: how likely are credit cards accepted?
veganConfidence: how confident are vegan reviewers about the food?
touristPopular: how popular is the place with foreign visitors?`, name, reviewBlock(reviews))
}

func vibePrompt(n int) string {
	return fmt.Sprintf(`These are %d photos of a restaurant. Describe its atmosphere.
Reply with ONLY a JSON array containing the matching tags from this list:
["%s"]`, n, strings.Join(VibeTags, `", "`))
}

func photoPrompt(n int) string {
	return fmt.Sprintf(`Classify each of these %d restaurant photos, in order.
Reply with a JSON array holding one object per photo:
[
  {"type": "food" | "menu" | "interior" | "exterior" | "other",
   "dishName": "English dish name when type is food, otherwise null",
   "confidence": 0.0-1.0}
]`, n)
}
