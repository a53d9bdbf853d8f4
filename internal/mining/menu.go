package mining

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/komi0929/veganmap/internal/domain"
)

// ScriptPatterns is one script family's dish-name heuristics. Each pattern's
// first capture group is the candidate name.
type ScriptPatterns struct {
	Name     string
	Patterns []*regexp.Regexp
	MinRunes int // inclusive
	MaxRunes int // inclusive
}

var Latin = ScriptPatterns{
	Name: "latin",
	Patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:the|a)\s+([a-zA-Z\s]+?)\s+(?:was|is)\s+(?:delicious|good|great|amazing|tasty|excellent)`),
		regexp.MustCompile(`(?i)(?:ordered|ate|had|tried)\s+(?:the\s+)?([a-zA-Z\s]+?)(?:\.|,|!|\s+and|\s+was)`),
		regexp.MustCompile(`(?i)(?:recommend|suggest)\s+(?:the\s+)?([a-zA-Z\s]+?)(?:\.|,|!)`),
	},
	MinRunes: 3,
	MaxRunes: 29,
}

var Japanese = ScriptPatterns{
	Name: "japanese",
	Patterns: []*regexp.Regexp{
		regexp.MustCompile(`「(.+?)」(?:\s*が|\s*を)`),
		regexp.MustCompile(`([^、。!?！？\s]+?)(?:が|は)(?:美味|おい|うま)`),
		regexp.MustCompile(`([^、。!?！？\s]+?)を(?:注文|頼|食|いただ)`),
	},
	MinRunes: 2,
	MaxRunes: 19,
}

var menuStopWords = []string{
	"it", "that", "this", "everything", "staff", "service", "place", "atmosphere",
	"price", "dinner", "lunch", "breakfast", "meal", "food", "restaurant", "option",
	"menu", "vegan", "vegetarian",
	"店", "雰囲気", "スタッフ", "接客", "値段", "価格", "全て", "これ", "それ", "ここ", "料理", "食事",
}

var namePrefix = regexp.MustCompile(`(?i)^(?:best|amazing|delicious|great|vegan|vegetarian|plant-based)\s+`)

const (
	maxMenuItems  = 8
	defaultRating = 3.0
)

// MenuMiner applies script pattern sets in order. Add a ScriptPatterns value
// to support another script.
type MenuMiner struct {
	scripts []ScriptPatterns
	stop    map[string]struct{}
}

func NewMenuMiner(scripts ...ScriptPatterns) *MenuMiner {
	stop := make(map[string]struct{}, len(menuStopWords))
	for _, w := range menuStopWords {
		stop[w] = struct{}{}
	}
	return &MenuMiner{scripts: scripts, stop: stop}
}

var defaultMiner = NewMenuMiner(Latin, Japanese)

// ExtractMenuCandidates runs the default Latin and Japanese heuristics.
func ExtractMenuCandidates(reviews []domain.RawReview) []domain.MenuItem {
	return defaultMiner.Extract(reviews)
}

type tally struct {
	count     int
	ratingSum float64
}

// Extract counts each normalized name at most once per review and averages
// the ratings of the reviews that mentioned it.
func (m *MenuMiner) Extract(reviews []domain.RawReview) []domain.MenuItem {
	tallies := map[string]*tally{}
	for _, rv := range reviews {
		rating := rv.Rating
		if rating <= 0 {
			rating = defaultRating
		}
		seen := map[string]bool{}
		for _, sp := range m.scripts {
			for _, re := range sp.Patterns {
				for _, match := range re.FindAllStringSubmatch(rv.Text, -1) {
					key, ok := m.normalize(match[1], sp)
					if !ok || seen[key] {
						continue
					}
					seen[key] = true
					t := tallies[key]
					if t == nil {
						t = &tally{}
						tallies[key] = t
					}
					t.count++
					t.ratingSum += rating
				}
			}
		}
	}

	title := cases.Title(language.Und)
	out := make([]domain.MenuItem, 0, len(tallies))
	for key, t := range tallies {
		avg := t.ratingSum / float64(t.count)
		out = append(out, domain.MenuItem{
			Name:      title.String(key),
			Count:     t.count,
			Sentiment: math.Round(avg*10) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxMenuItems {
		out = out[:maxMenuItems]
	}
	return out
}

func (m *MenuMiner) normalize(raw string, sp ScriptPatterns) (string, bool) {
	name := strings.Join(strings.Fields(raw), " ")
	name = strings.Trim(name, "「」『』\"'")
	name = namePrefix.ReplaceAllString(name, "")
	name = strings.ToLower(strings.TrimSpace(name))
	if _, stop := m.stop[name]; stop || name == "" {
		return "", false
	}
	n := utf8.RuneCountInString(name)
	if n < sp.MinRunes || n > sp.MaxRunes {
		return "", false
	}
	return name, true
}
