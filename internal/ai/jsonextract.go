package ai

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/komi0929/veganmap/internal/domain"
)

// firstJSON returns the first balanced span that starts with open ('[' or '{').
// Brackets inside JSON strings are ignored. A span that never closes is a
// parse failure; nothing partial is returned.
func firstJSON(text string, open byte) (string, error) {
	var closer byte
	switch open {
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	default:
		return "", fmt.Errorf("%w: bad opener %q", domain.ErrAIParse, open)
	}
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", domain.ErrAIParse
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced %q", domain.ErrAIParse, open)
}

// decodeFirst extracts the first span and decodes it into dst.
func decodeFirst(text string, open byte, dst any) error {
	raw, err := firstJSON(text, open)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAIParse, err)
	}
	return nil
}
