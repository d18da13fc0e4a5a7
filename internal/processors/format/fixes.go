package format

import (
	"context"
	"regexp"
	"strings"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("format", "spacing", func() any {
		return &SpaceFormatter{
			MapBase:                 stage.MapBase{StageName: "spacing_formatter", On: "text", To: "text"},
			FixHyphenation:          true,
			NormalizeWhitespace:     true,
			NormalizeLineBreaks:     true,
			CollapseParagraphBreaks: true,
		}
	})
}

var (
	spaceRunRe     = regexp.MustCompile(`[ \t]+`)
	paraBreakRunRe = regexp.MustCompile(`\n\n\n+`)
	hyphenBreakRe  = regexp.MustCompile(`(\w)-\s*\n\s*(\w)`)
	doubleSpaceRe  = regexp.MustCompile(`  +`)
)

// SpaceFormatter fixes common spacing problems in scanned text.
type SpaceFormatter struct {
	stage.MapBase `yaml:",inline"`

	FixHyphenation          bool `yaml:"fix_hyphenation"`
	NormalizeWhitespace     bool `yaml:"normalize_whitespace"`
	NormalizeLineBreaks     bool `yaml:"normalize_line_breaks"`
	CollapseParagraphBreaks bool `yaml:"collapse_paragraph_breaks"`
}

// Apply implements stage.Map.
func (s *SpaceFormatter) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, s.On)
	if text == "" {
		return r, nil
	}

	if s.NormalizeWhitespace {
		text = spaceRunRe.ReplaceAllString(text, " ")
	}
	if s.NormalizeLineBreaks {
		text = paraBreakRunRe.ReplaceAllString(text, "\n\n")
	}
	if s.FixHyphenation {
		text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	}
	if s.CollapseParagraphBreaks {
		text = collapseSingleNewlines(text)
	}
	text = doubleSpaceRe.ReplaceAllString(text, " ")

	return r, row.Set(r, s.To, text)
}

// collapseSingleNewlines turns lone newlines into spaces while leaving
// paragraph breaks (two or more) intact.
func collapseSingleNewlines(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\n' {
			sb.WriteRune(runes[i])
			continue
		}
		j := i
		for j < len(runes) && runes[j] == '\n' {
			j++
		}
		if j-i == 1 {
			sb.WriteByte(' ')
		} else {
			for range runes[i:j] {
				sb.WriteByte('\n')
			}
		}
		i = j - 1
	}
	return sb.String()
}
