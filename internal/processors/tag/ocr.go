package tag

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("tag", "ocr_quality", func() any {
		return &OCRQualityTagger{
			MapBase: stage.MapBase{StageName: "ocr_quality", On: "text", To: "metadata.ocr_quality"},
		}
	})
}

var (
	missingSpacesRe  = regexp.MustCompile(`[a-z][A-Z]|[a-zA-Z][0-9]|[0-9][a-zA-Z]`)
	excessiveSpaceRe = regexp.MustCompile(` {3,}`)
	spacedWordsRe    = regexp.MustCompile(`\b[a-zA-Z] [a-zA-Z] [a-zA-Z]\b`)
	veryLongWordRe   = regexp.MustCompile(`\b\w{25,}\b`)

	randomCapsRe = regexp.MustCompile(`\b[a-z]+[A-Z][a-z]*\b`)
	mixedCaseRe  = regexp.MustCompile(`\b[a-zA-Z]*[a-z][A-Z][a-zA-Z]*\b`)

	symbolLineRe  = regexp.MustCompile(`^[^\w\s]+$`)
	numberLineRe  = regexp.MustCompile(`^\d+\s*$`)
	romanLineRe   = regexp.MustCompile(`^[IVX]+\s*$`)
	pageLineRe    = regexp.MustCompile(`(?i)^Page\s+\d+`)
	digitInWordRe = regexp.MustCompile(`[a-zA-Z]\d|\d[a-zA-Z]`)
	ordinalRe     = regexp.MustCompile(`(?i)^\d+(st|nd|rd|th)$`)
	wordDigitsRe  = regexp.MustCompile(`\d[a-zA-Z][a-zA-Z]*\d`)
)

// twoLetterWords are valid English and German two-letter words; short words
// outside this set count as OCR fragments.
var twoLetterWords = map[string]struct{}{
	"am": {}, "an": {}, "as": {}, "at": {}, "be": {}, "by": {}, "do": {}, "go": {},
	"he": {}, "if": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "no": {},
	"of": {}, "on": {}, "or": {}, "so": {}, "to": {}, "up": {}, "us": {}, "we": {},
	"ab": {}, "ad": {}, "au": {}, "da": {}, "du": {}, "eh": {}, "ei": {}, "er": {},
	"es": {}, "ex": {}, "im": {}, "ja": {}, "je": {}, "la": {}, "ob": {}, "oh": {},
	"um": {}, "wo": {}, "zu": {},
}

// specialChars are punctuation characters that frequently appear in broken
// OCR output.
var specialChars = func() map[rune]struct{} {
	out := map[rune]struct{}{}
	for _, r := range "«»''‚„‹›¡¿¦§¨©ª¬®¯°±²³´µ¶·¸¹º¼½¾†‡•…‰€™" {
		out[r] = struct{}{}
	}
	return out
}()

// OCRQualityTagger computes artefact features characteristic of scanned and
// OCR-processed documents. Every ratio is clipped to [0, 1].
type OCRQualityTagger struct {
	stage.MapBase `yaml:",inline"`
}

// Apply implements stage.Map.
func (o *OCRQualityTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, o.On)
	if strings.TrimSpace(text) == "" {
		return r, row.Set(r, o.To, map[string]any{
			"spacing_anomaly_ratio":  0.0,
			"case_anomaly_ratio":     0.0,
			"word_fragment_ratio":    0.0,
			"line_artifact_ratio":    0.0,
			"special_char_density":   0.0,
			"repeated_char_ratio":    0.0,
			"numeric_context_errors": 0.0,
			"word_length_avg":        0.0,
			"word_length_std":        0.0,
			"ratio_very_short_words": 0.0,
			"ratio_very_long_words":  0.0,
		})
	}

	avg, std := lengthDistribution(text)
	short, long := lengthExtremes(text)

	stats := map[string]any{
		"spacing_anomaly_ratio":  spacingAnomalyRatio(text),
		"case_anomaly_ratio":     caseAnomalyRatio(text),
		"word_fragment_ratio":    wordFragmentRatio(text),
		"line_artifact_ratio":    lineArtifactRatio(text),
		"special_char_density":   specialCharDensity(text),
		"repeated_char_ratio":    repeatedCharRatio(text),
		"numeric_context_errors": numericContextErrors(text),
		"word_length_avg":        avg,
		"word_length_std":        std,
		"ratio_very_short_words": short,
		"ratio_very_long_words":  long,
	}
	return r, row.Set(r, o.To, stats)
}

func clip(v float64) float64 {
	return math.Min(v, 1.0)
}

func spacingAnomalyRatio(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0.0
	}
	anomalies := len(missingSpacesRe.FindAllString(text, -1)) +
		len(excessiveSpaceRe.FindAllString(text, -1)) +
		len(spacedWordsRe.FindAllString(text, -1)) +
		len(veryLongWordRe.FindAllString(text, -1))
	return clip(float64(anomalies) / float64(len(words)))
}

func isAlphaWord(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func caseAnomalyRatio(text string) float64 {
	alphaWords := 0
	for _, w := range strings.Fields(text) {
		if isAlphaWord(w) {
			alphaWords++
		}
	}
	if alphaWords == 0 {
		return 0.0
	}
	anomalies := len(randomCapsRe.FindAllString(text, -1)) +
		len(mixedCaseRe.FindAllString(text, -1))
	return clip(float64(anomalies) / float64(alphaWords))
}

func cleanWord(w string) string {
	var sb strings.Builder
	for _, r := range w {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func wordFragmentRatio(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0.0
	}
	fragments := 0
	for _, w := range words {
		clean := cleanWord(w)
		switch len([]rune(clean)) {
		case 1:
			if isAlphaWord(clean) {
				fragments++
			}
		case 2:
			if isAlphaWord(clean) {
				if _, ok := twoLetterWords[strings.ToLower(clean)]; !ok {
					fragments++
				}
			}
		}
	}
	return clip(float64(fragments) / float64(len(words)))
}

func lineArtifactRatio(text string) float64 {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return 0.0
	}
	artifacts := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len([]rune(line)) <= 2 ||
			symbolLineRe.MatchString(line) ||
			numberLineRe.MatchString(line) ||
			romanLineRe.MatchString(line) ||
			pageLineRe.MatchString(line) {
			artifacts++
		}
	}
	return clip(float64(artifacts) / float64(len(lines)))
}

func specialCharDensity(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0.0
	}
	unusual := 0
	for _, r := range runes {
		if _, ok := specialChars[r]; ok {
			unusual++
			continue
		}
		if (r >= 0x2000 && r <= 0x206F) || (r >= 0x2700 && r <= 0x27BF) {
			unusual++
		}
	}
	return clip(float64(unusual) / float64(len(runes)))
}

// repeatedCharRatio covers runs of a single character (4 or more) and short
// sequences of 2-5 characters repeated at least three times back to back.
// RE2 has no backreferences, so both scans are explicit.
func repeatedCharRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0.0
	}
	repeated := 0

	for i := 0; i < len(runes); {
		j := i + 1
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if j-i >= 4 {
			repeated += j - i
		}
		i = j
	}

	for i := 0; i < len(runes); {
		matched := 0
		for size := 5; size >= 2; size-- {
			k := 1
			for i+(k+1)*size <= len(runes) && string(runes[i+k*size:i+(k+1)*size]) == string(runes[i:i+size]) {
				k++
			}
			if k >= 3 {
				matched = k * size
				break
			}
		}
		if matched > 0 {
			repeated += matched
			i += matched
		} else {
			i++
		}
	}

	return clip(float64(repeated) / float64(len(runes)))
}

func numericContextErrors(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0.0
	}
	errors := 0
	for _, w := range words {
		if (digitInWordRe.MatchString(w) && !ordinalRe.MatchString(w)) || wordDigitsRe.MatchString(w) {
			errors++
		}
	}
	return clip(float64(errors) / float64(len(words)))
}

func lengthDistribution(text string) (avg, std float64) {
	var lengths []int
	for _, w := range strings.Fields(text) {
		if clean := cleanWord(w); clean != "" {
			lengths = append(lengths, len([]rune(clean)))
		}
	}
	if len(lengths) == 0 {
		return 0.0, 0.0
	}
	sum := 0
	for _, l := range lengths {
		sum += l
	}
	avg = float64(sum) / float64(len(lengths))
	if len(lengths) > 1 {
		var variance float64
		for _, l := range lengths {
			d := float64(l) - avg
			variance += d * d
		}
		std = math.Sqrt(variance / float64(len(lengths)))
	}
	return avg, std
}

func lengthExtremes(text string) (short, long float64) {
	var lengths []int
	for _, w := range strings.Fields(text) {
		if clean := cleanWord(w); clean != "" {
			lengths = append(lengths, len([]rune(clean)))
		}
	}
	if len(lengths) == 0 {
		return 0.0, 0.0
	}
	shortCount, longCount := 0, 0
	for _, l := range lengths {
		if l <= 1 {
			shortCount++
		}
		if l >= 15 {
			longCount++
		}
	}
	return float64(shortCount) / float64(len(lengths)), float64(longCount) / float64(len(lengths))
}
