package format

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

func init() {
	registry.Register("format", "pii", func() any {
		return &RegexPIIFormatter{
			MapBase:             stage.MapBase{StageName: "pii_formatter", On: "text", To: "text"},
			EntityTypes:         []string{"CREDIT_CARD", "IP_ADDRESS", "EMAIL_ADDRESS", "PHONE_NUMBER", "IBAN_CODE", "URL"},
			Language:            "de",
			AnonymizationMethod: "replace",
		}
	})
}

// piiDefaults are safe replacement values per language: testing numbers,
// documentation address blocks, and blackhole domains.
var piiDefaults = map[string]map[string]string{
	"en": {
		"CREDIT_CARD":   "4242 4242 4242 4242",
		"IP_ADDRESS":    "192.0.2.255",
		"EMAIL_ADDRESS": "name@example.com",
		"PHONE_NUMBER":  "+1 123 456 7890",
		"IBAN_CODE":     "GB29 NWBK60 1613 3192 6819",
		"URL":           "https://www.example.com",
	},
	"de": {
		"CREDIT_CARD":   "4242 4242 4242 4242",
		"IP_ADDRESS":    "192.0.2.255",
		"EMAIL_ADDRESS": "name@beispiel.de",
		"PHONE_NUMBER":  "+49 123 45678910",
		"IBAN_CODE":     "DE02 1203 0000 0000 2020 51",
		"URL":           "https://www.beispiel.de",
	},
}

// ibanPatterns are per-country IBAN layouts with optional grouping spaces.
var ibanPatterns = []string{
	`AT\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}`,
	`BE\d{2}\s?\d{4}\s?\d{4}\s?\d{4}`,
	`CH\d{2}\s?\d{4}\s?\d[a-zA-Z0-9]{3}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]`,
	`CZ\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}`,
	`DE\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{2}`,
	`DK\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{2}`,
	`ES\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}`,
	`FI\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{2}`,
	`FR\d{2}\s?\d{4}\s?\d{4}\s?\d{2}[a-zA-Z0-9]{2}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]\d{2}`,
	`GB\d{2}\s?[A-Z]{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{2}`,
	`IE\d{2}\s?[A-Z]{4}\s?\d{4}\s?\d{4}\s?\d{2}`,
	`IT\d{2}\s?[A-Z]\d{3}\s?\d{4}\s?\d{3}[a-zA-Z0-9]\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{3}`,
	`LI\d{2}\s?\d{4}\s?\d[a-zA-Z0-9]{3}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]`,
	`LU\d{2}\s?\d{3}[a-zA-Z0-9]\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{4}\s?[a-zA-Z0-9]{4}`,
	`NL\d{2}\s?[A-Z]{4}\s?\d{4}\s?\d{4}\s?\d{2}`,
	`NO\d{2}\s?\d{4}\s?\d{4}\s?\d{3}`,
	`PL\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}`,
	`PT\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d`,
	`SE\d{2}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{4}`,
}

var piiPatterns = map[string]*regexp.Regexp{
	"CREDIT_CARD":   regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
	"IBAN_CODE":     regexp.MustCompile(`\b(?:` + strings.Join(ibanPatterns, "|") + `)\b`),
	"EMAIL_ADDRESS": regexp.MustCompile(`[.\s@,?!;:)(]*[^\s@]+@[^\s@,?!;:)(]+?[.\s@,?!;:)(]?[\s\n\r]`),
	"PHONE_NUMBER":  regexp.MustCompile(`\s+\(?(\d{3})\)?[-. ]*(\d{3})[-. ]?(\d{4})`),
	"IP_ADDRESS":    regexp.MustCompile(`(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`),
	"URL":           regexp.MustCompile(`(?i)\b(?:https?://|www\d{0,3}[.]|[a-z0-9.\-]+[.][a-z]{2,4}/)[^\s()<>]+`),
}

// RegexPIIFormatter removes personal identifiable information from text
// using regular expression matching.
type RegexPIIFormatter struct {
	stage.MapBase `yaml:",inline"`

	EntityTypes         []string `yaml:"entity_types" validate:"min=1,dive,oneof=CREDIT_CARD IP_ADDRESS EMAIL_ADDRESS PHONE_NUMBER IBAN_CODE URL"`
	Language            string   `yaml:"language" validate:"oneof=en de"`
	AnonymizationMethod string   `yaml:"anonymization_method" validate:"oneof=redact replace"`

	// Flag optionally names a column that records whether any PII was found.
	Flag string `yaml:"flag"`
}

// Apply implements stage.Map.
func (p *RegexPIIFormatter) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, p.On)
	if text == "" {
		return r, nil
	}

	processed := text
	defaults := piiDefaults[p.Language]
	for _, entity := range p.EntityTypes {
		pattern, ok := piiPatterns[entity]
		if !ok {
			continue
		}
		if p.AnonymizationMethod == "redact" {
			processed = pattern.ReplaceAllString(processed, "")
		} else {
			processed = pattern.ReplaceAllString(processed, defaults[entity])
		}
	}

	if err := row.Set(r, p.To, processed); err != nil {
		return nil, err
	}
	if p.Flag != "" {
		if err := row.Set(r, p.Flag, processed != text); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Anonymizer maps text to its anonymized form. External engines (e.g. a
// Presidio service) plug in here.
type Anonymizer func(ctx context.Context, text string) (string, error)

// AnonymizerPool bounds the concurrency of an external anonymizer so a
// fleet of workers cannot overload the backing service.
type AnonymizerPool struct {
	fn  Anonymizer
	sem *semaphore.Weighted
}

// NewAnonymizerPool wraps fn with a concurrency cap.
func NewAnonymizerPool(fn Anonymizer, maxConcurrent int64) *AnonymizerPool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &AnonymizerPool{fn: fn, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Anonymize dispatches one text through the pool, blocking while the pool
// is saturated. Acquisition failures are transient.
func (p *AnonymizerPool) Anonymize(ctx context.Context, text string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", llmerrors.NewTransientError("anonymize", "", err)
	}
	defer p.sem.Release(1)
	return p.fn(ctx, text)
}
