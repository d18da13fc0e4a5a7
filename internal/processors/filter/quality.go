package filter

import (
	"context"
	"fmt"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("filter", "gopher_quality", func() any {
		return &GopherQualityFilter{
			FilterBase:            stage.FilterBase{StageName: "gopher_quality", On: "metadata.gopher_quality", IfMissing: true},
			MinAvgWordLength:      4.8,
			MaxAvgWordLength:      7.3,
			MaxSymbolWordRatio:    0.1,
			MaxBulletLineRatio:    0.7,
			MaxEllipsisLineRatio:  0.3,
			MaxNonAlphaWordsRatio: 0.99,
			MinStopWords:          6,
		}
	})
	registry.Register("filter", "gopher_repetition", func() any {
		return &GopherRepetitionFilter{
			FilterBase:         stage.FilterBase{StageName: "gopher_repetition", On: "metadata.gopher_repetition", IfMissing: true},
			MaxDupLineFrac:     ptr(0.25),
			MaxDupParaFrac:     ptr(0.3),
			MaxDupLineCharFrac: ptr(0.15),
			MaxDupParaCharFrac: ptr(0.2),
			TopNGramThresholds: [][2]float64{{2, 0.07}, {3, 0.10}, {4, 0.13}},
			DupNGramThresholds: [][2]float64{{5, 0.39}, {6, 0.39}, {7, 0.38}, {8, 0.38}, {9, 0.37}, {10, 0.37}},
		}
	})
	registry.Register("filter", "ocr_quality", func() any {
		return &OCRQualityFilter{
			FilterBase:              stage.FilterBase{StageName: "ocr_quality", On: "metadata.ocr_quality", IfMissing: true},
			MaxSpacingAnomalyRatio:  0.15,
			MaxCaseAnomalyRatio:     0.10,
			MaxWordFragmentRatio:    0.20,
			MaxLineArtifactRatio:    0.25,
			MaxSpecialCharDensity:   0.03,
			MaxRepeatedCharRatio:    0.05,
			MaxNumericContextErrors: 0.08,
			MaxAvgLength:            9,
			MinAvgLength:            5,
			MaxStdLength:            5,
			MinStdLength:            1,
			MaxRatioShort:           0.1,
			MaxRatioLong:            0.1,
			FilterMode:              "any",
		}
	})
}

func ptr(v float64) *float64 { return &v }

// statRecord wraps a tag output record with defaulting lookups.
type statRecord map[string]any

func statsAt(r row.Row, field string) statRecord {
	stats, _ := row.Get(r, field).(map[string]any)
	return statRecord(stats)
}

func (s statRecord) get(key string, fallback float64) float64 {
	if v, ok := s[key]; ok {
		if f, ok := asFloat(v); ok {
			return f
		}
	}
	return fallback
}

// GopherQualityFilter drops rows whose quality metrics violate the Gopher
// thresholds.
type GopherQualityFilter struct {
	stage.FilterBase `yaml:",inline"`

	MinAvgWordLength      float64 `yaml:"min_avg_word_length" validate:"gt=0"`
	MaxAvgWordLength      float64 `yaml:"max_avg_word_length" validate:"gt=0"`
	MaxSymbolWordRatio    float64 `yaml:"max_symbol_word_ratio" validate:"gte=0,lte=1"`
	MaxBulletLineRatio    float64 `yaml:"max_bullet_line_ratio" validate:"gte=0,lte=1"`
	MaxEllipsisLineRatio  float64 `yaml:"max_ellipsis_line_ratio" validate:"gte=0,lte=1"`
	MaxNonAlphaWordsRatio float64 `yaml:"max_non_alpha_words_ratio" validate:"gte=0,lte=1"`
	MinStopWords          int     `yaml:"min_stop_words" validate:"gte=0"`
}

// Keep implements stage.Filter.
func (g *GopherQualityFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	stats := statsAt(r, g.On)
	if stats == nil {
		return g.IfMissing, nil
	}
	bad := stats.get("stop_word_count", 100000) < float64(g.MinStopWords) ||
		1-stats.get("alpha_word_ratio", 1) > g.MaxNonAlphaWordsRatio ||
		stats.get("ellipsis_line_ratio", 0) > g.MaxEllipsisLineRatio ||
		stats.get("bullet_line_ratio", 0) > g.MaxBulletLineRatio ||
		stats.get("avg_word_length", 0) > g.MaxAvgWordLength ||
		stats.get("avg_word_length", 100) < g.MinAvgWordLength ||
		stats.get("ellipsis_ratio", 0) > g.MaxSymbolWordRatio ||
		stats.get("hash_ratio", 0) > g.MaxSymbolWordRatio
	return !bad, nil
}

// GopherRepetitionFilter drops rows with excessive repetition. The n-gram
// term combination mirrors the documented behavior pending owner
// confirmation of the suspected inversion.
type GopherRepetitionFilter struct {
	stage.FilterBase `yaml:",inline"`

	MaxDupLineFrac     *float64 `yaml:"max_dup_line_frac" validate:"omitempty,gte=0,lte=1"`
	MaxDupParaFrac     *float64 `yaml:"max_dup_para_frac" validate:"omitempty,gte=0,lte=1"`
	MaxDupLineCharFrac *float64 `yaml:"max_dup_line_char_frac" validate:"omitempty,gte=0,lte=1"`
	MaxDupParaCharFrac *float64 `yaml:"max_dup_para_char_frac" validate:"omitempty,gte=0,lte=1"`

	TopNGramThresholds [][2]float64 `yaml:"top_n_gram_thresholds"`
	DupNGramThresholds [][2]float64 `yaml:"dup_n_gram_thresholds"`
}

// Keep implements stage.Filter.
func (g *GopherRepetitionFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	stats := statsAt(r, g.On)
	if stats == nil {
		return g.IfMissing, nil
	}

	if g.MaxDupLineFrac != nil && stats.get("dup_line_frac", 0) > *g.MaxDupLineFrac {
		return false, nil
	}
	if g.MaxDupLineCharFrac != nil && stats.get("dup_line_char_frac", 0) > *g.MaxDupLineCharFrac {
		return false, nil
	}
	if g.MaxDupParaFrac != nil && stats.get("dup_para_frac", 0) > *g.MaxDupParaFrac {
		return false, nil
	}
	if g.MaxDupParaCharFrac != nil && stats.get("dup_para_char_frac", 0) > *g.MaxDupParaCharFrac {
		return false, nil
	}

	top := true
	for _, pair := range g.TopNGramThresholds {
		key := fmt.Sprintf("top_%d_gram_char_frac", int(pair[0]))
		if stats.get(key, 0) <= pair[1] {
			top = false
			break
		}
	}
	dup := true
	for _, pair := range g.DupNGramThresholds {
		key := fmt.Sprintf("dup_%d_gram_char_frac", int(pair[0]))
		if stats.get(key, 0) > pair[1] {
			dup = false
			break
		}
	}
	return top || dup, nil
}

// OCRQualityFilter drops rows whose OCR artefact features exceed the
// configured thresholds. FilterMode sets how many features must trip:
// "any" drops on a single exceedance, "maj" on a majority, "all" only when
// every feature trips.
type OCRQualityFilter struct {
	stage.FilterBase `yaml:",inline"`

	MaxSpacingAnomalyRatio  float64 `yaml:"max_spacing_anomaly_ratio" validate:"gte=0,lte=1"`
	MaxCaseAnomalyRatio     float64 `yaml:"max_case_anomaly_ratio" validate:"gte=0,lte=1"`
	MaxWordFragmentRatio    float64 `yaml:"max_word_fragment_ratio" validate:"gte=0,lte=1"`
	MaxLineArtifactRatio    float64 `yaml:"max_line_artifact_ratio" validate:"gte=0,lte=1"`
	MaxSpecialCharDensity   float64 `yaml:"max_special_char_density" validate:"gte=0,lte=1"`
	MaxRepeatedCharRatio    float64 `yaml:"max_repeated_char_ratio" validate:"gte=0,lte=1"`
	MaxNumericContextErrors float64 `yaml:"max_numeric_context_errors" validate:"gte=0,lte=1"`
	MaxAvgLength            float64 `yaml:"max_avg_length" validate:"gte=0"`
	MinAvgLength            float64 `yaml:"min_avg_length" validate:"gte=0"`
	MaxStdLength            float64 `yaml:"max_std_length" validate:"gte=0"`
	MinStdLength            float64 `yaml:"min_std_length" validate:"gte=0"`
	MaxRatioShort           float64 `yaml:"max_ratio_short" validate:"gte=0"`
	MaxRatioLong            float64 `yaml:"max_ratio_long" validate:"gte=0"`

	FilterMode string `yaml:"filter_mode" validate:"oneof=any maj all"`
}

// Keep implements stage.Filter.
func (o *OCRQualityFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	stats := statsAt(r, o.On)
	if stats == nil {
		return o.IfMissing, nil
	}

	hits := []bool{
		stats.get("spacing_anomaly_ratio", 0) > o.MaxSpacingAnomalyRatio,
		stats.get("case_anomaly_ratio", 0) > o.MaxCaseAnomalyRatio,
		stats.get("word_fragment_ratio", 0) > o.MaxWordFragmentRatio,
		stats.get("line_artifact_ratio", 0) > o.MaxLineArtifactRatio,
		stats.get("special_char_density", 0) > o.MaxSpecialCharDensity,
		stats.get("repeated_char_ratio", 0) > o.MaxRepeatedCharRatio,
		stats.get("numeric_context_errors", 0) > o.MaxNumericContextErrors,
		stats.get("word_length_avg", 0) > o.MaxAvgLength,
		stats.get("word_length_avg", 0) < o.MinAvgLength,
		stats.get("word_length_std", 0) > o.MaxStdLength,
		stats.get("word_length_std", 0) < o.MinStdLength,
		stats.get("ratio_very_short_words", 0) > o.MaxRatioShort,
		stats.get("ratio_very_long_words", 0) > o.MaxRatioLong,
	}

	tripped := 0
	for _, hit := range hits {
		if hit {
			tripped++
		}
	}
	switch o.FilterMode {
	case "any":
		return tripped == 0, nil
	case "maj":
		return tripped*2 < len(hits), nil
	default: // all
		return tripped < len(hits), nil
	}
}
