// Package filter implements the predicate stages that decide which rows
// survive processing.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

func init() {
	registry.Register("filter", "value", func() any {
		return &ValueFilter{
			FilterBase: stage.FilterBase{StageName: "value_filter", On: "text"},
			Comparator: "eq",
		}
	})
	registry.Register("filter", "exists", func() any {
		return &ExistsFilter{FilterBase: stage.FilterBase{StageName: "exists_filter", On: "text"}}
	})
}

// ValueFilter compares the input column against a configured value.
type ValueFilter struct {
	stage.FilterBase `yaml:",inline"`
	Value            any    `yaml:"value"`
	Comparator       string `yaml:"comparator" validate:"oneof=eq neq gt lt gte lte inl inr ninl ninr"`
}

// Keep implements stage.Filter.
func (v *ValueFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	got := row.Get(r, v.On)
	if got == nil {
		return v.IfMissing, nil
	}
	switch v.Comparator {
	case "eq":
		return got == v.Value || v.IfMissing, nil
	case "neq":
		return got != v.Value || v.IfMissing, nil
	case "gt", "lt", "gte", "lte":
		return v.compareNumeric(got)
	case "inr":
		return containsValue(v.Value, got) || v.IfMissing, nil
	case "inl":
		return containsValue(got, v.Value) || v.IfMissing, nil
	case "ninr":
		return !containsValue(v.Value, got) || v.IfMissing, nil
	case "ninl":
		return !containsValue(got, v.Value) || v.IfMissing, nil
	default:
		return v.IfMissing, nil
	}
}

func (v *ValueFilter) compareNumeric(got any) (bool, error) {
	left, ok := asFloat(got)
	if !ok {
		return v.IfMissing, nil
	}
	right, ok := asFloat(v.Value)
	if !ok {
		return false, llmerrors.NewConfigError("filter.value.value", "a number", fmt.Sprintf("%v", v.Value))
	}
	switch v.Comparator {
	case "gt":
		return left > right || v.IfMissing, nil
	case "lt":
		return left < right || v.IfMissing, nil
	case "gte":
		return left >= right || v.IfMissing, nil
	default:
		return left <= right || v.IfMissing, nil
	}
}

// containsValue reports whether container holds item: substring match for
// strings, element match for sequences.
func containsValue(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, el := range c {
			if el == item {
				return true
			}
		}
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		for _, el := range c {
			if el == s {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ExistsFilter keeps rows where the input column is present.
type ExistsFilter struct {
	stage.FilterBase `yaml:",inline"`
}

// Keep implements stage.Filter.
func (e *ExistsFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	return row.Get(r, e.On) != nil, nil
}
