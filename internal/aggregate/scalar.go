package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

func init() {
	registry.Register("aggregation", "sum", func() any {
		return &SumAggregation{ReduceBase: ReduceBase{StageName: "sum", On: "num_tokens"}}
	})
	registry.Register("aggregation", "count", func() any {
		return &CountAggregation{ReduceBase: ReduceBase{StageName: "count", On: "id"}}
	})
	registry.Register("aggregation", "mean", func() any {
		return &MeanAggregation{ReduceBase: ReduceBase{StageName: "mean", On: "num_tokens"}}
	})
	registry.Register("aggregation", "min", func() any {
		return &MinAggregation{ReduceBase: ReduceBase{StageName: "min", On: "num_tokens"}}
	})
	registry.Register("aggregation", "max", func() any {
		return &MaxAggregation{ReduceBase: ReduceBase{StageName: "max", On: "num_tokens"}}
	})
	registry.Register("aggregation", "absmax", func() any {
		return &AbsMaxAggregation{ReduceBase: ReduceBase{StageName: "absmax", On: "num_tokens"}}
	})
	registry.Register("aggregation", "std", func() any {
		return &StdAggregation{ReduceBase: ReduceBase{StageName: "std", On: "num_tokens"}}
	})
	registry.Register("aggregation", "unique", func() any {
		return &UniqueAggregation{ReduceBase: ReduceBase{StageName: "unique", On: "source"}}
	})
	registry.Register("aggregation", "quantile", func() any {
		return &QuantileAggregation{ReduceBase: ReduceBase{StageName: "quantile", On: "num_tokens"}, Q: 0.5}
	})
}

func numericColumn(rows []row.Row, field string) []float64 {
	path := row.ParsePath(field)
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := asFloat(path.Get(r)); ok {
			out = append(out, v)
		}
	}
	return out
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

// SumAggregation sums a numeric column.
type SumAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *SumAggregation) Init() any { return float64(0) }

func (a *SumAggregation) Accumulate(rows []row.Row) (any, error) {
	var sum float64
	for _, v := range numericColumn(rows, a.On) {
		sum += v
	}
	return sum, nil
}

func (a *SumAggregation) Combine(x, y any) (any, error) {
	return x.(float64) + y.(float64), nil
}

func (a *SumAggregation) Finalize(acc any) (any, error) { return acc, nil }

// CountAggregation counts non-null values of a column.
type CountAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *CountAggregation) Init() any { return int64(0) }

func (a *CountAggregation) Accumulate(rows []row.Row) (any, error) {
	path := row.ParsePath(a.On)
	var n int64
	for _, r := range rows {
		if path.Get(r) != nil {
			n++
		}
	}
	return n, nil
}

func (a *CountAggregation) Combine(x, y any) (any, error) {
	return x.(int64) + y.(int64), nil
}

func (a *CountAggregation) Finalize(acc any) (any, error) { return acc, nil }

// meanAcc is the combinable accumulator for means.
type meanAcc struct {
	sum float64
	n   int64
}

// MeanAggregation averages a numeric column.
type MeanAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *MeanAggregation) Init() any { return meanAcc{} }

func (a *MeanAggregation) Accumulate(rows []row.Row) (any, error) {
	acc := meanAcc{}
	for _, v := range numericColumn(rows, a.On) {
		acc.sum += v
		acc.n++
	}
	return acc, nil
}

func (a *MeanAggregation) Combine(x, y any) (any, error) {
	xa, ya := x.(meanAcc), y.(meanAcc)
	return meanAcc{sum: xa.sum + ya.sum, n: xa.n + ya.n}, nil
}

func (a *MeanAggregation) Finalize(acc any) (any, error) {
	m := acc.(meanAcc)
	if m.n == 0 {
		return 0.0, nil
	}
	return m.sum / float64(m.n), nil
}

// extremeAcc tracks an extreme value and whether one was seen.
type extremeAcc struct {
	value float64
	seen  bool
}

// MinAggregation tracks the minimum of a numeric column.
type MinAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *MinAggregation) Init() any { return extremeAcc{} }

func (a *MinAggregation) Accumulate(rows []row.Row) (any, error) {
	acc := extremeAcc{}
	for _, v := range numericColumn(rows, a.On) {
		if !acc.seen || v < acc.value {
			acc = extremeAcc{value: v, seen: true}
		}
	}
	return acc, nil
}

func (a *MinAggregation) Combine(x, y any) (any, error) {
	return combineExtreme(x.(extremeAcc), y.(extremeAcc), func(a, b float64) bool { return a < b }), nil
}

func (a *MinAggregation) Finalize(acc any) (any, error) { return finalizeExtreme(acc.(extremeAcc)), nil }

// MaxAggregation tracks the maximum of a numeric column.
type MaxAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *MaxAggregation) Init() any { return extremeAcc{} }

func (a *MaxAggregation) Accumulate(rows []row.Row) (any, error) {
	acc := extremeAcc{}
	for _, v := range numericColumn(rows, a.On) {
		if !acc.seen || v > acc.value {
			acc = extremeAcc{value: v, seen: true}
		}
	}
	return acc, nil
}

func (a *MaxAggregation) Combine(x, y any) (any, error) {
	return combineExtreme(x.(extremeAcc), y.(extremeAcc), func(a, b float64) bool { return a > b }), nil
}

func (a *MaxAggregation) Finalize(acc any) (any, error) { return finalizeExtreme(acc.(extremeAcc)), nil }

// AbsMaxAggregation tracks the largest absolute value of a numeric column.
type AbsMaxAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *AbsMaxAggregation) Init() any { return extremeAcc{} }

func (a *AbsMaxAggregation) Accumulate(rows []row.Row) (any, error) {
	acc := extremeAcc{}
	for _, v := range numericColumn(rows, a.On) {
		if !acc.seen || math.Abs(v) > math.Abs(acc.value) {
			acc = extremeAcc{value: v, seen: true}
		}
	}
	return acc, nil
}

func (a *AbsMaxAggregation) Combine(x, y any) (any, error) {
	return combineExtreme(x.(extremeAcc), y.(extremeAcc), func(a, b float64) bool {
		return math.Abs(a) > math.Abs(b)
	}), nil
}

func (a *AbsMaxAggregation) Finalize(acc any) (any, error) {
	return finalizeExtreme(acc.(extremeAcc)), nil
}

func combineExtreme(x, y extremeAcc, better func(a, b float64) bool) extremeAcc {
	switch {
	case !x.seen:
		return y
	case !y.seen:
		return x
	case better(y.value, x.value):
		return y
	default:
		return x
	}
}

func finalizeExtreme(acc extremeAcc) any {
	if !acc.seen {
		return nil
	}
	return acc.value
}

// stdAcc is a combinable Welford accumulator.
type stdAcc struct {
	n    int64
	mean float64
	m2   float64
}

func (s stdAcc) add(v float64) stdAcc {
	s.n++
	delta := v - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (v - s.mean)
	return s
}

func (s stdAcc) merge(o stdAcc) stdAcc {
	if s.n == 0 {
		return o
	}
	if o.n == 0 {
		return s
	}
	n := s.n + o.n
	delta := o.mean - s.mean
	return stdAcc{
		n:    n,
		mean: s.mean + delta*float64(o.n)/float64(n),
		m2:   s.m2 + o.m2 + delta*delta*float64(s.n)*float64(o.n)/float64(n),
	}
}

// StdAggregation computes the standard deviation of a numeric column with
// n - ddof in the denominator; the default ddof of 0 gives the population
// standard deviation, ddof 1 the sample one.
type StdAggregation struct {
	ReduceBase `yaml:",inline"`
	DDof       int `yaml:"ddof" validate:"omitempty,oneof=0 1"`
}

func (a *StdAggregation) Init() any { return stdAcc{} }

func (a *StdAggregation) Accumulate(rows []row.Row) (any, error) {
	acc := stdAcc{}
	for _, v := range numericColumn(rows, a.On) {
		acc = acc.add(v)
	}
	return acc, nil
}

func (a *StdAggregation) Combine(x, y any) (any, error) {
	return x.(stdAcc).merge(y.(stdAcc)), nil
}

func (a *StdAggregation) Finalize(acc any) (any, error) {
	s := acc.(stdAcc)
	denom := s.n - int64(a.DDof)
	if denom <= 0 {
		return 0.0, nil
	}
	return math.Sqrt(s.m2 / float64(denom)), nil
}

// UniqueAggregation collects the distinct values of a column.
type UniqueAggregation struct {
	ReduceBase `yaml:",inline"`
}

func (a *UniqueAggregation) Init() any { return map[string]struct{}{} }

func (a *UniqueAggregation) Accumulate(rows []row.Row) (any, error) {
	path := row.ParsePath(a.On)
	acc := map[string]struct{}{}
	for _, r := range rows {
		if v := path.Get(r); v != nil {
			acc[fmt.Sprint(v)] = struct{}{}
		}
	}
	return acc, nil
}

func (a *UniqueAggregation) Combine(x, y any) (any, error) {
	xs, ys := x.(map[string]struct{}), y.(map[string]struct{})
	for v := range ys {
		xs[v] = struct{}{}
	}
	return xs, nil
}

func (a *UniqueAggregation) Finalize(acc any) (any, error) {
	set := acc.(map[string]struct{})
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// QuantileAggregation computes the q-quantile of a numeric column. The
// accumulator holds all values, so it is meant for modest cardinalities.
type QuantileAggregation struct {
	ReduceBase `yaml:",inline"`
	Q          float64 `yaml:"q" validate:"gte=0,lte=1"`
}

func (a *QuantileAggregation) Init() any { return []float64(nil) }

func (a *QuantileAggregation) Accumulate(rows []row.Row) (any, error) {
	return numericColumn(rows, a.On), nil
}

func (a *QuantileAggregation) Combine(x, y any) (any, error) {
	return append(x.([]float64), y.([]float64)...), nil
}

func (a *QuantileAggregation) Finalize(acc any) (any, error) {
	values := acc.([]float64)
	if len(values) == 0 {
		return nil, nil
	}
	sort.Float64s(values)
	idx := a.Q * float64(len(values)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return values[lo], nil
	}
	frac := idx - float64(lo)
	return values[lo]*(1-frac) + values[hi]*frac, nil
}
