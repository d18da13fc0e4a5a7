package aggregate

import (
	"fmt"
	"sort"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

func init() {
	registry.Register("aggregation", "counter", func() any {
		return &CounterAggregation{ReduceBase: ReduceBase{StageName: "counter", On: "source"}}
	})
}

// CounterEntry is one finalized multiset element.
type CounterEntry struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// CounterAggregation counts occurrences of a column's values across the
// dataset. The accumulator is a string multiset; finalization keeps the
// top-K entries by count (nil K keeps everything).
type CounterAggregation struct {
	ReduceBase `yaml:",inline"`
	TopK       *int `yaml:"top_k" validate:"omitempty,gt=0"`
}

func (a *CounterAggregation) Init() any { return map[string]int64{} }

func (a *CounterAggregation) Accumulate(rows []row.Row) (any, error) {
	path := row.ParsePath(a.On)
	acc := map[string]int64{}
	for _, r := range rows {
		v := path.Get(r)
		if v == nil {
			continue
		}
		acc[fmt.Sprint(v)]++
	}
	return acc, nil
}

func (a *CounterAggregation) Combine(x, y any) (any, error) {
	xs, ys := x.(map[string]int64), y.(map[string]int64)
	for v, n := range ys {
		xs[v] += n
	}
	return xs, nil
}

func (a *CounterAggregation) Finalize(acc any) (any, error) {
	counts := acc.(map[string]int64)
	entries := make([]CounterEntry, 0, len(counts))
	for v, n := range counts {
		entries = append(entries, CounterEntry{Value: v, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Value < entries[j].Value
	})
	if a.TopK != nil && len(entries) > *a.TopK {
		entries = entries[:*a.TopK]
	}
	return entries, nil
}
