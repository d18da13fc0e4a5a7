package aggregate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

func sumOn(name, on string) *SumAggregation {
	return &SumAggregation{ReduceBase: ReduceBase{StageName: name, On: on}}
}

func TestGroupedSum(t *testing.T) {
	rt := NewRuntime([]Reducer{sumOn("sum", "tok")}, []string{"lang"})

	require.NoError(t, rt.Add([]row.Row{
		{"lang": "en", "tok": 10},
		{"lang": "en", "tok": 20},
	}))
	require.NoError(t, rt.Add([]row.Row{
		{"lang": "de", "tok": 5},
	}))

	result, err := rt.Result()
	require.NoError(t, err)
	records := result.([]map[string]any)
	require.Len(t, records, 2)

	byLang := map[string]float64{}
	for _, rec := range records {
		byLang[rec["lang"].(string)] = rec["sum"].(float64)
	}
	assert.Equal(t, map[string]float64{"en": 30, "de": 5}, byLang)
}

func TestUngroupedResultIsSingleRecord(t *testing.T) {
	rt := NewRuntime([]Reducer{sumOn("total", "tok")}, nil)
	require.NoError(t, rt.Add([]row.Row{{"tok": 1}, {"tok": 2}}))
	require.NoError(t, rt.Add([]row.Row{{"tok": 3}}))

	result, err := rt.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": 6.0}, result)
}

func TestEmptyRuntimeFinalizesInit(t *testing.T) {
	rt := NewRuntime([]Reducer{sumOn("total", "tok")}, nil)
	result, err := rt.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": 0.0}, result)
}

func TestConcurrentAdds(t *testing.T) {
	rt := NewRuntime([]Reducer{sumOn("total", "tok")}, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = rt.Add([]row.Row{{"tok": 1}})
			}
		}()
	}
	wg.Wait()

	result, err := rt.Result()
	require.NoError(t, err)
	assert.Equal(t, 800.0, result.(map[string]any)["total"])
}

func TestGroupByNestedPath(t *testing.T) {
	rt := NewRuntime([]Reducer{sumOn("sum", "tok")}, []string{"metadata.lang"})
	require.NoError(t, rt.Add([]row.Row{
		{"metadata": map[string]any{"lang": "en"}, "tok": 7},
		{"metadata": map[string]any{"lang": "en"}, "tok": 3},
	}))

	result, err := rt.Result()
	require.NoError(t, err)
	records := result.([]map[string]any)
	require.Len(t, records, 1)
	assert.Equal(t, "en", records[0]["metadata.lang"])
	assert.Equal(t, 10.0, records[0]["sum"])
}

func TestWriteResultPrettyJSON(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "stats.json")

	rt := NewRuntime([]Reducer{sumOn("total", "tok")}, nil)
	require.NoError(t, rt.Add([]row.Row{{"tok": 4}}))

	result, err := rt.WriteResult(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": 4.0}, result)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"total\": 4\n}\n", string(data))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 4.0, decoded["total"])
}

func TestScalarAggregations(t *testing.T) {
	rows := []row.Row{
		{"v": 4.0}, {"v": -9.0}, {"v": 1.0}, {"v": 4.0}, {"other": true},
	}

	cases := []struct {
		typ    string
		params map[string]any
		want   any
	}{
		{"sum", map[string]any{"name": "x", "on": "v"}, 0.0},
		{"count", map[string]any{"name": "x", "on": "v"}, int64(4)},
		{"mean", map[string]any{"name": "x", "on": "v"}, 0.0},
		{"min", map[string]any{"name": "x", "on": "v"}, -9.0},
		{"max", map[string]any{"name": "x", "on": "v"}, 4.0},
		{"absmax", map[string]any{"name": "x", "on": "v"}, -9.0},
		{"unique", map[string]any{"name": "x", "on": "v"}, []string{"-9", "1", "4"}},
	}
	for _, tc := range cases {
		c, err := registry.Construct("aggregation", tc.typ, tc.params)
		require.NoError(t, err, tc.typ)
		reducer := c.(Reducer)

		acc, err := reducer.Accumulate(rows)
		require.NoError(t, err)
		combined, err := reducer.Combine(reducer.Init(), acc)
		require.NoError(t, err)
		got, err := reducer.Finalize(combined)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.typ)
	}
}

func TestStdAggregation(t *testing.T) {
	std := &StdAggregation{ReduceBase: ReduceBase{StageName: "std", On: "v"}}

	left, err := std.Accumulate([]row.Row{{"v": 2.0}, {"v": 4.0}})
	require.NoError(t, err)
	right, err := std.Accumulate([]row.Row{{"v": 4.0}, {"v": 6.0}})
	require.NoError(t, err)
	merged, err := std.Combine(left, right)
	require.NoError(t, err)
	got, err := std.Finalize(merged)
	require.NoError(t, err)

	// Population std of {2,4,4,6} is sqrt(2).
	assert.InDelta(t, 1.4142, got.(float64), 1e-3)
}

func TestQuantileAggregation(t *testing.T) {
	q := &QuantileAggregation{ReduceBase: ReduceBase{StageName: "median", On: "v"}, Q: 0.5}

	acc, err := q.Accumulate([]row.Row{{"v": 1.0}, {"v": 3.0}, {"v": 2.0}})
	require.NoError(t, err)
	got, err := q.Finalize(acc)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	empty, err := q.Finalize(q.Init())
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestCounterAggregation(t *testing.T) {
	topK := 2
	counter := &CounterAggregation{ReduceBase: ReduceBase{StageName: "sources", On: "source"}, TopK: &topK}

	left, err := counter.Accumulate([]row.Row{
		{"source": "web"}, {"source": "web"}, {"source": "books"},
	})
	require.NoError(t, err)
	right, err := counter.Accumulate([]row.Row{
		{"source": "web"}, {"source": "wiki"}, {"source": "books"}, {"no_source": true},
	})
	require.NoError(t, err)

	merged, err := counter.Combine(counter.Init(), left)
	require.NoError(t, err)
	merged, err = counter.Combine(merged, right)
	require.NoError(t, err)

	got, err := counter.Finalize(merged)
	require.NoError(t, err)
	assert.Equal(t, []CounterEntry{{Value: "web", Count: 3}, {Value: "books", Count: 2}}, got)
}

func TestCounterKeepsAllWithoutTopK(t *testing.T) {
	counter := &CounterAggregation{ReduceBase: ReduceBase{StageName: "sources", On: "source"}}
	acc, err := counter.Accumulate([]row.Row{{"source": "a"}, {"source": "b"}})
	require.NoError(t, err)
	got, err := counter.Finalize(acc)
	require.NoError(t, err)
	assert.Len(t, got.([]CounterEntry), 2)
}
