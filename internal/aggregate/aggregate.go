// Package aggregate implements the cross-partition reduction runtime:
// reducers expose init/accumulate/combine/finalize, the runtime folds
// per-partition partials, optionally keyed by a group-by projection.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coral-nlp/llmdata/internal/filesystem"
	"github.com/coral-nlp/llmdata/internal/row"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Reducer is the contract every aggregation implements. Accumulate must be
// pure on its input rows; Combine must be associative and commutative. The
// runtime may run Accumulate for different partitions concurrently.
type Reducer interface {
	Name() string
	Init() any
	Accumulate(rows []row.Row) (any, error)
	Combine(a, b any) (any, error)
	Finalize(acc any) (any, error)
}

// ReduceBase carries the fields shared by every aggregation.
type ReduceBase struct {
	StageName string `yaml:"name"`
	On        string `yaml:"on"`
}

// Name returns the configured aggregation name.
func (b ReduceBase) Name() string { return b.StageName }

const groupKeySep = "\x1f"

// Runtime accumulates partitions across workers and produces the final
// aggregation output. It is safe for concurrent use: partials are computed
// outside the lock and merged under it.
type Runtime struct {
	reducers []Reducer
	groupBy  []row.Path

	mu     sync.Mutex
	groups map[string]*groupState
}

type groupState struct {
	fields map[string]any
	accs   []any
}

// NewRuntime builds a runtime over the given reducers. groupBy lists dotted
// column paths; empty means a single global group.
func NewRuntime(reducers []Reducer, groupBy []string) *Runtime {
	paths := make([]row.Path, len(groupBy))
	for i, col := range groupBy {
		paths[i] = row.ParsePath(col)
	}
	return &Runtime{
		reducers: reducers,
		groupBy:  paths,
		groups:   make(map[string]*groupState),
	}
}

// Empty reports whether the runtime has no reducers configured.
func (rt *Runtime) Empty() bool { return len(rt.reducers) == 0 }

// Add folds one partition into the runtime.
func (rt *Runtime) Add(rows []row.Row) error {
	if rt.Empty() || len(rows) == 0 {
		return nil
	}

	type partial struct {
		fields map[string]any
		accs   []any
	}
	partials := make(map[string]*partial)

	for key, grouped := range rt.split(rows) {
		p := &partial{fields: grouped.fields, accs: make([]any, len(rt.reducers))}
		for i, reducer := range rt.reducers {
			acc, err := reducer.Accumulate(grouped.rows)
			if err != nil {
				return err
			}
			p.accs[i] = acc
		}
		partials[key] = p
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	for key, p := range partials {
		state, ok := rt.groups[key]
		if !ok {
			accs := make([]any, len(rt.reducers))
			for i, reducer := range rt.reducers {
				accs[i] = reducer.Init()
			}
			state = &groupState{fields: p.fields, accs: accs}
			rt.groups[key] = state
		}
		for i, reducer := range rt.reducers {
			combined, err := reducer.Combine(state.accs[i], p.accs[i])
			if err != nil {
				return err
			}
			state.accs[i] = combined
		}
	}
	return nil
}

type groupedRows struct {
	fields map[string]any
	rows   []row.Row
}

func (rt *Runtime) split(rows []row.Row) map[string]*groupedRows {
	out := make(map[string]*groupedRows)
	if len(rt.groupBy) == 0 {
		out[""] = &groupedRows{rows: rows}
		return out
	}
	for _, r := range rows {
		parts := make([]string, len(rt.groupBy))
		fields := make(map[string]any, len(rt.groupBy))
		for i, path := range rt.groupBy {
			value := path.Get(r)
			parts[i] = fmt.Sprint(value)
			fields[path.String()] = value
		}
		key := strings.Join(parts, groupKeySep)
		g, ok := out[key]
		if !ok {
			g = &groupedRows{fields: fields}
			out[key] = g
		}
		g.rows = append(g.rows, r)
	}
	return out
}

// Result finalizes every group. Without grouping the result is a single
// record of aggregation values; with grouping it is a list of records that
// carry the group fields alongside the values. Group order is unspecified.
func (rt *Runtime) Result() (any, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if len(rt.groupBy) == 0 {
		state, ok := rt.groups[""]
		if !ok {
			accs := make([]any, len(rt.reducers))
			for i, reducer := range rt.reducers {
				accs[i] = reducer.Init()
			}
			state = &groupState{accs: accs}
		}
		return rt.finalizeGroup(state, false)
	}

	keys := make([]string, 0, len(rt.groups))
	for key := range rt.groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		record, err := rt.finalizeGroup(rt.groups[key], true)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (rt *Runtime) finalizeGroup(state *groupState, withFields bool) (map[string]any, error) {
	record := make(map[string]any, len(rt.reducers)+len(state.fields))
	if withFields {
		for field, value := range state.fields {
			record[field] = value
		}
	}
	for i, reducer := range rt.reducers {
		value, err := reducer.Finalize(state.accs[i])
		if err != nil {
			return nil, err
		}
		record[reducer.Name()] = value
	}
	return record, nil
}

// WriteResult serializes the finalized output as pretty JSON with sorted
// keys and four-space indentation to the destination URI.
func (rt *Runtime) WriteResult(ctx context.Context, dest string) (any, error) {
	result, err := rt.Result()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return nil, llmerrors.NewPermanentError("encode aggregation", dest, err)
	}
	fs, err := filesystem.ForPath(dest)
	if err != nil {
		return nil, err
	}
	w, err := fs.Create(ctx, dest)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		w.Close()
		return nil, llmerrors.NewPermanentError("write aggregation", dest, err)
	}
	if err := w.Close(); err != nil {
		return nil, llmerrors.NewPermanentError("flush aggregation", dest, err)
	}
	return result, nil
}
