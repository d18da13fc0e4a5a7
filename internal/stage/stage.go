// Package stage defines the contracts processing components implement.
// A component is exactly one of Map, Filter, or (for aggregations) a
// Reducer; the pipeline compiler classifies stages by these interfaces.
package stage

import (
	"context"

	"github.com/coral-nlp/llmdata/internal/row"
)

// Component is the minimal surface every registered stage exposes.
type Component interface {
	Name() string
}

// Map reads a row and returns the row with the operation applied to it.
// Implementations mutate the row they are handed; no other goroutine holds
// it while a stage runs.
type Map interface {
	Component
	Apply(ctx context.Context, r row.Row) (row.Row, error)
}

// Filter reads a row and decides whether it is retained.
type Filter interface {
	Component
	Keep(ctx context.Context, r row.Row) (bool, error)
}

// MapBase carries the configuration fields shared by all map stages: the
// input column and the output column.
type MapBase struct {
	StageName string `yaml:"name"`
	On        string `yaml:"on"`
	To        string `yaml:"to"`
}

// Name returns the configured stage name.
func (b MapBase) Name() string { return b.StageName }

// FilterBase carries the configuration fields shared by all filter stages.
// IfMissing is the verdict when the input column is absent.
type FilterBase struct {
	StageName string `yaml:"name"`
	On        string `yaml:"on"`
	IfMissing bool   `yaml:"if_missing"`
}

// Name returns the configured stage name.
func (b FilterBase) Name() string { return b.StageName }
