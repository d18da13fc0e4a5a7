// Package ingest conforms arbitrary column layouts into the pipeline row
// schema: id, text, source, metadata.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("ingest", "base", func() any {
		return &BaseIngestor{
			MapBase:    stage.MapBase{StageName: "plain_ingest"},
			IDColumn:   "id",
			TextColumn: "text",
		}
	})
}

// BaseIngestor rebuilds each row in the pipeline schema. The source, subset,
// and license settings name either a column to read from or, when the column
// is absent, the literal value to use.
type BaseIngestor struct {
	stage.MapBase `yaml:",inline"`

	IDColumn            string   `yaml:"id_column" validate:"required"`
	TextColumn          string   `yaml:"text_column" validate:"required"`
	SourceNameOrColumn  string   `yaml:"source_name_or_column" validate:"required"`
	SubsetNameOrColumn  string   `yaml:"subset_name_or_column"`
	LicenseNameOrColumn string   `yaml:"license_name_or_column"`
	Other               []string `yaml:"other"`
}

// Apply implements stage.Map. It returns a fresh row rather than mutating
// the input, dropping every column the configuration does not mention.
func (b *BaseIngestor) Apply(_ context.Context, r row.Row) (row.Row, error) {
	id := ""
	if v := row.Get(r, b.IDColumn); v != nil {
		id = fmt.Sprint(v)
	}
	if id == "" {
		id = uuid.NewString()
	}

	out := row.Row{
		"id":       id,
		"text":     row.GetString(r, b.TextColumn),
		"source":   nameOrColumn(r, b.SourceNameOrColumn),
		"metadata": map[string]any{},
	}
	for _, col := range b.Other {
		if err := row.Set(out, col, row.Get(r, col)); err != nil {
			return nil, err
		}
	}
	if b.SubsetNameOrColumn != "" {
		if err := row.Set(out, "metadata.subset", nameOrColumn(r, b.SubsetNameOrColumn)); err != nil {
			return nil, err
		}
	}
	if b.LicenseNameOrColumn != "" {
		if err := row.Set(out, "metadata.license", nameOrColumn(r, b.LicenseNameOrColumn)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nameOrColumn(r row.Row, nameOrColumn string) any {
	if v := row.Get(r, nameOrColumn); v != nil {
		return v
	}
	return nameOrColumn
}
