// Package processors registers every processing component with the default
// registry. Importing it (usually blank) makes the full component set
// available to the pipeline compiler.
package processors

import (
	_ "github.com/coral-nlp/llmdata/internal/processors/extract"
	_ "github.com/coral-nlp/llmdata/internal/processors/filter"
	_ "github.com/coral-nlp/llmdata/internal/processors/format"
	_ "github.com/coral-nlp/llmdata/internal/processors/ingest"
	_ "github.com/coral-nlp/llmdata/internal/processors/tag"
)
