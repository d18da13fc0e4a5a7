package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/coral-nlp/llmdata/internal/registry"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStructure checks the static shape of the document with struct
// tags, independent of which components are registered.
func validateStructure(cfg *PipelineConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return llmerrors.WrapConfigError("pipeline", err)
	}
	first := verrs[0]
	constraint := first.Tag()
	if first.Param() != "" {
		constraint += "=" + first.Param()
	}
	path := strings.TrimPrefix(first.Namespace(), "PipelineConfig.")
	return llmerrors.NewConfigError(strings.ToLower(path), constraint, fmt.Sprintf("%v", first.Value()))
}

// Validate cross-checks the document against the component registry: every
// processor and aggregation, enabled or not, must be registered and its
// parameters must construct cleanly.
func Validate(cfg *PipelineConfig, reg *registry.Registry) error {
	if err := validateStructure(cfg); err != nil {
		return err
	}
	for i, proc := range cfg.Processors {
		if err := checkStage(reg, "processors", i, proc); err != nil {
			return err
		}
	}
	for i, agg := range cfg.Aggregations {
		if agg.Category != "aggregation" {
			return llmerrors.NewConfigError(
				fmt.Sprintf("aggregations[%d].category", i), "aggregation", agg.Category)
		}
		if err := checkStage(reg, "aggregations", i, agg); err != nil {
			return err
		}
	}
	return nil
}

func checkStage(reg *registry.Registry, section string, index int, sc StageConfig) error {
	if !reg.Has(sc.Category, sc.Type) {
		return llmerrors.NewConfigError(
			fmt.Sprintf("%s[%d]", section, index),
			"a registered component",
			sc.Category+"."+sc.Type)
	}
	if _, err := reg.Construct(sc.Category, sc.Type, sc.Params); err != nil {
		var cfgErr *llmerrors.ConfigError
		if errors.As(err, &cfgErr) {
			return llmerrors.NewConfigError(
				fmt.Sprintf("%s[%d].params: %s", section, index, cfgErr.Path),
				cfgErr.Expected,
				cfgErr.Got)
		}
		return err
	}
	return nil
}
