package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// UnmarshalYAML applies stage defaults; a stage is enabled unless the
// document disables it explicitly.
func (s *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawStage struct {
		Category string         `yaml:"category"`
		Type     string         `yaml:"type"`
		Params   map[string]any `yaml:"params"`
		Enabled  *bool          `yaml:"enabled"`
	}

	if value.Kind == yaml.MappingNode {
		for i := 0; i < len(value.Content); i += 2 {
			switch value.Content[i].Value {
			case "category", "type", "params", "enabled":
			default:
				return llmerrors.NewConfigError(
					value.Content[i].Value, "one of category, type, params, enabled", value.Content[i].Value)
			}
		}
	}

	var raw rawStage
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Category = raw.Category
	s.Type = raw.Type
	s.Params = raw.Params
	if raw.Enabled != nil {
		s.Enabled = *raw.Enabled
	} else {
		s.Enabled = true
	}
	return nil
}

// ParseConfig loads a pipeline configuration from disk, strictly decodes it,
// and validates the static structure. Registry cross-checks happen in
// Validate, which the pipeline compiler invokes before execution.
func ParseConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, llmerrors.WrapConfigError(path, err)
	}
	cfg, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseBytes decodes a pipeline configuration document. Unknown keys are
// rejected at every level.
func ParseBytes(data []byte) (*PipelineConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg PipelineConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, llmerrors.WrapConfigError("pipeline", err)
	}
	if err := validateStructure(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
