package config

// PipelineConfig is the root of a pipeline configuration document.
type PipelineConfig struct {
	Name        string `yaml:"name" validate:"required,min=1,max=100"`
	Description string `yaml:"description,omitempty"`

	Input *ConnectorConfig `yaml:"input,omitempty"`

	Processors    []StageConfig  `yaml:"processors,omitempty" validate:"omitempty,dive"`
	ProcessKwargs map[string]any `yaml:"process_kwargs,omitempty"`

	Output *ConnectorConfig `yaml:"output,omitempty"`

	Aggregations      []StageConfig  `yaml:"aggregations,omitempty" validate:"omitempty,dive"`
	AggregationKwargs map[string]any `yaml:"aggregation_kwargs,omitempty"`

	// Execution resource settings. The key keeps its historical name from
	// the Ray-backed deployment so existing pipeline documents stay valid.
	Exec ExecConfig `yaml:"ray_config,omitempty"`
}

// StageConfig declares a single processor or aggregation.
type StageConfig struct {
	Category string         `yaml:"category" validate:"required"`
	Type     string         `yaml:"type" validate:"required"`
	Params   map[string]any `yaml:"params,omitempty"`
	Enabled  bool           `yaml:"enabled"`
}

// ConnectorConfig describes a data source or sink.
type ConnectorConfig struct {
	Path   string         `yaml:"path" validate:"required"`
	Format string         `yaml:"format" validate:"required,oneof=parquet jsonl csv text"`
	Params map[string]any `yaml:"params,omitempty"`
}

// ExecConfig holds execution environment and resource settings.
type ExecConfig struct {
	TargetMaxBlockSizeMB int `yaml:"target_max_block_size_mb,omitempty" validate:"omitempty,gt=0"`
	OverrideNumBlocks    int `yaml:"override_num_blocks,omitempty" validate:"omitempty,gt=0"`
	Concurrency          int `yaml:"concurrency,omitempty" validate:"omitempty,gt=0"`
	BatchSize            int `yaml:"batch_size,omitempty" validate:"omitempty,gt=0"`
	MinRowsPerFile       int `yaml:"min_rows_per_file,omitempty" validate:"omitempty,gt=0"`
}

// TargetBlockBytes returns the partition size target in bytes.
func (e ExecConfig) TargetBlockBytes() int64 {
	size := e.TargetMaxBlockSizeMB
	if size <= 0 {
		size = defaultBlockSizeMB
	}
	return int64(size) * 1024 * 1024
}

// Workers returns the partition-level parallelism cap.
func (e ExecConfig) Workers() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	return defaultConcurrency
}

const (
	defaultBlockSizeMB = 128
	defaultConcurrency = 4
)
