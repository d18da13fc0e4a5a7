// Package pipeline compiles a validated configuration into a stage graph
// and drives it: read, process, write, aggregate. Partitions are the unit
// of parallelism; write and aggregate consume the same processed stream.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/coral-nlp/llmdata/internal/aggregate"
	"github.com/coral-nlp/llmdata/internal/config"
	"github.com/coral-nlp/llmdata/internal/dataset"
	"github.com/coral-nlp/llmdata/internal/logger"
	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// compiledStage is one classified processor.
type compiledStage struct {
	name   string
	mapFn  stage.Map
	filter stage.Filter
}

// Summary reports what a run did to the dataset.
type Summary struct {
	RowsIn             int64            `json:"rows_in"`
	RowsOut            int64            `json:"rows_out"`
	RowsDroppedByStage map[string]int64 `json:"rows_dropped_by_stage"`
	Aggregations       any              `json:"aggregations,omitempty"`
}

// Pipeline is a compiled, runnable configuration.
type Pipeline struct {
	cfg    *config.PipelineConfig
	reg    *registry.Registry
	log    *logger.Logger
	stages []compiledStage
	reader dataset.Reader
	writer dataset.Writer
	agg    *aggregate.Runtime
	aggOut string
}

// New compiles the configuration against the registry. Every failure here
// is a ConfigError: nothing has touched data yet.
func New(cfg *config.PipelineConfig, reg *registry.Registry, log *logger.Logger) (*Pipeline, error) {
	if err := config.Validate(cfg, reg); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, reg: reg, log: log}

	if cfg.Input != nil {
		component, err := reg.Construct("reader", cfg.Input.Format, cfg.Input.Params)
		if err != nil {
			return nil, err
		}
		reader, ok := component.(dataset.Reader)
		if !ok {
			return nil, llmerrors.NewConfigError("input.format", "a reader component", cfg.Input.Format)
		}
		p.reader = reader
	}

	for i, sc := range cfg.Processors {
		if !sc.Enabled {
			continue
		}
		component, err := reg.Construct(sc.Category, sc.Type, sc.Params)
		if err != nil {
			return nil, err
		}
		compiled := compiledStage{name: stageName(component, sc, i)}
		switch s := component.(type) {
		case stage.Map:
			compiled.mapFn = s
		case stage.Filter:
			compiled.filter = s
		default:
			return nil, llmerrors.NewConfigError(
				fmt.Sprintf("processors[%d]", i), "a map or filter stage", sc.Category+"."+sc.Type)
		}
		p.stages = append(p.stages, compiled)
	}

	if cfg.Output != nil {
		component, err := reg.Construct("writer", cfg.Output.Format, cfg.Output.Params)
		if err != nil {
			return nil, err
		}
		writer, ok := component.(dataset.Writer)
		if !ok {
			return nil, llmerrors.NewConfigError("output.format", "a writer component", cfg.Output.Format)
		}
		p.writer = writer
	}

	if len(cfg.Aggregations) > 0 {
		var reducers []aggregate.Reducer
		for i, sc := range cfg.Aggregations {
			if !sc.Enabled {
				continue
			}
			component, err := reg.Construct(sc.Category, sc.Type, sc.Params)
			if err != nil {
				return nil, err
			}
			reducer, ok := component.(aggregate.Reducer)
			if !ok {
				return nil, llmerrors.NewConfigError(
					fmt.Sprintf("aggregations[%d]", i), "an aggregation component", sc.Type)
			}
			reducers = append(reducers, reducer)
		}
		groupBy, output, err := aggregationKwargs(cfg.AggregationKwargs)
		if err != nil {
			return nil, err
		}
		p.agg = aggregate.NewRuntime(reducers, groupBy)
		p.aggOut = output
	}

	return p, nil
}

func stageName(component any, sc config.StageConfig, index int) string {
	if named, ok := component.(stage.Component); ok && named.Name() != "" {
		return named.Name()
	}
	return fmt.Sprintf("%s.%s[%d]", sc.Category, sc.Type, index)
}

func aggregationKwargs(kwargs map[string]any) (groupBy []string, output string, err error) {
	for key, value := range kwargs {
		switch key {
		case "groupby":
			switch v := value.(type) {
			case string:
				groupBy = []string{v}
			case []any:
				for _, el := range v {
					s, ok := el.(string)
					if !ok {
						return nil, "", llmerrors.NewConfigError(
							"aggregation_kwargs.groupby", "column names", fmt.Sprintf("%v", el))
					}
					groupBy = append(groupBy, s)
				}
			default:
				return nil, "", llmerrors.NewConfigError(
					"aggregation_kwargs.groupby", "a column or list of columns", fmt.Sprintf("%v", value))
			}
		case "output_path":
			s, ok := value.(string)
			if !ok {
				return nil, "", llmerrors.NewConfigError(
					"aggregation_kwargs.output_path", "a path", fmt.Sprintf("%v", value))
			}
			output = s
		default:
			return nil, "", llmerrors.NewConfigError(
				"aggregation_kwargs."+key, "groupby or output_path", key)
		}
	}
	return groupBy, output, nil
}

// Run executes the pipeline. The returned summary is complete only when the
// error is nil; a cancelled run returns the context error and discards
// partial aggregation state.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if p.reader == nil {
		return nil, llmerrors.NewConfigError("input", "an input connector", "absent")
	}
	defer p.closeStages()

	workers := p.cfg.Exec.Workers()
	readOpts := dataset.ReadOptions{
		TargetBytes:        p.cfg.Exec.TargetBlockBytes(),
		OverridePartitions: p.cfg.Exec.OverrideNumBlocks,
		Buffer:             workers,
	}

	// runCtx lets a writer failure stop the workers and the reader; the
	// deferred cancel also unblocks the reader goroutine on early return.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	paths := []string{p.cfg.Input.Path}
	results, err := p.reader.Read(runCtx, paths, readOpts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RowsDroppedByStage: map[string]int64{}}
	var rowsIn, rowsOut atomic.Int64
	var dropMu sync.Mutex

	var writerCh chan *dataset.Partition
	var writerErr error
	var writerWG sync.WaitGroup
	if p.writer != nil {
		writerCh = make(chan *dataset.Partition, workers)
		writerWG.Add(1)
		go func() {
			defer writerWG.Done()
			writerErr = p.writer.Write(runCtx, writerCh, p.cfg.Output.Path,
				dataset.WriteOptions{MinRowsPerFile: p.cfg.Exec.MinRowsPerFile})
			if writerErr != nil {
				cancelRun()
			}
		}()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(workers)

	var readErr error
	for res := range results {
		if res.Err != nil {
			readErr = res.Err
			break
		}
		if gctx.Err() != nil {
			break
		}
		part := res.Partition
		g.Go(func() error {
			rowsIn.Add(int64(len(part.Rows)))
			kept, err := p.processPartition(gctx, part, func(stageName string) {
				dropMu.Lock()
				summary.RowsDroppedByStage[stageName]++
				dropMu.Unlock()
			})
			if err != nil {
				return err
			}
			rowsOut.Add(int64(len(kept.Rows)))

			if p.agg != nil && !p.agg.Empty() {
				if err := p.agg.Add(kept.Rows); err != nil {
					return err
				}
			}
			if writerCh != nil {
				select {
				case writerCh <- kept:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	procErr := g.Wait()
	if writerCh != nil {
		close(writerCh)
		writerWG.Wait()
	}

	switch {
	case writerErr != nil:
		return nil, writerErr
	case readErr != nil:
		return nil, readErr
	case procErr != nil:
		return nil, procErr
	case ctx.Err() != nil:
		// Cancellation between partitions: discard partial state.
		return nil, ctx.Err()
	}

	summary.RowsIn = rowsIn.Load()
	summary.RowsOut = rowsOut.Load()

	if p.agg != nil && !p.agg.Empty() {
		var result any
		var err error
		if p.aggOut != "" {
			result, err = p.agg.WriteResult(ctx, p.aggOut)
		} else {
			result, err = p.agg.Result()
		}
		if err != nil {
			return nil, err
		}
		summary.Aggregations = result
	}

	p.logSummary(summary)
	return summary, nil
}

// processPartition applies the stage graph to every row in declared order.
// Rows within the partition keep their order.
func (p *Pipeline) processPartition(ctx context.Context, part *dataset.Partition, dropped func(string)) (*dataset.Partition, error) {
	kept := make([]row.Row, 0, len(part.Rows))

rows:
	for _, r := range part.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := r
		for _, cs := range p.stages {
			keep, next, err := p.applyStage(ctx, cs, current)
			if err != nil {
				kind, classified := llmerrors.ClassifyStage(row.ID(current), cs.name, err)
				switch kind {
				case llmerrors.KindRow:
					p.log.Error(classified, "dropping row")
					dropped(cs.name)
					continue rows
				default:
					return nil, classified
				}
			}
			if !keep {
				dropped(cs.name)
				continue rows
			}
			current = next
		}
		kept = append(kept, current)
	}
	return &dataset.Partition{Index: part.Index, Rows: kept}, nil
}

func (p *Pipeline) applyStage(ctx context.Context, cs compiledStage, r row.Row) (keep bool, out row.Row, err error) {
	if cs.filter != nil {
		keep, err = applyWithRetry(ctx, func() (bool, error) {
			return cs.filter.Keep(ctx, r)
		})
		return keep, r, err
	}
	out, err = applyWithRetry(ctx, func() (row.Row, error) {
		return cs.mapFn.Apply(ctx, r)
	})
	return true, out, err
}

func (p *Pipeline) closeStages() {
	for _, cs := range p.stages {
		var component any = cs.mapFn
		if cs.filter != nil {
			component = cs.filter
		}
		if closer, ok := component.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				p.log.Error(err, "closing stage "+cs.name)
			}
		}
	}
}

func (p *Pipeline) logSummary(s *Summary) {
	fields := map[string]any{
		"rows_in":  s.RowsIn,
		"rows_out": s.RowsOut,
	}
	for name, n := range s.RowsDroppedByStage {
		fields["dropped_"+name] = n
	}
	p.log.WithFields(fields).Info("pipeline finished")
}
