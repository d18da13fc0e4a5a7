package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-nlp/llmdata/internal/config"
	"github.com/coral-nlp/llmdata/internal/pipeline"
	"github.com/coral-nlp/llmdata/internal/registry"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var inputPath, outputPath string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a processing pipeline from configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(flags)
			if err != nil {
				return err
			}

			cfg, err := config.ParseConfig(args[0])
			if err != nil {
				return err
			}
			if inputPath != "" {
				if cfg.Input == nil {
					cfg.Input = &config.ConnectorConfig{Format: "jsonl"}
				}
				cfg.Input.Path = inputPath
			}
			if outputPath != "" && cfg.Output != nil {
				cfg.Output.Path = outputPath
			}
			if concurrency > 0 {
				cfg.Exec.Concurrency = concurrency
			}

			p, err := pipeline.New(cfg, registry.Default, log)
			if err != nil {
				return err
			}

			log.WithFields(map[string]any{"pipeline": cfg.Name}).Info("starting pipeline")
			if cfg.Description != "" {
				log.Info(cfg.Description)
			}

			summary, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rows_in=%d rows_out=%d rows_dropped_by_stage=%v\n",
				summary.RowsIn, summary.RowsOut, summary.RowsDroppedByStage)
			if summary.Aggregations != nil {
				data, err := json.MarshalIndent(summary.Aggregations, "", "    ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "override the configured input path")
	cmd.Flags().StringVar(&outputPath, "output", "", "override the configured output path")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override the configured worker count")
	return cmd
}
