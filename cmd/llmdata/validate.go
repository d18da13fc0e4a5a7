package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-nlp/llmdata/internal/config"
	"github.com/coral-nlp/llmdata/internal/registry"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a pipeline configuration without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ParseConfig(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg, registry.Default); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", cfg.Name)
			return nil
		},
	}
}
