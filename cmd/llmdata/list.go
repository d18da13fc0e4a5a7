package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-nlp/llmdata/internal/registry"
)

func newListCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			categories := registry.Default.Categories()
			if category != "" {
				categories = []string{category}
			}
			for _, cat := range categories {
				types, err := registry.Default.Components(cat)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", cat)
				for _, typ := range types {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", typ)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only list components of this category")
	return cmd
}
