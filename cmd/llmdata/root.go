package main

import (
	"github.com/spf13/cobra"

	"github.com/coral-nlp/llmdata/internal/logger"
	_ "github.com/coral-nlp/llmdata/internal/processors"
)

type rootFlags struct {
	logLevel string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "llmdata",
		Short:         "Distributed text-corpus processing for LLM training data",
		Long:          "llmdata compiles declarative pipeline configurations into partition-parallel\nmap/filter/aggregate runs over document corpora.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "human readable log output")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newLogger(flags *rootFlags) (*logger.Logger, error) {
	return logger.New(logger.Options{
		Level:         flags.logLevel,
		HumanReadable: flags.verbose,
	})
}
