package main

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const logLevelFlag = "log-level"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cuzk",
		Short:         "cuZK multi-scalar multiplication over twisted Edwards curves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(logLevelFlag, "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newGenCommand(),
		newMSMCommand(),
		newVersionCommand(),
	)

	return root
}

func newLogger(cmd *cobra.Command) hclog.Logger {
	level, _ := cmd.Flags().GetString(logLevelFlag)

	return newLoggerTo(os.Stderr, level)
}

func newLoggerTo(w io.Writer, level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "cuzk",
		Level:  hclog.LevelFromString(level),
		Output: w,
	})
}
