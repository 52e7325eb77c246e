package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is the release version, set at link time.
	Version = "0.1.0"

	// GitCommit is the commit the binary was built from, set at link time.
	GitCommit string
)

func versionString() string {
	if GitCommit != "" {
		return fmt.Sprintf("%s (%s)", Version, GitCommit)
	}

	return Version
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), versionString())

			return err
		},
	}
}
