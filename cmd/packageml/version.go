package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/packageml/packageml/version"
)

func buildVersion() string {
	return version.Version
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		// Printing the version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "packageml %s (built with %s)\n", version.Version, runtime.Version())
		},
	}
}
