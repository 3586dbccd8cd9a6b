package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	bashCompletion       = "bash"
	zshCompletion        = "zsh"
	fishCompletion       = "fish"
	powerShellCompletion = "power"
)

func newCompletionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "completion",
		Short:     "generates shell completion scripts",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{bashCompletion, zshCompletion, fishCompletion, powerShellCompletion},
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch shell := args[0]; shell {
			case bashCompletion:
				return root.GenBashCompletion(c.out)
			case zshCompletion:
				return root.GenZshCompletion(c.out)
			case fishCompletion:
				return root.GenFishCompletion(c.out, true)
			case powerShellCompletion:
				return root.GenPowerShellCompletion(c.out)
			default:
				return errors.Errorf("unexpected shell provided: %s", shell)
			}
		},
	}
}
