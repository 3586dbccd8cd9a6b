package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/resource"
)

// parseID reads a positive numeric id argument.
func parseID[K ~int](arg, noun string) (K, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, gateway.AsValidationError("invalid %s id %q", noun, arg)
	}
	return K(n), nil
}

// removeCmd is the shared shape of every delete command.
func removeCmd[K ~int](
	c *cli, noun string, remove func(cmd *cobra.Command, id K, confirm resource.Confirmer) error,
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "delete a " + noun,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[K](args[0], noun)
			if err != nil {
				return err
			}
			err = remove(cmd, id, c.confirmer())
			if errors.Is(err, resource.ErrNotConfirmed) {
				c.printer.Message("Cancelled, nothing was deleted.")
				return nil
			} else if err != nil {
				return err
			}
			c.printer.Message("Deleted %s %d.", noun, id)
			return nil
		},
	}
	c.addYesFlag(cmd)
	return cmd
}
