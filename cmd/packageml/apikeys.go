package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/model"
)

func newAPIKeysCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "api-keys",
		Aliases: []string{"api-key", "keys"},
		Short:   "manage API keys for programmatic access",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "list API keys, truncated",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				items, err := a.APIKeys.List(cmd.Context())
				if err != nil {
					return err
				}
				return c.printer.APIKeys(items)
			},
		},
		newGenerateKeyCmd(c),
		removeCmd(c, "API key", func(cmd *cobra.Command, id model.APIKeyID, ok resource.Confirmer) error {
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			return a.APIKeys.Revoke(cmd.Context(), id, ok)
		}),
	)
	return cmd
}

func newGenerateKeyCmd(c *cli) *cobra.Command {
	var (
		name      string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "create an API key and print its secret once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var expiresAt *time.Time
			switch {
			case expiresIn < 0:
				return gateway.ValidationError("--expires-in must be positive")
			case expiresIn > 0:
				at := time.Now().Add(expiresIn).UTC()
				expiresAt = &at
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			gen, err := a.APIKeys.Generate(cmd.Context(), name, expiresAt)
			if err != nil {
				return err
			}
			return c.printer.GeneratedKey(gen.Key, gen.Secret)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "lifetime of the key, e.g. 720h (never expires when omitted)")
	return cmd
}
