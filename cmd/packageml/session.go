package main

import (
	"github.com/spf13/cobra"
)

type credentials struct {
	email    string
	password string
}

// fill prompts for whatever the flags left out.
func (c *cli) fill(cr *credentials) error {
	var err error
	if cr.email == "" {
		if cr.email, err = c.prompt("Email: "); err != nil {
			return err
		}
	}
	if cr.password == "" {
		if cr.password, err = c.secret("Password: "); err != nil {
			return err
		}
	}
	return nil
}

func newLoginCmd(c *cli) *cobra.Command {
	var cr credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.fill(&cr); err != nil {
				return err
			}
			a, err := c.application()
			if err != nil {
				return err
			}
			user, err := a.Login(cmd.Context(), cr.email, cr.password)
			if err != nil {
				return err
			}
			if c.printer.JSON {
				return c.printer.User(user)
			}
			c.printer.Message("Logged in as %s.", user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&cr.email, "email", "", "account email")
	cmd.Flags().StringVar(&cr.password, "password", "",
		"account password (prompted for when omitted)")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "end the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application()
			if err != nil {
				return err
			}
			if err := a.Logout(); err != nil {
				return err
			}
			c.printer.Message("Logged out.")
			return nil
		},
	}
}

func newRegisterCmd(c *cli) *cobra.Command {
	var (
		cr      credentials
		confirm string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.fill(&cr); err != nil {
				return err
			}
			if confirm == "" {
				var err error
				if confirm, err = c.secret("Confirm password: "); err != nil {
					return err
				}
			}
			a, err := c.application()
			if err != nil {
				return err
			}
			user, err := a.Register(cmd.Context(), cr.email, cr.password, confirm)
			if err != nil {
				return err
			}
			if c.printer.JSON {
				return c.printer.User(user)
			}
			c.printer.Message("Registration successful. Please sign in with `packageml login`.")
			return nil
		},
	}
	cmd.Flags().StringVar(&cr.email, "email", "", "account email")
	cmd.Flags().StringVar(&cr.password, "password", "", "password (prompted for when omitted)")
	cmd.Flags().StringVar(&confirm, "confirm-password", "",
		"password again (prompted for when omitted)")
	return cmd
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, user, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer.User(user)
		},
	}
}
