package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packageml/packageml/internal/app"
	"github.com/packageml/packageml/internal/console"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/logger"
)

// logStoreSize is how many log entries the console keeps for its log view.
const logStoreSize = 5000

func newConsoleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "serve the dashboard on a local web console",
		Long: "Serve the dashboard on a local web console until interrupted. Listens on " +
			"--console-host and --console-port.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logs := logger.NewLogBuffer(logStoreSize)
			logrus.AddHook(logs)

			notices := &resource.Recorder{}
			a, err := c.application(app.WithNotifier(notices))
			if err != nil {
				return err
			}
			// Start validating a stored session now, so the first page is not a loading page.
			a.Session.EnsureResolved(cmd.Context())
			return console.New(a, logs, notices).Run(cmd.Context())
		},
	}
}
