package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/packageml/packageml/internal/app"
	"github.com/packageml/packageml/internal/config"
	"github.com/packageml/packageml/internal/display"
	"github.com/packageml/packageml/internal/guard"
	"github.com/packageml/packageml/internal/jobs"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// cli is the state shared by every command of one invocation.
type cli struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	reader *bufio.Reader

	output string
	yes    bool

	cfg     *config.Config
	printer *display.Printer
	app     *app.App

	// Hooks for tests.
	appOpts    []app.Option
	pollerOpts []jobs.PollerOption
}

func newCLI(in io.Reader, out, errOut io.Writer) *cli {
	return &cli{in: in, out: out, errOut: errOut, reader: bufio.NewReader(in)}
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "packageml",
		Short:         "train machine learning models on your datasets without writing code",
		Version:       buildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	cmd.SetIn(c.in)
	cmd.SetOut(c.out)
	cmd.SetErr(c.errOut)

	c.v = registerConfig(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVarP(&c.output, "output", "o", outputTable,
		"output format (table, json)")

	cmd.AddCommand(
		newLoginCmd(c),
		newLogoutCmd(c),
		newRegisterCmd(c),
		newWhoamiCmd(c),
		newDatasetsCmd(c),
		newModelsCmd(c),
		newJobsCmd(c),
		newAPIKeysCmd(c),
		newConsoleCmd(c),
		newVersionCmd(c),
		newCompletionCmd(c),
	)
	return cmd
}

// setup loads the configuration and configures logging and output. The application itself is
// built on first use, since some commands never talk to the backend.
func (c *cli) setup() error {
	if c.output != outputTable && c.output != outputJSON {
		return errors.Errorf("unknown output format %q, use table or json", c.output)
	}
	cfg, err := initializeConfig(c.v)
	if err != nil {
		return err
	}
	logger.SetLogrus(cfg.Log)
	if printable, err := cfg.Printable(); err == nil {
		logger.Component("cli").Debugf("client configuration: %s", printable)
	}

	c.cfg = cfg
	c.printer = display.New(c.out, c.errOut)
	c.printer.Color = cfg.Log.Color && isTerminal(c.out)
	c.printer.JSON = c.output == outputJSON
	return nil
}

// application returns the application, building it with opts the first time.
func (c *cli) application(opts ...app.Option) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	opts = append([]app.Option{app.WithNotifier(c.printer)}, opts...)
	a, err := app.New(c.cfg, append(opts, c.appOpts...)...)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// authenticated returns the application once the stored session has been validated.
func (c *cli) authenticated(ctx context.Context) (*app.App, *model.User, error) {
	a, err := c.application()
	if err != nil {
		return nil, nil, err
	}
	user, err := guard.RequireSession(ctx, a.Session)
	if err != nil {
		return nil, nil, err
	}
	return a, user, nil
}

func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *cli) prompt(label string) (string, error) {
	fmt.Fprint(c.errOut, label)
	line, err := c.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "reading input")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// secret reads a line without echo when stdin is a terminal.
func (c *cli) secret(label string) (string, error) {
	f, ok := c.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return c.prompt(label)
	}
	fmt.Fprint(c.errOut, label)
	bs, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(c.errOut)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(bs), nil
}

// confirmer asks on stdin unless --yes was given.
func (c *cli) confirmer() resource.Confirmer {
	if c.yes {
		return resource.Confirmed
	}
	return resource.ConfirmFunc(func(prompt string) bool {
		answer, err := c.prompt(prompt + " [y/N] ")
		if err != nil {
			return false
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	})
}

func (c *cli) addYesFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&c.yes, "yes", "y", false, "do not ask for confirmation")
}
