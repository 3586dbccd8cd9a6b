package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/packageml/packageml/internal/app"
	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/jobs"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/model"
)

func newJobsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "manage training jobs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "list training jobs",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				items, err := a.Jobs.List(cmd.Context())
				if err != nil {
					return err
				}
				return c.printer.Jobs(items)
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "show a job and its metrics",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID[model.JobID](args[0], "job")
				if err != nil {
					return err
				}
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				job, err := a.Jobs.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return c.printer.Job(job)
			},
		},
		newJobCreateCmd(c),
		newJobTransitionCmd(c, "start", "start a pending job",
			func(a *app.App) func(context.Context, model.JobID) (model.Job, error) { return a.Jobs.Start }),
		newJobTransitionCmd(c, "cancel", "stop a running job",
			func(a *app.App) func(context.Context, model.JobID) (model.Job, error) { return a.Jobs.Cancel }),
		newWatchCmd(c),
		removeCmd(c, "job", func(cmd *cobra.Command, id model.JobID, ok resource.Confirmer) error {
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			return a.Jobs.Remove(cmd.Context(), id, ok)
		}),
	)
	return cmd
}

func newJobCreateCmd(c *cli) *cobra.Command {
	var (
		req                jobs.CreateRequest
		modelID, datasetID int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a training job",
		Long: "Create a training job. Every dataset column except the target becomes a " +
			"feature. The target is required for classification and regression models.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.ModelID = model.ModelID(modelID)
			req.DatasetID = model.DatasetID(datasetID)
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			created, err := a.Jobs.Create(cmd.Context(), a.Catalog, req)
			if err != nil {
				return err
			}
			return c.printer.Job(created)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "job name")
	cmd.Flags().StringVar(&req.Description, "description", "", "job description")
	cmd.Flags().IntVar(&modelID, "model", 0, "model configuration id")
	cmd.Flags().IntVar(&datasetID, "dataset", 0, "dataset id")
	cmd.Flags().StringVar(&req.TargetColumn, "target", "", "target column")
	return cmd
}

func newJobTransitionCmd(
	c *cli, verb, short string,
	action func(*app.App) func(context.Context, model.JobID) (model.Job, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.JobID](args[0], "job")
			if err != nil {
				return err
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			job, err := action(a)(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printer.Job(job)
		},
	}
}

// jobWatch prints every poll and ends once the watched job, if any, is terminal.
type jobWatch struct {
	c      *cli
	target model.JobID

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

func (w *jobWatch) show(items []model.Job, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.c.printer.Notify(resource.Warning, gateway.Detail(err))
		return
	}
	if w.target == 0 {
		_ = w.c.printer.Jobs(items) //nolint:errcheck
		return
	}
	for _, j := range items {
		if j.ID != w.target {
			continue
		}
		if w.c.printer.JSON {
			_ = w.c.printer.Jobs([]model.Job{j}) //nolint:errcheck
		} else {
			w.c.printer.Message("%s: %s, %.0f%%", j.Name, w.c.printer.StatusLabel(j.Status), j.Progress)
		}
		if j.Status.Terminal() {
			w.once.Do(func() { close(w.done) })
		}
		return
	}
	w.c.printer.Notify(resource.Warning, "job no longer exists")
	w.once.Do(func() { close(w.done) })
}

func newWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [ID]",
		Short: "follow job progress until interrupted, or until job ID finishes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &jobWatch{c: c, done: make(chan struct{})}
			if len(args) == 1 {
				id, err := parseID[model.JobID](args[0], "job")
				if err != nil {
					return err
				}
				w.target = id
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			poller := a.NewPoller(c.pollerOpts...)
			poller.Subscribe(w.show)
			defer poller.Stop()

			w.show(a.Jobs.List(ctx))
			poller.Start(ctx)
			select {
			case <-w.done:
			case <-ctx.Done():
			}
			return nil
		},
	}
}
