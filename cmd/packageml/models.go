package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/models"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/model"
)

func newModelsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "manage model configurations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "list model configurations",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				items, err := a.Models.List(cmd.Context())
				if err != nil {
					return err
				}
				return c.printer.Models(items)
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "show a model configuration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID[model.ModelID](args[0], "model")
				if err != nil {
					return err
				}
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				m, err := a.Models.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return c.printer.Model(m)
			},
		},
		&cobra.Command{
			Use:   "families",
			Short: "list the model families and their tasks",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return c.printer.Families()
			},
		},
		newModelCreateCmd(c),
		newModelUpdateCmd(c),
		newTrainCmd(c),
		removeCmd(c, "model", func(cmd *cobra.Command, id model.ModelID, ok resource.Confirmer) error {
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			return a.Models.Remove(cmd.Context(), id, ok)
		}),
	)
	return cmd
}

// modelFlags are the editable fields of a model configuration.
type modelFlags struct {
	name        string
	description string
	modelType   string
	taskType    string
	params      []string
	paramsFile  string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "configuration name")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().StringVar(&f.modelType, "type", "",
		"model family, see `packageml models families`")
	cmd.Flags().StringVar(&f.taskType, "task", "",
		"task type (defaults to the family's task)")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil,
		"hyperparameter as key=value, the value is parsed as JSON when possible (repeatable)")
	cmd.Flags().StringVar(&f.paramsFile, "params-file", "",
		"YAML or JSON file of hyperparameters, --param values take precedence")
}

// hyperparameters merges the params file and the --param flags onto base.
func (f *modelFlags) hyperparameters(base model.Hyperparameters) (model.Hyperparameters, error) {
	hp := model.Hyperparameters{}
	for k, v := range base {
		hp[k] = v
	}
	if f.paramsFile != "" {
		bs, err := os.ReadFile(f.paramsFile) // #nosec G304
		if err != nil {
			return nil, errors.Wrap(err, "reading hyperparameters file")
		}
		var fromFile model.Hyperparameters
		if err := yaml.Unmarshal(bs, &fromFile); err != nil {
			return nil, errors.Wrap(err, "parsing hyperparameters file")
		}
		for k, v := range fromFile {
			hp[k] = v
		}
	}
	for _, p := range f.params {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, gateway.AsValidationError("hyperparameter %q is not key=value", p)
		}
		hp[key] = parseValue(raw)
	}
	return hp, nil
}

// parseValue reads "3", "0.1", "true", "null" or "[100, 50]" as JSON and anything else as a
// plain string.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// taskFor is the explicit task, or else the family's.
func taskFor(modelType, explicit string) model.TaskType {
	if explicit != "" {
		return model.TaskType(explicit)
	}
	return model.Families[modelType].TaskType
}

func newModelCreateCmd(c *cli) *cobra.Command {
	var f modelFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a model configuration",
		Long: "Create a model configuration. Hyperparameters that are not given take the " +
			"family's defaults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hp, err := f.hyperparameters(nil)
			if err != nil {
				return err
			}
			req, err := models.Prepare(model.ModelCreate{
				Name:            f.name,
				Description:     f.description,
				ModelType:       f.modelType,
				TaskType:        taskFor(f.modelType, f.taskType),
				Hyperparameters: hp,
			})
			if err != nil {
				return err
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			created, err := a.Models.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.printer.Model(created)
		},
	}
	f.register(cmd)
	return cmd
}

func newModelUpdateCmd(c *cli) *cobra.Command {
	var f modelFlags
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "change a model configuration",
		Long:  "Change a model configuration. Fields that are not given keep their values.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.ModelID](args[0], "model")
			if err != nil {
				return err
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			current, err := a.Models.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			req := model.ModelCreate{
				Name:        current.Name,
				Description: current.Description,
				ModelType:   current.ModelType,
				TaskType:    current.TaskType,
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				req.Name = f.name
			}
			if flags.Changed("description") {
				req.Description = f.description
			}
			base := current.Hyperparameters
			if flags.Changed("type") && f.modelType != current.ModelType {
				// A new family starts over from its own defaults.
				req.ModelType = f.modelType
				req.TaskType = taskFor(f.modelType, "")
				base = nil
			}
			if flags.Changed("task") {
				req.TaskType = model.TaskType(f.taskType)
			}
			if req.Hyperparameters, err = f.hyperparameters(base); err != nil {
				return err
			}

			updated, err := a.Models.Update(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			return c.printer.Model(updated)
		},
	}
	f.register(cmd)
	return cmd
}

func newTrainCmd(c *cli) *cobra.Command {
	var (
		datasetID int
		target    string
	)
	cmd := &cobra.Command{
		Use:   "train ID",
		Short: "train a model on a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.ModelID](args[0], "model")
			if err != nil {
				return err
			}
			if datasetID <= 0 {
				return gateway.ValidationError("--dataset is required")
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			job, err := a.Models.Train(cmd.Context(), id, models.TrainRequest{
				DatasetID:    model.DatasetID(datasetID),
				TargetColumn: target,
			})
			if err != nil {
				return err
			}
			a.Jobs.Upsert(job)
			return c.printer.Job(job)
		},
	}
	cmd.Flags().IntVar(&datasetID, "dataset", 0, "dataset id to train on")
	cmd.Flags().StringVar(&target, "target", "", "target column for supervised tasks")
	return cmd
}
