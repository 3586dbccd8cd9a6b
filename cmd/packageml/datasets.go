package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/packageml/packageml/internal/datasets"
	"github.com/packageml/packageml/internal/preview"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/model"
)

func newDatasetsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasets",
		Aliases: []string{"dataset", "ds"},
		Short:   "manage datasets",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "list datasets",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				items, err := a.Datasets.List(cmd.Context())
				if err != nil {
					return err
				}
				return c.printer.Datasets(items)
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "show a dataset's columns and sample rows",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID[model.DatasetID](args[0], "dataset")
				if err != nil {
					return err
				}
				a, _, err := c.authenticated(cmd.Context())
				if err != nil {
					return err
				}
				detail, err := a.Datasets.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				return c.printer.DatasetDetail(detail)
			},
		},
		newUploadCmd(c),
		newPreviewCmd(c),
		newRandomizeCmd(c),
		removeCmd(c, "dataset", func(cmd *cobra.Command, id model.DatasetID, ok resource.Confirmer) error {
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			return a.Datasets.Remove(cmd.Context(), id, ok)
		}),
	)
	return cmd
}

// openUpload opens path as an upload request. The caller closes the returned file.
func openUpload(path string, firstRowIsHeader bool) (*datasets.UploadRequest, *os.File, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening dataset file")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrap(err, "reading dataset file")
	}
	return &datasets.UploadRequest{
		Filename:         filepath.Base(path),
		Size:             info.Size(),
		FirstRowIsHeader: firstRowIsHeader,
		Content:          f,
	}, f, nil
}

func newUploadCmd(c *cli) *cobra.Command {
	var (
		name, description, tags string
		noHeader                bool
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "upload a CSV, JSON or Excel file",
		Long: "Upload a CSV, JSON or Excel file of at most 10MB. Without --name the dataset " +
			"is named after the file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, f, err := openUpload(args[0], !noHeader)
			if err != nil {
				return err
			}
			defer f.Close()
			req.Name, req.Description, req.Tags = name, description, tags
			if req.Name == "" {
				req.Name = preview.SuggestName(req.Filename)
			}
			// Reject bad files before checking the session, so nothing is sent for them.
			if err := req.Validate(); err != nil {
				return err
			}

			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			created, err := a.Datasets.Upload(cmd.Context(), *req)
			if err != nil {
				return err
			}
			if c.printer.JSON {
				return c.printer.Datasets([]model.Dataset{created})
			}
			c.printer.Message("Uploaded %s as dataset %q (id %d), %d rows x %d columns.",
				created.Filename, created.Name, created.ID, created.Rows, created.Columns)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "dataset name")
	cmd.Flags().StringVar(&description, "description", "", "dataset description")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "the first row holds data, not column names")
	return cmd
}

func newPreviewCmd(c *cli) *cobra.Command {
	var noHeader bool
	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "show the first rows of a file as they would be uploaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, f, err := openUpload(args[0], !noHeader)
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := c.application()
			if err != nil {
				return err
			}
			p, err := a.Datasets.Preview(req)
			if err != nil {
				return err
			}
			return c.printer.Preview(p)
		},
	}
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "the first row holds data, not column names")
	return cmd
}

func newRandomizeCmd(c *cli) *cobra.Command {
	var (
		datasetType string
		rows        int
	)
	cmd := &cobra.Command{
		Use:   "randomize",
		Short: "generate a dataset from a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := model.RandomDatasetRequest{DatasetType: datasetType, NumRows: rows}
			if err := datasets.ValidateRandom(req); err != nil {
				return err
			}
			a, _, err := c.authenticated(cmd.Context())
			if err != nil {
				return err
			}
			created, err := a.Datasets.Randomize(cmd.Context(), datasetType, rows)
			if err != nil {
				return err
			}
			if c.printer.JSON {
				return c.printer.Datasets([]model.Dataset{created})
			}
			c.printer.Message("Generated dataset %q (id %d) with %d rows.",
				created.Name, created.ID, created.Rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&datasetType, "type", model.RandomCustomerData,
		"template: \"Customer Data\", \"Sales Data\" or \"Product Catalog\"")
	cmd.Flags().IntVar(&rows, "rows", 100, "number of rows (1 to 2000)")
	return cmd
}
