package console

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/packageml/packageml/internal/datasets"
	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/guard"
	"github.com/packageml/packageml/internal/jobs"
	"github.com/packageml/packageml/internal/models"
	"github.com/packageml/packageml/internal/preview"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

func idParam[K ~int](c echo.Context) (K, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid id %q", c.Param("id")))
	}
	return K(id), nil
}

// remove runs a deletion that only proceeds with confirm=true. Without it the answer carries the
// question the user has to agree to.
func remove[K ~int](c echo.Context, fn func(id K, confirm resource.Confirmer) error) error {
	id, err := idParam[K](c)
	if err != nil {
		return err
	}
	confirmed, _ := strconv.ParseBool(c.QueryParam("confirm"))
	var prompt string
	err = fn(id, resource.ConfirmFunc(func(p string) bool {
		prompt = p
		return confirmed
	}))
	switch {
	case errors.Is(err, resource.ErrNotConfirmed):
		return echo.NewHTTPError(http.StatusConflict, prompt+" Repeat with confirm=true.")
	case err != nil:
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// home is the landing view of the dashboard.
type home struct {
	User     *model.User `json:"user"`
	Datasets int         `json:"datasets"`
	Models   int         `json:"models"`
	Jobs     int         `json:"jobs"`
	APIKeys  int         `json:"api_keys"`
	Running  int         `json:"running_jobs"`
}

func (s *Server) getHome(c echo.Context) error {
	out := home{User: guard.User(c)}
	g, ctx := errgroup.WithContext(c.Request().Context())
	g.Go(func() error {
		items, err := s.app.Datasets.List(ctx)
		out.Datasets = len(items)
		return err
	})
	g.Go(func() error {
		items, err := s.app.Models.List(ctx)
		out.Models = len(items)
		return err
	})
	g.Go(func() error {
		items, err := s.app.Jobs.List(ctx)
		out.Jobs = len(items)
		for _, j := range items {
			if j.Status == model.JobInProgress {
				out.Running++
			}
		}
		return err
	})
	g.Go(func() error {
		items, err := s.app.APIKeys.List(ctx)
		out.APIKeys = len(items)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getLogs(c echo.Context) error {
	greaterThan, lessThan, limit := -1, -1, -1
	err := echo.QueryParamsBinder(c).
		Int("greater_than_id", &greaterThan).
		Int("less_than_id", &lessThan).
		Int("tail", &limit).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	startID := -1
	if greaterThan >= 0 {
		startID = greaterThan + 1
	}
	entries := s.logs.Entries(startID, lessThan, limit)
	if len(entries) == 0 {
		entries = make([]*logger.Entry, 0)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) getNotices(c echo.Context) error {
	return c.JSON(http.StatusOK, nonNil(s.notices.Drain()))
}

// --- datasets ---------------------------------------------------------------------------

func (s *Server) listDatasets(c echo.Context) error {
	items, err := s.app.Datasets.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) getDataset(c echo.Context) error {
	id, err := idParam[model.DatasetID](c)
	if err != nil {
		return err
	}
	detail, err := s.app.Datasets.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) deleteDataset(c echo.Context) error {
	return remove(c, func(id model.DatasetID, confirm resource.Confirmer) error {
		return s.app.Datasets.Remove(c.Request().Context(), id, confirm)
	})
}

// uploadRequest reads the multipart form shared by upload and preview. The caller closes the
// returned file.
func uploadRequest(c echo.Context) (datasets.UploadRequest, multipart.File, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return datasets.UploadRequest{}, nil, echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return datasets.UploadRequest{}, nil, errors.Wrapf(err, "opening upload %s", fh.Filename)
	}
	header := true
	if v := c.FormValue("first_row_is_header"); v != "" {
		if header, err = strconv.ParseBool(v); err != nil {
			_ = f.Close()
			return datasets.UploadRequest{}, nil, echo.NewHTTPError(http.StatusBadRequest,
				"first_row_is_header must be true or false")
		}
	}
	return datasets.UploadRequest{
		Name:             c.FormValue("name"),
		Description:      c.FormValue("description"),
		Tags:             c.FormValue("tags"),
		Filename:         fh.Filename,
		Size:             fh.Size,
		FirstRowIsHeader: header,
		Content:          f,
	}, f, nil
}

func (s *Server) uploadDataset(c echo.Context) error {
	req, f, err := uploadRequest(c)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	created, err := s.app.Datasets.Upload(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

type previewView struct {
	*preview.Preview
	SuggestedName string `json:"suggested_name"`
}

func (s *Server) previewDataset(c echo.Context) error {
	req, f, err := uploadRequest(c)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	p, err := s.app.Datasets.Preview(&req)
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &apiErr):
		return err
	case err != nil:
		// A file that cannot be parsed is the user's to fix.
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, previewView{Preview: p, SuggestedName: preview.SuggestName(req.Filename)})
}

func (s *Server) randomizeDataset(c echo.Context) error {
	var req model.RandomDatasetRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	created, err := s.app.Datasets.Randomize(c.Request().Context(), req.DatasetType, req.NumRows)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

// --- models -----------------------------------------------------------------------------

func (s *Server) listModels(c echo.Context) error {
	items, err := s.app.Models.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

type familyView struct {
	ModelType string                `json:"model_type"`
	Name      string                `json:"name"`
	TaskType  model.TaskType        `json:"task_type"`
	Defaults  model.Hyperparameters `json:"defaults"`
}

func (s *Server) getFamilies(c echo.Context) error {
	out := make([]familyView, 0, len(model.Families))
	for _, key := range model.FamilyNames() {
		f := model.Families[key]
		out = append(out, familyView{ModelType: key, Name: f.Name, TaskType: f.TaskType, Defaults: f.Defaults})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getModel(c echo.Context) error {
	id, err := idParam[model.ModelID](c)
	if err != nil {
		return err
	}
	m, err := s.app.Models.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) createModel(c echo.Context) error {
	var req model.ModelCreate
	if err := c.Bind(&req); err != nil {
		return err
	}
	created, err := s.app.Models.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) updateModel(c echo.Context) error {
	id, err := idParam[model.ModelID](c)
	if err != nil {
		return err
	}
	var req model.ModelCreate
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return err
	}
	updated, err := s.app.Models.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) trainModel(c echo.Context) error {
	id, err := idParam[model.ModelID](c)
	if err != nil {
		return err
	}
	var req models.TrainRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return err
	}
	job, err := s.app.Models.Train(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	s.app.Jobs.Upsert(job)
	return c.JSON(http.StatusCreated, job)
}

func (s *Server) deleteModel(c echo.Context) error {
	return remove(c, func(id model.ModelID, confirm resource.Confirmer) error {
		return s.app.Models.Remove(c.Request().Context(), id, confirm)
	})
}

// --- jobs -------------------------------------------------------------------------------

func (s *Server) listJobs(c echo.Context) error {
	items, err := s.app.Jobs.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) getJob(c echo.Context) error {
	id, err := idParam[model.JobID](c)
	if err != nil {
		return err
	}
	job, err := s.app.Jobs.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

type createJobForm struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	ModelID      model.ModelID   `json:"model_id"`
	DatasetID    model.DatasetID `json:"dataset_id"`
	TargetColumn string          `json:"target_column"`
}

func (s *Server) createJob(c echo.Context) error {
	var form createJobForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	created, err := s.app.Jobs.Create(c.Request().Context(), s.app.Catalog, jobs.CreateRequest(form))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) startJob(c echo.Context) error {
	return s.transitionJob(c, s.app.Jobs.Start)
}

func (s *Server) cancelJob(c echo.Context) error {
	return s.transitionJob(c, s.app.Jobs.Cancel)
}

func (s *Server) transitionJob(
	c echo.Context, fn func(ctx context.Context, id model.JobID) (model.Job, error),
) error {
	id, err := idParam[model.JobID](c)
	if err != nil {
		return err
	}
	job, err := fn(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) deleteJob(c echo.Context) error {
	return remove(c, func(id model.JobID, confirm resource.Confirmer) error {
		return s.app.Jobs.Remove(c.Request().Context(), id, confirm)
	})
}

// --- api keys ---------------------------------------------------------------------------

func (s *Server) listKeys(c echo.Context) error {
	items, err := s.app.APIKeys.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

type generatedView struct {
	Key model.APIKey `json:"key"`
	// Secret is returned by this response only.
	Secret string `json:"secret"`
}

func (s *Server) generateKey(c echo.Context) error {
	var req model.APIKeyCreate
	if err := c.Bind(&req); err != nil {
		return err
	}
	gen, err := s.app.APIKeys.Generate(c.Request().Context(), req.Name, req.ExpiresAt)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusCreated, generatedView{Key: gen.Key, Secret: gen.Secret})
}

func (s *Server) revokeKey(c echo.Context) error {
	return remove(c, func(id model.APIKeyID, confirm resource.Confirmer) error {
		return s.app.APIKeys.Revoke(c.Request().Context(), id, confirm)
	})
}
