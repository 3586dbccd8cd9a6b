// Package jobs manages training jobs and polls them for server-side progress.
package jobs

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/check"
	"github.com/packageml/packageml/pkg/model"
)

const root = "/jobs/"

// Catalog resolves what job creation needs to know about the referenced model and dataset.
type Catalog interface {
	TaskType(ctx context.Context, id model.ModelID) (model.TaskType, error)
	Columns(ctx context.Context, id model.DatasetID) ([]string, error)
}

// Service is the job resource controller.
type Service struct {
	*resource.Controller[model.JobID, model.Job, model.Job]
	api resource.API
}

// New returns the job service.
func New(api resource.API, opts ...resource.Option) *Service {
	return &Service{
		Controller: resource.New[model.JobID, model.Job, model.Job](api,
			resource.Collection[model.JobID, model.Job]{
				Noun: "job",
				Root: root,
				Key:  func(j model.Job) model.JobID { return j.ID },
			}, opts...),
		api: api,
	}
}

// CreateRequest is what the user chooses when creating a job.
type CreateRequest struct {
	Name         string
	Description  string
	ModelID      model.ModelID
	DatasetID    model.DatasetID
	TargetColumn string
}

// Build turns req into the backend payload: the target is required for supervised tasks and
// must be one of the dataset's columns, and the features are every other column.
func Build(req CreateRequest, task model.TaskType, columns []string) (model.JobCreate, error) {
	errs := []error{
		check.NotEmpty(req.Name, "name"),
		check.True(req.ModelID > 0, "model_id"),
		check.True(req.DatasetID > 0, "dataset_id"),
	}
	if task.Supervised() {
		errs = append(errs, check.NotEmpty(req.TargetColumn,
			fmt.Sprintf("target_column is required for %s", task)))
	}
	if req.TargetColumn != "" {
		errs = append(errs, check.Contains(req.TargetColumn, columns, "target_column"))
	}
	if err := check.Collect(errs); err != nil {
		return model.JobCreate{}, gateway.ValidationError(err.Error())
	}
	return model.JobCreate{
		Name:           req.Name,
		Description:    req.Description,
		ModelID:        req.ModelID,
		DatasetID:      req.DatasetID,
		TargetColumn:   req.TargetColumn,
		FeatureColumns: model.FeatureColumns(columns, req.TargetColumn),
	}, nil
}

// Create resolves the model's task and the dataset's columns through catalog, derives the
// payload and submits it.
func (s *Service) Create(ctx context.Context, catalog Catalog, req CreateRequest) (model.Job, error) {
	task, err := catalog.TaskType(ctx, req.ModelID)
	if err != nil {
		return model.Job{}, errors.Wrap(err, "looking up model")
	}
	columns, err := catalog.Columns(ctx, req.DatasetID)
	if err != nil {
		return model.Job{}, errors.Wrap(err, "looking up dataset columns")
	}
	payload, err := Build(req, task, columns)
	if err != nil {
		return model.Job{}, err
	}
	var created model.Job
	err = s.Action("create", func() error {
		var cErr error
		created, cErr = s.Controller.Create(ctx, payload)
		return cErr
	})
	return created, err
}

// Start requests the pending job id to start (PUT /jobs/{id}/start).
func (s *Service) Start(ctx context.Context, id model.JobID) (model.Job, error) {
	return s.transition(ctx, id, "start")
}

// Cancel requests the running job id to stop (PUT /jobs/{id}/cancel).
func (s *Service) Cancel(ctx context.Context, id model.JobID) (model.Job, error) {
	return s.transition(ctx, id, "cancel")
}

func (s *Service) transition(ctx context.Context, id model.JobID, verb string) (model.Job, error) {
	var job model.Job
	err := s.Action(fmt.Sprintf("%s/%d", verb, id), func() error {
		return s.api.Put(ctx, s.Path(id, verb), nil, &job)
	})
	if err != nil {
		s.Gone(id, err)
		return model.Job{}, errors.Wrapf(err, "%s job %d", verb, id)
	}
	if job.ID == id {
		s.Upsert(job)
	}
	return job, nil
}
