// Package models manages saved model configurations.
package models

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/check"
	"github.com/packageml/packageml/pkg/model"
)

const root = "/models/"

// Service is the model resource controller.
type Service struct {
	*resource.Controller[model.ModelID, model.Model, model.Model]
	api resource.API
}

// New returns the model service.
func New(api resource.API, opts ...resource.Option) *Service {
	return &Service{
		Controller: resource.New[model.ModelID, model.Model, model.Model](api,
			resource.Collection[model.ModelID, model.Model]{
				Noun: "model",
				Root: root,
				Key:  func(m model.Model) model.ModelID { return m.ID },
			}, opts...),
		api: api,
	}
}

type createRequest model.ModelCreate

func (r createRequest) Validate() []error {
	taskTypes := make([]string, 0, len(model.TaskTypes))
	for _, t := range model.TaskTypes {
		taskTypes = append(taskTypes, string(t))
	}
	errs := []error{
		check.NotEmpty(r.Name, "name"),
		check.NotEmpty(r.ModelType, "model_type"),
		check.Contains(string(r.TaskType), taskTypes, "task_type"),
	}
	if family, ok := model.Families[r.ModelType]; ok {
		errs = append(errs, check.True(family.TaskType == r.TaskType,
			fmt.Sprintf("model_type %s solves %s, not %s", r.ModelType, family.TaskType, r.TaskType)))
	}
	return errs
}

// Prepare validates req and fills omitted hyperparameters from the family defaults.
func Prepare(req model.ModelCreate) (model.ModelCreate, error) {
	if err := check.Collect(createRequest(req).Validate()); err != nil {
		return req, gateway.ValidationError(err.Error())
	}
	if family, ok := model.Families[req.ModelType]; ok {
		req.Hyperparameters = family.WithDefaults(req.Hyperparameters)
	} else if req.Hyperparameters == nil {
		req.Hyperparameters = model.Hyperparameters{}
	}
	return req, nil
}

// Create validates and submits a new configuration.
func (s *Service) Create(ctx context.Context, req model.ModelCreate) (model.Model, error) {
	req, err := Prepare(req)
	if err != nil {
		return model.Model{}, err
	}
	var created model.Model
	err = s.Action("create", func() error {
		var cErr error
		created, cErr = s.Controller.Create(ctx, req)
		return cErr
	})
	return created, err
}

// Update replaces the configuration of id.
func (s *Service) Update(ctx context.Context, id model.ModelID, req model.ModelCreate) (model.Model, error) {
	req, err := Prepare(req)
	if err != nil {
		return model.Model{}, err
	}
	var updated model.Model
	err = s.Action(fmt.Sprintf("update/%d", id), func() error {
		return s.api.Put(ctx, s.Path(id), req, &updated)
	})
	if err != nil {
		s.Gone(id, err)
		return model.Model{}, errors.Wrapf(err, "updating model %d", id)
	}
	s.Upsert(updated)
	return updated, nil
}

// TrainRequest is the body of POST /models/{id}/train.
type TrainRequest struct {
	DatasetID    model.DatasetID `json:"dataset_id"`
	TargetColumn string          `json:"target_column,omitempty"`
}

// Train starts a training run of id on a dataset. The backend answers with the job it created.
func (s *Service) Train(ctx context.Context, id model.ModelID, req TrainRequest) (model.Job, error) {
	var job model.Job
	err := s.Action(fmt.Sprintf("train/%d", id), func() error {
		return s.api.Post(ctx, s.Path(id, "train"), req, &job)
	})
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			// The missing id may be the dataset's. Get drops the model only if it is gone.
			_, _ = s.Get(ctx, id) //nolint:errcheck
		}
		return model.Job{}, errors.Wrapf(err, "training model %d", id)
	}
	return job, nil
}
