package jobs

import (
	"context"

	"github.com/packageml/packageml/pkg/model"
)

// ModelSource is the part of the model service Lookup uses.
type ModelSource interface {
	Find(id model.ModelID) (model.Model, bool)
	Get(ctx context.Context, id model.ModelID) (model.Model, error)
}

// DatasetSource is the part of the dataset service Lookup uses.
type DatasetSource interface {
	Columns(ctx context.Context, id model.DatasetID) ([]string, error)
}

// Lookup is the Catalog backed by the model and dataset services.
type Lookup struct {
	Models   ModelSource
	Datasets DatasetSource
}

// TaskType implements Catalog.
func (l Lookup) TaskType(ctx context.Context, id model.ModelID) (model.TaskType, error) {
	if m, ok := l.Models.Find(id); ok {
		return m.TaskType, nil
	}
	m, err := l.Models.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return m.TaskType, nil
}

// Columns implements Catalog.
func (l Lookup) Columns(ctx context.Context, id model.DatasetID) ([]string, error) {
	return l.Datasets.Columns(ctx, id)
}
