// Package datasets manages the dataset collection: listing, upload, random generation and
// deletion.
package datasets

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/preview"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/check"
	"github.com/packageml/packageml/pkg/model"
)

const (
	root       = "/datasets/"
	uploadPath = "/datasets/upload/"
	randomPath = "/datasets/randomize/"
)

// API is the gateway surface the service needs.
type API interface {
	resource.API
	PostMultipart(
		ctx context.Context, path string, fields map[string]string, file gateway.File, out interface{},
	) error
}

// Service is the dataset resource controller.
type Service struct {
	*resource.Controller[model.DatasetID, model.Dataset, model.DatasetDetail]
	api API
}

// New returns the dataset service.
func New(api API, opts ...resource.Option) *Service {
	return &Service{
		Controller: resource.New[model.DatasetID, model.Dataset, model.DatasetDetail](api,
			resource.Collection[model.DatasetID, model.Dataset]{
				Noun: "dataset",
				Root: root,
				Key:  func(d model.Dataset) model.DatasetID { return d.ID },
			}, opts...),
		api: api,
	}
}

// UploadRequest describes a file to upload.
type UploadRequest struct {
	Name             string
	Description      string
	Tags             string
	Filename         string
	Size             int64
	FirstRowIsHeader bool
	Content          io.Reader
}

// Validate checks the request without touching the network.
func (r UploadRequest) Validate() error {
	if err := preview.CheckFile(r.Filename, r.Size); err != nil {
		return gateway.ValidationError(err.Error())
	}
	err := check.Collect([]error{
		check.True(r.Content != nil, "file"),
		check.NotEmpty(r.Name, "name"),
	})
	if err != nil {
		return gateway.ValidationError(err.Error())
	}
	return nil
}

// Upload validates req client-side and, only if it passes, uploads the file. An empty name is
// replaced by one suggested from the file name.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (model.Dataset, error) {
	if req.Name == "" {
		req.Name = preview.SuggestName(req.Filename)
	}
	if err := req.Validate(); err != nil {
		return model.Dataset{}, err
	}

	key := "upload/" + req.Filename
	var created model.Dataset
	err := s.Action(key, func() error {
		fields := map[string]string{
			"name":                req.Name,
			"first_row_is_header": strconv.FormatBool(req.FirstRowIsHeader),
		}
		if req.Description != "" {
			fields["description"] = req.Description
		}
		if req.Tags != "" {
			fields["tags"] = req.Tags
		}
		return s.api.PostMultipart(ctx, uploadPath, fields, gateway.File{
			Field: "file", Filename: req.Filename, Content: req.Content,
		}, &created)
	})
	if err != nil {
		return model.Dataset{}, errors.Wrapf(err, "uploading %s", req.Filename)
	}
	s.Upsert(created)
	return created, nil
}

// Preview parses the head of an upload without sending it. The content is buffered so that the
// same request can still be uploaded afterwards.
func (s *Service) Preview(req *UploadRequest) (*preview.Preview, error) {
	if err := preview.CheckFile(req.Filename, req.Size); err != nil {
		return nil, gateway.ValidationError(err.Error())
	}
	bs, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", req.Filename)
	}
	req.Content = bytes.NewReader(bs)
	return preview.Parse(bytes.NewReader(bs), preview.Extension(req.Filename), req.FirstRowIsHeader)
}

// ValidateRandom checks a generation request against the known templates and row bounds.
func ValidateRandom(req model.RandomDatasetRequest) error {
	if err := check.Collect(randomRequest(req).Validate()); err != nil {
		return gateway.ValidationError(err.Error())
	}
	return nil
}

type randomRequest model.RandomDatasetRequest

func (r randomRequest) Validate() []error {
	return []error{
		check.Contains(r.DatasetType, model.RandomDatasetTypes, "dataset_type"),
		check.Between(r.NumRows, model.MinRandomRows, model.MaxRandomRows, "num_rows"),
	}
}

// Randomize asks the backend to generate a dataset from a template.
func (s *Service) Randomize(ctx context.Context, datasetType string, rows int) (model.Dataset, error) {
	req := model.RandomDatasetRequest{DatasetType: datasetType, NumRows: rows}
	if err := ValidateRandom(req); err != nil {
		return model.Dataset{}, err
	}
	var created model.Dataset
	err := s.Action("randomize", func() error {
		return s.api.Post(ctx, randomPath, req, &created)
	})
	if err != nil {
		return model.Dataset{}, errors.Wrap(err, "generating dataset")
	}
	s.Upsert(created)
	return created, nil
}

// Columns returns the column names of a dataset, from the detail cache when possible.
func (s *Service) Columns(ctx context.Context, id model.DatasetID) ([]string, error) {
	if d, ok := s.Cached(id); ok {
		return d.ColumnNames(), nil
	}
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.ColumnNames(), nil
}
