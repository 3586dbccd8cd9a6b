// Package apikeys manages programmatic API keys. A key's full secret is handed to the caller once,
// when it is generated; every cached or listed copy carries only its truncated form.
package apikeys

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/check"
	"github.com/packageml/packageml/pkg/model"
)

const root = "/api-keys/"

// Service is the API key resource controller.
type Service struct {
	*resource.Controller[model.APIKeyID, model.APIKey, model.APIKey]
	api resource.API
}

// New returns the API key service.
func New(api resource.API, opts ...resource.Option) *Service {
	return &Service{
		Controller: resource.New[model.APIKeyID, model.APIKey, model.APIKey](redacting{api},
			resource.Collection[model.APIKeyID, model.APIKey]{
				Noun: "API key",
				Root: root,
				Key:  func(k model.APIKey) model.APIKeyID { return k.ID },
			}, opts...),
		api: api,
	}
}

// redacting truncates every key the controller reads, so no full secret is ever cached.
type redacting struct {
	resource.API
}

func (r redacting) Get(ctx context.Context, path string, out interface{}) error {
	if err := r.API.Get(ctx, path, out); err != nil {
		return err
	}
	redact(out)
	return nil
}

func (r redacting) Post(ctx context.Context, path string, in, out interface{}) error {
	if err := r.API.Post(ctx, path, in, out); err != nil {
		return err
	}
	redact(out)
	return nil
}

func redact(out interface{}) {
	switch v := out.(type) {
	case *[]model.APIKey:
		for i := range *v {
			(*v)[i] = (*v)[i].Redacted()
		}
	case *model.APIKey:
		*v = v.Redacted()
	}
}

// Generated is the result of Generate. Secret is the only copy of the full key the client will
// ever hold.
type Generated struct {
	Key    model.APIKey
	Secret string
}

// Generate creates a key. expiresAt may be nil for a key that never expires.
func (s *Service) Generate(
	ctx context.Context, name string, expiresAt *time.Time,
) (Generated, error) {
	if err := check.Collect([]error{check.NotEmpty(name, "name")}); err != nil {
		return Generated{}, gateway.ValidationError(err.Error())
	}
	req := model.APIKeyCreate{Name: name, ExpiresAt: expiresAt}

	var created model.APIKey
	err := s.Action("generate", func() error {
		return s.api.Post(ctx, root, req, &created)
	})
	if err != nil {
		return Generated{}, errors.Wrap(err, "generating API key")
	}
	redacted := created.Redacted()
	s.Upsert(redacted)
	return Generated{Key: redacted, Secret: created.Key}, nil
}

// Revoke deletes a key after confirm agrees.
func (s *Service) Revoke(ctx context.Context, id model.APIKeyID, confirm resource.Confirmer) error {
	return s.Remove(ctx, id, confirm)
}
