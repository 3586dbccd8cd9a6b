// Package app wires the session, the gateway and the resource services together. It is created
// once per process and handed to the CLI commands and the console.
package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/packageml/packageml/internal/apikeys"
	"github.com/packageml/packageml/internal/config"
	"github.com/packageml/packageml/internal/datasets"
	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/jobs"
	"github.com/packageml/packageml/internal/models"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/internal/session"
	"github.com/packageml/packageml/pkg/check"
	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

// MinPasswordLength is enforced on registration.
const MinPasswordLength = 8

// App holds the long-lived client components.
type App struct {
	Config   *config.Config
	Session  *session.Store
	Client   *gateway.Client
	Registry *prometheus.Registry

	Datasets *datasets.Service
	Models   *models.Service
	Jobs     *jobs.Service
	APIKeys  *apikeys.Service
	// Catalog resolves the model and dataset a job refers to.
	Catalog jobs.Lookup

	log *logrus.Entry
}

type options struct {
	tokens   session.TokenStore
	notifier resource.Notifier
	registry *prometheus.Registry
	gateway  []gateway.Option
}

// Option configures New.
type Option func(*options)

// WithTokenStore replaces the token file named by the configuration.
func WithTokenStore(t session.TokenStore) Option {
	return func(o *options) { o.tokens = t }
}

// WithNotifier sets where the services report transient notices.
func WithNotifier(n resource.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRegistry sets the registry the gateway metrics are registered with.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithGatewayOptions passes extra options to the gateway client.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *options) { o.gateway = append(o.gateway, opts...) }
}

// New builds the application from a resolved, validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tokens == nil {
		o.tokens = session.NewFileTokenStore(cfg.TokenFile)
	}
	if o.notifier == nil {
		o.notifier = resource.LogNotifier{Log: logger.Component("notices")}
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	store := session.NewStore(o.tokens, nil)
	gwOpts := append([]gateway.Option{
		gateway.WithTimeout(time.Duration(cfg.RequestTimeout)),
		gateway.WithMetrics(gateway.NewMetrics(o.registry)),
		gateway.WithDiagnostics(cfg.Development()),
	}, o.gateway...)
	client, err := gateway.New(cfg.APIURL, store, gwOpts...)
	if err != nil {
		return nil, err
	}
	store.SetFetcher(client)

	a := &App{
		Config:   cfg,
		Session:  store,
		Client:   client,
		Registry: o.registry,
		Datasets: datasets.New(client, resource.WithNotifier(o.notifier)),
		Models:   models.New(client, resource.WithNotifier(o.notifier)),
		Jobs:     jobs.New(client, resource.WithNotifier(o.notifier)),
		APIKeys:  apikeys.New(client, resource.WithNotifier(o.notifier)),
		log:      logger.Component("app"),
	}
	a.Catalog = jobs.Lookup{Models: a.Models, Datasets: a.Datasets}
	// A rejected token ends the session; the guard then sends the user to login.
	client.SetUnauthenticatedHook(func() {
		if !store.IsAuthenticated() && !store.HasDurableToken() {
			return
		}
		a.log.Warn("backend rejected the session token, logging out")
		if err := store.Logout(); err != nil {
			a.log.WithError(err).Error("clearing rejected session")
		}
	})
	return a, nil
}

// Login exchanges credentials for a token, loads the profile it belongs to and stores both.
func (a *App) Login(ctx context.Context, email, password string) (*model.User, error) {
	err := check.Collect([]error{
		check.NotEmpty(email, "email"),
		check.NotEmpty(password, "password"),
	})
	if err != nil {
		return nil, gateway.ValidationError(err.Error())
	}
	tok, err := a.Client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	user, err := a.Client.Me(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if err := a.Session.Login(tok.AccessToken, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Register creates an account. The user still has to log in afterwards.
func (a *App) Register(ctx context.Context, email, password, confirm string) (*model.User, error) {
	if password != confirm {
		return nil, gateway.ValidationError("Passwords do not match")
	}
	if len(password) < MinPasswordLength {
		return nil, gateway.AsValidationError(
			"Password must be at least %d characters long", MinPasswordLength)
	}
	if err := check.Collect([]error{check.NotEmpty(email, "email")}); err != nil {
		return nil, gateway.ValidationError(err.Error())
	}
	return a.Client.Register(ctx, model.Credentials{Email: email, Password: password})
}

// Logout ends the session and forgets the stored token.
func (a *App) Logout() error {
	return a.Session.Logout()
}

// NewPoller returns a job poller at the configured interval.
func (a *App) NewPoller(opts ...jobs.PollerOption) *jobs.Poller {
	opts = append([]jobs.PollerOption{
		jobs.WithInterval(time.Duration(a.Config.PollInterval)),
	}, opts...)
	return jobs.NewPoller(a.Jobs, opts...)
}
