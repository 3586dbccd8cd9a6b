// Package console serves the dashboard as a local web application: session pages, JSON views of
// the four collections, their actions and a live job stream.
package console

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/packageml/packageml/internal/app"
	"github.com/packageml/packageml/internal/guard"
	"github.com/packageml/packageml/internal/jobs"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/ws"
)

const (
	loginPath     = "/login"
	dashboardPath = "/dashboard"
	shutdownWait  = 10 * time.Second
)

// Server is the console's HTTP server.
type Server struct {
	// System dependencies.
	app     *app.App
	logs    *logger.LogBuffer
	notices *resource.Recorder
	log     *logrus.Entry

	echo       *echo.Echo
	streams    prometheus.Gauge
	streamOpts ws.Options
	pollerOpts []jobs.PollerOption
}

// Option configures a Server.
type Option func(*Server)

// WithStreamOptions tunes the keepalive of job stream sockets.
func WithStreamOptions(opts ws.Options) Option {
	return func(s *Server) { s.streamOpts = opts }
}

// WithPollerOptions is applied to the poller of every job stream.
func WithPollerOptions(opts ...jobs.PollerOption) Option {
	return func(s *Server) { s.pollerOpts = append(s.pollerOpts, opts...) }
}

// New builds the console over a. logs feeds /dashboard/logs and notices is drained by
// /dashboard/notices; it should be the notifier a was built with.
func New(a *app.App, logs *logger.LogBuffer, notices *resource.Recorder, opts ...Option) *Server {
	s := &Server{
		app:     a,
		logs:    logs,
		notices: notices,
		log:     logger.Component("console"),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "packageml",
			Subsystem: "console",
			Name:      "job_streams",
			Help:      "Connected job stream sockets.",
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	a.Registry.MustRegister(s.streams)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger = logger.NewEchoLogger(s.log)
	e.HTTPErrorHandler = JSONErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set("request-id", id)
		},
	}))
	e.Use(s.logRequests)
	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, dashboardPath)
	})
	e.GET(loginPath, s.getLogin)
	e.POST(loginPath, s.postLogin)
	e.POST("/logout", s.postLogout)
	e.POST("/register", s.postRegister)
	e.GET("/session", s.getSession)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		prometheus.Gatherers{s.app.Registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)))

	d := e.Group(dashboardPath, guard.Middleware(s.app.Session, loginPath))
	d.GET("", s.getHome)
	d.GET("/logs", s.getLogs)
	d.GET("/notices", s.getNotices)

	d.GET("/datasets", s.listDatasets)
	d.POST("/datasets/upload", s.uploadDataset)
	d.POST("/datasets/preview", s.previewDataset)
	d.POST("/datasets/randomize", s.randomizeDataset)
	d.GET("/datasets/:id", s.getDataset)
	d.DELETE("/datasets/:id", s.deleteDataset)

	d.GET("/models", s.listModels)
	d.GET("/models/families", s.getFamilies)
	d.POST("/models", s.createModel)
	d.GET("/models/:id", s.getModel)
	d.PUT("/models/:id", s.updateModel)
	d.POST("/models/:id/train", s.trainModel)
	d.DELETE("/models/:id", s.deleteModel)

	d.GET("/jobs", s.listJobs)
	d.GET("/jobs/stream", s.streamJobs)
	d.POST("/jobs", s.createJob)
	d.GET("/jobs/:id", s.getJob)
	d.POST("/jobs/:id/start", s.startJob)
	d.POST("/jobs/:id/cancel", s.cancelJob)
	d.DELETE("/jobs/:id", s.deleteJob)

	d.GET("/api-keys", s.listKeys)
	d.POST("/api-keys", s.generateKey)
	d.DELETE("/api-keys/:id", s.revokeKey)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.WithFields(logrus.Fields{
			"method":     c.Request().Method,
			"uri":        c.Request().RequestURI,
			"status":     c.Response().Status,
			"duration":   time.Since(start),
			"request-id": c.Get("request-id"),
		}).Debug("request served")
		return nil
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves on the configured address until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.app.Config.Console.Address()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("console listening on http://%s%s", addr, dashboardPath)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "serving console on %s", addr)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		return errors.Wrap(s.echo.Shutdown(shutdownCtx), "shutting down console")
	})
	return g.Wait()
}
