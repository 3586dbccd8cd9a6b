package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

const (
	// RequestIDHeader tags every outbound call so backend logs can be correlated.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 64 * 1024
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, bool)
}

// Client is the authenticated HTTP gateway to the backend. It is safe for concurrent use.
type Client struct {
	// System dependencies.
	base       *url.URL
	http       *http.Client
	tokens     TokenSource
	metrics    *Metrics
	log        *logrus.Entry
	diagnostic bool

	onUnauthenticated func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared pooled client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMetrics records every call in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDiagnostics logs every call at debug level.
func WithDiagnostics(on bool) Option {
	return func(c *Client) { c.diagnostic = on }
}

// WithUnauthenticatedHook runs fn whenever an authenticated call cannot be made or is rejected
// for lack of a valid token. It is where the login redirect policy lives.
func WithUnauthenticatedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthenticated = fn }
}

// New returns a gateway to the backend at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid backend url %q", baseURL)
	}
	c := &Client{
		base:   base,
		http:   cleanhttp.DefaultPooledClient(),
		tokens: tokens,
		log:    logger.Component("gateway", logger.Context{"backend": base.Host}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetUnauthenticatedHook installs the hook after construction.
func (c *Client) SetUnauthenticatedHook(fn func()) {
	c.onUnauthenticated = fn
}

// BaseURL is the backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Request describes one backend call.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        io.Reader
	ContentType string
	// Public calls carry no session token.
	Public bool
	// Token, when set, is used instead of the session token and failures do not trigger the
	// unauthenticated hook. Used to validate a token that is not yet the session's.
	Token string
}

func (c *Client) unauthenticated(req Request) {
	if req.Public || req.Token != "" || c.onUnauthenticated == nil {
		return
	}
	c.onUnauthenticated()
}

// Do performs req and decodes a JSON response into out (which may be nil). Failures are
// classified into ErrUnauthenticated, ErrValidationFailed, ErrNotFound or ErrUnreachable.
// Nothing is retried.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) (err error) {
	start := time.Now()
	requestID := uuid.New().String()
	log := c.log.WithFields(logrus.Fields{
		"method":     req.Method,
		"path":       req.Path,
		"request-id": requestID,
	})
	defer func() {
		c.metrics.observe(req.Method, req.Path, start, err)
		if c.diagnostic {
			log.WithField("outcome", Outcome(err)).
				WithField("elapsed", time.Since(start).String()).Debug("backend call")
		}
	}()

	token := req.Token
	if !req.Public && token == "" {
		var ok bool
		if c.tokens != nil {
			token, ok = c.tokens.Token()
		}
		if !ok {
			c.unauthenticated(req)
			return &APIError{Kind: ErrUnauthenticated, Method: req.Method, Path: req.Path}
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + req.Path
	if req.Query != nil {
		u.RawQuery = req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), req.Body)
	if err != nil {
		return errors.Wrapf(err, "building request %s %s", req.Method, req.Path)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s %s", req.Method, req.Path)
		}
		return &APIError{
			Kind: ErrUnreachable, Method: req.Method, Path: req.Path,
			Detail: "Unable to reach the server. Please try again.",
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Kind:   kindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Method: req.Method,
			Path:   req.Path,
			Detail: parseDetail(body),
		}
		if apiErr.Kind == ErrUnauthenticated {
			c.unauthenticated(req)
		}
		if apiErr.Kind == ErrUnreachable {
			log.WithField("status", resp.StatusCode).Warn("backend failure")
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{
			Kind: ErrUnreachable, Status: resp.StatusCode, Method: req.Method, Path: req.Path,
			Detail: "The server sent an unreadable response.",
		}
	}
	return nil
}

func jsonBody(in interface{}) (io.Reader, error) {
	bs, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request body")
	}
	return bytes.NewReader(bs), nil
}

// Get fetches path into out.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	body, err := jsonBody(in)
	if err != nil {
		return err
	}
	return c.Do(ctx, Request{
		Method: http.MethodPost, Path: path, Body: body, ContentType: "application/json",
	}, out)
}

// Put sends in (which may be nil) as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out interface{}) error {
	req := Request{Method: http.MethodPut, Path: path}
	if in != nil {
		body, err := jsonBody(in)
		if err != nil {
			return err
		}
		req.Body, req.ContentType = body, "application/json"
	}
	return c.Do(ctx, req, out)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}

// File is one file part of a multipart upload.
type File struct {
	Field    string
	Filename string
	Content  io.Reader
}

// PostMultipart uploads fields and file as multipart/form-data.
func (c *Client) PostMultipart(
	ctx context.Context, path string, fields map[string]string, file File, out interface{},
) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(file.Field, file.Filename)
	if err != nil {
		return errors.Wrap(err, "creating file part")
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return errors.Wrapf(err, "reading %s", file.Filename)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return errors.Wrapf(err, "writing field %s", k)
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "finishing multipart body")
	}
	return c.Do(ctx, Request{
		Method: http.MethodPost, Path: path, Body: &buf, ContentType: w.FormDataContentType(),
	}, out)
}

// Login exchanges credentials for a bearer token (POST /token, form encoded).
func (c *Client) Login(ctx context.Context, email, password string) (*model.Token, error) {
	form := url.Values{"username": {email}, "password": {password}}
	var tok model.Token
	err := c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/token",
		Body:        strings.NewReader(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Public:      true,
	}, &tok)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, &APIError{
			Kind: ErrUnreachable, Method: http.MethodPost, Path: "/token",
			Detail: "The server did not issue a token.",
		}
	}
	return &tok, nil
}

// Register creates an account (POST /users/).
func (c *Client) Register(ctx context.Context, creds model.Credentials) (*model.User, error) {
	body, err := jsonBody(creds)
	if err != nil {
		return nil, err
	}
	var user model.User
	if err := c.Do(ctx, Request{
		Method: http.MethodPost, Path: "/users/", Body: body,
		ContentType: "application/json", Public: true,
	}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Me returns the profile token belongs to (GET /users/me/). It implements
// session.UserFetcher.
func (c *Client) Me(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, &APIError{Kind: ErrUnauthenticated, Method: http.MethodGet, Path: "/users/me/"}
	}
	var user model.User
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/users/me/", Token: token}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
