package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/packageml/packageml/internal/app"
	"github.com/packageml/packageml/internal/config"
	"github.com/packageml/packageml/internal/jobs"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/internal/session"
	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
	"github.com/packageml/packageml/pkg/ws"
	"github.com/packageml/packageml/test/testutils"
)

type fixture struct {
	backend *testutils.Backend
	app     *app.App
	server  *Server
	url     string
	http    *http.Client
	logs    *logger.LogBuffer
	notices *resource.Recorder
}

func newFixture(t *testing.T, token string, opts ...Option) *fixture {
	backend := testutils.NewBackend(t)
	cfg := config.DefaultConfig()
	cfg.APIURL = backend.URL()
	require.NoError(t, cfg.Resolve())

	notices := &resource.Recorder{}
	a, err := app.New(cfg,
		app.WithTokenStore(session.NewMemoryTokenStore(token)),
		app.WithNotifier(notices))
	require.NoError(t, err)

	logs := logger.NewLogBuffer(8)
	srv := New(a, logs, notices, opts...)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	return &fixture{
		backend: backend,
		app:     a,
		server:  srv,
		url:     hs.URL,
		logs:    logs,
		notices: notices,
		http: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
	}
}

// loggedIn returns a fixture whose session was already validated.
func loggedIn(t *testing.T, opts ...Option) *fixture {
	f := newFixture(t, "", opts...)
	_, err := f.app.Login(context.Background(), f.backend.AddUser("a@b.com", "secret1").Email, "secret1")
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	req, err := http.NewRequest(method, f.url+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.http.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) json(t *testing.T, method, path string, in interface{}) *http.Response {
	var body io.Reader
	if in != nil {
		bs, err := json.Marshal(in)
		require.NoError(t, err)
		body = strings.NewReader(string(bs))
	}
	return f.do(t, method, path, body, "application/json")
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func message(t *testing.T, resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	decode(t, resp, &body)
	return body.Message
}

func TestLoginRoundTrip(t *testing.T) {
	f := newFixture(t, "")
	f.backend.AddUser("a@b.com", "secret1")

	resp := f.do(t, http.MethodGet, "/dashboard/jobs", nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login?next=%2Fdashboard%2Fjobs", resp.Header.Get("Location"))

	form := url.Values{"email": {"a@b.com"}, "password": {"nope"}, "next": {"/dashboard/jobs"}}
	resp = f.do(t, http.MethodPost, "/login", strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Incorrect username or password", message(t, resp))

	form.Set("password", "secret1")
	resp = f.do(t, http.MethodPost, "/login", strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/dashboard/jobs", resp.Header.Get("Location"))

	var snap session.Snapshot
	decode(t, f.do(t, http.MethodGet, "/session", nil, ""), &snap)
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, "a@b.com", snap.User.Email)

	resp = f.do(t, http.MethodGet, "/dashboard/jobs", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/logout", nil, "")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/dashboard/jobs", nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestLoginRejectsForeignNext(t *testing.T) {
	f := newFixture(t, "")
	f.backend.AddUser("a@b.com", "secret1")
	form := url.Values{"email": {"a@b.com"}, "password": {"secret1"}, "next": {"https://evil.example"}}
	resp := f.do(t, http.MethodPost, "/login", strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded")
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestRegister(t *testing.T) {
	f := newFixture(t, "")
	resp := f.json(t, http.MethodPost, "/register", map[string]string{
		"email": "n@b.com", "password": "longenough", "confirm_password": "other",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Passwords do not match", message(t, resp))

	resp = f.json(t, http.MethodPost, "/register", map[string]string{
		"email": "n@b.com", "password": "longenough", "confirm_password": "longenough",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestStoredTokenShowsLoading(t *testing.T) {
	// LoggedIn issues "tok-<email>", so the store can hold it before the backend exists.
	f := newFixture(t, "tok-a@b.com")
	f.backend.LoggedIn("a@b.com")
	release := f.backend.Hold(http.MethodGet, "/users/me/")

	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodGet, "/dashboard/datasets", nil, "")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Equal(t, "1", resp.Header.Get("Retry-After"))
	}
	release()

	require.Eventually(t, func() bool {
		return f.app.Session.State() == session.Authenticated
	}, 2*time.Second, 5*time.Millisecond)
	resp := f.do(t, http.MethodGet, "/dashboard/datasets", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.backend.Count(http.MethodGet, "/users/me/"))
}

func TestHomeCounts(t *testing.T) {
	f := loggedIn(t)
	f.backend.SeedDataset("iris", []string{"a", "b"}, nil)
	f.backend.SeedModel(model.Model{Name: "m", ModelType: "kmeans", TaskType: model.TaskClustering})

	var out home
	resp := f.do(t, http.MethodGet, "/dashboard", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &out)
	require.Equal(t, "a@b.com", out.User.Email)
	require.Equal(t, 1, out.Datasets)
	require.Equal(t, 1, out.Models)
	require.Equal(t, 0, out.Jobs)
	require.Equal(t, 0, out.APIKeys)

	f.backend.FailNext(http.MethodGet, "/models/", http.StatusInternalServerError, "boom")
	resp = f.do(t, http.MethodGet, "/dashboard", nil, "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	f := loggedIn(t)
	ds := f.backend.SeedDataset("iris", []string{"a"}, nil)
	path := "/dashboard/datasets/" + jsonID(ds.ID)

	resp := f.do(t, http.MethodDelete, path, nil, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, message(t, resp),
		"Delete dataset "+jsonID(ds.ID)+"? This cannot be undone. Repeat with confirm=true.")
	require.Zero(t, f.backend.Count(http.MethodDelete, "/datasets/"+jsonID(ds.ID)))

	resp = f.do(t, http.MethodDelete, path+"?confirm=true", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var notices []resource.Notice
	decode(t, f.do(t, http.MethodGet, "/dashboard/notices", nil, ""), &notices)
	require.Equal(t, []resource.Notice{{Level: resource.Info, Message: "dataset " + jsonID(ds.ID) + " deleted"}},
		notices)

	resp = f.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Dataset not found", message(t, resp))

	resp = f.do(t, http.MethodDelete, "/dashboard/datasets/abc?confirm=true", nil, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func jsonID[K ~int](id K) string {
	bs, _ := json.Marshal(id)
	return string(bs)
}

func TestValidationMessagesAreVerbatim(t *testing.T) {
	f := loggedIn(t)
	resp := f.json(t, http.MethodPost, "/dashboard/datasets/randomize",
		model.RandomDatasetRequest{DatasetType: model.RandomSalesData, NumRows: 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "num_rows: 0 is not between 1 and 2000", message(t, resp))
	require.Zero(t, f.backend.Count(http.MethodPost, "/datasets/randomize/"))

	resp = f.json(t, http.MethodPost, "/dashboard/datasets/randomize",
		model.RandomDatasetRequest{DatasetType: model.RandomSalesData, NumRows: 10})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	f.backend.FailNext(http.MethodPost, "/jobs/", http.StatusInternalServerError, "db down")
	m := f.backend.SeedModel(model.Model{Name: "m", ModelType: "kmeans", TaskType: model.TaskClustering})
	ds := f.backend.SeedDataset("iris", []string{"a", "b"}, nil)
	resp = f.json(t, http.MethodPost, "/dashboard/jobs", map[string]interface{}{
		"name": "run", "model_id": m.ID, "dataset_id": ds.ID,
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Contains(t, message(t, resp), "could not be reached")
}

func TestAPIKeySecretShownOnce(t *testing.T) {
	f := loggedIn(t)
	var gen generatedView
	resp := f.json(t, http.MethodPost, "/dashboard/api-keys", map[string]string{"name": "Prod"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	decode(t, resp, &gen)
	require.True(t, strings.HasPrefix(gen.Secret, "pk_"))
	require.Equal(t, model.TruncateKey(gen.Secret), gen.Key.Key)

	var keys []model.APIKey
	decode(t, f.do(t, http.MethodGet, "/dashboard/api-keys", nil, ""), &keys)
	require.Len(t, keys, 1)
	require.Equal(t, model.TruncateKey(gen.Secret), keys[0].Key)
}

func TestLogsAndMetrics(t *testing.T) {
	f := loggedIn(t)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, f.logs.Fire(&logrus.Entry{
			Message: msg, Level: logrus.InfoLevel, Time: time.Now(), Data: logrus.Fields{},
		}))
	}
	var entries []logger.Entry
	decode(t, f.do(t, http.MethodGet, "/dashboard/logs?greater_than_id=0", nil, ""), &entries)
	require.Len(t, entries, 2)
	require.Equal(t, "two", entries[0].Message)

	decode(t, f.do(t, http.MethodGet, "/dashboard/logs?tail=1", nil, ""), &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "three", entries[0].Message)

	resp := f.do(t, http.MethodGet, "/dashboard/logs?tail=x", nil, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "packageml_gateway_requests_total")
	require.Contains(t, string(body), "packageml_console_job_streams 0")
}

func TestJobStreamFollowsStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := loggedIn(t, WithPollerOptions(jobs.WithClock(clock)))
	m := f.backend.SeedModel(model.Model{
		Name: "rf", ModelType: "random_forest_classifier", TaskType: model.TaskClassification,
	})
	ds := f.backend.SeedDataset("iris", []string{"sepal", "species"}, nil)
	job := f.backend.SeedJob(model.Job{Name: "j", ModelID: m.ID, DatasetID: ds.ID, Status: model.JobPending})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.url, "http") + "/dashboard/jobs/stream"
	conn, err := ws.Dial[jobSnapshot, streamCommand](ctx, "test", wsURL, nil, ws.Options{})
	require.NoError(t, err)

	next := func() jobSnapshot {
		select {
		case snap, ok := <-conn.Inbox:
			require.True(t, ok)
			return snap
		case <-ctx.Done():
			t.Fatal("no snapshot")
			return jobSnapshot{}
		}
	}

	first := next()
	require.Len(t, first.Jobs, 1)
	require.Equal(t, model.JobPending, first.Jobs[0].Status)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.server.streams) == 1
	}, time.Second, 5*time.Millisecond)

	resp := f.do(t, http.MethodPost, "/dashboard/jobs/"+jsonID(job.ID)+"/start", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.backend.Count(http.MethodPut, "/jobs/"+jsonID(job.ID)+"/start"))

	clock.BlockUntil(1)
	clock.Advance(jobs.DefaultInterval)
	require.Equal(t, model.JobInProgress, next().Jobs[0].Status)

	f.backend.SetJobStatus(job.ID, model.JobCompleted, 100)
	require.NoError(t, conn.Send(ctx, streamCommand{Action: "refresh"}))
	require.Equal(t, model.JobCompleted, next().Jobs[0].Status)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.server.streams) == 0
	}, time.Second, 5*time.Millisecond)

	// The poller went away with the socket.
	before := f.backend.Count(http.MethodGet, "/jobs/")
	clock.Advance(3 * jobs.DefaultInterval)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, f.backend.Count(http.MethodGet, "/jobs/"))
}
