package jobs

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/packageml/packageml/internal/datasets"
	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/models"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/model"
	"github.com/packageml/packageml/test/testutils"
)

type fixture struct {
	backend  *testutils.Backend
	client   *gateway.Client
	jobs     *Service
	models   *models.Service
	datasets *datasets.Service
	dataset  model.Dataset
	model    model.Model
}

func setup(t *testing.T) *fixture {
	backend := testutils.NewBackend(t)
	client, err := gateway.New(backend.URL(), backend.LoggedIn("a@b.com"))
	require.NoError(t, err)
	opt := resource.WithNotifier(&resource.Recorder{})
	return &fixture{
		backend:  backend,
		client:   client,
		jobs:     New(client, opt),
		models:   models.New(client, opt),
		datasets: datasets.New(client, opt),
		dataset: backend.SeedDataset("iris", []string{"sepal", "petal", "species"},
			[]map[string]interface{}{{"sepal": 5.1, "petal": 1.4, "species": "setosa"}}),
		model: backend.SeedModel(model.Model{
			Name: "forest", ModelType: "random_forest_classifier", TaskType: model.TaskClassification,
		}),
	}
}

func (f *fixture) catalog() Catalog {
	return Lookup{Models: f.models, Datasets: f.datasets}
}

func TestBuildDerivesFeatures(t *testing.T) {
	cols := []string{"a", "b", "target", "c"}
	payload, err := Build(CreateRequest{Name: "j", ModelID: 1, DatasetID: 2, TargetColumn: "target"},
		model.TaskRegression, cols)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, payload.FeatureColumns)

	_, err = Build(CreateRequest{Name: "j", ModelID: 1, DatasetID: 2}, model.TaskClassification, cols)
	require.ErrorIs(t, err, gateway.ErrValidationFailed)
	require.Contains(t, gateway.Detail(err), "target_column is required for classification")

	_, err = Build(CreateRequest{Name: "j", ModelID: 1, DatasetID: 2, TargetColumn: "nope"},
		model.TaskClassification, cols)
	require.ErrorIs(t, err, gateway.ErrValidationFailed)

	payload, err = Build(CreateRequest{Name: "j", ModelID: 1, DatasetID: 2}, model.TaskClustering, cols)
	require.NoError(t, err)
	require.Equal(t, cols, payload.FeatureColumns)
}

func TestCreateStartCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	created, err := f.jobs.Create(ctx, f.catalog(), CreateRequest{
		Name: "train forest", ModelID: f.model.ID, DatasetID: f.dataset.ID, TargetColumn: "species",
	})
	require.NoError(t, err)
	require.Equal(t, model.JobPending, created.Status)
	require.Equal(t, []string{"sepal", "petal"}, created.FeatureColumns)

	started, err := f.jobs.Start(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobInProgress, started.Status)

	_, err = f.jobs.Start(ctx, created.ID)
	require.ErrorIs(t, err, gateway.ErrValidationFailed)
	require.Equal(t, "Only pending jobs can be started", gateway.Detail(err))

	cancelled, err := f.jobs.Cancel(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, cancelled.Status)
	cached, ok := f.jobs.Find(created.ID)
	require.True(t, ok)
	require.Equal(t, model.JobFailed, cached.Status)

	require.NoError(t, f.jobs.Remove(ctx, created.ID, resource.Confirmed))
	_, err = f.jobs.Start(ctx, created.ID)
	require.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestBuildKeepsPercentInColumnNames(t *testing.T) {
	_, err := Build(CreateRequest{Name: "j", ModelID: 1, DatasetID: 2, TargetColumn: "growth_%d"},
		model.TaskRegression, []string{"a", "b"})
	require.ErrorIs(t, err, gateway.ErrValidationFailed)
	require.Equal(t, "target_column: growth_%d not in [a b]", gateway.Detail(err))
}

func TestTransitionOnVanishedJobNotifies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	notices := &resource.Recorder{}
	svc := New(f.client, resource.WithNotifier(notices))
	job := f.backend.SeedJob(model.Job{Name: "old", ModelID: f.model.ID, DatasetID: f.dataset.ID})

	_, err := svc.List(ctx)
	require.NoError(t, err)
	_, ok := svc.Find(job.ID)
	require.True(t, ok)

	f.backend.FailNext(http.MethodPut, svc.Path(job.ID, "start"), http.StatusNotFound, "Job not found")
	_, err = svc.Start(ctx, job.ID)
	require.ErrorIs(t, err, gateway.ErrNotFound)

	_, ok = svc.Find(job.ID)
	require.False(t, ok)
	got := notices.Drain()
	require.Len(t, got, 1)
	require.Equal(t, resource.Warning, got[0].Level)
	require.Contains(t, got[0].Message, "no longer exists")
}

func TestCreateUnknownModel(t *testing.T) {
	f := setup(t)
	_, err := f.jobs.Create(context.Background(), f.catalog(), CreateRequest{
		Name: "x", ModelID: 999, DatasetID: f.dataset.ID, TargetColumn: "species",
	})
	require.ErrorIs(t, err, gateway.ErrNotFound)
	require.Zero(t, f.backend.Count(http.MethodPost, root))
}

type latest struct {
	mu   sync.Mutex
	jobs []model.Job
}

func (l *latest) set(jobs []model.Job, err error) {
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = jobs
}

func (l *latest) status(id model.JobID) model.JobState {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, j := range l.jobs {
		if j.ID == id {
			return j.Status
		}
	}
	return ""
}

func TestPollerInterval(t *testing.T) {
	f := setup(t)
	clock := clockwork.NewFakeClock()
	p := NewPoller(f.jobs, WithClock(clock))
	require.Equal(t, 5*time.Second, p.Interval())

	p.Start(context.Background())
	defer p.Stop()
	clock.BlockUntil(1)

	clock.Advance(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, f.backend.Count(http.MethodGet, root))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return f.backend.Count(http.MethodGet, root) == 1
	}, time.Second, 5*time.Millisecond)
	require.False(t, f.jobs.State().Loading)
}

func TestPollerStopsOnTeardown(t *testing.T) {
	f := setup(t)
	clock := clockwork.NewFakeClock()
	p := NewPoller(f.jobs, WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	clock.BlockUntil(1)

	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		return f.backend.Count(http.MethodGet, root) == 1
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	require.False(t, p.Running())
	for i := 0; i < 3; i++ {
		clock.Advance(DefaultInterval)
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, f.backend.Count(http.MethodGet, root))

	// Cancelling the owner's context also ends polling.
	p2 := NewPoller(f.jobs, WithClock(clock))
	p2.Start(ctx)
	clock.BlockUntil(1)
	cancel()
	p2.Stop()
	clock.Advance(DefaultInterval)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, f.backend.Count(http.MethodGet, root))
}

func TestPollerSkipsWhileInFlight(t *testing.T) {
	f := setup(t)
	clock := clockwork.NewFakeClock()
	p := NewPoller(f.jobs, WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()
	clock.BlockUntil(1)

	release := f.backend.Hold(http.MethodGet, root)
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		return f.backend.Count(http.MethodGet, root) == 1
	}, time.Second, 5*time.Millisecond)

	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return p.Skipped() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.backend.Count(http.MethodGet, root))

	release()
	require.Eventually(t, func() bool { return !p.inFlight.Load() }, time.Second, 5*time.Millisecond)
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		return f.backend.Count(http.MethodGet, root) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStartIsVisibleOnNextTick(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// The user owns id 1, the dataset 2 and the model 3.
	f.backend.SeedJob(model.Job{Name: "other", ModelID: f.model.ID, DatasetID: f.dataset.ID})
	job := f.backend.SeedJob(model.Job{Name: "five", ModelID: f.model.ID, DatasetID: f.dataset.ID})
	require.EqualValues(t, 5, job.ID)

	_, err := f.jobs.List(ctx)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	p := NewPoller(f.jobs, WithClock(clock))
	seen := &latest{}
	p.Subscribe(seen.set)
	p.Start(ctx)
	defer p.Stop()
	clock.BlockUntil(1)

	_, err = f.jobs.Start(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, f.backend.Count(http.MethodPut, "/jobs/5/start"))

	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		return seen.status(5) == model.JobInProgress
	}, time.Second, 5*time.Millisecond)

	// Training finishes server-side and the following tick shows it.
	f.backend.SetJobStatus(5, model.JobCompleted, 100)
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		return seen.status(5) == model.JobCompleted
	}, time.Second, 5*time.Millisecond)
}
