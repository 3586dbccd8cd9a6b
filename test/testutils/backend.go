// Package testutils provides an in-memory PackageML backend for tests.
package testutils

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/packageml/packageml/pkg/model"
	"github.com/packageml/packageml/pkg/ptrs"
)

const (
	userKey = "user"

	maxColumns = 20
	maxRows    = 5000
)

// RecordedRequest is one call the backend received.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
}

type failure struct {
	status int
	detail string
}

type account struct {
	user     model.User
	password string
}

// Backend is a fake of the REST backend. It keeps every collection in memory and records the
// requests it serves.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string
	datasets map[model.DatasetID]*model.DatasetDetail
	models   map[model.ModelID]*model.Model
	jobs     map[model.JobID]*model.Job
	keys     map[model.APIKeyID]*model.APIKey
	nextID   int
	requests []RecordedRequest
	failures map[string]failure
	gates    map[string]chan struct{}
}

// NewBackend starts a backend that is shut down when the test ends.
func NewBackend(t testing.TB) *Backend {
	b := &Backend{
		accounts: map[string]*account{},
		tokens:   map[string]string{},
		datasets: map[model.DatasetID]*model.DatasetDetail{},
		models:   map[model.ModelID]*model.Model{},
		jobs:     map[model.JobID]*model.Job{},
		keys:     map[model.APIKeyID]*model.APIKey{},
		failures: map[string]failure{},
		gates:    map[string]chan struct{}{},
	}
	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the backend's base URL.
func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(b.record, b.inject)

	e.POST("/token", b.postToken)
	e.POST("/users/", b.postUser)

	authed := e.Group("", b.authenticate)
	authed.GET("/users/me/", b.getMe)

	authed.GET("/datasets/", b.listDatasets)
	authed.POST("/datasets/", b.createDataset)
	authed.POST("/datasets/upload/", b.uploadDataset)
	authed.POST("/datasets/randomize/", b.randomizeDataset)
	authed.GET("/datasets/:id", b.getDataset)
	authed.DELETE("/datasets/:id", b.deleteDataset)

	authed.GET("/models/", b.listModels)
	authed.POST("/models/", b.createModel)
	authed.GET("/models/:id", b.getModel)
	authed.PUT("/models/:id", b.updateModel)
	authed.DELETE("/models/:id", b.deleteModel)
	authed.POST("/models/:id/train", b.trainModel)

	authed.GET("/jobs/", b.listJobs)
	authed.POST("/jobs/", b.createJob)
	authed.GET("/jobs/:id", b.getJob)
	authed.PUT("/jobs/:id/start", b.startJob)
	authed.PUT("/jobs/:id/cancel", b.cancelJob)
	authed.DELETE("/jobs/:id", b.deleteJob)

	authed.GET("/api-keys/", b.listKeys)
	authed.POST("/api-keys/", b.createKey)
	authed.DELETE("/api-keys/:id", b.deleteKey)
	return e
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func routeKey(method, path string) string {
	return method + " " + path
}

// record logs every request before anything else can reject it.
func (b *Backend) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		b.mu.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Method:        c.Request().Method,
			Path:          c.Request().URL.Path,
			Authorization: c.Request().Header.Get("Authorization"),
		})
		b.mu.Unlock()
		return next(c)
	}
}

// inject applies failures and gates registered for the route.
func (b *Backend) inject(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := routeKey(c.Request().Method, c.Request().URL.Path)
		b.mu.Lock()
		gate := b.gates[key]
		f, failing := b.failures[key]
		if failing {
			delete(b.failures, key)
		}
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if failing {
			return detail(c, f.status, f.detail)
		}
		return next(c)
	}
}

func (b *Backend) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		email, ok := b.tokens[token]
		var acct *account
		if ok {
			acct = b.accounts[email]
		}
		b.mu.Unlock()
		if acct == nil {
			return detail(c, http.StatusUnauthorized, "Could not validate credentials")
		}
		c.Set(userKey, acct.user)
		return next(c)
	}
}

func currentUser(c echo.Context) model.User {
	return c.Get(userKey).(model.User)
}

func (b *Backend) id() int {
	b.nextID++
	return b.nextID
}

func pathID(c echo.Context) (int, error) {
	return strconv.Atoi(c.Param("id"))
}

// --- test controls ---------------------------------------------------------------------

// AddUser registers an account.
func (b *Backend) AddUser(email, password string) model.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := model.User{ID: model.UserID(b.id()), Email: email, IsActive: true, CreatedAt: time.Now()}
	b.accounts[email] = &account{user: u, password: password}
	return u
}

// IssueToken makes token valid for email.
func (b *Backend) IssueToken(email, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = email
}

// RevokeToken makes token invalid.
func (b *Backend) RevokeToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
}

// FailNext makes the next request to method+path fail with status and detail.
func (b *Backend) FailNext(method, path string, status int, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[routeKey(method, path)] = failure{status: status, detail: msg}
}

// Hold blocks requests to method+path until the returned release func is called.
func (b *Backend) Hold(method, path string) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[routeKey(method, path)] = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.gates, routeKey(method, path))
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns every request received so far.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedRequest(nil), b.requests...)
}

// Count returns how many requests hit method+path.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// SeedDataset stores a dataset with the given columns and rows.
func (b *Backend) SeedDataset(name string, columns []string, rows []map[string]interface{}) model.Dataset {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := buildDataset(model.DatasetID(b.id()), name, name+".csv", "CSV", columns, rows)
	b.datasets[d.ID] = d
	return d.Dataset
}

// SeedModel stores a model configuration.
func (b *Backend) SeedModel(m model.Model) model.Model {
	b.mu.Lock()
	defer b.mu.Unlock()
	m.ID = model.ModelID(b.id())
	m.CreatedAt = time.Now()
	b.models[m.ID] = &m
	return m
}

// SeedJob stores a job.
func (b *Backend) SeedJob(j model.Job) model.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	j.ID = model.JobID(b.id())
	if j.Status == "" {
		j.Status = model.JobPending
	}
	j.CreatedAt = time.Now()
	b.jobs[j.ID] = &j
	return j
}

// SetJobStatus moves a job as the execution engine would.
func (b *Backend) SetJobStatus(id model.JobID, status model.JobState, progress float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[id]; ok {
		j.Status = status
		j.Progress = progress
		if status == model.JobCompleted {
			j.CompletedAt = ptrs.TimePtr(time.Now())
			j.Metrics = map[string]interface{}{"accuracy": 0.93}
		}
	}
}

// Job returns the backend's copy of a job.
func (b *Backend) Job(id model.JobID) (model.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *j, true
}

// DeleteBehindClient removes a dataset as another session would.
func (b *Backend) DeleteBehindClient(id model.DatasetID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.datasets, id)
}

// --- users -----------------------------------------------------------------------------

func (b *Backend) postToken(c echo.Context) error {
	email, password := c.FormValue("username"), c.FormValue("password")
	b.mu.Lock()
	acct, ok := b.accounts[email]
	if !ok || acct.password != password {
		b.mu.Unlock()
		return detail(c, http.StatusUnauthorized, "Incorrect username or password")
	}
	token := "tok-" + uuid.New().String()
	b.tokens[token] = email
	b.mu.Unlock()
	return c.JSON(http.StatusOK, model.Token{AccessToken: token, TokenType: "bearer"})
}

func (b *Backend) postUser(c echo.Context) error {
	var creds model.Credentials
	if err := c.Bind(&creds); err != nil || creds.Email == "" || creds.Password == "" {
		return detail(c, http.StatusUnprocessableEntity, "email and password are required")
	}
	b.mu.Lock()
	_, exists := b.accounts[creds.Email]
	b.mu.Unlock()
	if exists {
		return detail(c, http.StatusBadRequest, "Email already registered")
	}
	return c.JSON(http.StatusOK, b.AddUser(creds.Email, creds.Password))
}

func (b *Backend) getMe(c echo.Context) error {
	return c.JSON(http.StatusOK, currentUser(c))
}

// --- datasets --------------------------------------------------------------------------

func buildDataset(
	id model.DatasetID, name, filename, fileType string,
	columns []string, rows []map[string]interface{},
) *model.DatasetDetail {
	d := &model.DatasetDetail{
		Dataset: model.Dataset{
			ID: id, Name: name, Filename: filename, FileType: fileType,
			Rows: len(rows), Columns: len(columns), CreatedAt: time.Now(),
		},
	}
	for _, col := range columns {
		schema := model.ColumnSchema{Name: col, Type: "string"}
		for _, row := range rows {
			v, ok := row[col]
			if !ok || v == nil || v == "" {
				schema.Missing++
				continue
			}
			schema.Example = ptrs.Ptr(fmt.Sprint(v))
			switch v.(type) {
			case float64, int:
				schema.Type = "float"
			case bool:
				schema.Type = "boolean"
			}
		}
		d.MissingValues += schema.Missing
		d.ColumnSchema = append(d.ColumnSchema, schema)
	}
	if len(rows) > 5 {
		d.SampleData = rows[:5]
	} else {
		d.SampleData = rows
	}
	bs, _ := json.Marshal(rows)
	d.Size = int64(len(bs))
	return d
}

func (b *Backend) listDatasets(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.Dataset{}
	for i := 1; i <= b.nextID; i++ {
		if d, ok := b.datasets[model.DatasetID(i)]; ok {
			out = append(out, d.Dataset)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) storeDataset(
	c echo.Context, name, filename, fileType string, columns []string, rows []map[string]interface{},
) error {
	switch {
	case len(rows) == 0:
		return detail(c, http.StatusBadRequest, "Dataset is empty")
	case len(columns) > maxColumns:
		return detail(c, http.StatusBadRequest,
			"Dataset exceeds column limit. Maximum 20 columns allowed.")
	case len(rows) > maxRows:
		return detail(c, http.StatusBadRequest,
			"Dataset exceeds row limit. Maximum 5000 rows allowed.")
	}
	b.mu.Lock()
	d := buildDataset(model.DatasetID(b.id()), name, filename, fileType, columns, rows)
	d.UserID = currentUser(c).ID
	b.datasets[d.ID] = d
	b.mu.Unlock()
	return c.JSON(http.StatusOK, d.Dataset)
}

func (b *Backend) createDataset(c echo.Context) error {
	var req model.DatasetCreate
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	var columns []string
	if len(req.Data) > 0 {
		for k := range req.Data[0] {
			columns = append(columns, k)
		}
	}
	return b.storeDataset(c, req.Name, req.Filename, req.FileType, columns, req.Data)
}

func (b *Backend) uploadDataset(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return detail(c, http.StatusBadRequest, err.Error())
	}
	defer f.Close() //nolint:errcheck

	ext := strings.ToLower(fh.Filename[strings.LastIndex(fh.Filename, ".")+1:])
	var columns []string
	var rows []map[string]interface{}
	switch ext {
	case "csv":
		records, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return detail(c, http.StatusBadRequest, "Error parsing file: "+err.Error())
		}
		header := c.FormValue("first_row_is_header") != "false"
		if len(records) > 0 {
			if header {
				columns, records = records[0], records[1:]
			} else {
				for i := range records[0] {
					columns = append(columns, fmt.Sprintf("Column%d", i+1))
				}
			}
		}
		for _, rec := range records {
			row := map[string]interface{}{}
			for i, col := range columns {
				if i < len(rec) {
					row[col] = rec[i]
				}
			}
			rows = append(rows, row)
		}
	case "json":
		bs, _ := io.ReadAll(f)
		if err := json.Unmarshal(bs, &rows); err != nil {
			return detail(c, http.StatusBadRequest, "Error parsing file: "+err.Error())
		}
		if len(rows) > 0 {
			for k := range rows[0] {
				columns = append(columns, k)
			}
		}
	default:
		return detail(c, http.StatusBadRequest,
			"Unsupported file type. Please upload CSV, JSON, or Excel files.")
	}
	filename := strings.TrimSuffix(fh.Filename, "."+ext) + ".csv"
	return b.storeDataset(c, c.FormValue("name"), filename, "CSV", columns, rows)
}

var randomColumns = map[string][]string{
	model.RandomCustomerData:   {"customer_id", "age", "income", "churned"},
	model.RandomSalesData:      {"order_id", "region", "units", "revenue"},
	model.RandomProductCatalog: {"sku", "category", "price", "in_stock"},
}

func (b *Backend) randomizeDataset(c echo.Context) error {
	var req model.RandomDatasetRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	if req.NumRows < 1 || req.NumRows > 2000 {
		return detail(c, http.StatusBadRequest, "Number of rows must be between 1 and 2000")
	}
	columns, ok := randomColumns[req.DatasetType]
	if !ok {
		return detail(c, http.StatusBadRequest, "Invalid dataset type")
	}
	rows := make([]map[string]interface{}, 0, req.NumRows)
	for i := 0; i < req.NumRows; i++ {
		row := map[string]interface{}{}
		for j, col := range columns {
			row[col] = float64(i*len(columns) + j)
		}
		rows = append(rows, row)
	}
	name := fmt.Sprintf("Random %s", req.DatasetType)
	return b.storeDataset(c, name, strings.ReplaceAll(strings.ToLower(name), " ", "_")+".csv",
		"CSV", columns, rows)
}

func (b *Backend) getDataset(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.datasets[model.DatasetID(id)]
	if !ok {
		return detail(c, http.StatusNotFound, "Dataset not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (b *Backend) deleteDataset(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.datasets[model.DatasetID(id)]; !ok {
		return detail(c, http.StatusNotFound, "Dataset not found")
	}
	delete(b.datasets, model.DatasetID(id))
	return c.JSON(http.StatusOK, map[string]string{"message": "Dataset deleted successfully"})
}

// --- models ----------------------------------------------------------------------------

func (b *Backend) listModels(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.Model{}
	for i := 1; i <= b.nextID; i++ {
		if m, ok := b.models[model.ModelID(i)]; ok {
			out = append(out, *m)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func validModel(req model.ModelCreate) string {
	switch {
	case req.Name == "":
		return "Model name is required"
	case req.ModelType == "":
		return "Model type is required"
	}
	for _, t := range model.TaskTypes {
		if t == req.TaskType {
			return ""
		}
	}
	return "Invalid task type"
}

func (b *Backend) createModel(c echo.Context) error {
	var req model.ModelCreate
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	if msg := validModel(req); msg != "" {
		return detail(c, http.StatusBadRequest, msg)
	}
	b.mu.Lock()
	m := &model.Model{
		ID: model.ModelID(b.id()), Name: req.Name, Description: req.Description,
		ModelType: req.ModelType, TaskType: req.TaskType,
		Hyperparameters: req.Hyperparameters, CreatedAt: time.Now(),
	}
	b.models[m.ID] = m
	b.mu.Unlock()
	return c.JSON(http.StatusOK, m)
}

func (b *Backend) getModel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.models[model.ModelID(id)]
	if !ok {
		return detail(c, http.StatusNotFound, "Model not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (b *Backend) updateModel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	var req model.ModelCreate
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	if msg := validModel(req); msg != "" {
		return detail(c, http.StatusBadRequest, msg)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.models[model.ModelID(id)]
	if !ok {
		return detail(c, http.StatusNotFound, "Model not found")
	}
	m.Name, m.Description, m.ModelType = req.Name, req.Description, req.ModelType
	m.TaskType, m.Hyperparameters = req.TaskType, req.Hyperparameters
	m.UpdatedAt = ptrs.TimePtr(time.Now())
	return c.JSON(http.StatusOK, m)
}

func (b *Backend) deleteModel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.models[model.ModelID(id)]; !ok {
		return detail(c, http.StatusNotFound, "Model not found")
	}
	delete(b.models, model.ModelID(id))
	return c.NoContent(http.StatusNoContent)
}

func (b *Backend) trainModel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	var req struct {
		DatasetID    model.DatasetID `json:"dataset_id"`
		TargetColumn string          `json:"target_column"`
	}
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.models[model.ModelID(id)]
	if !ok {
		return detail(c, http.StatusNotFound, "Model not found")
	}
	if _, ok := b.datasets[req.DatasetID]; !ok {
		return detail(c, http.StatusNotFound, "Dataset not found")
	}
	j := &model.Job{
		ID: model.JobID(b.id()), Name: "Train " + m.Name, ModelID: m.ID, DatasetID: req.DatasetID,
		TargetColumn: req.TargetColumn, Status: model.JobInProgress,
		CreatedAt: time.Now(), StartedAt: ptrs.TimePtr(time.Now()),
	}
	b.jobs[j.ID] = j
	return c.JSON(http.StatusOK, j)
}

// --- jobs ------------------------------------------------------------------------------

func (b *Backend) listJobs(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.Job{}
	for i := 1; i <= b.nextID; i++ {
		if j, ok := b.jobs[model.JobID(i)]; ok {
			listed := *j
			listed.Metrics = nil
			out = append(out, listed)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) createJob(c echo.Context) error {
	var req model.JobCreate
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Name == "" {
		return detail(c, http.StatusBadRequest, "Job name is required")
	}
	if _, ok := b.models[req.ModelID]; !ok {
		return detail(c, http.StatusNotFound, "Model not found")
	}
	d, ok := b.datasets[req.DatasetID]
	if !ok {
		return detail(c, http.StatusNotFound, "Dataset not found")
	}
	d.UsedInJobs++
	j := &model.Job{
		ID: model.JobID(b.id()), Name: req.Name, Description: req.Description,
		ModelID: req.ModelID, DatasetID: req.DatasetID, TargetColumn: req.TargetColumn,
		FeatureColumns: req.FeatureColumns, Status: model.JobPending, CreatedAt: time.Now(),
	}
	b.jobs[j.ID] = j
	return c.JSON(http.StatusOK, j)
}

func (b *Backend) withJob(c echo.Context, fn func(*model.Job) error) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[model.JobID(id)]
	if !ok {
		return detail(c, http.StatusNotFound, "Job not found")
	}
	return fn(j)
}

func (b *Backend) getJob(c echo.Context) error {
	return b.withJob(c, func(j *model.Job) error {
		return c.JSON(http.StatusOK, j)
	})
}

func (b *Backend) startJob(c echo.Context) error {
	return b.withJob(c, func(j *model.Job) error {
		if j.Status != model.JobPending {
			return detail(c, http.StatusBadRequest, "Only pending jobs can be started")
		}
		j.Status = model.JobInProgress
		j.StartedAt = ptrs.TimePtr(time.Now())
		return c.JSON(http.StatusOK, j)
	})
}

func (b *Backend) cancelJob(c echo.Context) error {
	return b.withJob(c, func(j *model.Job) error {
		if j.Status.Terminal() {
			return detail(c, http.StatusBadRequest, "Job has already finished")
		}
		j.Status = model.JobFailed
		j.CompletedAt = ptrs.TimePtr(time.Now())
		return c.JSON(http.StatusOK, j)
	})
}

func (b *Backend) deleteJob(c echo.Context) error {
	return b.withJob(c, func(j *model.Job) error {
		delete(b.jobs, j.ID)
		return c.NoContent(http.StatusNoContent)
	})
}

// --- api keys --------------------------------------------------------------------------

func (b *Backend) listKeys(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.APIKey{}
	for i := 1; i <= b.nextID; i++ {
		if k, ok := b.keys[model.APIKeyID(i)]; ok {
			out = append(out, *k)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (b *Backend) createKey(c echo.Context) error {
	var req model.APIKeyCreate
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, err.Error())
	}
	if req.Name == "" {
		return detail(c, http.StatusBadRequest, "Key name is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := &model.APIKey{
		ID: model.APIKeyID(b.id()), Name: req.Name,
		Key:       "pk_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		CreatedAt: time.Now(), ExpiresAt: req.ExpiresAt,
	}
	b.keys[k.ID] = k
	return c.JSON(http.StatusOK, k)
}

func (b *Backend) deleteKey(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.keys[model.APIKeyID(id)]; !ok {
		return detail(c, http.StatusNotFound, "API key not found")
	}
	delete(b.keys, model.APIKeyID(id))
	return c.NoContent(http.StatusNoContent)
}

// StaticToken is a token source that always returns the same token.
type StaticToken string

// Token returns the token and whether it is set.
func (s StaticToken) Token() (string, bool) {
	return string(s), s != ""
}

// LoggedIn registers a user and returns a token valid for it.
func (b *Backend) LoggedIn(email string) StaticToken {
	b.AddUser(email, "secret1")
	token := "tok-" + email
	b.IssueToken(email, token)
	return StaticToken(token)
}
