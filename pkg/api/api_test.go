package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/artifact"
	"github.com/Mr-kumar/pdf-toolkit/pkg/auth"
	"github.com/Mr-kumar/pdf-toolkit/pkg/config"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/quota"
	"github.com/Mr-kumar/pdf-toolkit/pkg/scheduler"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memStore is an in-memory Store for handler tests
type memStore struct {
	store.Store
	mu      sync.Mutex
	nextID  int64
	tenants map[int64]*types.Tenant
	plans   map[string]*types.Plan
	subs    map[int64]string
	jobs    map[string]*types.Job
}

func newMemStore() *memStore {
	return &memStore{
		tenants: make(map[int64]*types.Tenant),
		plans: map[string]*types.Plan{
			"free": {ID: 1, Name: "free", MaxFilesPerMonth: 10, MaxFileSizeMB: 10},
		},
		subs: make(map[int64]string),
		jobs: make(map[string]*types.Job),
	}
}

func (m *memStore) CreateTenant(ctx context.Context, t *types.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Email == t.Email {
			return store.ErrDuplicate
		}
	}
	m.nextID++
	t.ID = m.nextID
	m.tenants[t.ID] = t
	return nil
}

func (m *memStore) GetTenant(ctx context.Context, id int64) (*types.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetTenantByEmail(ctx context.Context, email string) (*types.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Email == email {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetPlanByName(ctx context.Context, name string) (*types.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPlanForTenant(ctx context.Context, tenantID int64) (*types.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.subs[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.plans[name], nil
}

func (m *memStore) Subscribe(ctx context.Context, tenantID, planID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[tenantID] = "free"
	return nil
}

func (m *memStore) ResetUsage(ctx context.Context, tenantID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[tenantID]; ok {
		t.UsageCount = 0
		t.LastReset = now
	}
	return nil
}

func (m *memStore) CreateJob(ctx context.Context, j *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListJobs(ctx context.Context, f types.JobFilter) ([]*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Job
	for _, j := range m.jobs {
		if j.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Kind != "" && j.Kind != f.Kind {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) CountJobs(ctx context.Context, f types.JobFilter) (int, error) {
	jobs, _ := m.ListJobs(ctx, types.JobFilter{TenantID: f.TenantID, Status: f.Status, Kind: f.Kind})
	return len(jobs), nil
}

func (m *memStore) StartJob(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != types.JobStatusPending {
		return store.ErrConflict
	}
	j.Status = types.JobStatusProcessing
	j.StartedAt = &at
	return nil
}

func (m *memStore) CompleteJob(ctx context.Context, j *types.Job, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[j.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Status != types.JobStatusProcessing {
		return store.ErrConflict
	}
	j.Status = types.JobStatusCompleted
	j.CompletedAt = &at
	m.jobs[j.ID] = j
	if t, ok := m.tenants[j.TenantID]; ok {
		t.UsageCount++
	}
	return nil
}

func (m *memStore) FailJob(ctx context.Context, id, kind, msg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != types.JobStatusProcessing {
		return store.ErrConflict
	}
	j.Status = types.JobStatusFailed
	j.ErrorKind, j.ErrorMessage = kind, msg
	j.CompletedAt = &at
	return nil
}

func (m *memStore) CancelJob(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status.Terminal() {
		return store.ErrConflict
	}
	j.Status = types.JobStatusCancelled
	j.CompletedAt = &at
	return nil
}

func (m *memStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

type testEnv struct {
	store  *memStore
	files  *storage.Service
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := newMemStore()
	files, err := storage.NewService(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Settings{
		MaxFileSizeMB: 100,
		CORSOrigins:   []string{"http://localhost:3000"},
	}

	registry := processor.NewRegistry()
	registry.Register(&stubCompress{}, processor.Capability{
		Kind:            types.JobKindCompress,
		AcceptedFormats: []string{".pdf"},
		MinInputs:       1, MaxInputs: 1,
	})
	registry.Register(&stubCompare{}, processor.Capability{
		Kind:            types.JobKindCompare,
		AcceptedFormats: []string{".pdf"},
		MinInputs:       2, MaxInputs: 2,
	})

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sched := scheduler.New(st, files, registry, artifact.NewFinalizer(files, st), broker,
		scheduler.Config{MaxConcurrent: 2, SubmitWait: time.Second, JobTimeout: 5 * time.Second})

	authSvc := auth.NewService(st, testSecret, 30*time.Minute, 24*time.Hour)
	srv := NewServer(cfg, st, files, authSvc, quota.NewGate(st), sched, registry, broker)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{store: st, files: files, server: ts}
}

type stubCompress struct{}

func (stubCompress) Kind() types.JobKind { return types.JobKindCompress }

func (stubCompress) Process(ctx context.Context, req *processor.Request) (*processor.Result, error) {
	out := filepath.Join(req.OutDir, "compressed_"+req.InputName)
	if err := os.WriteFile(out, []byte("%PDF-1.4 stub"), 0o644); err != nil {
		return nil, err
	}
	return &processor.Result{Artifacts: []string{out}}, nil
}

type stubCompare struct{}

func (stubCompare) Kind() types.JobKind { return types.JobKindCompare }

func (stubCompare) Process(ctx context.Context, req *processor.Request) (*processor.Result, error) {
	return &processor.Result{
		Meta: types.JobResult{PageCountA: 1, PageCountB: 1, Identical: true},
	}, nil
}

// addTenant seeds a verified, subscribed account and returns an
// access token for it.
func (e *testEnv) addTenant(t *testing.T, email string) (*types.Tenant, string) {
	t.Helper()
	tenant := &types.Tenant{
		Email: email, Active: true, Verified: true, LastReset: time.Now().UTC(),
	}
	if err := e.store.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatal(err)
	}
	e.store.mu.Lock()
	e.store.subs[tenant.ID] = "free"
	e.store.mu.Unlock()

	token, err := auth.NewService(e.store, testSecret, time.Hour, time.Hour).CreateAccessToken(tenant)
	if err != nil {
		t.Fatal(err)
	}
	return tenant, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body == nil {
		reader = &bytes.Buffer{}
	} else {
		reader = body
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func multipartPDF(t *testing.T, field, filename string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "%PDF-1.4 test document")
	for k, v := range extra {
		_ = w.WriteField(k, v)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartPDF(t, "file", "a.pdf", nil)
	resp := env.do(t, http.MethodPost, "/api/pdf/compress", "", body, ct)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if detail, _ := decode(t, resp)["detail"].(string); detail == "" {
		t.Error("expected a detail message")
	}
}

func TestRegisterLoginProfile(t *testing.T) {
	env := newTestEnv(t)

	reg, _ := json.Marshal(map[string]string{
		"email": "new@example.com", "password": "hunter22!", "full_name": "New User",
	})
	resp := env.do(t, http.MethodPost, "/api/user/auth/register", "", bytes.NewBuffer(reg), "application/json")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	login, _ := json.Marshal(map[string]string{"email": "new@example.com", "password": "hunter22!"})
	resp = env.do(t, http.MethodPost, "/api/user/auth/login", "", bytes.NewBuffer(login), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	tokens := decode(t, resp)
	access, _ := tokens["access_token"].(string)
	if access == "" {
		t.Fatal("no access token issued")
	}

	resp = env.do(t, http.MethodGet, "/api/user/profile", access, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d", resp.StatusCode)
	}
	profile := decode(t, resp)
	if profile["email"] != "new@example.com" {
		t.Errorf("profile email = %v", profile["email"])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "a@example.com")

	login, _ := json.Marshal(map[string]string{"email": "a@example.com", "password": "nope"})
	resp := env.do(t, http.MethodPost, "/api/user/auth/login", "", bytes.NewBuffer(login), "application/json")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubmitCompress(t *testing.T) {
	env := newTestEnv(t)
	tenant, token := env.addTenant(t, "a@example.com")

	body, ct := multipartPDF(t, "file", "report.pdf", map[string]string{"quality": "80"})
	resp := env.do(t, http.MethodPost, "/api/pdf/compress", token, body, ct)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	accepted := decode(t, resp)
	jobID, _ := accepted["job_id"].(string)
	if jobID == "" {
		t.Fatal("no job id in response")
	}

	// The pool runs the job asynchronously
	deadline := time.Now().Add(5 * time.Second)
	var job *types.Job
	for time.Now().Before(deadline) {
		j, err := env.store.GetJob(context.Background(), jobID)
		if err == nil && j.Status.Terminal() {
			job = j
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job == nil {
		t.Fatal("job never reached a terminal status")
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("status = %v (%s: %s)", job.Status, job.ErrorKind, job.ErrorMessage)
	}
	if job.OutputName != "compressed_report.pdf" {
		t.Errorf("output name = %q", job.OutputName)
	}
	if env.store.tenants[tenant.ID].UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", env.store.tenants[tenant.ID].UsageCount)
	}
}

func waitTerminal(t *testing.T, env *testEnv, jobID string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := env.store.GetJob(context.Background(), jobID)
		if err == nil && j.Status.Terminal() {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func TestSubmitCompareNumberedParts(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addTenant(t, "a@example.com")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range []string{"file1", "file2"} {
		fw, err := w.CreateFormFile(field, field+".pdf")
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(fw, "%PDF-1.4 "+field)
	}
	w.Close()

	resp := env.do(t, http.MethodPost, "/api/pdf/compare", token, &buf, w.FormDataContentType())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	accepted := decode(t, resp)
	jobID, _ := accepted["job_id"].(string)
	if jobID == "" {
		t.Fatal("no job id in response")
	}

	job := waitTerminal(t, env, jobID)
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("status = %v (%s: %s)", job.Status, job.ErrorKind, job.ErrorMessage)
	}
	if !job.ResultData.Identical {
		t.Error("comparison metadata not recorded")
	}
}

func TestHistoryClearReportsSkipped(t *testing.T) {
	env := newTestEnv(t)
	tenant, token := env.addTenant(t, "a@example.com")

	now := time.Now().UTC()
	env.store.mu.Lock()
	env.store.jobs["job-done"] = &types.Job{
		ID: "job-done", TenantID: tenant.ID, Kind: types.JobKindCompress,
		Status: types.JobStatusCompleted, CreatedAt: now, CompletedAt: &now,
	}
	env.store.jobs["job-live"] = &types.Job{
		ID: "job-live", TenantID: tenant.ID, Kind: types.JobKindCompress,
		Status: types.JobStatusProcessing, CreatedAt: now,
	}
	env.store.mu.Unlock()

	resp := env.do(t, http.MethodDelete, "/api/user/history/clear-history", token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode(t, resp)
	if got := body["deleted"]; got != float64(1) {
		t.Errorf("deleted = %v, want 1", got)
	}
	if got := body["skipped"]; got != float64(1) {
		t.Errorf("skipped = %v, want 1", got)
	}

	if _, err := env.store.GetJob(context.Background(), "job-live"); err != nil {
		t.Error("in-flight job must survive clear-history")
	}
	if _, err := env.store.GetJob(context.Background(), "job-done"); err == nil {
		t.Error("terminal job should be deleted")
	}
}

func TestSubmitRejectsWrongExtension(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addTenant(t, "a@example.com")

	body, ct := multipartPDF(t, "file", "notes.txt", nil)
	resp := env.do(t, http.MethodPost, "/api/pdf/compress", token, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubmitQuotaExhausted(t *testing.T) {
	env := newTestEnv(t)
	tenant, token := env.addTenant(t, "a@example.com")
	env.store.mu.Lock()
	env.store.tenants[tenant.ID].UsageCount = 10
	env.store.mu.Unlock()

	body, ct := multipartPDF(t, "file", "report.pdf", nil)
	resp := env.do(t, http.MethodPost, "/api/pdf/compress", token, body, ct)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDownloadIsTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	owner, ownerToken := env.addTenant(t, "owner@example.com")
	_, otherToken := env.addTenant(t, "other@example.com")

	dir := filepath.Join(env.files.DownloadsDir(), fmt.Sprintf("%d", owner.ID), "job-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "out.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("/storage/downloads/%d/job-1/out.pdf", owner.ID)

	resp := env.do(t, http.MethodGet, path, ownerToken, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner download status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, path, otherToken, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign download status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHistoryFilterValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addTenant(t, "a@example.com")

	resp := env.do(t, http.MethodGet, "/api/user/history?status=bogus", token, nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/user/history", token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	env := newTestEnv(t)
	tenant, token := env.addTenant(t, "a@example.com")

	now := time.Now().UTC()
	env.store.mu.Lock()
	env.store.jobs["job-done"] = &types.Job{
		ID: "job-done", TenantID: tenant.ID, Kind: types.JobKindCompress,
		Status: types.JobStatusCompleted, CreatedAt: now, CompletedAt: &now,
	}
	env.store.mu.Unlock()

	resp := env.do(t, http.MethodPost, "/api/user/history/job/job-done/cancel", token, nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestForeignJobReadsAsNotFound(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.addTenant(t, "owner@example.com")
	_, otherToken := env.addTenant(t, "other@example.com")

	env.store.mu.Lock()
	env.store.jobs["job-x"] = &types.Job{
		ID: "job-x", TenantID: owner.ID, Kind: types.JobKindCompress,
		Status: types.JobStatusCompleted, CreatedAt: time.Now(),
	}
	env.store.mu.Unlock()

	resp := env.do(t, http.MethodGet, "/api/user/history/job/job-x", otherToken, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/ready", "", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}
