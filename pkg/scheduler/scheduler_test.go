package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/artifact"
	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// fakeStore records job transitions in memory
type fakeStore struct {
	store.Store
	mu sync.Mutex

	startErr  error
	statuses  map[string]types.JobStatus
	failKind  string
	failMsg   string
	completed *types.Job
	done      chan string // receives job id on any terminal transition
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[string]types.JobStatus),
		done:     make(chan string, 8),
	}
}

func (f *fakeStore) StartJob(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.statuses[id] = types.JobStatusProcessing
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, j *types.Job, at time.Time) error {
	f.mu.Lock()
	f.statuses[j.ID] = types.JobStatusCompleted
	f.completed = j
	f.mu.Unlock()
	f.done <- j.ID
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, id, kind, msg string, at time.Time) error {
	f.mu.Lock()
	f.statuses[id] = types.JobStatusFailed
	f.failKind, f.failMsg = kind, msg
	f.mu.Unlock()
	f.done <- id
	return nil
}

func (f *fakeStore) CancelJob(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses[id].Terminal() {
		return store.ErrConflict
	}
	f.statuses[id] = types.JobStatusCancelled
	return nil
}

func (f *fakeStore) status(id string) types.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

// fakeProc runs a function as a processor for the compress kind
type fakeProc struct {
	fn func(ctx context.Context, req *processor.Request) (*processor.Result, error)
}

func (p *fakeProc) Kind() types.JobKind { return types.JobKindCompress }

func (p *fakeProc) Process(ctx context.Context, req *processor.Request) (*processor.Result, error) {
	return p.fn(ctx, req)
}

type harness struct {
	store *fakeStore
	files *storage.Service
	sched *Scheduler
}

func newHarness(t *testing.T, cfg Config, fn func(ctx context.Context, req *processor.Request) (*processor.Result, error)) *harness {
	t.Helper()

	files, err := storage.NewService(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	registry := processor.NewRegistry()
	registry.Register(&fakeProc{fn: fn}, processor.Capability{Kind: types.JobKindCompress})

	st := newFakeStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sched := New(st, files, registry, artifact.NewFinalizer(files, st), broker, cfg)
	return &harness{store: st, files: files, sched: sched}
}

func testJob(id string) *types.Job {
	return &types.Job{
		ID:        id,
		TenantID:  7,
		Kind:      types.JobKindCompress,
		Status:    types.JobStatusPending,
		InputName: "report.pdf",
	}
}

func defaultConfig() Config {
	return Config{MaxConcurrent: 2, SubmitWait: time.Second, JobTimeout: 5 * time.Second}
}

func waitDone(t *testing.T, st *fakeStore) {
	t.Helper()
	select {
	case <-st.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a terminal transition")
	}
}

func TestRunCompletesJob(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		out := filepath.Join(req.OutDir, "compressed_report.pdf")
		if err := os.WriteFile(out, []byte("%PDF-1.4 compressed"), 0o644); err != nil {
			return nil, err
		}
		return &processor.Result{
			Artifacts: []string{out},
			Meta:      types.JobResult{OriginalSize: 100, CompressedSize: 19},
		}, nil
	})

	job := testJob("job-ok")
	if err := h.sched.Submit(context.Background(), job, []string{"in.pdf"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, h.store)

	if got := h.store.status(job.ID); got != types.JobStatusCompleted {
		t.Fatalf("status = %v, want completed", got)
	}

	h.store.mu.Lock()
	completed := h.store.completed
	h.store.mu.Unlock()
	if completed.OutputName != "compressed_report.pdf" {
		t.Errorf("output name = %q", completed.OutputName)
	}
	want := filepath.Join(h.files.DownloadsDir(), "7", job.ID, "compressed_report.pdf")
	if completed.OutputPath != want {
		t.Errorf("output path = %q, want %q", completed.OutputPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("artifact missing from downloads: %v", err)
	}
}

func TestRunFailsJobWithErrorKind(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		return nil, errdefs.New(errdefs.KindWrongPassword, "incorrect password")
	})

	job := testJob("job-fail")
	if err := h.sched.Submit(context.Background(), job, []string{"in.pdf"}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.store)

	if got := h.store.status(job.ID); got != types.JobStatusFailed {
		t.Fatalf("status = %v, want failed", got)
	}
	h.store.mu.Lock()
	kind, msg := h.store.failKind, h.store.failMsg
	h.store.mu.Unlock()
	if kind != string(errdefs.KindWrongPassword) {
		t.Errorf("error kind = %q, want WrongPassword", kind)
	}
	if msg != "incorrect password" {
		t.Errorf("error message = %q", msg)
	}
}

func TestRunTimesOut(t *testing.T) {
	cfg := defaultConfig()
	cfg.JobTimeout = 50 * time.Millisecond

	h := newHarness(t, cfg, func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job := testJob("job-slow")
	if err := h.sched.Submit(context.Background(), job, []string{"in.pdf"}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.store)

	if got := h.store.status(job.ID); got != types.JobStatusFailed {
		t.Fatalf("status = %v, want failed", got)
	}
	h.store.mu.Lock()
	kind := h.store.failKind
	h.store.mu.Unlock()
	if kind != string(errdefs.KindSubprocessTimeout) {
		t.Errorf("error kind = %q, want SubprocessTimeout", kind)
	}
}

func TestSubmitBusyWhenPoolSaturated(t *testing.T) {
	cfg := Config{MaxConcurrent: 1, SubmitWait: 50 * time.Millisecond, JobTimeout: 5 * time.Second}

	release := make(chan struct{})
	h := newHarness(t, cfg, func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		<-release
		return nil, errdefs.New(errdefs.KindProcessorError, "never mind")
	})

	if err := h.sched.Submit(context.Background(), testJob("job-1"), []string{"in.pdf"}); err != nil {
		t.Fatal(err)
	}

	err := h.sched.Submit(context.Background(), testJob("job-2"), []string{"in.pdf"})
	if err == nil {
		t.Fatal("expected busy rejection")
	}
	if !errdefs.Is(err, errdefs.KindBusy) {
		t.Errorf("kind = %v, want Busy", errdefs.KindOf(err))
	}

	close(release)
	waitDone(t, h.store)
}

func TestSubmitClientGoneIsBusy(t *testing.T) {
	cfg := Config{MaxConcurrent: 1, SubmitWait: 5 * time.Second, JobTimeout: 5 * time.Second}

	release := make(chan struct{})
	h := newHarness(t, cfg, func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		<-release
		return &processor.Result{}, nil
	})

	if err := h.sched.Submit(context.Background(), testJob("job-1"), []string{"in.pdf"}); err != nil {
		t.Fatal(err)
	}

	// The caller disconnects while waiting for a slot; the rejection
	// must carry a taxonomy kind, not a bare context error.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.sched.Submit(ctx, testJob("job-2"), []string{"in.pdf"})
	if err == nil {
		t.Fatal("expected rejection for a gone client")
	}
	if !errdefs.Is(err, errdefs.KindBusy) {
		t.Errorf("kind = %v, want Busy", errdefs.KindOf(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cause should remain inspectable")
	}

	close(release)
	waitDone(t, h.store)
}

func TestCancelInterruptsRunningJob(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, defaultConfig(), func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job := testJob("job-cancel")
	if err := h.sched.Submit(context.Background(), job, []string{"in.pdf"}); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := h.sched.Cancel(context.Background(), job); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The worker must observe the cancellation and must not overwrite
	// the cancelled status with failed.
	deadline := time.After(2 * time.Second)
	for h.sched.runningCount() > 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not exit after cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := h.store.status(job.ID); got != types.JobStatusCancelled {
		t.Fatalf("status = %v, want cancelled", got)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		return &processor.Result{}, nil
	})

	job := testJob("job-done")
	if err := h.sched.Submit(context.Background(), job, []string{"in.pdf"}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, h.store)

	if err := h.sched.Cancel(context.Background(), job); err != store.ErrConflict {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestShutdownRejectsNewSubmissions(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(ctx context.Context, req *processor.Request) (*processor.Result, error) {
		return &processor.Result{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.sched.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	err := h.sched.Submit(context.Background(), testJob("job-late"), []string{"in.pdf"})
	if !errdefs.Is(err, errdefs.KindBusy) {
		t.Fatalf("kind = %v, want Busy after shutdown", errdefs.KindOf(err))
	}
}
