package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mr-kumar/pdf-toolkit/pkg/artifact"
	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/log"
	"github.com/Mr-kumar/pdf-toolkit/pkg/metrics"
	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// Config bounds the worker pool
type Config struct {
	// MaxConcurrent is the number of worker slots
	MaxConcurrent int
	// SubmitWait is how long a submission may wait for a free slot
	// before it is rejected as busy
	SubmitWait time.Duration
	// JobTimeout is the per-job processing deadline
	JobTimeout time.Duration
}

// Scheduler runs accepted jobs on a bounded pool of worker slots.
// Submissions wait a bounded time for a slot and are rejected busy
// when none frees up; accepted jobs run under a per-job deadline and
// can be cancelled while pending or processing.
type Scheduler struct {
	store     store.Store
	files     *storage.Service
	registry  *processor.Registry
	finalizer *artifact.Finalizer
	broker    *events.Broker

	slots      chan struct{}
	submitWait time.Duration
	jobTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a scheduler
func New(st store.Store, files *storage.Service, reg *processor.Registry,
	fin *artifact.Finalizer, broker *events.Broker, cfg Config) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		store:      st,
		files:      files,
		registry:   reg,
		finalizer:  fin,
		broker:     broker,
		slots:      make(chan struct{}, cfg.MaxConcurrent),
		submitWait: cfg.SubmitWait,
		jobTimeout: cfg.JobTimeout,
		running:    make(map[string]context.CancelFunc),
		logger:     log.WithComponent("scheduler"),
	}
}

// Submit hands a pending job to the pool. It waits up to the
// configured submit wait for a worker slot; when none frees up the
// job is rejected with a busy error and no processing starts. inputs
// are the staged upload paths in submission order.
func (s *Scheduler) Submit(ctx context.Context, job *types.Job, inputs []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errdefs.New(errdefs.KindBusy, "service is shutting down")
	}
	s.mu.Unlock()

	metrics.JobsWaiting.Inc()
	defer metrics.JobsWaiting.Dec()

	timer := time.NewTimer(s.submitWait)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
	case <-timer.C:
		metrics.JobsRejected.WithLabelValues("busy").Inc()
		return errdefs.New(errdefs.KindBusy, "all workers are busy, try again later")
	case <-ctx.Done():
		metrics.JobsRejected.WithLabelValues("client_gone").Inc()
		return errdefs.Wrap(errdefs.KindBusy, "request cancelled while waiting for a worker", ctx.Err())
	}

	metrics.JobsSubmitted.WithLabelValues(string(job.Kind)).Inc()
	s.wg.Add(1)
	go s.run(job, inputs)
	return nil
}

// Cancel transitions a pending or processing job to cancelled. A
// running worker is interrupted through its context; the conditional
// store transition guarantees a completed or failed job is left
// untouched.
func (s *Scheduler) Cancel(ctx context.Context, job *types.Job) error {
	if err := s.store.CancelJob(ctx, job.ID, time.Now().UTC()); err != nil {
		return err
	}

	s.mu.Lock()
	cancel, ok := s.running[job.ID]
	s.mu.Unlock()
	if ok {
		cancel()
	}

	s.broker.PublishJob(events.EventJobCancelled, job.ID, "job cancelled", map[string]string{
		"kind": string(job.Kind),
	})
	metrics.JobsFinished.WithLabelValues(string(job.Kind), string(types.JobStatusCancelled)).Inc()
	return nil
}

// Shutdown drains the pool: new submissions are rejected, running
// jobs get the grace period to finish, and whatever remains is
// cancelled before return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn().Msg("Grace period expired, cancelling remaining jobs")
	s.mu.Lock()
	for id, cancel := range s.running {
		s.logger.Info().Str("job_id", id).Msg("Cancelling job on shutdown")
		cancel()
	}
	s.mu.Unlock()

	<-done
	return ctx.Err()
}

// runningCount reports the number of jobs currently holding a worker
func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) run(job *types.Job, inputs []string) {
	defer s.wg.Done()
	defer func() { <-s.slots }()

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	logger := s.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	runCtx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
	}()

	started := time.Now().UTC()
	if err := s.store.StartJob(runCtx, job.ID, started); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Cancelled while waiting for the slot
			logger.Info().Msg("Job no longer pending, skipping")
			return
		}
		logger.Error().Err(err).Msg("Failed to mark job processing")
		s.fail(job, errdefs.KindInternal, "internal server error", started)
		return
	}
	job.Status = types.JobStatusProcessing
	job.StartedAt = &started
	s.broker.PublishJob(events.EventJobStarted, job.ID, "job started", map[string]string{
		"kind": string(job.Kind),
	})
	logger.Info().Int("inputs", len(inputs)).Msg("Job started")

	scratch, err := s.files.NewScratchDir(job.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create scratch directory")
		s.fail(job, errdefs.KindInternal, "internal server error", started)
		return
	}
	defer os.RemoveAll(scratch)

	proc, ok := s.registry.Get(job.Kind)
	if !ok {
		s.fail(job, errdefs.KindInvalidInput, "unsupported operation", started)
		return
	}

	res, err := proc.Process(runCtx, &processor.Request{
		JobID:      job.ID,
		InputPaths: inputs,
		InputName:  job.InputName,
		OutDir:     scratch,
		Params:     job.Parameters,
	})
	finished := time.Now().UTC()

	switch {
	case err == nil:
		if err := s.finalizer.Finalize(context.Background(), job, res, finished); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Cancelled during finalize, drop the artifacts
				logger.Info().Msg("Job cancelled during finalize")
				_ = s.files.DeleteJobFiles(job.TenantID, job.ID)
				return
			}
			logger.Error().Err(err).Msg("Failed to finalize job")
			s.fail(job, errdefs.KindInternal, "internal server error", started)
			return
		}
		metrics.JobsFinished.WithLabelValues(string(job.Kind), string(types.JobStatusCompleted)).Inc()
		metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(finished.Sub(started).Seconds())
		s.broker.PublishJob(events.EventJobCompleted, job.ID, "job completed", map[string]string{
			"kind":        string(job.Kind),
			"output_name": job.OutputName,
		})
		logger.Info().Dur("duration", finished.Sub(started)).Msg("Job completed")

	case errors.Is(runCtx.Err(), context.Canceled):
		// Cancel already transitioned the row
		logger.Info().Msg("Job cancelled")

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.fail(job, errdefs.KindSubprocessTimeout, "processing timed out", started)
		logger.Warn().Dur("timeout", s.jobTimeout).Msg("Job timed out")

	default:
		s.fail(job, errdefs.KindOf(err), errdefs.Message(err), started)
		logger.Warn().Err(err).Msg("Job failed")
	}
}

// fail records a terminal failure; a conflict means the job was
// cancelled first and the failure is discarded.
func (s *Scheduler) fail(job *types.Job, kind errdefs.Kind, msg string, started time.Time) {
	now := time.Now().UTC()
	err := s.store.FailJob(context.Background(), job.ID, string(kind), msg, now)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		return
	}
	if err == nil {
		metrics.JobsFinished.WithLabelValues(string(job.Kind), string(types.JobStatusFailed)).Inc()
		metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(now.Sub(started).Seconds())
		s.broker.PublishJob(events.EventJobFailed, job.ID, msg, map[string]string{
			"kind":       string(job.Kind),
			"error_kind": string(kind),
		})
	}
}
