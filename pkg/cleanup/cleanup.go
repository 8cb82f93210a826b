package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/log"
	"github.com/Mr-kumar/pdf-toolkit/pkg/metrics"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
)

// expiredJobBatch bounds one retention sweep pass
const expiredJobBatch = 200

// Config sets the sweep cadence and ages
type Config struct {
	Interval   time.Duration
	MaxFileAge time.Duration
	MaxTempAge time.Duration
	Retention  time.Duration
}

// Sweeper periodically reclaims storage: aged uploads and downloads,
// stale temp files, and terminal jobs past their retention together
// with their artifacts.
type Sweeper struct {
	store  store.Store
	files  *storage.Service
	broker *events.Broker
	cfg    Config

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a sweeper
func New(st store.Store, files *storage.Service, broker *events.Broker, cfg Config) *Sweeper {
	return &Sweeper{
		store:  st,
		files:  files,
		broker: broker,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: log.WithComponent("cleanup"),
		now:    time.Now,
	}
}

// Start launches the sweep loop
func (s *Sweeper) Start() {
	go s.run()
}

// Stop stops the sweep loop and waits for an in-flight sweep
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()

	files, err := s.SweepFiles()
	if err != nil {
		s.logger.Error().Err(err).Msg("File sweep failed")
	}
	jobs, err := s.SweepJobs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Job sweep failed")
	}
	if files > 0 || jobs > 0 {
		s.logger.Info().Int("files", files).Int("jobs", jobs).Msg("Cleanup sweep finished")
	}
}

// SweepFiles removes aged files from the upload, download and temp
// areas and prunes directories left empty. Files belonging to a job
// still processing are never older than the job deadline, far below
// the sweep ages, so an age check alone is safe.
func (s *Sweeper) SweepFiles() (int, error) {
	now := s.now()
	removed := 0

	for _, area := range []struct {
		name   string
		root   string
		maxAge time.Duration
	}{
		{"uploads", s.files.UploadsDir(), s.cfg.MaxFileAge},
		{"downloads", s.files.DownloadsDir(), s.cfg.MaxFileAge},
		{"temp", s.files.TempDir(), s.cfg.MaxTempAge},
	} {
		n, err := removeOlderThan(area.root, now.Add(-area.maxAge))
		if err != nil {
			return removed, err
		}
		if n > 0 {
			metrics.FilesCleaned.WithLabelValues(area.name).Add(float64(n))
			removed += n
		}
	}

	if removed > 0 {
		s.broker.Publish(&events.Event{
			Type:    events.EventCleanupFiles,
			Message: "aged files removed",
		})
	}
	return removed, nil
}

// SweepJobs deletes terminal jobs past retention along with their
// files. It works in bounded batches per sweep.
func (s *Sweeper) SweepJobs(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	removed := 0

	for {
		jobs, err := s.store.ListExpiredJobs(ctx, cutoff, expiredJobBatch)
		if err != nil {
			return removed, err
		}
		if len(jobs) == 0 {
			break
		}
		for _, j := range jobs {
			if err := s.files.DeleteJobFiles(j.TenantID, j.ID); err != nil {
				s.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to remove job files")
				continue
			}
			if err := s.store.DeleteJob(ctx, j.ID); err != nil {
				s.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to remove job row")
				continue
			}
			metrics.JobsExpired.Inc()
			removed++
		}
		if len(jobs) < expiredJobBatch {
			break
		}
	}

	if removed > 0 {
		s.broker.Publish(&events.Event{
			Type:    events.EventCleanupJobs,
			Message: "expired jobs removed",
		})
	}
	return removed, nil
}

// removeOlderThan deletes regular files modified before cutoff under
// root, then prunes any directories the deletions left empty.
func removeOlderThan(root string, cutoff time.Time) (int, error) {
	removed := 0
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	// Deepest first so nested empty directories collapse upward
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return removed, nil
}
