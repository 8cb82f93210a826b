package artifact

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/storage"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// Finalizer publishes processor output: it moves artifacts from the
// job's scratch directory into the tenant's download area and records
// the completion in a single store transition. Report-only operations
// complete with metadata and no files.
type Finalizer struct {
	files *storage.Service
	store store.Store
}

// NewFinalizer creates a finalizer
func NewFinalizer(files *storage.Service, st store.Store) *Finalizer {
	return &Finalizer{files: files, store: st}
}

// Finalize moves the result's artifacts into place, fills the job's
// output fields and result metadata, and marks it completed. Artifact
// order is preserved, so split pages and rendered images keep their
// ascending page order.
func (f *Finalizer) Finalize(ctx context.Context, job *types.Job, res *processor.Result, at time.Time) error {
	job.ResultData = res.Meta
	if job.StartedAt != nil {
		job.ProcessingTimeMS = at.Sub(*job.StartedAt).Milliseconds()
	}

	if len(res.Artifacts) > 0 {
		var total int64
		names := make([]string, 0, len(res.Artifacts))
		for i, src := range res.Artifacts {
			info, err := f.files.FinalizeOutput(src, job.TenantID, job.ID, filepath.Base(src))
			if err != nil {
				return err
			}
			names = append(names, info.Name)
			total += info.Size
			if i == 0 {
				job.OutputPath = info.Path
				job.OutputName = info.Name
				job.ResultData.MIMEType = info.MIME
				job.ResultData.SHA256 = info.SHA256
			}
		}
		job.OutputSize = total
		if len(names) > 1 {
			job.ResultData.OutputFiles = names
		}
	}

	return f.store.CompleteJob(ctx, job, at)
}
