package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// handleHistoryList returns the tenant's jobs, newest first, with
// optional status and job_type filters.
func (s *Server) handleHistoryList(c *gin.Context) {
	tenant := currentTenant(c)
	ctx := c.Request.Context()

	filter := types.JobFilter{
		TenantID: tenant.ID,
		Limit:    defaultHistoryLimit,
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(c, errdefs.Newf(errdefs.KindInvalidInput, "invalid limit %q", v))
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, errdefs.Newf(errdefs.KindInvalidInput, "invalid offset %q", v))
			return
		}
		filter.Offset = n
	}
	if v := c.Query("status"); v != "" {
		status := types.JobStatus(v)
		if !status.Valid() {
			writeError(c, errdefs.Newf(errdefs.KindInvalidInput, "invalid status %q", v))
			return
		}
		filter.Status = status
	}
	if v := c.Query("job_type"); v != "" {
		kind := types.JobKind(v)
		if !kind.Valid() {
			writeError(c, errdefs.Newf(errdefs.KindInvalidInput, "invalid job type %q", v))
			return
		}
		filter.Kind = kind
	}

	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	total, err := s.store.CountJobs(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   views,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleHistoryGet(c *gin.Context) {
	job, ok := s.tenantJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

// handleHistoryDelete removes a terminal job and its files. Pending
// and processing jobs must be cancelled first.
func (s *Server) handleHistoryDelete(c *gin.Context) {
	job, ok := s.tenantJob(c)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"detail": "cancel the job before deleting it"})
		return
	}

	if err := s.files.DeleteJobFiles(job.TenantID, job.ID); err != nil {
		writeError(c, err)
		return
	}
	if err := s.store.DeleteJob(c.Request.Context(), job.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleHistoryClear deletes every terminal job of the tenant along
// with its files. In-flight jobs are left alone and reported back as
// skipped; the client cancels those individually first.
func (s *Server) handleHistoryClear(c *gin.Context) {
	tenant := currentTenant(c)
	ctx := c.Request.Context()

	deleted := 0
	for _, status := range []types.JobStatus{
		types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled,
	} {
		jobs, err := s.store.ListJobs(ctx, types.JobFilter{
			TenantID: tenant.ID,
			Status:   status,
			Limit:    maxHistoryLimit,
		})
		for err == nil && len(jobs) > 0 {
			for _, j := range jobs {
				if err := s.files.DeleteJobFiles(j.TenantID, j.ID); err != nil {
					writeError(c, err)
					return
				}
				if err := s.store.DeleteJob(ctx, j.ID); err != nil {
					writeError(c, err)
					return
				}
				deleted++
			}
			jobs, err = s.store.ListJobs(ctx, types.JobFilter{
				TenantID: tenant.ID,
				Status:   status,
				Limit:    maxHistoryLimit,
			})
		}
		if err != nil {
			writeError(c, err)
			return
		}
	}

	skipped := 0
	for _, status := range []types.JobStatus{
		types.JobStatusPending, types.JobStatusProcessing,
	} {
		n, err := s.store.CountJobs(ctx, types.JobFilter{TenantID: tenant.ID, Status: status})
		if err != nil {
			writeError(c, err)
			return
		}
		skipped += n
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted, "skipped": skipped})
}

func (s *Server) handleCancel(c *gin.Context) {
	job, ok := s.tenantJob(c)
	if !ok {
		return
	}

	if err := s.sched.Cancel(c.Request.Context(), job); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID, "status": types.JobStatusCancelled})
}

// handleDownload serves a finished artifact. The path parameters are
// checked against the caller's identity before the canonical-path
// resolution runs.
func (s *Server) handleDownload(c *gin.Context) {
	tenant := currentTenant(c)

	tenantID, err := strconv.ParseInt(c.Param("tenant"), 10, 64)
	if err != nil || tenantID != tenant.ID {
		// Same response as a missing file, no tenant probing
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	}

	path, err := s.files.ResolveDownload(tenant.ID, c.Param("job"), c.Param("file"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.FileAttachment(path, c.Param("file"))
}

// tenantJob loads the job in the path and enforces tenant ownership.
// Foreign jobs read as not found.
func (s *Server) tenantJob(c *gin.Context) (*types.Job, bool) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if job.TenantID != currentTenant(c).ID {
		writeError(c, store.ErrNotFound)
		return nil, false
	}
	return job, true
}
