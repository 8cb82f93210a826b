package api

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/metrics"
	"github.com/Mr-kumar/pdf-toolkit/pkg/processor"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// submitHandler builds the multipart submit endpoint for one job
// kind: parse and validate, admit through the quota gate, stage the
// uploads, create the pending row and hand the job to the pool.
func (s *Server) submitHandler(kind types.JobKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := currentTenant(c)
		ctx := c.Request.Context()

		capability, ok := s.registry.Capability(kind)
		if !ok {
			writeError(c, errdefs.New(errdefs.KindInvalidInput, "unsupported operation"))
			return
		}

		params, err := bindParams(c)
		if err != nil {
			writeError(c, err)
			return
		}

		uploads, err := formFiles(c, capability)
		if err != nil {
			writeError(c, err)
			return
		}

		var largest int64
		for _, fh := range uploads {
			if limit := s.cfg.MaxFileSizeBytes(); limit >= 0 && fh.Size > limit {
				writeError(c, errdefs.Newf(errdefs.KindFileTooLarge,
					"file exceeds the %d MB service limit", s.cfg.MaxFileSizeMB))
				return
			}
			if fh.Size > largest {
				largest = fh.Size
			}
		}

		// compare produces a report, not an artifact, and is open to
		// unverified accounts
		producesArtifact := kind != types.JobKindCompare
		if err := s.quota.Check(ctx, tenant, producesArtifact, largest); err != nil {
			metrics.JobsRejected.WithLabelValues(string(errdefs.KindOf(err))).Inc()
			writeError(c, err)
			return
		}

		jobID := uuid.New().String()
		paths := make([]string, 0, len(uploads))
		var totalSize int64
		for _, fh := range uploads {
			f, err := fh.Open()
			if err != nil {
				writeError(c, errdefs.Wrap(errdefs.KindInvalidInput, "could not read upload", err))
				return
			}
			info, err := s.files.SaveUpload(f, fh.Filename, tenant.ID, jobID)
			f.Close()
			if err != nil {
				_ = s.files.DeleteJobFiles(tenant.ID, jobID)
				writeError(c, err)
				return
			}
			metrics.UploadBytes.Add(float64(info.Size))
			paths = append(paths, info.Path)
			totalSize += info.Size
		}

		job := &types.Job{
			ID:         jobID,
			TenantID:   tenant.ID,
			Kind:       kind,
			Status:     types.JobStatusPending,
			InputPath:  paths[0],
			InputName:  filepath.Base(uploads[0].Filename),
			InputSize:  totalSize,
			Parameters: params,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			_ = s.files.DeleteJobFiles(tenant.ID, jobID)
			writeError(c, err)
			return
		}
		s.broker.PublishJob(events.EventJobCreated, jobID, "job created", map[string]string{
			"kind": string(kind),
		})

		if err := s.sched.Submit(ctx, job, paths); err != nil {
			// Rejected before processing: no row, no files left behind
			_ = s.store.DeleteJob(ctx, jobID)
			_ = s.files.DeleteJobFiles(tenant.ID, jobID)
			s.broker.PublishJob(events.EventJobRejected, jobID, "job rejected", map[string]string{
				"kind": string(kind),
			})
			writeError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, newJobView(job))
	}
}

func (s *Server) infoHandler(kind types.JobKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		capability, ok := s.registry.Capability(kind)
		if !ok {
			writeError(c, errdefs.New(errdefs.KindNotFound, "unknown operation"))
			return
		}
		c.JSON(http.StatusOK, capability)
	}
}

// formFiles collects the uploads from the "files" field, falling back
// to "file" and then to numbered "file1"/"file2" parts (the pairwise
// form used by compare clients), and validates count and extensions
// against the operation's capability.
func formFiles(c *gin.Context, capability processor.Capability) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "expected multipart form upload", err)
	}

	uploads := form.File["files"]
	if len(uploads) == 0 {
		uploads = form.File["file"]
	}
	if len(uploads) == 0 {
		// Order matters: file1 is the left side of the comparison
		uploads = append(uploads, form.File["file1"]...)
		uploads = append(uploads, form.File["file2"]...)
	}

	if len(uploads) < capability.MinInputs || len(uploads) > capability.MaxInputs {
		if capability.MinInputs == capability.MaxInputs {
			return nil, errdefs.Newf(errdefs.KindInvalidInput,
				"operation requires exactly %d file(s), got %d", capability.MinInputs, len(uploads))
		}
		return nil, errdefs.Newf(errdefs.KindInvalidInput,
			"operation requires between %d and %d files, got %d", capability.MinInputs, capability.MaxInputs, len(uploads))
	}

	for _, fh := range uploads {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		accepted := false
		for _, a := range capability.AcceptedFormats {
			if ext == a {
				accepted = true
				break
			}
		}
		if !accepted {
			return nil, errdefs.Newf(errdefs.KindInvalidInput, "unsupported file type %q", ext)
		}
	}
	return uploads, nil
}

// bindParams extracts the operation parameters from the multipart
// form. Range checks belong to the processors; this only rejects
// unparseable values.
func bindParams(c *gin.Context) (types.JobParams, error) {
	var p types.JobParams

	if v := c.PostForm("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errdefs.Newf(errdefs.KindInvalidInput, "invalid quality %q", v)
		}
		p.Quality = n
	}
	if v := c.PostForm("angle"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errdefs.Newf(errdefs.KindInvalidAngle, "invalid angle %q", v)
		}
		p.Angle = n
	}
	p.Pages = c.PostForm("pages")
	p.Text = c.PostForm("text")
	p.Password = c.PostForm("password")
	p.Box = c.PostForm("box")
	p.SignatureText = c.PostForm("signature_text")
	p.OCRLanguage = c.PostForm("ocr_language")

	if v := c.PostForm("x"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, errdefs.Newf(errdefs.KindInvalidInput, "invalid x %q", v)
		}
		p.SignatureX = f
	}
	if v := c.PostForm("y"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, errdefs.Newf(errdefs.KindInvalidInput, "invalid y %q", v)
		}
		p.SignatureY = f
	}
	if v := c.PostForm("areas"); v != "" {
		if err := json.Unmarshal([]byte(v), &p.Areas); err != nil {
			return p, errdefs.Wrap(errdefs.KindInvalidInput, "invalid redaction areas", err)
		}
	}
	return p, nil
}
