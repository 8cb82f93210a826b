package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// retryAfterSeconds is advertised on busy rejections
const retryAfterSeconds = 5

// writeError maps an error to its status code and a safe detail
// message. Internal causes never reach the response body.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"detail": "job is not in a state that allows this"})
		return
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"detail": "already exists"})
		return
	}

	kind := errdefs.KindOf(err)
	status := errdefs.HTTPStatus(kind)
	if kind == errdefs.KindBusy {
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	}
	c.JSON(status, gin.H{"detail": errdefs.Message(err)})
}

// jobView is the job shape returned by the submit and history
// endpoints
type jobView struct {
	Success     bool            `json:"success"`
	JobID       string          `json:"job_id"`
	Kind        types.JobKind   `json:"kind"`
	Status      types.JobStatus `json:"status"`
	InputName   string          `json:"input_name,omitempty"`
	OutputName  string          `json:"output_name,omitempty"`
	OutputSize  int64           `json:"output_size,omitempty"`
	DownloadURL string          `json:"download_url,omitempty"`
	// Per-file URLs for multi-artifact results, ascending page order
	DownloadURLs []string `json:"download_urls,omitempty"`

	Result       *types.JobResult `json:"result,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
	CreatedAt        string `json:"created_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

func downloadURL(j *types.Job, name string) string {
	return fmt.Sprintf("/storage/downloads/%d/%s/%s", j.TenantID, j.ID, name)
}

func newJobView(j *types.Job) jobView {
	v := jobView{
		Success:          j.Status != types.JobStatusFailed,
		JobID:            j.ID,
		Kind:             j.Kind,
		Status:           j.Status,
		InputName:        j.InputName,
		ErrorKind:        j.ErrorKind,
		ErrorMessage:     j.ErrorMessage,
		ProcessingTimeMS: j.ProcessingTimeMS,
		CreatedAt:        j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.CompletedAt != nil {
		v.CompletedAt = j.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if j.Status == types.JobStatusCompleted {
		result := j.ResultData
		v.Result = &result
		if j.OutputName != "" {
			v.OutputName = j.OutputName
			v.OutputSize = j.OutputSize
			v.DownloadURL = downloadURL(j, j.OutputName)
		}
		for _, name := range j.ResultData.OutputFiles {
			v.DownloadURLs = append(v.DownloadURLs, downloadURL(j, name))
		}
	}
	return v
}
