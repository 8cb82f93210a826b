package types

import (
	"time"
)

// Tenant represents an account that owns jobs and artifacts
type Tenant struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Active       bool      `db:"is_active" json:"is_active"`
	Verified     bool      `db:"is_verified" json:"is_verified"`
	UsageCount   int       `db:"usage_count" json:"usage_count"`
	LastReset    time.Time `db:"last_reset" json:"last_reset"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Plan is the read-only quota view of a subscription plan.
// -1 means unlimited for both caps.
type Plan struct {
	ID                int64  `db:"id" json:"id"`
	Name              string `db:"name" json:"name"`
	MaxFilesPerMonth  int    `db:"max_files_per_month" json:"max_files_per_month"`
	MaxFileSizeMB     int64  `db:"max_file_size_mb" json:"max_file_size_mb"`
	Active            bool   `db:"is_active" json:"is_active"`
	PriceCentsMonthly int64  `db:"price_cents_monthly" json:"price_cents_monthly"`
}

// MaxFileSizeBytes converts the MB cap to bytes, preserving the
// unlimited sentinel.
func (p *Plan) MaxFileSizeBytes() int64 {
	if p.MaxFileSizeMB < 0 {
		return -1
	}
	return p.MaxFileSizeMB * 1024 * 1024
}

// Subscription links a tenant to a plan
type Subscription struct {
	ID        int64      `db:"id" json:"id"`
	TenantID  int64      `db:"tenant_id" json:"tenant_id"`
	PlanID    int64      `db:"plan_id" json:"plan_id"`
	Active    bool       `db:"is_active" json:"is_active"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// APIKey is an alternative credential matched by SHA-256 hash
type APIKey struct {
	ID        int64      `db:"id" json:"id"`
	TenantID  int64      `db:"tenant_id" json:"tenant_id"`
	KeyHash   string     `db:"key_hash" json:"-"`
	Name      string     `db:"name" json:"name"`
	Active    bool       `db:"is_active" json:"is_active"`
	LastUsed  *time.Time `db:"last_used" json:"last_used,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// JobStatus represents the state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status string
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobKind identifies the requested operation
type JobKind string

const (
	// In-process PDF operations
	JobKindCompress  JobKind = "compress"
	JobKindMerge     JobKind = "merge"
	JobKindSplit     JobKind = "split"
	JobKindRotate    JobKind = "rotate"
	JobKindCrop      JobKind = "crop"
	JobKindWatermark JobKind = "watermark"
	JobKindRedact    JobKind = "redact"
	JobKindSign      JobKind = "sign"
	JobKindProtect   JobKind = "protect"
	JobKindUnlock    JobKind = "unlock"
	JobKindCompare   JobKind = "compare"
	JobKindRepair    JobKind = "repair"

	// Subprocess conversions
	JobKindOCR        JobKind = "ocr"
	JobKindWordToPDF  JobKind = "word_to_pdf"
	JobKindExcelToPDF JobKind = "excel_to_pdf"
	JobKindPPTToPDF   JobKind = "ppt_to_pdf"
	JobKindHTMLToPDF  JobKind = "html_to_pdf"
	JobKindJPGToPDF   JobKind = "jpg_to_pdf"
	JobKindPDFToWord  JobKind = "pdf_to_word"
	JobKindPDFToExcel JobKind = "pdf_to_excel"
	JobKindPDFToPPT   JobKind = "pdf_to_ppt"
	JobKindPDFToJPG   JobKind = "pdf_to_jpg"
)

// AllJobKinds lists every operation the service accepts
var AllJobKinds = []JobKind{
	JobKindCompress, JobKindMerge, JobKindSplit, JobKindRotate, JobKindCrop,
	JobKindWatermark, JobKindRedact, JobKindSign, JobKindProtect,
	JobKindUnlock, JobKindCompare, JobKindRepair, JobKindOCR,
	JobKindWordToPDF, JobKindExcelToPDF, JobKindPPTToPDF, JobKindHTMLToPDF,
	JobKindJPGToPDF, JobKindPDFToWord, JobKindPDFToExcel, JobKindPDFToPPT,
	JobKindPDFToJPG,
}

// Valid reports whether k is a known kind string
func (k JobKind) Valid() bool {
	for _, known := range AllJobKinds {
		if k == known {
			return true
		}
	}
	return false
}

// RedactArea is one rectangle to black out, in PDF points with a
// bottom-left origin
type RedactArea struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// JobParams carries the operation-specific parameters for a job.
// Only the fields relevant to the job's kind are set; the struct is
// stored as a JSON column on the job row.
type JobParams struct {
	Quality       int          `json:"quality,omitempty"`        // compress, 1-100
	Pages         string       `json:"pages,omitempty"`          // split page spec
	Angle         int          `json:"angle,omitempty"`          // rotate, 90/180/270
	Text          string       `json:"text,omitempty"`           // watermark text
	Password      string       `json:"password,omitempty"`       // protect/unlock
	Box           string       `json:"box,omitempty"`            // crop box spec
	Areas         []RedactArea `json:"areas,omitempty"`          // redact rectangles
	SignatureText string       `json:"signature_text,omitempty"` // sign
	SignatureX    float64      `json:"signature_x,omitempty"`
	SignatureY    float64      `json:"signature_y,omitempty"`
	OCRLanguage   string       `json:"ocr_language,omitempty"`
}

// JobResult carries operation-specific result metadata returned by the
// processor, stored as a JSON column alongside the artifact paths.
type JobResult struct {
	MIMEType         string   `json:"mime_type,omitempty"`
	SHA256           string   `json:"sha256,omitempty"`
	PageCount        int      `json:"page_count,omitempty"`
	PagesExtracted   int      `json:"pages_extracted,omitempty"`
	FilesMerged      int      `json:"files_merged,omitempty"`
	OriginalSize     int64    `json:"original_size,omitempty"`
	CompressedSize   int64    `json:"compressed_size,omitempty"`
	CompressionRatio float64  `json:"compression_ratio,omitempty"`
	OutputFiles      []string `json:"output_files,omitempty"`

	// compare
	PageCountA int  `json:"page_count_a,omitempty"`
	PageCountB int  `json:"page_count_b,omitempty"`
	Identical  bool `json:"identical,omitempty"`
}

// Job is the durable record of a single processing request
type Job struct {
	ID       string    `db:"id" json:"id"`
	TenantID int64     `db:"tenant_id" json:"tenant_id"`
	Kind     JobKind   `db:"kind" json:"kind"`
	Status   JobStatus `db:"status" json:"status"`

	InputPath  string `db:"input_path" json:"-"`
	InputName  string `db:"input_name" json:"input_name"`
	InputSize  int64  `db:"input_size" json:"input_size"`
	OutputPath string `db:"output_path" json:"-"`
	OutputName string `db:"output_name" json:"output_name,omitempty"`
	OutputSize int64  `db:"output_size" json:"output_size,omitempty"`

	Parameters JobParams `db:"-" json:"parameters"`
	ResultData JobResult `db:"-" json:"result_data"`

	ErrorKind        string `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage     string `db:"error_message" json:"error_message,omitempty"`
	ProcessingTimeMS int64  `db:"processing_time_ms" json:"processing_time_ms,omitempty"`

	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// JobFilter narrows history listings
type JobFilter struct {
	TenantID int64
	Status   JobStatus
	Kind     JobKind
	Limit    int
	Offset   int
}
