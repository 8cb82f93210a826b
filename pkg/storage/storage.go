package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/log"
)

// forbidden characters in caller-supplied filenames; traversal dots
// are caught by a separate substring check so plain extensions stay
// valid
const forbiddenFilenameChars = `/\:*?"<>|`

// FileInfo describes a stored file
type FileInfo struct {
	Path   string
	Name   string
	Size   int64
	MIME   string
	SHA256 string
}

// Service owns the storage tree: <root>/uploads, <root>/downloads and
// <root>/temp. Every path the service reads, writes or deletes must
// canonicalize to a descendant of the root.
type Service struct {
	root         string
	uploadsDir   string
	downloadsDir string
	tempDir      string
}

// NewService creates the storage tree under basePath, resolving it to
// an absolute, symlink-free root.
func NewService(basePath string) (*Service, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize storage root: %w", err)
	}

	s := &Service{
		root:         root,
		uploadsDir:   filepath.Join(root, "uploads"),
		downloadsDir: filepath.Join(root, "downloads"),
		tempDir:      filepath.Join(root, "temp"),
	}
	for _, dir := range []string{s.uploadsDir, s.downloadsDir, s.tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the canonical storage root
func (s *Service) Root() string { return s.root }

// UploadsDir returns the uploads directory
func (s *Service) UploadsDir() string { return s.uploadsDir }

// DownloadsDir returns the downloads directory
func (s *Service) DownloadsDir() string { return s.downloadsDir }

// TempDir returns the temp directory
func (s *Service) TempDir() string { return s.tempDir }

// ValidateFilename rejects caller-supplied names containing traversal
// or reserved characters. The raw client-supplied name is checked,
// separators included, so traversal attempts fail here instead of
// relying on the later basename strip.
func ValidateFilename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return errdefs.New(errdefs.KindInvalidFilename, "filename is empty")
	}
	if strings.Contains(name, "..") {
		return errdefs.New(errdefs.KindInvalidFilename, "filename contains invalid characters")
	}
	for _, c := range name {
		if strings.ContainsRune(forbiddenFilenameChars, c) {
			return errdefs.New(errdefs.KindInvalidFilename, "filename contains invalid characters")
		}
	}
	return nil
}

// canonicalize resolves p to an absolute path and asserts it lies
// inside the storage root. Existing paths additionally have symlinks
// resolved before the check. The attempted path is never placed in the
// returned error.
func (s *Service) canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindPathEscape, "path outside storage root", err)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", errdefs.New(errdefs.KindPathEscape, "path outside storage root")
	}
	return abs, nil
}

// SaveUpload writes the stream into the tenant's uploads area as
// <uploads>/<tenant>/[<job>/]<uuid><ext>, detecting size, MIME and
// SHA-256 along the way. jobID may be empty for uploads staged before
// the job row exists.
func (s *Service) SaveUpload(r io.Reader, originalName string, tenantID int64, jobID string) (*FileInfo, error) {
	if err := ValidateFilename(originalName); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.uploadsDir, strconv.FormatInt(tenantID, 10))
	if jobID != "" {
		dir = filepath.Join(dir, jobID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	dest := filepath.Join(dir, uuid.New().String()+ext)
	return s.writeFile(r, dest, filepath.Base(originalName))
}

// SaveTemp writes the stream into the shared temp area as
// <temp>/<uuid><ext>.
func (s *Service) SaveTemp(r io.Reader, originalName string) (*FileInfo, error) {
	if err := ValidateFilename(originalName); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	dest := filepath.Join(s.tempDir, uuid.New().String()+ext)
	return s.writeFile(r, dest, filepath.Base(originalName))
}

// NewScratchDir creates a fresh per-job directory under temp for
// processor output.
func (s *Service) NewScratchDir(jobID string) (string, error) {
	dir := filepath.Join(s.tempDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}

func (s *Service) writeFile(r io.Reader, dest, displayName string) (*FileInfo, error) {
	canonical, err := s.canonicalize(dest)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(canonical, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(canonical)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	mime, err := mimetype.DetectFile(canonical)
	if err != nil {
		_ = os.Remove(canonical)
		return nil, fmt.Errorf("failed to detect content type: %w", err)
	}

	return &FileInfo{
		Path:   canonical,
		Name:   displayName,
		Size:   size,
		MIME:   mime.String(),
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// FinalizeOutput moves a processor output from temp into the tenant's
// download area as <downloads>/<tenant>/<job>/<displayName>. The move
// is a rename with a copy-then-unlink fallback across filesystems.
func (s *Service) FinalizeOutput(tempPath string, tenantID int64, jobID, displayName string) (*FileInfo, error) {
	if err := ValidateFilename(displayName); err != nil {
		return nil, err
	}
	src, err := s.canonicalize(tempPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, errdefs.Wrap(errdefs.KindNotFound, "output file not found", err)
	}

	dir := filepath.Join(s.downloadsDir, strconv.FormatInt(tenantID, 10), jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(displayName))
	canonical, err := s.canonicalize(dest)
	if err != nil {
		return nil, err
	}

	if err := os.Rename(src, canonical); err != nil {
		if err := copyFile(src, canonical); err != nil {
			return nil, fmt.Errorf("failed to finalize output: %w", err)
		}
		_ = os.Remove(src)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to stat finalized output: %w", err)
	}
	mime, err := mimetype.DetectFile(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to detect content type: %w", err)
	}
	sum, err := hashFile(canonical)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:   canonical,
		Name:   filepath.Base(displayName),
		Size:   info.Size(),
		MIME:   mime.String(),
		SHA256: sum,
	}, nil
}

// ResolveDownload maps a tenant-scoped download reference to its
// canonical path, applying the same traversal defense as writes.
func (s *Service) ResolveDownload(tenantID int64, jobID, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	p := filepath.Join(s.downloadsDir, strconv.FormatInt(tenantID, 10), jobID, filepath.Base(filename))
	canonical, err := s.canonicalize(p)
	if err != nil {
		return "", err
	}
	tenantRoot := filepath.Join(s.downloadsDir, strconv.FormatInt(tenantID, 10))
	if !strings.HasPrefix(canonical, tenantRoot+string(filepath.Separator)) {
		return "", errdefs.New(errdefs.KindPathEscape, "path outside storage root")
	}
	if _, err := os.Stat(canonical); err != nil {
		return "", errdefs.Wrap(errdefs.KindNotFound, "file not found", err)
	}
	return canonical, nil
}

// Delete removes a single file after canonical validation. A missing
// file is not an error; races with cleanup resolve to already-gone.
func (s *Service) Delete(path string) error {
	if path == "" {
		return nil
	}
	canonical, err := s.canonicalize(path)
	if err != nil {
		return err
	}
	if err := os.Remove(canonical); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// DeleteJobFiles removes a job's upload and download directories
func (s *Service) DeleteJobFiles(tenantID int64, jobID string) error {
	tenant := strconv.FormatInt(tenantID, 10)
	for _, dir := range []string{
		filepath.Join(s.uploadsDir, tenant, jobID),
		filepath.Join(s.downloadsDir, tenant, jobID),
		filepath.Join(s.tempDir, jobID),
	} {
		canonical, err := s.canonicalize(dir)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(canonical); err != nil {
			return fmt.Errorf("failed to delete job files: %w", err)
		}
	}
	return nil
}

// DeleteTenant removes every file belonging to a tenant
func (s *Service) DeleteTenant(tenantID int64) error {
	tenant := strconv.FormatInt(tenantID, 10)
	for _, dir := range []string{
		filepath.Join(s.uploadsDir, tenant),
		filepath.Join(s.downloadsDir, tenant),
	} {
		canonical, err := s.canonicalize(dir)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(canonical); err != nil {
			return fmt.Errorf("failed to delete tenant files: %w", err)
		}
	}
	logger := log.WithComponent("storage")
	logger.Info().Int64("tenant_id", tenantID).Msg("Tenant files deleted")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
