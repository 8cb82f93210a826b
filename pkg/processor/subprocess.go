package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/log"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// termGrace is how long a converter gets to exit after SIGTERM before
// it is killed.
const termGrace = 5 * time.Second

const maxStderrTail = 512

var ocrLanguagePattern = regexp.MustCompile(`^[a-z]{3}(\+[a-z]{3})*$`)

// runTool executes an external converter under the request context.
// On deadline the child receives SIGTERM, then SIGKILL after the
// grace period.
func runTool(ctx context.Context, path string, args ...string) error {
	logger := log.WithComponent("processor")

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	tool := filepath.Base(path)
	logger.Debug().Str("tool", tool).Strs("args", args).Msg("Running converter")

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn().Str("tool", tool).Msg("Converter timed out")
		return errdefs.Wrap(errdefs.KindSubprocessTimeout,
			fmt.Sprintf("%s did not finish in time", tool), err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	detail := stderrTail(&stderr, &stdout)
	logger.Error().Str("tool", tool).Str("output", detail).Msg("Converter failed")
	return errdefs.Wrap(errdefs.KindSubprocessFailed,
		fmt.Sprintf("%s failed: %s", tool, detail), err)
}

func rename(src, dst string) error {
	return os.Rename(src, dst)
}

// stderrTail returns the last chunk of converter output for the error
// message, preferring stderr.
func stderrTail(stderr, stdout *bytes.Buffer) string {
	out := strings.TrimSpace(stderr.String())
	if out == "" {
		out = strings.TrimSpace(stdout.String())
	}
	if out == "" {
		return "no output"
	}
	if len(out) > maxStderrTail {
		out = out[len(out)-maxStderrTail:]
	}
	return strings.ReplaceAll(out, "\n", " | ")
}

func registerConverters(r *Registry, tools ToolPaths) {
	office := func(kind types.JobKind, target string, formats []string, desc string) {
		r.Register(&op{kind, makeOfficeConvert(tools.Soffice, target)}, Capability{
			Kind:            kind,
			Description:     desc,
			AcceptedFormats: formats,
			MinInputs:       1, MaxInputs: 1,
		})
	}

	office(types.JobKindWordToPDF, "pdf", []string{".doc", ".docx", ".odt"}, "Convert a Word document to PDF")
	office(types.JobKindExcelToPDF, "pdf", []string{".xls", ".xlsx", ".ods"}, "Convert a spreadsheet to PDF")
	office(types.JobKindPPTToPDF, "pdf", []string{".ppt", ".pptx", ".odp"}, "Convert a presentation to PDF")
	office(types.JobKindPDFToWord, "docx", []string{".pdf"}, "Convert a PDF to an editable Word document")
	office(types.JobKindPDFToExcel, "xlsx", []string{".pdf"}, "Convert a PDF to a spreadsheet")
	office(types.JobKindPDFToPPT, "pptx", []string{".pdf"}, "Convert a PDF to a presentation")

	r.Register(&op{types.JobKindHTMLToPDF, makeHTMLToPDF(tools.Wkhtmltopdf)}, Capability{
		Kind:            types.JobKindHTMLToPDF,
		Description:     "Render an HTML file to PDF",
		AcceptedFormats: []string{".html", ".htm"},
		MinInputs:       1, MaxInputs: 1,
	})
	r.Register(&op{types.JobKindOCR, makeOCR(tools.Ocrmypdf)}, Capability{
		Kind:            types.JobKindOCR,
		Description:     "Add a searchable text layer to a scanned PDF",
		AcceptedFormats: []string{".pdf"},
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"ocr_language": "tesseract language codes, e.g. eng or deu+eng"},
	})
	r.Register(&op{types.JobKindPDFToJPG, makePDFToJPG(tools.Pdftoppm)}, Capability{
		Kind:            types.JobKindPDFToJPG,
		Description:     "Render every PDF page as a JPEG image",
		AcceptedFormats: []string{".pdf"},
		MinInputs:       1, MaxInputs: 1,
	})
}

// makeOfficeConvert builds a processor delegating to LibreOffice.
// soffice names its output after the input basename, so the artifact
// is renamed to carry the original document name.
func makeOfficeConvert(soffice, target string) func(ctx context.Context, req *Request) (*Result, error) {
	return func(ctx context.Context, req *Request) (*Result, error) {
		in := req.InputPaths[0]
		err := runTool(ctx, soffice,
			"--headless", "--norestore",
			"--convert-to", target,
			"--outdir", req.OutDir,
			in)
		if err != nil {
			return nil, err
		}

		produced := filepath.Join(req.OutDir,
			strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))+"."+target)
		out := outPath(req, "converted_", "."+target)
		if produced != out {
			if err := rename(produced, out); err != nil {
				return nil, errdefs.Wrap(errdefs.KindSubprocessFailed,
					"converter produced no output", err)
			}
		}
		return &Result{Artifacts: []string{out}}, nil
	}
}

func makeHTMLToPDF(wkhtmltopdf string) func(ctx context.Context, req *Request) (*Result, error) {
	return func(ctx context.Context, req *Request) (*Result, error) {
		out := outPath(req, "converted_", ".pdf")
		if err := runTool(ctx, wkhtmltopdf, "--quiet", req.InputPaths[0], out); err != nil {
			return nil, err
		}
		return &Result{Artifacts: []string{out}}, nil
	}
}

func makeOCR(ocrmypdf string) func(ctx context.Context, req *Request) (*Result, error) {
	return func(ctx context.Context, req *Request) (*Result, error) {
		lang := req.Params.OCRLanguage
		if lang == "" {
			lang = "eng"
		}
		if !ocrLanguagePattern.MatchString(lang) {
			return nil, errdefs.Newf(errdefs.KindInvalidInput, "invalid ocr language %q", lang)
		}

		out := outPath(req, "ocr_", ".pdf")
		err := runTool(ctx, ocrmypdf,
			"--force-ocr",
			"--language", lang,
			req.InputPaths[0], out)
		if err != nil {
			return nil, err
		}
		return &Result{Artifacts: []string{out}}, nil
	}
}

// makePDFToJPG renders pages with pdftoppm and renames its zero-padded
// output files to page_N.jpg in ascending page order.
func makePDFToJPG(pdftoppm string) func(ctx context.Context, req *Request) (*Result, error) {
	return func(ctx context.Context, req *Request) (*Result, error) {
		prefix := filepath.Join(req.OutDir, "render")
		err := runTool(ctx, pdftoppm, "-jpeg", "-r", "150", req.InputPaths[0], prefix)
		if err != nil {
			return nil, err
		}

		rendered, err := filepath.Glob(prefix + "-*.jpg")
		if err != nil {
			return nil, err
		}
		if len(rendered) == 0 {
			return nil, errdefs.New(errdefs.KindSubprocessFailed, "pdftoppm produced no output")
		}

		type page struct {
			num  int
			path string
		}
		pages := make([]page, 0, len(rendered))
		for _, p := range rendered {
			numPart := strings.TrimSuffix(strings.TrimPrefix(p, prefix+"-"), ".jpg")
			n, err := strconv.Atoi(numPart)
			if err != nil {
				continue
			}
			pages = append(pages, page{num: n, path: p})
		}
		sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

		artifacts := make([]string, 0, len(pages))
		names := make([]string, 0, len(pages))
		for _, p := range pages {
			dst := filepath.Join(req.OutDir, fmt.Sprintf("page_%d.jpg", p.num))
			if err := rename(p.path, dst); err != nil {
				return nil, err
			}
			artifacts = append(artifacts, dst)
			names = append(names, filepath.Base(dst))
		}
		return &Result{
			Artifacts: artifacts,
			Meta:      types.JobResult{PageCount: len(artifacts), OutputFiles: names},
		}, nil
	}
}
