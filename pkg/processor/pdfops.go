package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const (
	minMergeInputs = 2
	maxMergeInputs = 20

	minWatermarkLen = 1
	maxWatermarkLen = 100

	minPasswordLen = 4
	maxPasswordLen = 50
)

// op adapts a function to the Processor interface
type op struct {
	kind types.JobKind
	fn   func(ctx context.Context, req *Request) (*Result, error)
}

func (o *op) Kind() types.JobKind { return o.kind }

func (o *op) Process(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.fn(ctx, req)
}

func registerPDFOps(r *Registry) {
	pdfOnly := []string{".pdf"}

	r.Register(&op{types.JobKindCompress, processCompress}, Capability{
		Kind:            types.JobKindCompress,
		Description:     "Reduce PDF file size by optimizing its object streams and images",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"quality": "target quality 1-100, default 75"},
	})
	r.Register(&op{types.JobKindMerge, processMerge}, Capability{
		Kind:            types.JobKindMerge,
		Description:     "Combine multiple PDF files into one, in upload order",
		AcceptedFormats: pdfOnly,
		MinInputs:       minMergeInputs, MaxInputs: maxMergeInputs,
	})
	r.Register(&op{types.JobKindSplit, processSplit}, Capability{
		Kind:            types.JobKindSplit,
		Description:     "Extract selected pages into individual single-page PDF files",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"pages": "page selection, e.g. 1,3-5"},
	})
	r.Register(&op{types.JobKindRotate, processRotate}, Capability{
		Kind:            types.JobKindRotate,
		Description:     "Rotate every page by a fixed angle",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"angle": "rotation in degrees: 90, 180 or 270"},
	})
	r.Register(&op{types.JobKindWatermark, processWatermark}, Capability{
		Kind:            types.JobKindWatermark,
		Description:     "Stamp a diagonal text watermark on every page",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"text": "watermark text, 1-100 characters"},
	})
	r.Register(&op{types.JobKindProtect, processProtect}, Capability{
		Kind:            types.JobKindProtect,
		Description:     "Encrypt a PDF with a user password",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"password": "password, 4-50 characters"},
	})
	r.Register(&op{types.JobKindUnlock, processUnlock}, Capability{
		Kind:            types.JobKindUnlock,
		Description:     "Remove encryption from a password-protected PDF",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"password": "current document password"},
	})
	r.Register(&op{types.JobKindCompare, processCompare}, Capability{
		Kind:            types.JobKindCompare,
		Description:     "Compare two PDF files by page count and content digest",
		AcceptedFormats: pdfOnly,
		MinInputs:       2, MaxInputs: 2,
		Notes:           "produces a comparison report, no downloadable file",
	})
	r.Register(&op{types.JobKindCrop, processCrop}, Capability{
		Kind:            types.JobKindCrop,
		Description:     "Crop every page to a box given in points",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"box": "crop box as \"x y width height\" in points"},
	})
	r.Register(&op{types.JobKindRedact, processRedact}, Capability{
		Kind:            types.JobKindRedact,
		Description:     "Cover rectangular page areas with opaque black boxes",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{"areas": "JSON list of {page,x,y,width,height}"},
	})
	r.Register(&op{types.JobKindSign, processSign}, Capability{
		Kind:            types.JobKindSign,
		Description:     "Place a visible signature text on the last page",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
		Parameters: map[string]string{
			"signature_text": "text to render",
			"x":              "horizontal offset in points from the bottom-left corner",
			"y":              "vertical offset in points from the bottom-left corner",
		},
	})
	r.Register(&op{types.JobKindRepair, processRepair}, Capability{
		Kind:            types.JobKindRepair,
		Description:     "Rebuild a damaged PDF using relaxed validation",
		AcceptedFormats: pdfOnly,
		MinInputs:       1, MaxInputs: 1,
	})
	r.Register(&op{types.JobKindJPGToPDF, processJPGToPDF}, Capability{
		Kind:            types.JobKindJPGToPDF,
		Description:     "Convert images to a PDF, one page per image",
		AcceptedFormats: []string{".jpg", ".jpeg", ".png"},
		MinInputs:       1, MaxInputs: maxMergeInputs,
	})
}

// pdfConf returns a fresh pdfcpu configuration. A shared instance is
// not safe because password operations mutate it.
func pdfConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func outPath(req *Request, prefix, ext string) string {
	base := strings.TrimSuffix(filepath.Base(req.InputName), filepath.Ext(req.InputName))
	if base == "" {
		base = "document"
	}
	return filepath.Join(req.OutDir, prefix+base+ext)
}

func pdfErr(operation string, err error) error {
	return errdefs.Wrap(errdefs.KindProcessorError, fmt.Sprintf("%s failed", operation), err)
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func hashFileHex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func processCompress(ctx context.Context, req *Request) (*Result, error) {
	quality := req.Params.Quality
	if quality == 0 {
		quality = 75
	}
	if quality < 1 || quality > 100 {
		return nil, errdefs.Newf(errdefs.KindInvalidInput, "quality must be between 1 and 100, got %d", quality)
	}

	in := req.InputPaths[0]
	out := outPath(req, "compressed_", ".pdf")
	if err := api.OptimizeFile(in, out, pdfConf()); err != nil {
		return nil, pdfErr("compress", err)
	}

	origSize, err := fileSize(in)
	if err != nil {
		return nil, err
	}
	newSize, err := fileSize(out)
	if err != nil {
		return nil, err
	}
	// Space saved as a percentage, rounded to two decimals
	ratio := 0.0
	if origSize > 0 {
		ratio = math.Round((1-float64(newSize)/float64(origSize))*10000) / 100
	}
	return &Result{
		Artifacts: []string{out},
		Meta: types.JobResult{
			OriginalSize:     origSize,
			CompressedSize:   newSize,
			CompressionRatio: ratio,
		},
	}, nil
}

func processMerge(ctx context.Context, req *Request) (*Result, error) {
	n := len(req.InputPaths)
	if n < minMergeInputs || n > maxMergeInputs {
		return nil, errdefs.Newf(errdefs.KindInvalidInput,
			"merge requires between %d and %d files, got %d", minMergeInputs, maxMergeInputs, n)
	}

	out := outPath(req, "merged_", ".pdf")
	if err := api.MergeCreateFile(req.InputPaths, out, false, pdfConf()); err != nil {
		return nil, pdfErr("merge", err)
	}
	pages, err := api.PageCountFile(out)
	if err != nil {
		return nil, pdfErr("merge", err)
	}
	return &Result{
		Artifacts: []string{out},
		Meta:      types.JobResult{FilesMerged: n, PageCount: pages},
	}, nil
}

func processSplit(ctx context.Context, req *Request) (*Result, error) {
	pages, err := ParsePageSpec(req.Params.Pages)
	if err != nil {
		return nil, err
	}

	in := req.InputPaths[0]
	total, err := api.PageCountFile(in)
	if err != nil {
		return nil, pdfErr("split", err)
	}
	if err := ValidatePageRange(pages, total); err != nil {
		return nil, err
	}

	artifacts := make([]string, 0, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(req.OutDir, fmt.Sprintf("page_%d.pdf", p))
		if err := api.TrimFile(in, out, []string{strconv.Itoa(p)}, pdfConf()); err != nil {
			return nil, pdfErr("split", err)
		}
		artifacts = append(artifacts, out)
	}
	return &Result{
		Artifacts: artifacts,
		Meta:      types.JobResult{PagesExtracted: len(pages), PageCount: total},
	}, nil
}

func processRotate(ctx context.Context, req *Request) (*Result, error) {
	angle := req.Params.Angle
	if angle != 90 && angle != 180 && angle != 270 {
		return nil, errdefs.Newf(errdefs.KindInvalidAngle, "angle must be 90, 180 or 270, got %d", angle)
	}

	out := outPath(req, "rotated_", ".pdf")
	if err := api.RotateFile(req.InputPaths[0], out, angle, nil, pdfConf()); err != nil {
		return nil, pdfErr("rotate", err)
	}
	return &Result{Artifacts: []string{out}}, nil
}

func processWatermark(ctx context.Context, req *Request) (*Result, error) {
	text := strings.TrimSpace(req.Params.Text)
	if len(text) < minWatermarkLen || len(text) > maxWatermarkLen {
		return nil, errdefs.Newf(errdefs.KindInvalidInput,
			"watermark text must be between %d and %d characters", minWatermarkLen, maxWatermarkLen)
	}

	wm, err := api.TextWatermark(text, "scalefactor:0.5, opacity:0.35, rotation:45", true, false, pdftypes.POINTS)
	if err != nil {
		return nil, pdfErr("watermark", err)
	}
	out := outPath(req, "watermarked_", ".pdf")
	if err := api.AddWatermarksFile(req.InputPaths[0], out, nil, wm, pdfConf()); err != nil {
		return nil, pdfErr("watermark", err)
	}
	return &Result{Artifacts: []string{out}}, nil
}

func processProtect(ctx context.Context, req *Request) (*Result, error) {
	pw := req.Params.Password
	if len(pw) < minPasswordLen || len(pw) > maxPasswordLen {
		return nil, errdefs.Newf(errdefs.KindInvalidPassword,
			"password must be between %d and %d characters", minPasswordLen, maxPasswordLen)
	}

	conf := pdfConf()
	conf.UserPW = pw
	conf.OwnerPW = pw
	out := outPath(req, "protected_", ".pdf")
	if err := api.EncryptFile(req.InputPaths[0], out, conf); err != nil {
		return nil, pdfErr("protect", err)
	}
	return &Result{Artifacts: []string{out}}, nil
}

func processUnlock(ctx context.Context, req *Request) (*Result, error) {
	pw := req.Params.Password
	if pw == "" {
		return nil, errdefs.New(errdefs.KindInvalidPassword, "password is required")
	}

	conf := pdfConf()
	conf.UserPW = pw
	conf.OwnerPW = pw
	out := outPath(req, "unlocked_", ".pdf")
	if err := api.DecryptFile(req.InputPaths[0], out, conf); err != nil {
		return nil, classifyDecryptError(err)
	}
	return &Result{Artifacts: []string{out}}, nil
}

// classifyDecryptError distinguishes an unencrypted input and a wrong
// password from genuine processing failures.
func classifyDecryptError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not encrypted"):
		return errdefs.Wrap(errdefs.KindNotEncrypted, "document is not encrypted", err)
	case strings.Contains(msg, "password"):
		return errdefs.Wrap(errdefs.KindWrongPassword, "incorrect password", err)
	default:
		return pdfErr("unlock", err)
	}
}

func processCompare(ctx context.Context, req *Request) (*Result, error) {
	if len(req.InputPaths) != 2 {
		return nil, errdefs.Newf(errdefs.KindInvalidInput, "compare requires exactly 2 files, got %d", len(req.InputPaths))
	}

	countA, err := api.PageCountFile(req.InputPaths[0])
	if err != nil {
		return nil, pdfErr("compare", err)
	}
	countB, err := api.PageCountFile(req.InputPaths[1])
	if err != nil {
		return nil, pdfErr("compare", err)
	}
	hashA, err := hashFileHex(req.InputPaths[0])
	if err != nil {
		return nil, err
	}
	hashB, err := hashFileHex(req.InputPaths[1])
	if err != nil {
		return nil, err
	}

	return &Result{
		Meta: types.JobResult{
			PageCountA: countA,
			PageCountB: countB,
			Identical:  countA == countB && hashA == hashB,
		},
	}, nil
}

func processCrop(ctx context.Context, req *Request) (*Result, error) {
	boxSpec := strings.TrimSpace(req.Params.Box)
	if boxSpec == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "crop box is required")
	}
	parts := strings.Fields(boxSpec)
	if len(parts) != 4 {
		return nil, errdefs.Newf(errdefs.KindInvalidInput, "crop box must be \"x y width height\", got %q", boxSpec)
	}
	box, err := api.Box(fmt.Sprintf("[%s %s %s %s]", parts[0], parts[1], parts[2], parts[3]), pdftypes.POINTS)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "invalid crop box", err)
	}

	out := outPath(req, "cropped_", ".pdf")
	if err := api.CropFile(req.InputPaths[0], out, nil, box, pdfConf()); err != nil {
		return nil, pdfErr("crop", err)
	}
	return &Result{Artifacts: []string{out}}, nil
}

func processRedact(ctx context.Context, req *Request) (*Result, error) {
	areas := req.Params.Areas
	if len(areas) == 0 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "at least one redaction area is required")
	}

	in := req.InputPaths[0]
	total, err := api.PageCountFile(in)
	if err != nil {
		return nil, pdfErr("redact", err)
	}
	for _, a := range areas {
		if a.Page < 1 || a.Page > total {
			return nil, errdefs.Newf(errdefs.KindPageOutOfRange,
				"page %d is out of range, document has %d pages", a.Page, total)
		}
		if a.Width <= 0 || a.Height <= 0 {
			return nil, errdefs.New(errdefs.KindInvalidInput, "redaction area must have positive width and height")
		}
	}

	// Each area is applied as an opaque black box stamped over the
	// page. Applications chain through intermediate files in the
	// scratch directory.
	cur := in
	out := outPath(req, "redacted_", ".pdf")
	for i, a := range areas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc := fmt.Sprintf("points:%.0f, pos:bl, offset:%.2f %.2f, scalefactor:1 abs, fillcolor:#000000, strokecolor:#000000, opacity:1, rotation:0",
			a.Height, a.X, a.Y)
		wm, err := api.TextWatermark(strings.Repeat("█", blockRunes(a.Width, a.Height)), desc, true, false, pdftypes.POINTS)
		if err != nil {
			return nil, pdfErr("redact", err)
		}
		next := out
		if i < len(areas)-1 {
			next = filepath.Join(req.OutDir, fmt.Sprintf("redact_step_%d.pdf", i))
		}
		if err := api.AddWatermarksFile(cur, next, []string{strconv.Itoa(a.Page)}, wm, pdfConf()); err != nil {
			return nil, pdfErr("redact", err)
		}
		cur = next
	}
	return &Result{Artifacts: []string{out}}, nil
}

// blockRunes sizes a run of full-block glyphs so the stamp covers the
// requested width at the requested glyph height.
func blockRunes(width, height float64) int {
	if height <= 0 {
		return 1
	}
	n := int(width/height*2) + 1
	if n < 1 {
		n = 1
	}
	return n
}

func processSign(ctx context.Context, req *Request) (*Result, error) {
	text := strings.TrimSpace(req.Params.SignatureText)
	if text == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "signature text is required")
	}

	in := req.InputPaths[0]
	total, err := api.PageCountFile(in)
	if err != nil {
		return nil, pdfErr("sign", err)
	}

	desc := fmt.Sprintf("points:14, pos:bl, offset:%.2f %.2f, scalefactor:1 abs, opacity:1, rotation:0",
		req.Params.SignatureX, req.Params.SignatureY)
	wm, err := api.TextWatermark(text, desc, true, false, pdftypes.POINTS)
	if err != nil {
		return nil, pdfErr("sign", err)
	}
	out := outPath(req, "signed_", ".pdf")
	if err := api.AddWatermarksFile(in, out, []string{strconv.Itoa(total)}, wm, pdfConf()); err != nil {
		return nil, pdfErr("sign", err)
	}
	return &Result{Artifacts: []string{out}}, nil
}

func processRepair(ctx context.Context, req *Request) (*Result, error) {
	out := outPath(req, "repaired_", ".pdf")
	if err := api.OptimizeFile(req.InputPaths[0], out, pdfConf()); err != nil {
		return nil, pdfErr("repair", err)
	}
	pages, err := api.PageCountFile(out)
	if err != nil {
		return nil, pdfErr("repair", err)
	}
	return &Result{
		Artifacts: []string{out},
		Meta:      types.JobResult{PageCount: pages},
	}, nil
}

func processJPGToPDF(ctx context.Context, req *Request) (*Result, error) {
	out := outPath(req, "converted_", ".pdf")
	if err := api.ImportImagesFile(req.InputPaths, out, nil, pdfConf()); err != nil {
		return nil, pdfErr("image conversion", err)
	}
	return &Result{
		Artifacts: []string{out},
		Meta:      types.JobResult{PageCount: len(req.InputPaths)},
	}, nil
}
