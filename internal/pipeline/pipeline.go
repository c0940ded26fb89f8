package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Stage names, in default order.
const (
	StageResize         = "resize"
	StageClassification = "document_classification"
	StageCropInvoice    = "crop_invoice"
	StageDenoise        = "denoise"
	StageContrast       = "enhance_contrast"
	StagePerspective    = "perspective_correct"
	StageDeskew         = "deskew"
	StageSharpen        = "sharpen"
	StageThreshold      = "threshold"
)

// Config tunes the pipeline per deployment.
type Config struct {
	MaxWidth  int
	MaxHeight int
	// DebugDir, when set, receives every intermediate image as
	// {jobID}_{NN}_{stage}.png. The only side effect besides logging.
	DebugDir string
	// Enabled gates individual stages; nil enables everything.
	Enabled func(stage string) bool
	// FaultInject forces the named stages to fail with the given reason.
	// Used by tests to exercise degradation paths.
	FaultInject map[string]string
}

// Result is the pipeline outcome. The pipeline never fails as a whole
// except for undecodable input and classification rejection, so Result
// always carries a usable image.
type Result struct {
	Image          image.Image
	Original       image.Image
	Applied        []string
	Failed         []domain.StageFailure
	Quality        string
	QualityBefore  float64
	QualityAfter   float64
	UsedOriginal   bool
	DocScore       float64
	DocScores      map[string]float64
	BoundaryMethod string
}

// NonDocumentError carries the classifier breakdown to the webhook.
type NonDocumentError struct {
	Score  float64
	Scores map[string]float64
}

func (e *NonDocumentError) Error() string {
	return fmt.Sprintf("non-document image (score %.3f)", e.Score)
}

// Unwrap lets errors.Is match domain.ErrNonDocument.
func (e *NonDocumentError) Unwrap() error { return domain.ErrNonDocument }

// Pipeline is safe for concurrent use; all state is per-call.
type Pipeline struct {
	cfg Config
}

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 2048
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 2048
	}
	return &Pipeline{cfg: cfg}
}

// Decode parses the downloaded bytes, honoring EXIF orientation.
func (p *Pipeline) Decode(raw []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("pipeline decode: %w: %v", domain.ErrUndecodable, err)
	}
	return img, nil
}

type stageDef struct {
	name     string
	primary  func(image.Image) (image.Image, error)
	fallback func(image.Image) (image.Image, error)
}

// Process runs the ordered stage sequence over src. Per-stage failures
// degrade (primary → fallback → skip); only classification rejection
// aborts.
func (p *Pipeline) Process(ctx domain.Context, jobID string, src image.Image) (*Result, error) {
	res := &Result{DocScores: map[string]float64{}}
	img := src
	idx := 0

	run := func(def stageDef) {
		idx++
		if !p.enabled(def.name) {
			return
		}
		start := time.Now()
		out, err := p.attempt(def.name, def.primary, img)
		outcome := "primary"
		if err != nil && def.fallback != nil {
			out, err = p.attempt(def.name, def.fallback, img)
			outcome = "fallback"
		}
		if err != nil {
			res.Failed = append(res.Failed, domain.StageFailure{Stage: def.name, Reason: err.Error()})
			observability.PipelineStageDuration.WithLabelValues(def.name, "skipped").Observe(time.Since(start).Seconds())
			observability.Logger(ctx).Debug("pipeline stage skipped",
				slog.String("job_id", jobID), slog.String("stage", def.name), slog.Any("error", err))
			return
		}
		img = out
		res.Applied = append(res.Applied, def.name)
		observability.PipelineStageDuration.WithLabelValues(def.name, outcome).Observe(time.Since(start).Seconds())
		p.debugDump(jobID, idx, def.name, img)
	}

	// 1. resize
	run(stageDef{name: StageResize, primary: func(in image.Image) (image.Image, error) {
		b := in.Bounds()
		if b.Dx() <= p.cfg.MaxWidth && b.Dy() <= p.cfg.MaxHeight {
			return in, nil
		}
		return imaging.Fit(in, p.cfg.MaxWidth, p.cfg.MaxHeight, imaging.Lanczos), nil
	}})
	res.Original = img
	res.QualityBefore = qualityScore(img)

	// 2. document_classification (gate)
	idx++
	if p.enabled(StageClassification) {
		start := time.Now()
		score, scores, accepted := classifyDocument(img)
		res.DocScore = score
		res.DocScores = scores
		if p.cfg.FaultInject[StageClassification] != "" {
			accepted = false
		}
		if !accepted {
			observability.PipelineStageDuration.WithLabelValues(StageClassification, "rejected").Observe(time.Since(start).Seconds())
			return nil, &NonDocumentError{Score: score, Scores: scores}
		}
		res.Applied = append(res.Applied, StageClassification)
		observability.PipelineStageDuration.WithLabelValues(StageClassification, "primary").Observe(time.Since(start).Seconds())
	}

	// 3. crop_invoice
	run(stageDef{name: StageCropInvoice, primary: func(in image.Image) (image.Image, error) {
		quad, method, ok := detectBoundary(in)
		if !ok {
			return nil, fmt.Errorf("no document quadrilateral detected")
		}
		res.BoundaryMethod = method
		b := in.Bounds()
		minX, minY, maxX, maxY := quad[0].X, quad[0].Y, quad[0].X, quad[0].Y
		for _, pt := range quad[1:] {
			minX, minY = min(minX, pt.X), min(minY, pt.Y)
			maxX, maxY = max(maxX, pt.X), max(maxY, pt.Y)
		}
		const pad = 10
		rect := image.Rect(
			clampInt(minX-pad, b.Min.X, b.Max.X),
			clampInt(minY-pad, b.Min.Y, b.Max.Y),
			clampInt(maxX+pad, b.Min.X, b.Max.X),
			clampInt(maxY+pad, b.Min.Y, b.Max.Y),
		)
		if rect.Dx() < 32 || rect.Dy() < 32 {
			return nil, fmt.Errorf("detected region too small")
		}
		return imaging.Crop(in, rect), nil
	}})

	// 4. denoise
	run(stageDef{
		name: StageDenoise,
		primary: func(in image.Image) (image.Image, error) {
			return denoiseMeans(toGray(in), 3, 10), nil
		},
		fallback: func(in image.Image) (image.Image, error) {
			return bilateral(toGray(in), 2, 25), nil
		},
	})

	// 5. enhance_contrast
	run(stageDef{
		name: StageContrast,
		primary: func(in image.Image) (image.Image, error) {
			return clahe(toGray(in), 8, 2.5), nil
		},
		fallback: func(in image.Image) (image.Image, error) {
			return equalizeHist(toGray(in)), nil
		},
	})

	// 6. perspective_correct
	run(stageDef{name: StagePerspective, primary: func(in image.Image) (image.Image, error) {
		quad, _, ok := detectBoundary(in)
		if !ok {
			return nil, fmt.Errorf("no document quadrilateral detected")
		}
		out, ok := warpPerspective(in, quad)
		if !ok {
			return nil, fmt.Errorf("degenerate quadrilateral")
		}
		return out, nil
	}})

	// 7. deskew
	run(stageDef{name: StageDeskew, primary: func(in image.Image) (image.Image, error) {
		g := toGray(in)
		edges := canny(g, 30, 100, 1)
		minVotes := max(20, min(g.Bounds().Dx(), g.Bounds().Dy())/3)
		angle, ok := estimateSkew(houghLines(edges, minVotes))
		if !ok {
			return nil, fmt.Errorf("no reference lines found")
		}
		if angle < 0.5 && angle > -0.5 {
			return in, nil
		}
		return imaging.Rotate(in, -angle, color.White), nil
	}})

	// 8. sharpen
	run(stageDef{
		name: StageSharpen,
		primary: func(in image.Image) (image.Image, error) {
			return imaging.Sharpen(in, 1.0), nil
		},
		fallback: func(in image.Image) (image.Image, error) {
			return in, nil
		},
	})

	// 9. threshold
	run(stageDef{
		name: StageThreshold,
		primary: func(in image.Image) (image.Image, error) {
			g := toGray(in)
			bin := adaptiveGaussianThreshold(g, 15, 10)
			return invert(bin), nil
		},
		fallback: func(in image.Image) (image.Image, error) {
			g := toGray(in)
			return invert(binarize(g, otsuLevel(g), true)), nil
		},
	})

	res.Image = img
	res.QualityAfter = qualityScore(img)
	res.Quality = qualityGrade(res.Applied)

	// Quality regression guard: when processing made things worse, the
	// recognizer runs on the resized original instead.
	if res.QualityAfter < res.QualityBefore {
		res.UsedOriginal = true
		res.Image = res.Original
	}
	return res, nil
}

func (p *Pipeline) enabled(stage string) bool {
	return p.cfg.Enabled == nil || p.cfg.Enabled(stage)
}

// attempt wraps a stage function, converting panics and injected faults
// into errors so one stage can never abort the job.
func (p *Pipeline) attempt(name string, fn func(image.Image) (image.Image, error), in image.Image) (out image.Image, err error) {
	if reason, ok := p.cfg.FaultInject[name]; ok && name != StageClassification {
		return nil, fmt.Errorf("%s", reason)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("stage panic: %v", r)
		}
	}()
	return fn(in)
}

func (p *Pipeline) debugDump(jobID string, idx int, stage string, img image.Image) {
	if p.cfg.DebugDir == "" {
		return
	}
	name := fmt.Sprintf("%s_%02d_%s.png", jobID, idx, stage)
	f, err := os.Create(filepath.Join(p.cfg.DebugDir, name))
	if err != nil {
		slog.Warn("debug dump failed", slog.String("file", name), slog.Any("error", err))
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		slog.Warn("debug dump encode failed", slog.String("file", name), slog.Any("error", err))
	}
}

// invert flips a binary image so ink is dark on white, the orientation
// recognizers expect.
func invert(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		out.Pix[i] = 255 - p
	}
	return out
}

// qualityScore blends sharpness and contrast into [0,1].
func qualityScore(img image.Image) float64 {
	g := toGray(img)
	sharp := clampF(laplacianVariance(g)/500, 0, 1)
	_, std := meanStdDev(g)
	contrast := clampF(std/64, 0, 1)
	return 0.6*sharp + 0.4*contrast
}

// qualityGrade follows the fixed rule: good when ≥2 of {resize,
// enhance_contrast, threshold} succeeded, acceptable at 1, poor at 0.
func qualityGrade(applied []string) string {
	key := map[string]bool{StageResize: false, StageContrast: false, StageThreshold: false}
	for _, s := range applied {
		if _, ok := key[s]; ok {
			key[s] = true
		}
	}
	n := 0
	for _, ok := range key {
		if ok {
			n++
		}
	}
	switch {
	case n >= 2:
		return "good"
	case n == 1:
		return "acceptable"
	default:
		return "poor"
	}
}

// Encode re-encodes the processed image as JPEG at the given quality for
// blob storage.
func Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("pipeline encode: %w", err)
	}
	return buf.Bytes(), nil
}
