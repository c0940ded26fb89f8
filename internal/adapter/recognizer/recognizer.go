// Package recognizer wraps pluggable text-detection engines and the
// dual-pass reconciliation that merges two engines' output per region.
package recognizer

import (
	"image"
	"log/slog"
	"unicode"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/pkg/textx"
)

// Finalize derives the per-region script tag and above-threshold flag.
// Both are computed here, never trusted from the engine.
func Finalize(regions []domain.TextRegion, threshold float64, pass domain.Pass) []domain.TextRegion {
	out := make([]domain.TextRegion, 0, len(regions))
	for _, r := range regions {
		r.Text = textx.Sanitize(r.Text)
		if r.Text == "" {
			continue
		}
		r.Script = DetectScript(r.Text)
		r.AboveThreshold = r.Confidence >= threshold
		r.Pass = pass
		out = append(out, r)
	}
	return out
}

// DetectScript classifies text by character-class ratios. Thai digits
// count as digits, not as Thai letters.
func DetectScript(text string) domain.Script {
	var thai, latin, digit, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case textx.IsThaiDigit(r) || (r >= '0' && r <= '9'):
			digit++
		case textx.IsThai(r):
			thai++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if total == 0 {
		return domain.ScriptUnknown
	}
	thaiRatio := float64(thai) / float64(total)
	latinRatio := float64(latin) / float64(total)
	digitRatio := float64(digit) / float64(total)
	switch {
	case thaiRatio > 0.3 && latinRatio > 0.2:
		return domain.ScriptMixed
	case thaiRatio > 0.3:
		return domain.ScriptThai
	case latinRatio > 0.5:
		return domain.ScriptEnglish
	case digitRatio > 0.6:
		return domain.ScriptNumeric
	default:
		return domain.ScriptUnknown
	}
}

// OverallConfidence is the length-weighted mean of region confidences,
// weight = max(1, rune-length/10). Recomputable from persisted regions.
func OverallConfidence(regions []domain.TextRegion) float64 {
	var num, den float64
	for _, r := range regions {
		w := float64(len([]rune(r.Text))) / 10
		if w < 1 {
			w = 1
		}
		num += r.Confidence * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// DualPass runs two engines sequentially over the same image and merges
// their regions by bounding-box IoU. A secondary engine failure degrades
// to single-pass output.
type DualPass struct {
	primary   domain.Recognizer
	secondary domain.Recognizer
}

var _ domain.Recognizer = (*DualPass)(nil)

// NewDualPass composes the two engines.
func NewDualPass(primary, secondary domain.Recognizer) *DualPass {
	return &DualPass{primary: primary, secondary: secondary}
}

// Extract implements domain.Recognizer.
func (d *DualPass) Extract(ctx domain.Context, img image.Image, threshold float64) ([]domain.TextRegion, error) {
	prim, err := d.primary.Extract(ctx, img, threshold)
	if err != nil {
		return nil, err
	}
	sec, err := d.secondary.Extract(ctx, img, threshold)
	if err != nil {
		slog.Warn("secondary recognizer pass failed, using primary only", slog.Any("error", err))
		return prim, nil
	}
	return Merge(prim, sec), nil
}
