package recognizer

import (
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/pkg/textx"
)

const (
	mergeIoUThreshold = 0.5
	// thaiDominance marks a primary region as Thai-dominant when ≥20% of
	// its codepoints are Thai; the Thai-tuned primary engine wins ties
	// on such regions.
	thaiDominance = 0.2
	// confMargin is the relative confidence advantage the losing pass
	// needs to overturn the preference.
	confMargin = 1.25
)

type rect struct{ x0, y0, x1, y1 int }

func boundingRect(box [4]domain.Point) rect {
	r := rect{box[0].X, box[0].Y, box[0].X, box[0].Y}
	for _, p := range box[1:] {
		if p.X < r.x0 {
			r.x0 = p.X
		}
		if p.Y < r.y0 {
			r.y0 = p.Y
		}
		if p.X > r.x1 {
			r.x1 = p.X
		}
		if p.Y > r.y1 {
			r.y1 = p.Y
		}
	}
	return r
}

func (r rect) area() int {
	w, h := r.x1-r.x0, r.y1-r.y0
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU is the intersection-over-union of the regions' bounding rectangles.
func IoU(a, b [4]domain.Point) float64 {
	ra, rb := boundingRect(a), boundingRect(b)
	inter := rect{
		x0: max(ra.x0, rb.x0), y0: max(ra.y0, rb.y0),
		x1: min(ra.x1, rb.x1), y1: min(ra.y1, rb.y1),
	}
	ia := inter.area()
	if ia == 0 {
		return 0
	}
	union := ra.area() + rb.area() - ia
	if union == 0 {
		return 0
	}
	return float64(ia) / float64(union)
}

// Merge reconciles primary and secondary pass regions. For each primary
// region the overlapping secondary region with the highest IoU ≥ 0.5 is
// its match; the preferred pass depends on Thai dominance and the ±25%
// confidence margin. Unmatched secondary regions are appended. Merging a
// set with itself returns the same set.
func Merge(primary, secondary []domain.TextRegion) []domain.TextRegion {
	used := make([]bool, len(secondary))
	out := make([]domain.TextRegion, 0, len(primary)+len(secondary))

	for _, p := range primary {
		best, bestIoU := -1, 0.0
		for i, s := range secondary {
			if used[i] {
				continue
			}
			if iou := IoU(p.Box, s.Box); iou >= mergeIoUThreshold && iou > bestIoU {
				best, bestIoU = i, iou
			}
		}
		if best < 0 {
			out = append(out, p)
			continue
		}
		used[best] = true
		s := secondary[best]
		if replaceWithSecondary(p, s) {
			s.DualPassImproved = true
			out = append(out, s)
		} else {
			out = append(out, p)
		}
	}
	for i, s := range secondary {
		if !used[i] {
			out = append(out, s)
		}
	}
	return out
}

// replaceWithSecondary decides the winning pass for a matched pair.
// Identical text never counts as a replacement, which keeps Merge
// idempotent.
func replaceWithSecondary(p, s domain.TextRegion) bool {
	if s.Text == p.Text && s.Confidence <= p.Confidence {
		return false
	}
	if textx.ThaiRatio(p.Text) >= thaiDominance {
		// Thai-dominant: primary stands unless the secondary beats it
		// by the margin.
		return s.Confidence >= p.Confidence*confMargin
	}
	// Latin/numeric: secondary preferred unless the primary beats it by
	// the margin.
	return p.Confidence < s.Confidence*confMargin
}
