package pipeline

import (
	"image"
	"math"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Candidate-scoring weights for a detected document quadrilateral.
const (
	scorePosition    = 0.25
	scoreAspect      = 0.20
	scoreSize        = 0.20
	scoreCompactness = 0.20
	scoreBorder      = 0.15
)

// cannyParams is one tuple of the adaptive cascade.
type cannyParams struct {
	low, high float64
	kernel    int
	name      string
}

// cannyCascade yields the five parameter tuples, the adaptive pair
// derived from the image statistics.
func cannyCascade(g *image.Gray) []cannyParams {
	mean, std := meanStdDev(g)
	return []cannyParams{
		{50, 150, 1, "conservative"},
		{30, 100, 1, "moderate"},
		{10, 50, 1, "aggressive"},
		{clampF(0.66*mean, 5, 200), clampF(1.33*mean, 20, 255), 1, "adaptive-mean"},
		{clampF(mean-std, 5, 200), clampF(mean+std, 20, 255), 1, "adaptive-stddev"},
	}
}

// detectBoundary runs the four-stage cascade; the first stage producing
// an acceptable quadrilateral wins. ok is false when every stage fails.
func detectBoundary(img image.Image) (quad [4]domain.Point, method string, ok bool) {
	g := toGray(img)
	if q, ok := boundaryAdaptiveCanny(img, g); ok {
		return q, "adaptive_canny", true
	}
	if q, ok := boundaryColorSegmentation(img); ok {
		return q, "color_segmentation", true
	}
	if q, ok := boundaryEnhancedContour(img, g); ok {
		return q, "enhanced_contour", true
	}
	if q, ok := boundaryTextCluster(img, g); ok {
		return q, "text_cluster", true
	}
	return quad, "", false
}

// boundaryAdaptiveCanny: five edge parameter tuples × four approximation
// epsilons; accept 4-6 vertex polygons (reduced to 4) validating ≥ 0.75.
func boundaryAdaptiveCanny(img image.Image, g *image.Gray) ([4]domain.Point, bool) {
	b := g.Bounds()
	minArea := b.Dx() * b.Dy() / 50
	for _, p := range cannyCascade(g) {
		edges := morphClose(canny(g, p.low, p.high, p.kernel), 3, 3)
		contours := findContours(edges, minArea)
		for _, c := range contours {
			per := polygonPerimeter(c.points)
			for _, epsFrac := range []float64{0.02, 0.03, 0.04, 0.05} {
				approx := approxPolygon(c.points, epsFrac*per)
				if len(approx) < 4 || len(approx) > 6 {
					continue
				}
				quad := orderQuad(reduceToQuad(approx))
				if total, geo := scoreCandidate(quad, img); total >= 0.75 && geo > 0 {
					return quad, true
				}
			}
		}
	}
	return [4]domain.Point{}, false
}

// boundaryColorSegmentation masks bright, low-saturation pixels (paper),
// cleans the mask and scores external contours; top candidate accepted
// at total ≥ 0.4 with geometric confidence ≥ 0.5.
func boundaryColorSegmentation(img image.Image) ([4]domain.Point, bool) {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(bl>>8)
			maxC := math.Max(rf, math.Max(gf, bf))
			minC := math.Min(rf, math.Min(gf, bf))
			value := maxC / 255
			sat := 0.0
			if maxC > 0 {
				sat = (maxC - minC) / maxC
			}
			lightness := (maxC + minC) / 510
			if value > 0.55 && sat < 0.25 && lightness > 0.5 {
				mask.Pix[(y-b.Min.Y)*mask.Stride+(x-b.Min.X)] = 255
			}
		}
	}
	cleaned := morphClose(erode(dilate(mask, 5, 5), 3, 3), 7, 7)

	minArea := b.Dx() * b.Dy() / 20
	var bestQuad [4]domain.Point
	bestTotal, bestGeo := -1.0, 0.0
	for _, c := range findContours(cleaned, minArea) {
		approx := approxPolygon(c.points, 0.03*polygonPerimeter(c.points))
		if len(approx) < 4 {
			continue
		}
		quad := orderQuad(reduceToQuad(approx))
		total, geo := scoreCandidate(quad, img)
		if total > bestTotal {
			bestQuad, bestTotal, bestGeo = quad, total, geo
		}
	}
	if bestTotal >= 0.4 && bestGeo >= 0.5 {
		return bestQuad, true
	}
	return [4]domain.Point{}, false
}

// boundaryEnhancedContour: adaptive threshold, then several edge maps,
// each tried across a finer epsilon sweep; accept at validation ≥ 0.7.
func boundaryEnhancedContour(img image.Image, g *image.Gray) ([4]domain.Point, bool) {
	b := g.Bounds()
	minArea := b.Dx() * b.Dy() / 50
	pre := adaptiveGaussianThreshold(g, 12, 4)

	edgeMaps := []*image.Gray{
		pre,
		sobelEdges(g, 60),
		canny(g, clampF(0.5*meanOf(g), 5, 200), clampF(1.5*meanOf(g), 20, 255), 1),
	}
	for _, edges := range edgeMaps {
		closed := morphClose(edges, 3, 3)
		for _, c := range findContours(closed, minArea) {
			per := polygonPerimeter(c.points)
			for _, epsFrac := range []float64{0.015, 0.02, 0.025, 0.03, 0.035, 0.04} {
				approx := approxPolygon(c.points, epsFrac*per)
				if len(approx) < 4 || len(approx) > 6 {
					continue
				}
				quad := orderQuad(reduceToQuad(approx))
				if total, _ := scoreCandidate(quad, img); total >= 0.7 {
					return quad, true
				}
			}
		}
	}
	return [4]domain.Point{}, false
}

func meanOf(g *image.Gray) float64 {
	m, _ := meanStdDev(g)
	return m
}

// sobelEdges thresholds the raw gradient magnitude.
func sobelEdges(g *image.Gray, level float64) *image.Gray {
	mag, _ := sobel(g)
	b := g.Bounds()
	w := b.Dx()
	out := image.NewGray(b)
	for i, m := range mag {
		if m >= level {
			out.Pix[(i/w)*out.Stride+i%w] = 255
		}
	}
	return out
}

// boundaryTextCluster: the last resort takes the bounding box of the
// largest text blob (horizontal close + dilate) covering ≥2% of the image.
func boundaryTextCluster(_ image.Image, g *image.Gray) ([4]domain.Point, bool) {
	bin := binarize(g, otsuLevel(g), true)
	blob := dilate(morphClose(bin, 21, 5), 9, 9)
	b := g.Bounds()
	minArea := b.Dx() * b.Dy() / 50
	var best *contour
	for _, c := range findContours(blob, minArea) {
		c := c
		if best == nil || c.pixelArea > best.pixelArea {
			best = &c
		}
	}
	if best == nil {
		return [4]domain.Point{}, false
	}
	r := best.bounds
	return [4]domain.Point{
		{X: r.Min.X, Y: r.Min.Y}, {X: r.Max.X, Y: r.Min.Y}, {X: r.Max.X, Y: r.Max.Y}, {X: r.Min.X, Y: r.Max.Y},
	}, true
}

// scoreCandidate applies the multi-criteria validation to a candidate
// quadrilateral: total is the weighted sum, geometric the mean of the
// shape-only signals (aspect, size, compactness).
func scoreCandidate(quad [4]domain.Point, img image.Image) (total, geometric float64) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w == 0 || h == 0 {
		return 0, 0
	}
	pts := quad[:]
	area := polygonArea(pts)
	per := polygonPerimeter(pts)
	if area <= 0 || per <= 0 {
		return 0, 0
	}

	// Position: centroid near (0.6W, 0.5H).
	var cx, cy float64
	for _, p := range pts {
		cx += float64(p.X)
		cy += float64(p.Y)
	}
	cx /= 4
	cy /= 4
	dist := math.Hypot(cx-0.6*w, cy-0.5*h)
	position := clampF(1-dist/(0.5*math.Hypot(w, h)), 0, 1)

	// Aspect: receipts run 1.2-3.0× taller than wide.
	minX, minY, maxX, maxY := pts[0].X, pts[0].Y, pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX, minY = min(minX, p.X), min(minY, p.Y)
		maxX, maxY = max(maxX, p.X), max(maxY, p.Y)
	}
	bw, bh := float64(maxX-minX), float64(maxY-minY)
	aspect := 0.0
	if bw > 0 {
		ratio := bh / bw
		switch {
		case ratio >= 1.2 && ratio <= 3.0:
			aspect = 1
		case ratio < 1.2:
			aspect = clampF(ratio/1.2, 0, 1)
		default:
			aspect = clampF(1-(ratio-3.0)/3.0, 0, 1)
		}
	}

	// Size: 10-60% of the image area.
	frac := area / (w * h)
	size := 0.0
	switch {
	case frac >= 0.10 && frac <= 0.60:
		size = 1
	case frac < 0.10:
		size = clampF(frac/0.10, 0, 1)
	default:
		size = clampF(1-(frac-0.60)/0.40, 0, 1)
	}

	// Compactness: 4πA/P², ≈0.785 for a square; rescale so rectangles ≈1.
	compactness := clampF(4*math.Pi*area/(per*per)/0.785, 0, 1)

	// Border margin: ≥5% of min(W,H) from every edge.
	margin := 0.05 * math.Min(w, h)
	edgeDist := math.Min(
		math.Min(float64(minX), float64(minY)),
		math.Min(w-float64(maxX), h-float64(maxY)),
	)
	border := clampF(edgeDist/margin, 0, 1)

	total = scorePosition*position + scoreAspect*aspect + scoreSize*size +
		scoreCompactness*compactness + scoreBorder*border
	geometric = (aspect + size + compactness) / 3
	return total, geometric
}
