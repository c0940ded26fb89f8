package pipeline

import (
	"image"
	"math"
)

// Classification weights; the weighted sum must reach acceptThreshold for
// the image to pass as a document.
const (
	weightTextDensity = 0.35
	weightEdges       = 0.25
	weightRectangles  = 0.20
	weightBrightness  = 0.10
	weightAspect      = 0.10

	acceptThreshold = 0.25
)

// classifyDocument scores how document-like the image is. Returns the
// weighted total, the per-signal breakdown, and the accept decision.
// The breakdown travels to the caller on rejection (webhook diagnostics).
func classifyDocument(img image.Image) (total float64, scores map[string]float64, accepted bool) {
	g := toGray(img)
	scores = map[string]float64{
		"text_density":          textDensityScore(g),
		"edge_structure":        edgeStructureScore(g),
		"rectangularity":        rectangularityScore(g),
		"brightness_uniformity": brightnessScore(img, g),
		"aspect_ratio":          aspectScore(img),
	}
	total = weightTextDensity*scores["text_density"] +
		weightEdges*scores["edge_structure"] +
		weightRectangles*scores["rectangularity"] +
		weightBrightness*scores["brightness_uniformity"] +
		weightAspect*scores["aspect_ratio"]
	return total, scores, total >= acceptThreshold
}

// textDensityScore: close with a wide horizontal kernel so characters on
// a line merge into bars, threshold, and measure the area covered by
// elongated horizontal blobs.
func textDensityScore(g *image.Gray) float64 {
	bin := binarize(g, otsuLevel(g), true) // ink as foreground
	closed := morphClose(bin, 15, 3)
	b := g.Bounds()
	imgArea := b.Dx() * b.Dy()
	if imgArea == 0 {
		return 0
	}
	var textArea int
	for _, c := range findContours(closed, imgArea/2000+4) {
		w, h := c.bounds.Dx(), c.bounds.Dy()
		if h == 0 {
			continue
		}
		// Text bars run wide and shallow.
		if float64(w) >= 1.5*float64(h) && h < b.Dy()/4 {
			textArea += c.pixelArea
		}
	}
	ratio := float64(textArea) / float64(imgArea)
	// Typical receipts carry 5-15% text coverage.
	return clampF(ratio/0.10, 0, 1)
}

// edgeStructureScore blends overall Canny edge density with the count of
// near-horizontal and near-vertical Hough lines (±15°).
func edgeStructureScore(g *image.Gray) float64 {
	small := g
	edges := canny(small, 30, 100, 1)
	b := edges.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	var on int
	for _, p := range edges.Pix {
		if p > 0 {
			on++
		}
	}
	density := float64(on) / float64(total)

	minVotes := min(b.Dx(), b.Dy()) / 4
	if minVotes < 20 {
		minVotes = 20
	}
	lines := houghLines(edges, minVotes)
	hCount, vCount := countOrientedLines(lines, 15)

	densityScore := clampF(density/0.08, 0, 1)
	lineScore := clampF(float64(hCount+vCount)/20, 0, 1)
	return 0.5*densityScore + 0.5*lineScore
}

// rectangularityScore: fraction of significant contours whose 4%-epsilon
// polygonal approximation has exactly four vertices.
func rectangularityScore(g *image.Gray) float64 {
	edges := canny(g, 30, 100, 1)
	closed := morphClose(edges, 3, 3)
	b := g.Bounds()
	minArea := b.Dx() * b.Dy() / 100
	contours := findContours(closed, max(minArea, 16))
	if len(contours) == 0 {
		return 0
	}
	quads := 0
	for _, c := range contours {
		approx := approxPolygon(c.points, 0.04*polygonPerimeter(c.points))
		if len(approx) == 4 {
			quads++
		}
	}
	return float64(quads) / float64(len(contours))
}

// brightnessScore rewards bright, even illumination with low color
// variance, which separates paper from scenery.
func brightnessScore(img image.Image, g *image.Gray) float64 {
	mean, std := meanStdDev(g)
	colorStd := colorStdDev(img)
	bright := clampF(mean/255, 0, 1)
	even := 1 - clampF(std/80, 0, 1)
	mono := 1 - clampF(colorStd/60, 0, 1)
	return 0.5*bright + 0.3*even + 0.2*mono
}

// colorStdDev samples per-pixel channel spread: paper is near-gray.
func colorStdDev(img image.Image) float64 {
	b := img.Bounds()
	step := max(1, min(b.Dx(), b.Dy())/64)
	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, _ := img.At(x, y).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(bl>>8)
			m := (rf + gf + bf) / 3
			sum += math.Sqrt(((rf-m)*(rf-m) + (gf-m)*(gf-m) + (bf-m)*(bf-m)) / 3)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// aspectScore follows the banded table for document aspect ratios.
func aspectScore(img image.Image) float64 {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w == 0 || h == 0 {
		return 0
	}
	aspect := math.Max(w, h) / math.Min(w, h)
	switch {
	case aspect >= 1.2 && aspect <= 2.0:
		return 1.0
	case aspect >= 1.0 && aspect <= 3.5:
		return 0.8
	case aspect <= 5.0:
		return 0.6
	default:
		return clampF(0.6-(aspect-5.0)*0.15, 0, 0.6)
	}
}
