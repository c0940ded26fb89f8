package pipeline

import (
	"image"
	"math"
	"sort"
)

// houghLine is a detected line in (rho, theta) form. theta is in degrees,
// 0 = vertical line normal (i.e. a horizontal-normal convention is not
// used; theta is the angle of the line normal from the x axis).
type houghLine struct {
	Theta float64 // degrees in [0, 180)
	Rho   float64
	Votes int
}

// houghLines runs a standard line transform over a binary edge image and
// returns lines with at least minVotes accumulator hits, strongest first.
func houghLines(edges *image.Gray, minVotes int) []houghLine {
	b := edges.Bounds()
	w, h := b.Dx(), b.Dy()
	maxRho := int(math.Hypot(float64(w), float64(h))) + 1
	const thetaSteps = 180
	acc := make([]int, thetaSteps*2*maxRho)

	sinT := make([]float64, thetaSteps)
	cosT := make([]float64, thetaSteps)
	for t := 0; t < thetaSteps; t++ {
		rad := float64(t) * math.Pi / thetaSteps
		sinT[t] = math.Sin(rad)
		cosT[t] = math.Cos(rad)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.Pix[y*edges.Stride+x] < 128 {
				continue
			}
			for t := 0; t < thetaSteps; t++ {
				rho := float64(x)*cosT[t] + float64(y)*sinT[t]
				r := int(rho) + maxRho
				acc[t*2*maxRho+r]++
			}
		}
	}

	var out []houghLine
	for t := 0; t < thetaSteps; t++ {
		for r := 0; r < 2*maxRho; r++ {
			if v := acc[t*2*maxRho+r]; v >= minVotes {
				out = append(out, houghLine{
					Theta: float64(t),
					Rho:   float64(r - maxRho),
					Votes: v,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Votes > out[j].Votes })
	return out
}

// lineAngleDeg converts a hough line to the angle of the line itself
// (not its normal) in degrees within (-90, 90].
func lineAngleDeg(l houghLine) float64 {
	a := l.Theta - 90
	if a <= -90 {
		a += 180
	}
	return a
}

// countOrientedLines returns how many lines are near-horizontal and
// near-vertical within tolerance degrees.
func countOrientedLines(lines []houghLine, tol float64) (horizontal, vertical int) {
	for _, l := range lines {
		a := math.Abs(lineAngleDeg(l))
		if a <= tol {
			horizontal++
		}
		if a >= 90-tol {
			vertical++
		}
	}
	return horizontal, vertical
}

// estimateSkew returns the median near-horizontal line angle in degrees.
// ok is false when no suitably horizontal line exists.
func estimateSkew(lines []houghLine) (angle float64, ok bool) {
	var angles []float64
	for _, l := range lines {
		a := lineAngleDeg(l)
		if math.Abs(a) <= 45 {
			angles = append(angles, a)
		}
	}
	if len(angles) == 0 {
		return 0, false
	}
	sort.Float64s(angles)
	return angles[len(angles)/2], true
}
