// Package pipeline implements the deterministic image-to-image processing
// chain: an ordered sequence of transforms, each wrapped in a recoverable
// envelope (primary → fallback → skip), plus the document-classification
// gate and boundary detection. Raster primitives operate on stdlib image
// types; resize/rotate/sharpen base operations come from
// disintegration/imaging.
package pipeline

import (
	"image"
	"image/color"
	"math"
)

// toGray converts any image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return g
}

// meanStdDev returns the mean and standard deviation of gray levels.
func meanStdDev(g *image.Gray) (float64, float64) {
	n := len(g.Pix)
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, p := range g.Pix {
		v := float64(p)
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// histogram of gray levels.
func histogram(g *image.Gray) [256]int {
	var h [256]int
	for _, p := range g.Pix {
		h[p]++
	}
	return h
}

// otsuLevel picks the global threshold minimizing intra-class variance.
func otsuLevel(g *image.Gray) uint8 {
	h := histogram(g)
	total := len(g.Pix)
	if total == 0 {
		return 128
	}
	var sumAll float64
	for i, c := range h {
		sumAll += float64(i) * float64(c)
	}
	var sumB, wB float64
	var best float64
	level := uint8(128)
	for t := 0; t < 256; t++ {
		wB += float64(h[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(h[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

// binarize applies a global threshold; foreground (dark ink) becomes 255.
func binarize(g *image.Gray, level uint8, invert bool) *image.Gray {
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		on := p > level
		if invert {
			on = !on
		}
		if on {
			out.Pix[i] = 255
		}
	}
	return out
}

// boxBlur smooths with a (2r+1)² box using running sums per row/column.
func boxBlur(g *image.Gray, r int) *image.Gray {
	if r < 1 {
		return g
	}
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]float64, w*h)
	out := image.NewGray(b)

	// Horizontal pass.
	for y := 0; y < h; y++ {
		var sum float64
		for x := -r; x <= r; x++ {
			sum += float64(g.Pix[y*g.Stride+clampInt(x, 0, w-1)])
		}
		for x := 0; x < w; x++ {
			tmp[y*w+x] = sum / float64(2*r+1)
			sum += float64(g.Pix[y*g.Stride+clampInt(x+r+1, 0, w-1)])
			sum -= float64(g.Pix[y*g.Stride+clampInt(x-r, 0, w-1)])
		}
	}
	// Vertical pass.
	for x := 0; x < w; x++ {
		var sum float64
		for y := -r; y <= r; y++ {
			sum += tmp[clampInt(y, 0, h-1)*w+x]
		}
		for y := 0; y < h; y++ {
			out.Pix[y*out.Stride+x] = uint8(clampF(sum/float64(2*r+1)+0.5, 0, 255))
			sum += tmp[clampInt(y+r+1, 0, h-1)*w+x]
			sum -= tmp[clampInt(y-r, 0, h-1)*w+x]
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sobel computes gradient magnitude and direction (radians).
func sobel(g *image.Gray) (mag []float64, dir []float64) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	mag = make([]float64, w*h)
	dir = make([]float64, w*h)
	at := func(x, y int) float64 {
		return float64(g.Pix[clampInt(y, 0, h-1)*g.Stride+clampInt(x, 0, w-1)])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
				at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			mag[y*w+x] = math.Hypot(gx, gy)
			dir[y*w+x] = math.Atan2(gy, gx)
		}
	}
	return mag, dir
}

// canny runs the classic edge chain: blur, gradient, non-maximum
// suppression, double threshold with hysteresis. kernel is the blur
// radius in pixels.
func canny(g *image.Gray, low, high float64, kernel int) *image.Gray {
	if kernel < 1 {
		kernel = 1
	}
	blurred := boxBlur(g, kernel)
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	mag, dir := sobel(blurred)

	// Non-maximum suppression along the gradient direction.
	nms := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			angle := math.Mod(dir[i]+math.Pi, math.Pi) // fold to [0,π)
			var a, b2 float64
			switch {
			case angle < math.Pi/8 || angle >= 7*math.Pi/8:
				a, b2 = mag[i-1], mag[i+1]
			case angle < 3*math.Pi/8:
				a, b2 = mag[(y-1)*w+x+1], mag[(y+1)*w+x-1]
			case angle < 5*math.Pi/8:
				a, b2 = mag[(y-1)*w+x], mag[(y+1)*w+x]
			default:
				a, b2 = mag[(y-1)*w+x-1], mag[(y+1)*w+x+1]
			}
			if mag[i] >= a && mag[i] >= b2 {
				nms[i] = mag[i]
			}
		}
	}

	// Double threshold + hysteresis via BFS from strong pixels.
	const strong, weak = 255, 80
	out := image.NewGray(b)
	marks := make([]uint8, w*h)
	var stack []int
	for i, v := range nms {
		if v >= high {
			marks[i] = strong
			stack = append(stack, i)
		} else if v >= low {
			marks[i] = weak
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if marks[j] == weak {
					marks[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	for i, m := range marks {
		if m == strong {
			out.Pix[(i/w)*out.Stride+i%w] = 255
		}
	}
	return out
}

// laplacianVariance is the sharpness proxy used by the quality score.
func laplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(g.Pix[y*g.Stride+x])
			lap := 4*c - float64(g.Pix[y*g.Stride+x-1]) - float64(g.Pix[y*g.Stride+x+1]) -
				float64(g.Pix[(y-1)*g.Stride+x]) - float64(g.Pix[(y+1)*g.Stride+x])
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
