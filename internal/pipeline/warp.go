package pipeline

import (
	"image"
	"math"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// homography computes the 3×3 projective transform mapping the four
// destination corners onto the four source corners (for inverse warping).
// Returns false when the system is degenerate.
func homography(src, dst [4]domain.Point) ([9]float64, bool) {
	// Solve the standard 8×8 DLT system A·h = b with h33 = 1.
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		sx, sy := float64(src[i].X), float64(src[i].Y)
		dx, dy := float64(dst[i].X), float64(dst[i].Y)
		a[2*i] = [9]float64{dx, dy, 1, 0, 0, 0, -dx * sx, -dy * sx, sx}
		a[2*i+1] = [9]float64{0, 0, 0, dx, dy, 1, -dx * sy, -dy * sy, sy}
	}
	// Gaussian elimination with partial pivoting.
	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [9]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}
	var h [9]float64
	for i := 0; i < 8; i++ {
		h[i] = a[i][8] / a[i][i]
	}
	h[8] = 1
	return h, true
}

// warpPerspective maps the source quadrilateral to an axis-aligned
// rectangle whose sides are the max of the opposing edge lengths.
// Sampling is bilinear; out-of-range samples come out white.
func warpPerspective(img image.Image, quad [4]domain.Point) (image.Image, bool) {
	edge := func(a, b domain.Point) float64 {
		return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
	}
	outW := int(math.Max(edge(quad[0], quad[1]), edge(quad[3], quad[2])))
	outH := int(math.Max(edge(quad[0], quad[3]), edge(quad[1], quad[2])))
	if outW < 8 || outH < 8 {
		return nil, false
	}
	dst := [4]domain.Point{{X: 0, Y: 0}, {X: outW - 1, Y: 0}, {X: outW - 1, Y: outH - 1}, {X: 0, Y: outH - 1}}
	h, ok := homography(quad, dst)
	if !ok {
		return nil, false
	}

	src := image.NewNRGBA(img.Bounds())
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			src.Set(x, y, img.At(x, y))
		}
	}
	w0, h0 := b.Dx(), b.Dy()

	out := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			fx := float64(x)
			fy := float64(y)
			den := h[6]*fx + h[7]*fy + h[8]
			if math.Abs(den) < 1e-12 {
				continue
			}
			sx := (h[0]*fx + h[1]*fy + h[2]) / den
			sy := (h[3]*fx + h[4]*fy + h[5]) / den
			idx := (y*outW + x) * 4
			if sx < 0 || sy < 0 || sx > float64(w0-1) || sy > float64(h0-1) {
				out.Pix[idx], out.Pix[idx+1], out.Pix[idx+2], out.Pix[idx+3] = 255, 255, 255, 255
				continue
			}
			r, g, bb, al := bilinearSample(src, sx, sy)
			out.Pix[idx], out.Pix[idx+1], out.Pix[idx+2], out.Pix[idx+3] = r, g, bb, al
		}
	}
	return out, true
}

func bilinearSample(img *image.NRGBA, x, y float64) (r, g, b, a uint8) {
	x0, y0 := int(x), int(y)
	x1, y1 := clampInt(x0+1, 0, img.Bounds().Dx()-1), clampInt(y0+1, 0, img.Bounds().Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)
	ch := func(off int) uint8 {
		p00 := float64(img.Pix[(y0*img.Stride)+x0*4+off])
		p01 := float64(img.Pix[(y0*img.Stride)+x1*4+off])
		p10 := float64(img.Pix[(y1*img.Stride)+x0*4+off])
		p11 := float64(img.Pix[(y1*img.Stride)+x1*4+off])
		top := p00*(1-fx) + p01*fx
		bot := p10*(1-fx) + p11*fx
		return uint8(clampF(top*(1-fy)+bot*fy+0.5, 0, 255))
	}
	return ch(0), ch(1), ch(2), ch(3)
}
