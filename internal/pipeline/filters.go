package pipeline

import (
	"image"
	"math"
)

// dilate grows foreground (255) pixels with a kw×kh rectangular kernel.
func dilate(g *image.Gray, kw, kh int) *image.Gray {
	return morph(g, kw, kh, true)
}

// erode shrinks foreground pixels with a kw×kh rectangular kernel.
func erode(g *image.Gray, kw, kh int) *image.Gray {
	return morph(g, kw, kh, false)
}

func morph(g *image.Gray, kw, kh int, isDilate bool) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	rx, ry := kw/2, kh/2
	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hit := !isDilate
			for dy := -ry; dy <= ry && hit != isDilate; dy++ {
				for dx := -rx; dx <= rx; dx++ {
					nx, ny := clampInt(x+dx, 0, w-1), clampInt(y+dy, 0, h-1)
					on := g.Pix[ny*g.Stride+nx] > 127
					if isDilate && on {
						hit = true
						break
					}
					if !isDilate && !on {
						hit = false
						break
					}
				}
			}
			if hit {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// morphClose is dilate then erode; with a wide flat kernel it bridges the
// gaps between characters on a text line.
func morphClose(g *image.Gray, kw, kh int) *image.Gray {
	return erode(dilate(g, kw, kh), kw, kh)
}

// equalizeHist performs global histogram equalization.
func equalizeHist(g *image.Gray) *image.Gray {
	h := histogram(g)
	total := len(g.Pix)
	if total == 0 {
		return g
	}
	var lut [256]uint8
	cum := 0
	for i := 0; i < 256; i++ {
		cum += h[i]
		lut[i] = uint8(clampF(float64(cum)*255/float64(total)+0.5, 0, 255))
	}
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		out.Pix[i] = lut[p]
	}
	return out
}

// clahe runs contrast-limited adaptive histogram equalization on a tile
// grid with bilinear interpolation between tile mappings.
func clahe(g *image.Gray, tiles int, clipLimit float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if tiles < 2 || w < tiles || h < tiles {
		return equalizeHist(g)
	}
	tw, th := (w+tiles-1)/tiles, (h+tiles-1)/tiles

	// Per-tile clipped, redistributed LUTs.
	luts := make([][256]uint8, tiles*tiles)
	for ty := 0; ty < tiles; ty++ {
		for tx := 0; tx < tiles; tx++ {
			var hist [256]int
			count := 0
			for y := ty * th; y < min((ty+1)*th, h); y++ {
				for x := tx * tw; x < min((tx+1)*tw, w); x++ {
					hist[g.Pix[y*g.Stride+x]]++
					count++
				}
			}
			if count == 0 {
				continue
			}
			clip := int(clipLimit * float64(count) / 256)
			if clip < 1 {
				clip = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > clip {
					excess += hist[i] - clip
					hist[i] = clip
				}
			}
			redist := excess / 256
			for i := range hist {
				hist[i] += redist
			}
			cum := 0
			var lut [256]uint8
			for i := 0; i < 256; i++ {
				cum += hist[i]
				lut[i] = uint8(clampF(float64(cum)*255/float64(count)+0.5, 0, 255))
			}
			luts[ty*tiles+tx] = lut
		}
	}

	// Bilinear blend of the four surrounding tile mappings.
	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		fy := (float64(y)-float64(th)/2) / float64(th)
		ty0 := clampInt(int(math.Floor(fy)), 0, tiles-1)
		ty1 := clampInt(ty0+1, 0, tiles-1)
		wy := clampF(fy-math.Floor(fy), 0, 1)
		if fy < 0 {
			ty1, wy = ty0, 0
		}
		for x := 0; x < w; x++ {
			fx := (float64(x)-float64(tw)/2) / float64(tw)
			tx0 := clampInt(int(math.Floor(fx)), 0, tiles-1)
			tx1 := clampInt(tx0+1, 0, tiles-1)
			wx := clampF(fx-math.Floor(fx), 0, 1)
			if fx < 0 {
				tx1, wx = tx0, 0
			}
			p := g.Pix[y*g.Stride+x]
			v00 := float64(luts[ty0*tiles+tx0][p])
			v01 := float64(luts[ty0*tiles+tx1][p])
			v10 := float64(luts[ty1*tiles+tx0][p])
			v11 := float64(luts[ty1*tiles+tx1][p])
			top := v00*(1-wx) + v01*wx
			bot := v10*(1-wx) + v11*wx
			out.Pix[y*out.Stride+x] = uint8(clampF(top*(1-wy)+bot*wy+0.5, 0, 255))
		}
	}
	return out
}

// adaptiveGaussianThreshold binarizes against a smoothed local mean minus
// a constant offset. Foreground (ink) comes out white.
func adaptiveGaussianThreshold(g *image.Gray, radius int, c float64) *image.Gray {
	local := boxBlur(boxBlur(g, radius), radius/2+1) // two box passes ≈ gaussian
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		if float64(p) < float64(local.Pix[i])-c {
			out.Pix[i] = 255
		}
	}
	return out
}

// bilateral is an edge-preserving smoother: spatial box window weighted
// by intensity similarity. Fallback for denoise.
func bilateral(g *image.Gray, radius int, sigmaColor float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	twoSigmaSq := 2 * sigmaColor * sigmaColor
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := float64(g.Pix[y*g.Stride+x])
			var num, den float64
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					nx, ny := clampInt(x+dx, 0, w-1), clampInt(y+dy, 0, h-1)
					v := float64(g.Pix[ny*g.Stride+nx])
					d := v - center
					wt := math.Exp(-d*d/twoSigmaSq)
					num += v * wt
					den += wt
				}
			}
			out.Pix[y*out.Stride+x] = uint8(clampF(num/den+0.5, 0, 255))
		}
	}
	return out
}

// denoiseMeans is a windowed means denoiser: each pixel becomes the
// similarity-weighted mean of a small search window, comparing 3×3 patch
// means rather than single pixels.
func denoiseMeans(g *image.Gray, search int, strength float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	// Precompute 3×3 patch means.
	patch := boxBlur(g, 1)
	out := image.NewGray(b)
	twoHSq := 2 * strength * strength
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := float64(patch.Pix[y*patch.Stride+x])
			var num, den float64
			for dy := -search; dy <= search; dy++ {
				for dx := -search; dx <= search; dx++ {
					nx, ny := clampInt(x+dx, 0, w-1), clampInt(y+dy, 0, h-1)
					d := float64(patch.Pix[ny*patch.Stride+nx]) - center
					wt := math.Exp(-d*d/twoHSq)
					num += float64(g.Pix[ny*g.Stride+nx]) * wt
					den += wt
				}
			}
			out.Pix[y*out.Stride+x] = uint8(clampF(num/den+0.5, 0, 255))
		}
	}
	return out
}
