package pipeline

import (
	"image"
	"math"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// contour is an external boundary of a connected foreground component.
type contour struct {
	points    []domain.Point
	pixelArea int
	bounds    image.Rectangle
}

// findContours labels 8-connected foreground components in a binary image
// and traces the external boundary of each. Components below minArea
// pixels are dropped.
func findContours(bin *image.Gray, minArea int) []contour {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	labels := make([]int32, w*h)
	var out []contour
	next := int32(1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if bin.Pix[y*bin.Stride+x] < 128 || labels[y*w+x] != 0 {
				continue
			}
			// Flood fill the component.
			id := next
			next++
			stack := []int{y*w + x}
			labels[y*w+x] = id
			area := 0
			minX, minY, maxX, maxY := x, y, x, y
			for len(stack) > 0 {
				i := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				area++
				cx, cy := i%w, i/w
				if cx < minX {
					minX = cx
				}
				if cy < minY {
					minY = cy
				}
				if cx > maxX {
					maxX = cx
				}
				if cy > maxY {
					maxY = cy
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := cx+dx, cy+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						j := ny*w + nx
						if bin.Pix[ny*bin.Stride+nx] >= 128 && labels[j] == 0 {
							labels[j] = id
							stack = append(stack, j)
						}
					}
				}
			}
			if area < minArea {
				continue
			}
			pts := traceBoundary(bin, labels, id, x, y, w, h)
			if len(pts) < 4 {
				continue
			}
			out = append(out, contour{
				points:    pts,
				pixelArea: area,
				bounds:    image.Rect(minX, minY, maxX+1, maxY+1),
			})
		}
	}
	return out
}

// moore neighborhood, clockwise starting east.
var mooreDX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
var mooreDY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}

// traceBoundary follows the external boundary of component id starting at
// its top-left pixel (Moore-neighbor tracing).
func traceBoundary(bin *image.Gray, labels []int32, id int32, sx, sy, w, h int) []domain.Point {
	inside := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && labels[y*w+x] == id
	}
	var pts []domain.Point
	cx, cy := sx, sy
	dir := 6 // came from the north
	for {
		pts = append(pts, domain.Point{X: cx, Y: cy})
		if len(pts) > 4*(w+h)+8 {
			break // safety bound
		}
		found := false
		// Start searching from the direction we entered, rotated back.
		start := (dir + 6) % 8
		for i := 0; i < 8; i++ {
			d := (start + i) % 8
			nx, ny := cx+mooreDX[d], cy+mooreDY[d]
			if inside(nx, ny) {
				cx, cy, dir = nx, ny, d
				found = true
				break
			}
		}
		if !found {
			break // isolated pixel
		}
		if cx == sx && cy == sy {
			break
		}
	}
	return pts
}

// polygonArea is the shoelace area of a closed polygon.
func polygonArea(pts []domain.Point) float64 {
	n := len(pts)
	if n < 3 {
		return 0
	}
	var a float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += float64(pts[i].X*pts[j].Y - pts[j].X*pts[i].Y)
	}
	return math.Abs(a) / 2
}

// polygonPerimeter is the closed-path length.
func polygonPerimeter(pts []domain.Point) float64 {
	n := len(pts)
	if n < 2 {
		return 0
	}
	var p float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		p += math.Hypot(float64(pts[j].X-pts[i].X), float64(pts[j].Y-pts[i].Y))
	}
	return p
}

// approxPolygon simplifies a closed contour with Douglas-Peucker at the
// given absolute epsilon.
func approxPolygon(pts []domain.Point, eps float64) []domain.Point {
	n := len(pts)
	if n < 4 {
		return pts
	}
	// Split at the two points farthest apart to handle the closed path.
	far := 0
	best := -1.0
	for i := 1; i < n; i++ {
		d := math.Hypot(float64(pts[i].X-pts[0].X), float64(pts[i].Y-pts[0].Y))
		if d > best {
			best, far = d, i
		}
	}
	a := douglasPeucker(pts[:far+1], eps)
	bArc := append(pts[far:], pts[0])
	b := douglasPeucker(bArc, eps)
	out := append(a[:len(a)-1], b[:len(b)-1]...)
	return out
}

func douglasPeucker(pts []domain.Point, eps float64) []domain.Point {
	if len(pts) < 3 {
		return pts
	}
	first, last := pts[0], pts[len(pts)-1]
	idx, maxDist := 0, 0.0
	for i := 1; i < len(pts)-1; i++ {
		d := pointSegDist(pts[i], first, last)
		if d > maxDist {
			idx, maxDist = i, d
		}
	}
	if maxDist <= eps {
		return []domain.Point{first, last}
	}
	left := douglasPeucker(pts[:idx+1], eps)
	right := douglasPeucker(pts[idx:], eps)
	return append(left[:len(left)-1], right...)
}

func pointSegDist(p, a, b domain.Point) float64 {
	ax, ay := float64(a.X), float64(a.Y)
	bx, by := float64(b.X), float64(b.Y)
	px, py := float64(p.X), float64(p.Y)
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := clampF(((px-ax)*dx+(py-ay)*dy)/lenSq, 0, 1)
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

// reduceToQuad eliminates the shortest edges of a 5- or 6-gon until four
// vertices remain (replacing each removed edge by its neighbors'
// intersection midpoint).
func reduceToQuad(pts []domain.Point) []domain.Point {
	for len(pts) > 4 {
		n := len(pts)
		shortest, minLen := 0, math.MaxFloat64
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			l := math.Hypot(float64(pts[j].X-pts[i].X), float64(pts[j].Y-pts[i].Y))
			if l < minLen {
				minLen, shortest = l, i
			}
		}
		j := (shortest + 1) % n
		mid := domain.Point{X: (pts[shortest].X + pts[j].X) / 2, Y: (pts[shortest].Y + pts[j].Y) / 2}
		merged := make([]domain.Point, 0, n-1)
		for k := 0; k < n; k++ {
			if k == shortest {
				merged = append(merged, mid)
				continue
			}
			if k == j {
				continue
			}
			merged = append(merged, pts[k])
		}
		pts = merged
	}
	return pts
}

// orderQuad sorts four vertices into top-left, top-right, bottom-right,
// bottom-left order.
func orderQuad(pts []domain.Point) [4]domain.Point {
	var out [4]domain.Point
	if len(pts) < 4 {
		return out
	}
	sumMin, sumMax := math.MaxFloat64, -math.MaxFloat64
	diffMin, diffMax := math.MaxFloat64, -math.MaxFloat64
	for _, p := range pts[:4] {
		s := float64(p.X + p.Y)
		d := float64(p.X - p.Y)
		if s < sumMin {
			sumMin = s
			out[0] = p // top-left
		}
		if s > sumMax {
			sumMax = s
			out[2] = p // bottom-right
		}
		if d > diffMax {
			diffMax = d
			out[1] = p // top-right
		}
		if d < diffMin {
			diffMin = d
			out[3] = p // bottom-left
		}
	}
	return out
}
