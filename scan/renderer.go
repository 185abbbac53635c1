package scan

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Projection picks which two axes a 2D render shows
type Projection int

const (
	ProjectTop   Projection = iota // x right, y up
	ProjectFront                   // x right, z up
)

func (p Projection) project(v r3.Vector) (float64, float64) {
	if p == ProjectFront {
		return v.X, v.Z
	}
	return v.X, v.Y
}

var (
	colorBackground = color.RGBA{240, 240, 240, 255}
	colorPoint      = color.NRGBA{0, 0, 139, 90}
	colorHole       = color.RGBA{220, 20, 60, 255}
	colorViewpoint  = color.RGBA{0, 128, 0, 255}
	colorText       = color.RGBA{0, 0, 0, 255}
)

// CoverageRenderer draws a density image of the model with holes and
// planned viewpoints overlaid.
type CoverageRenderer struct {
	Points     []Point
	Holes      []HoleCluster
	Viewpoints []Viewpoint
	Projection Projection
	Scale      float64 // pixels per model unit
	Padding    int
	MaxSize    int // longest image side in pixels
}

// NewCoverageRenderer creates a renderer with default settings
func NewCoverageRenderer(points []Point, plan *ScanPlan) *CoverageRenderer {
	r := &CoverageRenderer{
		Points:  points,
		Scale:   2,
		Padding: 30,
		MaxSize: 2000,
	}
	if plan != nil {
		r.Holes = plan.Holes
		r.Viewpoints = plan.Viewpoints
	}
	return r
}

// bounds covers every drawn element in projected coordinates
func (r *CoverageRenderer) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	add := func(v r3.Vector) {
		x, y := r.Projection.project(v)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	for _, p := range r.Points {
		add(p.Vec())
	}
	for _, h := range r.Holes {
		add(h.Center)
	}
	for _, v := range r.Viewpoints {
		add(v.Position)
	}
	if math.IsInf(minX, 1) {
		return 0, 0, 0, 0
	}
	return minX, minY, maxX, maxY
}

// Render draws the image. Empty input gives a blank padded canvas.
func (r *CoverageRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.bounds()
	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	if r.MaxSize > 0 {
		if span := math.Max(maxX-minX, maxY-minY) * scale; span > float64(r.MaxSize) {
			scale *= float64(r.MaxSize) / span
		}
	}
	width := int((maxX-minX)*scale) + 2*r.Padding + 1
	height := int((maxY-minY)*scale) + 2*r.Padding + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, colorBackground)
		}
	}

	// image y grows downward
	toImage := func(v r3.Vector) (int, int) {
		x, y := r.Projection.project(v)
		return int((x-minX)*scale) + r.Padding, height - 1 - (int((y-minY)*scale) + r.Padding)
	}

	for _, p := range r.Points {
		ix, iy := toImage(p.Vec())
		if ix >= 0 && ix < width && iy >= 0 && iy < height {
			img.SetRGBA(ix, iy, blendColors(img.RGBAAt(ix, iy), colorPoint))
		}
	}
	for _, h := range r.Holes {
		ix, iy := toImage(h.Center)
		radius := int(math.Sqrt(float64(h.Size))) + 3
		drawRing(img, ix, iy, radius, colorHole)
	}
	for i, v := range r.Viewpoints {
		ix, iy := toImage(v.Position)
		drawTriangle(img, ix, iy, 10, colorViewpoint)
		drawText(img, ix+7, iy+4, fmt.Sprintf("%d", i+1), colorText)
	}

	drawText(img, 10, 15, fmt.Sprintf("%d points", len(r.Points)), colorText)
	drawText(img, 10, 30, fmt.Sprintf("%d holes", len(r.Holes)), colorHole)
	drawText(img, 10, 45, fmt.Sprintf("%d viewpoints", len(r.Viewpoints)), colorViewpoint)
	return img
}

// WritePNG encodes the rendered image
func (r *CoverageRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders to a file
func (r *CoverageRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return r.WritePNG(f)
}

// blendColors alpha-blends fg over an opaque bg
func blendColors(bg color.RGBA, fg color.NRGBA) color.RGBA {
	alpha := float64(fg.A) / 255
	inv := 1 - alpha
	return color.RGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*inv),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*inv),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*inv),
		A: 255,
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawRing draws a two pixel wide circle outline
func drawRing(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	outer, inner := radius*radius, (radius-2)*(radius-2)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if d := dx*dx + dy*dy; d <= outer && d >= inner {
				setClipped(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawTriangle draws a filled triangle pointing up
func drawTriangle(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		progress := float64(dy+half) / float64(size)
		width := int(progress * float64(half))
		for dx := -width; dx <= width; dx++ {
			setClipped(img, cx+dx, cy+dy, c)
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
