package scan

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws the model, holes and viewpoint sight lines as vector
// graphics. Canvas units are model units (mm).
type VectorRenderer struct {
	Points      []Point
	Holes       []HoleCluster
	Viewpoints  []Viewpoint
	Bounds      *Bounds // drawn as a dashed box when set
	Projection  Projection
	Padding     float64
	PointRadius float64
	GridSpacing float64 // 0 disables the grid
	Resolution  canvas.Resolution
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(points []Point, plan *ScanPlan) *VectorRenderer {
	r := &VectorRenderer{
		Points:      points,
		Padding:     20,
		PointRadius: 1.5,
		GridSpacing: 100,
		Resolution:  canvas.DPI(100),
	}
	if plan != nil {
		r.Holes = plan.Holes
		r.Viewpoints = plan.Viewpoints
	}
	return r
}

// canvasRenderer is implemented by the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *VectorRenderer) worldBounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64
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
		add(v.Target)
	}
	if r.Bounds != nil {
		add(r.Bounds.Min)
		add(r.Bounds.Max)
	}
	if minX > maxX {
		return 0, 0, 0, 0
	}
	return minX, minY, maxX, maxY
}

// RenderToSVG writes the drawing as SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY := r.worldBounds()
	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, maxX, maxY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG rasterizes the drawing at r.Resolution
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY := r.worldBounds()
	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, maxX, maxY, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, maxX, maxY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(v r3.Vector) (float64, float64) {
		x, y := r.Projection.project(v)
		return x - minX + r.Padding, y - minY + r.Padding
	}
	line := func(a, b r3.Vector) *canvas.Path {
		p := &canvas.Path{}
		x1, y1 := toCanvas(a)
		x2, y2 := toCanvas(b)
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		return p
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: color.RGBA{211, 211, 211, 255}}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{4, 4}
		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(x-minX+r.Padding, 0)
			p.LineTo(x-minX+r.Padding, height)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(0, y-minY+r.Padding)
			p.LineTo(width, y-minY+r.Padding)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	if r.Bounds != nil {
		boxStyle := canvas.DefaultStyle
		boxStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		boxStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		boxStyle.StrokeWidth = 1
		boxStyle.Dashes = []float64{8, 4}
		x0, y0 := toCanvas(r.Bounds.Min)
		x1, y1 := toCanvas(r.Bounds.Max)
		box := canvas.Rectangle(x1-x0, y1-y0).Translate(x0, y0)
		renderer.RenderPath(box, boxStyle, canvas.Identity)
	}

	pointStyle := canvas.DefaultStyle
	pointStyle.Fill = canvas.Paint{Color: color.RGBA{0, 0, 139, 255}}
	pointStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range r.Points {
		cx, cy := toCanvas(p.Vec())
		renderer.RenderPath(canvas.Circle(r.PointRadius).Translate(cx, cy), pointStyle, canvas.Identity)
	}

	holeStyle := canvas.DefaultStyle
	holeStyle.Fill = canvas.Paint{Color: color.RGBA{52, 5, 14, 60}} // premultiplied
	holeStyle.Stroke = canvas.Paint{Color: color.RGBA{220, 20, 60, 255}}
	holeStyle.StrokeWidth = 1.5
	for _, h := range r.Holes {
		cx, cy := toCanvas(h.Center)
		radius := 5 * math.Sqrt(float64(h.Size))
		renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), holeStyle, canvas.Identity)
	}

	sightStyle := canvas.DefaultStyle
	sightStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	sightStyle.Stroke = canvas.Paint{Color: color.RGBA{0, 128, 0, 255}}
	sightStyle.StrokeWidth = 1
	viewStyle := canvas.DefaultStyle
	viewStyle.Fill = canvas.Paint{Color: color.RGBA{0, 128, 0, 255}}
	viewStyle.Stroke = canvas.Paint{Color: canvas.Black}
	viewStyle.StrokeWidth = 0.5
	for i, v := range r.Viewpoints {
		renderer.RenderPath(line(v.Position, v.Target), sightStyle, canvas.Identity)
		cx, cy := toCanvas(v.Position)
		marker := &canvas.Path{}
		marker.MoveTo(cx, cy+6)
		marker.LineTo(cx-5.2, cy-3)
		marker.LineTo(cx+5.2, cy-3)
		marker.Close()
		renderer.RenderPath(marker, viewStyle, canvas.Identity)
		if i > 0 {
			tour := sightStyle
			tour.Stroke = canvas.Paint{Color: color.RGBA{0, 100, 0, 255}}
			tour.Dashes = []float64{3, 3}
			renderer.RenderPath(line(r.Viewpoints[i-1].Position, v.Position), tour, canvas.Identity)
		}
	}
}
