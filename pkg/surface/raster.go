package surface

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"

	"github.com/fogleman/gg"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
)

// Raster is a Canvas backed by an in-memory RGBA image. Strokes use round caps
// and joins so that what is painted matches board.Path.ContainsPoint.
type Raster struct {
	mu         sync.Mutex
	dc         *gg.Context
	background color.Color
	fallback   color.Color
}

var _ Canvas = (*Raster)(nil)

func NewRaster(width, height int) *Raster {
	dc := gg.NewContext(width, height)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	return &Raster{dc: dc, background: color.Transparent, fallback: color.Black}
}

// WithBackground sets the color the canvas is cleared to.
func (r *Raster) WithBackground(c color.Color) *Raster {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.background = c
	return r
}

func (r *Raster) Width() int {
	return r.dc.Width()
}

func (r *Raster) Height() int {
	return r.dc.Height()
}

func (r *Raster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dc.SetColor(r.background)
	r.dc.Clear()
}

func (r *Raster) setStyle(c string, width float64) {
	parsed, err := ParseColor(c)
	if err != nil {
		parsed = r.fallback
	}
	r.dc.SetColor(parsed)
	r.dc.SetLineWidth(width)
}

func (r *Raster) Stroke(g board.Geometry, c string, width float64) {
	if len(g) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStyle(c, width)
	if g.IsDot() {
		r.dc.DrawCircle(g[0].At.X, g[0].At.Y, width/2)
		r.dc.Fill()
		return
	}
	for _, cmd := range g {
		switch cmd.Verb {
		case board.VerbMoveTo:
			r.dc.MoveTo(cmd.At.X, cmd.At.Y)
		case board.VerbLineTo:
			r.dc.LineTo(cmd.At.X, cmd.At.Y)
		}
	}
	r.dc.Stroke()
}

func (r *Raster) StrokeSegment(from, to board.Point, c string, width float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStyle(c, width)
	if from == to {
		r.dc.DrawCircle(from.X, from.Y, width/2)
		r.dc.Fill()
		return
	}
	r.dc.MoveTo(from.X, from.Y)
	r.dc.LineTo(to.X, to.Y)
	r.dc.Stroke()
}

// Image returns a copy of the current pixels.
func (r *Raster) Image() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.dc.Image()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out
}

func (r *Raster) EncodePNG(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dc.EncodePNG(w)
}

func (r *Raster) SavePNG(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dc.SavePNG(path)
}
