// Package export writes a board's paths to PNG and PDF files.
package export

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/jung-kurt/gofpdf"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/surface"
)

type Options struct {
	Width     int
	Height    int
	LineWidth float64
	// Background defaults to white.
	Background color.Color
}

func (o Options) withDefaults() (Options, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return o, errors.New("export size must be positive")
	}
	if o.LineWidth <= 0 {
		o.LineWidth = surface.DefaultLineWidth
	}
	if o.Background == nil {
		o.Background = color.White
	}
	return o, nil
}

// Rasterize paints paths in order onto a fresh raster.
func Rasterize(paths []*board.Path, opts Options) (*surface.Raster, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	r := surface.NewRaster(opts.Width, opts.Height).WithBackground(opts.Background)
	r.Clear()
	for _, p := range paths {
		r.Stroke(p.Geometry(), p.Color, opts.LineWidth)
	}
	return r, nil
}

func PNG(w io.Writer, paths []*board.Path, opts Options) error {
	r, err := Rasterize(paths, opts)
	if err != nil {
		return err
	}
	if err := r.EncodePNG(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

func SavePNG(path string, paths []*board.Path, opts Options) error {
	return writeFile(path, func(w io.Writer) error { return PNG(w, paths, opts) })
}

// PDF writes a single page sized in points to match the canvas pixels.
func PDF(w io.Writer, paths []*board.Path, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}
	width, height := float64(opts.Width), float64(opts.Height)
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	bg := toNRGBA(opts.Background)
	if bg.A > 0 {
		pdf.SetFillColor(int(bg.R), int(bg.G), int(bg.B))
		pdf.Rect(0, 0, width, height, "F")
	}

	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")
	pdf.SetLineWidth(opts.LineWidth)
	for _, p := range paths {
		drawPath(pdf, p, opts.LineWidth)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

func SavePDF(path string, paths []*board.Path, opts Options) error {
	return writeFile(path, func(w io.Writer) error { return PDF(w, paths, opts) })
}

func drawPath(pdf *gofpdf.Fpdf, p *board.Path, lineWidth float64) {
	g := p.Geometry()
	if len(g) == 0 {
		return
	}
	parsed, err := surface.ParseColor(p.Color)
	if err != nil {
		parsed = color.Black
	}
	c := toNRGBA(parsed)
	pdf.SetAlpha(float64(c.A)/255, "Normal")
	defer pdf.SetAlpha(1, "Normal")
	if g.IsDot() {
		pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
		pdf.Circle(g[0].At.X, g[0].At.Y, lineWidth/2, "F")
		return
	}
	pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
	for _, cmd := range g {
		switch cmd.Verb {
		case board.VerbMoveTo:
			pdf.MoveTo(cmd.At.X, cmd.At.Y)
		case board.VerbLineTo:
			pdf.LineTo(cmd.At.X, cmd.At.Y)
		}
	}
	pdf.DrawPath("D")
}

func toNRGBA(c color.Color) color.NRGBA {
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
