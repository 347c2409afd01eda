// Package board holds the stroke entity shared by the drawing surface, the
// reconciler and the sync backend.
package board

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/astromechza/automerge-whiteboard/pkg/polyline"
)

type Point = polyline.Point

// Verb is a geometry drawing command.
type Verb uint8

const (
	VerbMoveTo Verb = iota
	VerbLineTo
)

type Command struct {
	Verb Verb
	At   Point
}

// Geometry is the renderable form of a path: a move-to followed by line-tos.
// Callers must treat it as read-only.
type Geometry []Command

// IsDot reports whether every command sits on the first point, so the
// stroke has no length and paints as a disc.
func (g Geometry) IsDot() bool {
	if len(g) == 0 {
		return false
	}
	for _, cmd := range g[1:] {
		if cmd.At != g[0].At {
			return false
		}
	}
	return true
}

// Path is one freehand stroke. Its ID is the merge key between local drafts
// and remote snapshots.
type Path struct {
	ID    string
	Color string

	points   []Point
	geometry Geometry

	encoded      string
	encodedValid bool
}

func NewPath(color string) *Path {
	return NewPathWithID(uuid.NewString(), color)
}

func NewPathWithID(id, color string) *Path {
	if id == "" {
		id = uuid.NewString()
	}
	return &Path{ID: id, Color: color}
}

// FromEncoded rebuilds a path from its wire form. A polyline that decodes to
// zero points is rejected the same way as a malformed one.
func FromEncoded(color, encoded, id string) (*Path, error) {
	points, err := polyline.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode path %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("decode path %s: %w", id, &polyline.DecodeError{Reason: "no points"})
	}
	p := NewPathWithID(id, color)
	p.MoveTo(points[0].X, points[0].Y)
	for _, pt := range points[1:] {
		p.LineTo(pt.X, pt.Y)
	}
	return p, nil
}

func (p *Path) MoveTo(x, y float64) {
	if len(p.points) != 0 {
		panic(fmt.Sprintf("board: MoveTo on path %s which already has %d points", p.ID, len(p.points)))
	}
	p.appendPoint(VerbMoveTo, Point{X: x, Y: y})
}

func (p *Path) LineTo(x, y float64) {
	if len(p.points) == 0 {
		panic(fmt.Sprintf("board: LineTo on path %s before MoveTo", p.ID))
	}
	p.appendPoint(VerbLineTo, Point{X: x, Y: y})
}

func (p *Path) appendPoint(verb Verb, pt Point) {
	if !polyline.InRange(pt.X) || !polyline.InRange(pt.Y) {
		panic(fmt.Sprintf("board: point (%v, %v) on path %s is outside ±%g", pt.X, pt.Y, p.ID, polyline.MaxCoordinate))
	}
	p.points = append(p.points, pt)
	p.geometry = append(p.geometry, Command{Verb: verb, At: pt})
	p.encodedValid = false
}

// Points returns a copy of the ordered points.
func (p *Path) Points() []Point {
	out := make([]Point, len(p.points))
	copy(out, p.points)
	return out
}

func (p *Path) Len() int {
	return len(p.points)
}

// Last returns the most recently appended point.
func (p *Path) Last() (Point, bool) {
	if len(p.points) == 0 {
		return Point{}, false
	}
	return p.points[len(p.points)-1], true
}

func (p *Path) Geometry() Geometry {
	return p.geometry
}

// Polyline returns the encoded points, re-encoding only after an append.
func (p *Path) Polyline() string {
	if !p.encodedValid {
		p.encoded = polyline.Encode(p.points)
		p.encodedValid = true
	}
	return p.encoded
}

// ContainsPoint reports whether (x, y) lies within tolerance of the stroke,
// treating every segment as having round caps and joins.
func (p *Path) ContainsPoint(x, y, tolerance float64) bool {
	if len(p.points) == 0 || tolerance < 0 {
		return false
	}
	limit := tolerance * tolerance
	q := Point{X: x, Y: y}
	if len(p.points) == 1 {
		return distanceSquared(q, p.points[0]) <= limit
	}
	for i := 1; i < len(p.points); i++ {
		if segmentDistanceSquared(q, p.points[i-1], p.points[i]) <= limit {
			return true
		}
	}
	return false
}

func distanceSquared(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

func segmentDistanceSquared(q, a, b Point) float64 {
	abx, aby := b.X-a.X, b.Y-a.Y
	lengthSquared := abx*abx + aby*aby
	if lengthSquared == 0 {
		return distanceSquared(q, a)
	}
	t := ((q.X-a.X)*abx + (q.Y-a.Y)*aby) / lengthSquared
	t = math.Max(0, math.Min(1, t))
	return distanceSquared(q, Point{X: a.X + t*abx, Y: a.Y + t*aby})
}

// Clone returns a deep copy that shares no state with p.
func (p *Path) Clone() *Path {
	c := &Path{ID: p.ID, Color: p.Color}
	c.points = append([]Point(nil), p.points...)
	c.geometry = append(Geometry(nil), p.geometry...)
	c.encoded, c.encodedValid = p.encoded, p.encodedValid
	return c
}

// Record is the wire shape of a path in both directions.
type Record struct {
	ID       string `json:"id"`
	Color    string `json:"color"`
	Polyline string `json:"polyline"`
}

var ErrInvalidRecord = errors.New("invalid record")

func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.Polyline == "":
		return fmt.Errorf("%w: path %s has no polyline", ErrInvalidRecord, r.ID)
	}
	return nil
}

func (p *Path) Record() Record {
	return Record{ID: p.ID, Color: p.Color, Polyline: p.Polyline()}
}

func FromRecord(r Record) (*Path, error) {
	return FromEncoded(r.Color, r.Polyline, r.ID)
}
