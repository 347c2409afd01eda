// Package surface is the interactive drawing surface: it turns pointer input
// into strokes, keeps the confirmed and draft path collections and paints
// them onto a Canvas.
package surface

import (
	"log/slog"
	"sync"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/polyline"
)

type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
	ButtonMiddle
)

type State int

const (
	StateIdle State = iota
	StateDrawing
	StateRecoloring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrawing:
		return "drawing"
	case StateRecoloring:
		return "recoloring"
	default:
		return "unknown"
	}
}

const (
	DefaultLineWidth    = 8.0
	DefaultDrawingColor = "red"
)

// Canvas is the render target. Implementations need not be safe for
// concurrent use; the surface only calls them while holding its lock.
type Canvas interface {
	Clear()
	Stroke(g board.Geometry, color string, width float64)
	StrokeSegment(from, to board.Point, color string, width float64)
}

// ColorPicker runs the external color selection interaction. PickColor blocks
// until the interaction is finished and calls onChange for every color the
// user picks along the way.
type ColorPicker interface {
	PickColor(current string, onChange func(color string))
}

// Observer receives the surface's edit events. Each call carries a copy of the
// affected path and is made without the surface lock held.
type Observer interface {
	PathDrawn(p *board.Path)
	PathChanged(p *board.Path)
	PathDeleted(p *board.Path)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Drawn   func(p *board.Path)
	Changed func(p *board.Path)
	Deleted func(p *board.Path)
}

func (f ObserverFuncs) PathDrawn(p *board.Path) {
	if f.Drawn != nil {
		f.Drawn(p)
	}
}

func (f ObserverFuncs) PathChanged(p *board.Path) {
	if f.Changed != nil {
		f.Changed(p)
	}
}

func (f ObserverFuncs) PathDeleted(p *board.Path) {
	if f.Deleted != nil {
		f.Deleted(p)
	}
}

type Options struct {
	// ReadOnly surfaces display paths but ignore all pointer input.
	ReadOnly     bool
	LineWidth    float64
	DrawingColor string
	Picker       ColorPicker
	Logger       *slog.Logger
}

type eventKind int

const (
	eventDrawn eventKind = iota
	eventChanged
	eventDeleted
)

type event struct {
	kind eventKind
	path *board.Path
}

type observerEntry struct {
	Observer
}

type Surface struct {
	canvas    Canvas
	readOnly  bool
	lineWidth float64
	picker    ColorPicker
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	color     string
	paths     *collection
	drafts    *collection
	current   *board.Path
	observers []*observerEntry
}

func New(canvas Canvas, opts Options) *Surface {
	if opts.LineWidth <= 0 {
		opts.LineWidth = DefaultLineWidth
	}
	if opts.DrawingColor == "" {
		opts.DrawingColor = DefaultDrawingColor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Surface{
		canvas:    canvas,
		readOnly:  opts.ReadOnly,
		lineWidth: opts.LineWidth,
		picker:    opts.Picker,
		logger:    opts.Logger,
		color:     opts.DrawingColor,
		paths:     newCollection(),
		drafts:    newCollection(),
	}
	s.canvas.Clear()
	return s
}

// Observe registers o and returns a function that removes it again.
func (s *Surface) Observe(o Observer) func() {
	entry := &observerEntry{Observer: o}
	s.mu.Lock()
	s.observers = append(s.observers, entry)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.observers {
			if e == entry {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// unlockAndDispatch releases the lock and then delivers events in order.
func (s *Surface) unlockAndDispatch(events ...event) {
	type delivery struct {
		to   Observer
		kind eventKind
		path *board.Path
	}
	deliveries := make([]delivery, 0, len(events)*len(s.observers))
	for _, ev := range events {
		for _, o := range s.observers {
			deliveries = append(deliveries, delivery{to: o.Observer, kind: ev.kind, path: ev.path.Clone()})
		}
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		switch d.kind {
		case eventDrawn:
			d.to.PathDrawn(d.path)
		case eventChanged:
			d.to.PathChanged(d.path)
		case eventDeleted:
			d.to.PathDeleted(d.path)
		}
	}
}

func (s *Surface) hitTest(x, y float64) *board.Path {
	tolerance := s.lineWidth / 2
	match := func(p *board.Path) bool {
		return p.ContainsPoint(x, y, tolerance)
	}
	if p := s.drafts.topmost(match); p != nil {
		return p
	}
	return s.paths.topmost(match)
}

func (s *Surface) PointerDown(x, y float64, button Button) {
	if !inRange(x, y) {
		s.logger.Debug("ignoring pointer outside coordinate range", "x", x, "y", y)
		return
	}
	s.mu.Lock()
	if s.readOnly || s.state != StateIdle {
		s.mu.Unlock()
		return
	}

	hit := s.hitTest(x, y)
	if hit == nil {
		if button != ButtonPrimary {
			s.mu.Unlock()
			return
		}
		s.current = board.NewPath(s.color)
		s.current.MoveTo(x, y)
		s.state = StateDrawing
		origin := board.Point{X: x, Y: y}
		s.canvas.StrokeSegment(origin, origin, s.current.Color, s.lineWidth)
		s.mu.Unlock()
		return
	}

	switch button {
	case ButtonPrimary:
		if s.picker == nil {
			s.logger.Debug("no color picker configured, ignoring recolor", "path", hit.ID)
			s.mu.Unlock()
			return
		}
		s.state = StateRecoloring
		id, current := hit.ID, hit.Color
		s.mu.Unlock()

		s.picker.PickColor(current, func(color string) {
			s.recolor(id, color)
		})

		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	case ButtonSecondary:
		// drafts only leave through confirmation, so only confirmed paths can be deleted
		if !s.paths.remove(hit.ID) {
			s.mu.Unlock()
			return
		}
		s.render()
		s.unlockAndDispatch(event{kind: eventDeleted, path: hit})
	default:
		s.mu.Unlock()
	}
}

func inRange(x, y float64) bool {
	return polyline.InRange(x) && polyline.InRange(y)
}

func (s *Surface) recolor(id, color string) {
	s.mu.Lock()
	p, ok := s.paths.get(id)
	if !ok {
		p, ok = s.drafts.get(id)
	}
	if !ok {
		s.logger.Debug("recolored path is gone", "path", id)
		s.mu.Unlock()
		return
	}
	p.Color = color
	s.render()
	s.unlockAndDispatch(event{kind: eventChanged, path: p})
}

func (s *Surface) PointerMove(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDrawing {
		return
	}
	if !inRange(x, y) {
		s.logger.Debug("ignoring pointer outside coordinate range", "x", x, "y", y)
		return
	}
	from, _ := s.current.Last()
	s.current.LineTo(x, y)
	s.canvas.StrokeSegment(from, board.Point{X: x, Y: y}, s.current.Color, s.lineWidth)
}

// PointerUp commits the in-progress stroke as a draft. A stroke made of the
// origin alone is committed as a dot.
func (s *Surface) PointerUp() {
	s.mu.Lock()
	if s.state != StateDrawing {
		s.mu.Unlock()
		return
	}
	p := s.current
	s.current = nil
	s.state = StateIdle
	s.drafts.put(p)
	s.unlockAndDispatch(event{kind: eventDrawn, path: p})
}

// PointerCancel discards the in-progress stroke without emitting anything.
func (s *Surface) PointerCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDrawing {
		return
	}
	s.current = nil
	s.state = StateIdle
	s.render()
}

// SetPaths replaces the confirmed collection with paths, in the given z-order,
// and drops every draft whose id is now confirmed.
func (s *Surface) SetPaths(paths []*board.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := newCollection()
	for _, p := range paths {
		if p == nil {
			continue
		}
		next.put(p)
		s.drafts.remove(p.ID)
	}
	s.paths = next
	s.render()
}

// Clear empties both collections and the canvas. No events are emitted.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = newCollection()
	s.drafts = newCollection()
	s.render()
}

func (s *Surface) SetDrawingColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = color
}

func (s *Surface) DrawingColor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Paths returns copies of the confirmed paths, bottom to top.
func (s *Surface) Paths() []*board.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths.clones()
}

// Drafts returns copies of the committed but unconfirmed paths.
func (s *Surface) Drafts() []*board.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts.clones()
}

// Visible returns copies of everything a full render paints, in paint order.
func (s *Surface) Visible() []*board.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append(s.paths.clones(), s.drafts.clones()...)
	if s.current != nil {
		out = append(out, s.current.Clone())
	}
	return out
}

// Render repaints the whole canvas from the current state.
func (s *Surface) Render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.render()
}

func (s *Surface) render() {
	s.canvas.Clear()
	stroke := func(p *board.Path) {
		s.canvas.Stroke(p.Geometry(), p.Color, s.lineWidth)
	}
	s.paths.each(stroke)
	s.drafts.each(stroke)
	if s.current != nil {
		stroke(s.current)
	}
}
