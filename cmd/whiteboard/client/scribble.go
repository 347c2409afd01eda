package main

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
	"github.com/astromechza/automerge-whiteboard/pkg/surface"
)

var palette = []string{"red", "blue", "green", "orange", "purple", "black", "#ff69b4", "rgba(0, 128, 128, 0.6)"}

// randomPicker stands in for a color dialog: it reports a few colors as if
// the user dragged through the palette before settling.
type randomPicker struct {
	rng *rand.Rand
}

func (p *randomPicker) PickColor(current string, onChange func(string)) {
	n := 1 + p.rng.Intn(4)
	for i := 0; i < n; i++ {
		c := palette[p.rng.Intn(len(palette))]
		if c == current {
			continue
		}
		onChange(c)
	}
}

type scribbler struct {
	surface *surface.Surface
	rng     *rand.Rand
	width   float64
	height  float64
}

func (s *scribbler) randomPoint() (float64, float64) {
	return s.rng.Float64() * s.width, s.rng.Float64() * s.height
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func (s *scribbler) draw() {
	x, y := s.randomPoint()
	s.surface.SetDrawingColor(palette[s.rng.Intn(len(palette))])
	s.surface.PointerDown(x, y, surface.ButtonPrimary)
	steps := s.rng.Intn(16)
	for i := 0; i < steps; i++ {
		x = clamp(x+s.rng.Float64()*60-30, 0, s.width)
		y = clamp(y+s.rng.Float64()*60-30, 0, s.height)
		s.surface.PointerMove(x, y)
	}
	s.surface.PointerUp()
}

// target picks a committed path and a point on it.
func (s *scribbler) target() (board.Point, bool) {
	paths := s.surface.Paths()
	if len(paths) == 0 {
		return board.Point{}, false
	}
	return paths[s.rng.Intn(len(paths))].Last()
}

func (s *scribbler) step() string {
	switch roll := s.rng.Intn(10); {
	case roll < 2:
		if pt, ok := s.target(); ok {
			s.surface.PointerDown(pt.X, pt.Y, surface.ButtonPrimary)
			if s.surface.State() == surface.StateDrawing {
				// the path went away underneath us and the click started a stroke
				s.surface.PointerCancel()
				return "missed"
			}
			return "recolor"
		}
	case roll < 3:
		if pt, ok := s.target(); ok {
			s.surface.PointerDown(pt.X, pt.Y, surface.ButtonSecondary)
			return "delete"
		}
	}
	s.draw()
	return "draw"
}

// run performs count actions, or keeps going until ctx ends when count is
// zero.
func (s *scribbler) run(ctx context.Context, count int, delay time.Duration) {
	for i := 0; count == 0 || i < count; i++ {
		action := s.step()
		slog.Debug("scribbled", "action", action, "paths", len(s.surface.Paths()))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
