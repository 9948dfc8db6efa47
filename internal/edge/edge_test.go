package edge

import (
	"testing"

	"github.com/zot/markit/internal/layout"
)

// TestRouteStraight verifies vertically aligned anchors produce a line
func TestRouteStraight(t *testing.T) {
	parent := layout.Box{X: 60, Y: 0, Width: 120, Height: 46}
	child := layout.Box{X: 60, Y: 66, Width: 120, Height: 46}

	p := Route(parent, child, DefaultCurveOffset, DefaultArrowSize)
	if !p.Straight {
		t.Fatal("expected straight connector")
	}
	if got, want := p.D(), "M 60 46 L 60 66"; got != want {
		t.Errorf("D() = %q, want %q", got, want)
	}
	if got, want := p.ArrowD(), "M 55 61 L 60 66 L 65 61"; got != want {
		t.Errorf("ArrowD() = %q, want %q", got, want)
	}
}

// TestRouteCurve verifies offset anchors produce an S-curve
func TestRouteCurve(t *testing.T) {
	parent := layout.Box{X: 130, Y: 0, Width: 120, Height: 46}
	child := layout.Box{X: 60, Y: 66, Width: 120, Height: 46}

	p := Route(parent, child, 24, 5)
	if p.Straight {
		t.Fatal("expected curved connector")
	}
	if p.Control1 != (layout.Point{X: 130, Y: 70}) || p.Control2 != (layout.Point{X: 60, Y: 42}) {
		t.Errorf("controls = %+v %+v", p.Control1, p.Control2)
	}
	if got, want := p.D(), "M 130 46 C 130 70, 60 42, 60 66"; got != want {
		t.Errorf("D() = %q, want %q", got, want)
	}
}

// TestSetLifecycle verifies connectors follow links
func TestSetLifecycle(t *testing.T) {
	s := NewSet(DefaultCurveOffset, DefaultArrowSize)
	s.Link("a", "b")
	s.Link("a", "c")
	s.Link("a", "b")
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	s.Update(map[string]layout.Box{
		"a": {X: 130, Width: 120, Height: 46},
		"b": {X: 60, Y: 66, Width: 120, Height: 46},
		"c": {X: 200, Y: 66, Width: 120, Height: 46},
	})
	c, ok := s.Get("a", "c")
	if !ok || c.Path.End != (layout.Point{X: 200, Y: 66}) {
		t.Errorf("connector a->c = %+v", c)
	}

	if !s.Unlink("a", "b") || s.Unlink("a", "b") {
		t.Error("Unlink should succeed once")
	}
	all := s.All()
	if len(all) != 1 || all[0].Child != "c" {
		t.Errorf("All = %+v", all)
	}
}
