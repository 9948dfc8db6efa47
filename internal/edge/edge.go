// Package edge routes the connectors drawn between a parent marker and each
// of its children.
package edge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zot/markit/internal/layout"
)

const (
	// DefaultCurveOffset is the vertical distance of the cubic control points
	// from their anchors.
	DefaultCurveOffset = 24
	// DefaultArrowSize is the half-width and depth of the arrowhead chevron.
	DefaultArrowSize = 5
)

// Path is the routed geometry of one connector.
type Path struct {
	Start    layout.Point
	End      layout.Point
	Straight bool
	Control1 layout.Point // unused when Straight
	Control2 layout.Point // unused when Straight
	Arrow    [3]layout.Point
}

// Route connects the bottom centre of from to the top centre of to. Anchors
// sharing an x coordinate get a straight line, anything else an S-curve.
func Route(from, to layout.Box, curve, arrow float64) Path {
	p := Path{
		Start: from.BottomCenter(),
		End:   to.TopCenter(),
	}
	if p.Start.X == p.End.X {
		p.Straight = true
	} else {
		p.Control1 = layout.Point{X: p.Start.X, Y: p.Start.Y + curve}
		p.Control2 = layout.Point{X: p.End.X, Y: p.End.Y - curve}
	}
	p.Arrow = [3]layout.Point{
		{X: p.End.X - arrow, Y: p.End.Y - arrow},
		p.End,
		{X: p.End.X + arrow, Y: p.End.Y - arrow},
	}
	return p
}

// D returns the SVG path data for the connector body.
func (p Path) D() string {
	if p.Straight {
		return fmt.Sprintf("M %s %s L %s %s", num(p.Start.X), num(p.Start.Y), num(p.End.X), num(p.End.Y))
	}
	return fmt.Sprintf("M %s %s C %s %s, %s %s, %s %s",
		num(p.Start.X), num(p.Start.Y),
		num(p.Control1.X), num(p.Control1.Y),
		num(p.Control2.X), num(p.Control2.Y),
		num(p.End.X), num(p.End.Y))
}

// ArrowD returns the SVG path data for the arrowhead chevron.
func (p Path) ArrowD() string {
	parts := make([]string, 0, 3)
	for i, pt := range p.Arrow {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", cmd, num(pt.X), num(pt.Y)))
	}
	return strings.Join(parts, " ")
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Connector is the visual link between a parent and one child.
type Connector struct {
	Parent string
	Child  string
	Path   Path
}

type key struct {
	parent string
	child  string
}

// Set holds one connector per structural link.
type Set struct {
	connectors map[key]*Connector
	curve      float64
	arrow      float64
}

// NewSet creates an empty connector set.
func NewSet(curve, arrow float64) *Set {
	return &Set{
		connectors: make(map[key]*Connector),
		curve:      curve,
		arrow:      arrow,
	}
}

// Link adds the connector for parent→child if it does not exist yet.
func (s *Set) Link(parent, child string) *Connector {
	k := key{parent, child}
	if c, ok := s.connectors[k]; ok {
		return c
	}
	c := &Connector{Parent: parent, Child: child}
	s.connectors[k] = c
	return c
}

// Unlink removes the connector for parent→child.
func (s *Set) Unlink(parent, child string) bool {
	k := key{parent, child}
	if _, ok := s.connectors[k]; !ok {
		return false
	}
	delete(s.connectors, k)
	return true
}

// Get returns the connector for parent→child.
func (s *Set) Get(parent, child string) (*Connector, bool) {
	c, ok := s.connectors[key{parent, child}]
	return c, ok
}

// Clear removes every connector.
func (s *Set) Clear() {
	s.connectors = make(map[key]*Connector)
}

// Len returns the number of connectors.
func (s *Set) Len() int {
	return len(s.connectors)
}

// Update reroutes every connector whose endpoints both have a box.
func (s *Set) Update(boxes map[string]layout.Box) {
	for _, c := range s.connectors {
		from, ok1 := boxes[c.Parent]
		to, ok2 := boxes[c.Child]
		if ok1 && ok2 {
			c.Path = Route(from, to, s.curve, s.arrow)
		}
	}
}

// All returns the connectors ordered by parent then child id.
func (s *Set) All() []*Connector {
	result := make([]*Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Parent != result[j].Parent {
			return result[i].Parent < result[j].Parent
		}
		return result[i].Child < result[j].Child
	})
	return result
}
