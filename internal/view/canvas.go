// Package view keeps a mirror of the store's marker tree, lays it out and
// turns user gestures into intents for the store. The mirror is changed only
// by messages from the store.
package view

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/edge"
	"github.com/zot/markit/internal/layout"
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/protocol"
)

// ErrUnknownMarker is returned by intents naming a marker the mirror lacks.
var ErrUnknownMarker = errors.New("marker not in view")

// State is the view side of the synchronization state machine.
type State int

const (
	Empty State = iota
	Populated
)

func (s State) String() string {
	if s == Populated {
		return "populated"
	}
	return "empty"
}

// Sender delivers intents to the store.
type Sender interface {
	Send(msg protocol.Message) error
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(msg protocol.Message) error

// Send calls f.
func (f SenderFunc) Send(msg protocol.Message) error {
	return f(msg)
}

// Labeler produces the text shown in a node.
type Labeler interface {
	Label(m *marker.Marker) string
}

// LabelerFunc adapts a function to a Labeler.
type LabelerFunc func(m *marker.Marker) string

// Label calls f.
func (f LabelerFunc) Label(m *marker.Marker) string {
	return f(m)
}

// ContentLabel labels a node with the marker's captured text.
var ContentLabel = LabelerFunc(func(m *marker.Marker) string {
	return m.Content
})

// Node is the render handle of one marker.
type Node struct {
	ID     string
	Label  string
	File   string
	Size   layout.Size
	Box    layout.Box
	Active bool
}

// Options configure geometry and labels.
type Options struct {
	Size    layout.Size
	Gap     float64
	Curve   float64
	Arrow   float64
	Labeler Labeler
}

// OptionsFromConfig reads the layout section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Size:  layout.Size{Width: cfg.Layout.NodeWidth, Height: cfg.Layout.NodeHeight},
		Gap:   cfg.Layout.Gap,
		Curve: cfg.Layout.CurveOffset,
		Arrow: cfg.Layout.ArrowSize,
	}
}

// Canvas is not safe for concurrent use; callers serialize access.
type Canvas struct {
	cfg    *config.Config
	opts   Options
	tree   *marker.Tree
	nodes  map[string]*Node
	edges  *edge.Set
	events *Dispatcher
	send   Sender
	result layout.Result
	offset layout.Point
	state  State
}

// New creates an empty canvas publishing on events and sending intents
// through send.
func New(cfg *config.Config, events *Dispatcher, send Sender, opts Options) *Canvas {
	if opts.Size.Width == 0 || opts.Size.Height == 0 {
		opts.Size = layout.DefaultSize
	}
	if opts.Gap == 0 {
		opts.Gap = layout.DefaultGap
	}
	if opts.Curve == 0 {
		opts.Curve = edge.DefaultCurveOffset
	}
	if opts.Arrow == 0 {
		opts.Arrow = edge.DefaultArrowSize
	}
	if opts.Labeler == nil {
		opts.Labeler = ContentLabel
	}
	if events == nil {
		events = NewDispatcher()
	}
	c := &Canvas{
		cfg:    cfg,
		opts:   opts,
		tree:   marker.NewTree(),
		nodes:  make(map[string]*Node),
		edges:  edge.NewSet(opts.Curve, opts.Arrow),
		events: events,
		send:   send,
	}
	events.Subscribe(c.handleIntent, EventClick, EventOpenClick, EventRemoveClick)
	return c
}

// Events returns the canvas's dispatcher.
func (c *Canvas) Events() *Dispatcher {
	return c.events
}

// State returns the synchronization state.
func (c *Canvas) State() State {
	return c.state
}

// Tree exposes the mirror for read-only use.
func (c *Canvas) Tree() *marker.Tree {
	return c.tree
}

// Node returns the render handle for id.
func (c *Canvas) Node(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns the handles in creation order.
func (c *Canvas) Nodes() []*Node {
	result := make([]*Node, 0, len(c.nodes))
	for _, m := range c.tree.Markers() {
		if n, ok := c.nodes[m.ID]; ok {
			result = append(result, n)
		}
	}
	return result
}

// Connectors returns the connector set.
func (c *Canvas) Connectors() *edge.Set {
	return c.edges
}

// Size returns the laid-out canvas size.
func (c *Canvas) Size() (width, height float64) {
	return c.result.Width, c.result.Height
}

// Start requests the initial snapshot.
func (c *Canvas) Start() error {
	return c.sendIntent(protocol.RequestInit{})
}

// Apply handles a message from the store.
func (c *Canvas) Apply(msg protocol.Message) error {
	c.cfg.Log(2, "view: apply %s", msg.Action())
	return protocol.DispatchToView(msg, c)
}

// HandleSnapshot rebuilds the mirror from a snapshot, pruning markers that
// do not hang off the root.
func (c *Canvas) HandleSnapshot(snap marker.Snapshot) {
	tree, pruned := marker.Reconcile(snap, marker.LatestMarker)
	if len(pruned) > 0 {
		c.cfg.Log(1, "view: pruned %d markers: %v", len(pruned), pruned)
	}
	c.tree = tree
	c.nodes = make(map[string]*Node, tree.Len())
	c.edges.Clear()
	for _, m := range tree.Markers() {
		c.addNode(m)
		if m.HasParent() {
			c.edges.Link(m.ParentID, m.ID)
		}
	}
	c.syncActive()
	c.state = Empty
	if tree.Root() != nil {
		c.state = Populated
	}
	c.events.Publish(Event{Kind: EventReset})
	c.relayout()
}

// HandleAddMarker inserts a committed marker and makes it active.
func (c *Canvas) HandleAddMarker(m *marker.Marker) {
	if m == nil {
		return
	}
	if m.HasParent() {
		if _, ok := c.tree.Find(m.ParentID); !ok {
			c.cfg.Log(1, "view: dropping %s, parent %s not in view", m.ID, m.ParentID)
			return
		}
	} else if !m.IsRoot {
		c.cfg.Log(1, "view: dropping %s, neither root nor parented", m.ID)
		return
	}
	if !c.tree.Insert(m) {
		c.cfg.Log(1, "view: dropping duplicate %s", m.ID)
		return
	}
	if m.HasParent() {
		c.tree.Link(m.ParentID, m.ID)
		c.edges.Link(m.ParentID, m.ID)
	}
	added, _ := c.tree.Find(m.ID)
	c.addNode(added)
	c.tree.Activate(m.ID)
	c.syncActive()
	c.state = Populated
	c.events.Publish(Event{Kind: EventAdded, ID: m.ID})
	c.events.Publish(Event{Kind: EventActivated, ID: m.ID})
	c.relayout()
}

// HandleRemoveMarker removes a marker, its subtree and their connectors.
func (c *Canvas) HandleRemoveMarker(id string) {
	if _, ok := c.tree.Find(id); !ok {
		return
	}
	for _, rid := range c.tree.Descendants(id) {
		if m, ok := c.tree.Find(rid); ok && m.HasParent() {
			c.edges.Unlink(m.ParentID, rid)
		}
	}
	removal, _ := c.tree.Remove(id)
	for _, rid := range removal.Removed {
		delete(c.nodes, rid)
	}
	if c.tree.Len() == 0 {
		c.state = Empty
	}
	c.events.Publish(Event{Kind: EventRemoved, ID: id, Removed: removal.Removed})
	if removal.ActiveMoved {
		c.syncActive()
		c.events.Publish(Event{Kind: EventActivated, ID: c.tree.ActiveID()})
	}
	c.relayout()
}

// HandleActivateMarker moves the active flag. Positions do not change.
func (c *Canvas) HandleActivateMarker(id string) {
	if !c.tree.Activate(id) {
		return
	}
	c.syncActive()
	c.events.Publish(Event{Kind: EventActivated, ID: id})
}

// Click is the gesture on a node: the store activates the marker and opens
// its document.
func (c *Canvas) Click(id string) error {
	return c.raise(EventClick, id)
}

// ClickOpen opens the marker's document without changing the active marker.
func (c *Canvas) ClickOpen(id string) error {
	return c.raise(EventOpenClick, id)
}

// ClickRemove is the gesture on a node's remove control.
func (c *Canvas) ClickRemove(id string) error {
	return c.raise(EventRemoveClick, id)
}

func (c *Canvas) raise(kind EventKind, id string) error {
	if _, ok := c.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarker, id)
	}
	c.events.Publish(Event{Kind: kind, ID: id})
	return nil
}

// MoveTo pans the canvas to an absolute offset.
func (c *Canvas) MoveTo(x, y float64) {
	c.offset = layout.Point{X: x, Y: y}
}

// MoveBy pans the canvas relative to the current offset.
func (c *Canvas) MoveBy(dx, dy float64) {
	c.offset.X += dx
	c.offset.Y += dy
}

// Offset returns the pan offset.
func (c *Canvas) Offset() layout.Point {
	return c.offset
}

func (c *Canvas) handleIntent(e Event) {
	m, ok := c.tree.Find(e.ID)
	if !ok {
		return
	}
	var err error
	switch e.Kind {
	case EventClick:
		err = c.sendIntent(protocol.RequestActivateMarker{ID: e.ID})
	case EventOpenClick:
		err = c.sendIntent(protocol.RequestOpenDocument{Marker: m.Clone()})
	case EventRemoveClick:
		err = c.sendIntent(protocol.RequestRemoveMarker{ID: e.ID})
	}
	if err != nil {
		c.cfg.Log(0, "view: %s %s: %v", e.Kind, e.ID, err)
	}
}

func (c *Canvas) sendIntent(msg protocol.Message) error {
	if c.send == nil {
		return errors.New("view has no sender")
	}
	c.cfg.Log(2, "view: send %s", msg.Action())
	return c.send.Send(msg)
}

func (c *Canvas) addNode(m *marker.Marker) {
	c.nodes[m.ID] = &Node{
		ID:    m.ID,
		Label: c.opts.Labeler.Label(m),
		File:  filepath.Base(m.FileName),
		Size:  c.opts.Size,
	}
}

func (c *Canvas) syncActive() {
	active := c.tree.ActiveID()
	for id, n := range c.nodes {
		n.Active = id == active
	}
}

// layoutTree adapts the mirror to layout.Tree.
type layoutTree struct {
	c *Canvas
}

func (t layoutTree) Children(id string) []string {
	m, ok := t.c.tree.Find(id)
	if !ok {
		return nil
	}
	return m.ChildIDs
}

func (t layoutTree) Size(id string) layout.Size {
	if n, ok := t.c.nodes[id]; ok {
		return n.Size
	}
	return t.c.opts.Size
}

// relayout recomputes every position and reroutes every connector.
func (c *Canvas) relayout() {
	root := ""
	if r := c.tree.Root(); r != nil {
		root = r.ID
	}
	c.result = layout.Compute(root, layoutTree{c}, c.opts.Gap)
	for id, n := range c.nodes {
		n.Box = c.result.Boxes[id]
	}
	c.edges.Update(c.result.Boxes)
	c.cfg.Log(3, "view: relayout %d nodes, %gx%g", len(c.result.Boxes), c.result.Width, c.result.Height)
	c.events.Publish(Event{Kind: EventRelayout})
}
