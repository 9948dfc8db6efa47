// Package layout computes absolute node positions for a marker tree from its
// shape and the intrinsic size of every node.
//
// Layout runs in two passes from the root. The first pass (post-order)
// measures every subtree: a leaf is as wide as itself, an inner node's
// subtree is as wide as its children's spans laid side by side with a gap
// between them, where a child's span is the larger of its own width and its
// subtree width. The second pass (pre-order) centres each node over the slot
// it was given and hands its children consecutive slots from left to right.
// The whole tree is recomputed on every call.
package layout

// DefaultGap is the spacing between siblings and between generations.
const DefaultGap = 20

// DefaultSize is the intrinsic size of a marker box.
var DefaultSize = Size{Width: 120, Height: 46}

// Size is a node's intrinsic footprint.
type Size struct {
	Width  float64
	Height float64
}

// Point is an absolute canvas coordinate.
type Point struct {
	X float64
	Y float64
}

// Box is the computed geometry of one node. X is the horizontal centre and Y
// the top edge.
type Box struct {
	X             float64
	Y             float64
	Width         float64
	Height        float64
	SubtreeWidth  float64
	SubtreeHeight float64
}

// Left returns the left edge of the node itself.
func (b Box) Left() float64 { return b.X - b.Width/2 }

// Right returns the right edge of the node itself.
func (b Box) Right() float64 { return b.X + b.Width/2 }

// Bottom returns the bottom edge of the node itself.
func (b Box) Bottom() float64 { return b.Y + b.Height }

// Span returns the horizontal room the node's subtree occupies.
func (b Box) Span() float64 { return max(b.Width, b.SubtreeWidth) }

// BottomCenter is the anchor where outgoing connectors start.
func (b Box) BottomCenter() Point { return Point{X: b.X, Y: b.Bottom()} }

// TopCenter is the anchor where incoming connectors end.
func (b Box) TopCenter() Point { return Point{X: b.X, Y: b.Y} }

// Tree is the read-only view of a tree the engine needs.
type Tree interface {
	Children(id string) []string
	Size(id string) Size
}

// Result holds every node's box and the overall canvas size.
type Result struct {
	Boxes  map[string]Box
	Width  float64
	Height float64
}

// Compute lays out the tree below root. An empty root yields an empty result.
func Compute(root string, tree Tree, gap float64) Result {
	result := Result{Boxes: make(map[string]Box)}
	if root == "" {
		return result
	}
	measure(root, tree, gap, result.Boxes)
	rootBox := result.Boxes[root]
	place(root, rootBox.Span()/2, 0, tree, gap, result.Boxes)
	result.Width = rootBox.Span()
	result.Height = rootBox.SubtreeHeight
	return result
}

func measure(id string, tree Tree, gap float64, boxes map[string]Box) Box {
	size := tree.Size(id)
	box := Box{
		Width:         size.Width,
		Height:        size.Height,
		SubtreeWidth:  size.Width,
		SubtreeHeight: size.Height,
	}
	children := tree.Children(id)
	if len(children) > 0 {
		width := 0.0
		tallest := 0.0
		for i, child := range children {
			cb := measure(child, tree, gap, boxes)
			if i > 0 {
				width += gap
			}
			width += cb.Span()
			tallest = max(tallest, cb.SubtreeHeight)
		}
		box.SubtreeWidth = width
		box.SubtreeHeight = size.Height + gap + tallest
	}
	boxes[id] = box
	return box
}

func place(id string, x, y float64, tree Tree, gap float64, boxes map[string]Box) {
	box := boxes[id]
	box.X = x
	box.Y = y
	boxes[id] = box

	children := tree.Children(id)
	if len(children) == 0 {
		return
	}
	cursor := x - box.SubtreeWidth/2
	childY := y + box.Height + gap
	for _, child := range children {
		span := boxes[child].Span()
		place(child, cursor+span/2, childY, tree, gap, boxes)
		cursor += span + gap
	}
}
