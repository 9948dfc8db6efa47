package marker

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Tree is an arena of markers keyed by id. The arena owns every marker's
// lifetime; parent and child links are id lookups into it.
type Tree struct {
	markers  map[string]*Marker
	order    []string // creation order
	rootID   string
	activeID string
	newID    func() string
}

// Removal describes the outcome of a successful Remove.
type Removal struct {
	Removed      []string // removed ids, subtree root first (pre-order)
	FormerParent string   // parent of the removed subtree root, empty for the root
	ActiveMoved  bool     // the active marker was inside the removed subtree
}

// NewTree creates an empty tree that assigns random UUIDs to new markers.
func NewTree() *Tree {
	return &Tree{
		markers: make(map[string]*Marker),
		newID:   uuid.NewString,
	}
}

// SetIDGenerator replaces the id generator used by Add.
func (t *Tree) SetIDGenerator(fn func() string) {
	t.newID = fn
}

// Len returns the number of markers in the tree.
func (t *Tree) Len() int {
	return len(t.markers)
}

// Find looks a marker up by id.
func (t *Tree) Find(id string) (*Marker, bool) {
	m, ok := t.markers[id]
	return m, ok
}

// Root returns the root marker, or nil when the tree has none.
func (t *Tree) Root() *Marker {
	return t.markers[t.rootID]
}

// Active returns the active marker, or nil.
func (t *Tree) Active() *Marker {
	return t.markers[t.activeID]
}

// ActiveID returns the id of the active marker, or "".
func (t *Tree) ActiveID() string {
	return t.activeID
}

// Markers returns the markers in creation order. The returned markers are
// owned by the tree and must not be modified.
func (t *Tree) Markers() []*Marker {
	result := make([]*Marker, 0, len(t.order))
	for _, id := range t.order {
		result = append(result, t.markers[id])
	}
	return result
}

// Children returns the direct children of id in insertion order.
func (t *Tree) Children(id string) []*Marker {
	m, ok := t.markers[id]
	if !ok {
		return nil
	}
	children := make([]*Marker, 0, len(m.ChildIDs))
	for _, c := range m.ChildIDs {
		if child, ok := t.markers[c]; ok {
			children = append(children, child)
		}
	}
	return children
}

// Descendants returns id and every marker below it, pre-order.
func (t *Tree) Descendants(id string) []string {
	if _, ok := t.markers[id]; !ok {
		return nil
	}
	var result []string
	var walk func(string)
	walk = func(cur string) {
		result = append(result, cur)
		for _, c := range t.markers[cur].ChildIDs {
			if _, ok := t.markers[c]; ok {
				walk(c)
			}
		}
	}
	walk(id)
	return result
}

// Add creates a marker. The first marker becomes the root; every later marker
// is appended under the active marker, or under the most recently created
// marker when nothing is active. The new marker becomes active.
func (t *Tree) Add(fileName string, rng Range, content string) *Marker {
	m := &Marker{
		ID:       t.newID(),
		Content:  content,
		FileName: fileName,
		Range:    rng,
	}
	if parent := t.insertionParent(); parent != nil {
		m.ParentID = parent.ID
		parent.ChildIDs = append(parent.ChildIDs, m.ID)
	} else {
		m.IsRoot = true
		t.rootID = m.ID
	}
	t.markers[m.ID] = m
	t.order = append(t.order, m.ID)
	t.activeID = m.ID
	return m
}

func (t *Tree) insertionParent() *Marker {
	if len(t.markers) == 0 {
		return nil
	}
	if m, ok := t.markers[t.activeID]; ok {
		return m
	}
	return t.markers[t.order[len(t.order)-1]]
}

// Insert adds an already identified marker without linking it. The stored
// copy starts with no parent and no children; structure is rebuilt with Link.
// Returns false when the id is empty or already present, or when a second
// root is offered.
func (t *Tree) Insert(m *Marker) bool {
	if m == nil || m.ID == "" {
		return false
	}
	if _, exists := t.markers[m.ID]; exists {
		return false
	}
	if m.IsRoot && t.rootID != "" {
		return false
	}
	cp := m.Clone()
	cp.ParentID = ""
	cp.ChildIDs = nil
	t.markers[cp.ID] = cp
	t.order = append(t.order, cp.ID)
	if cp.IsRoot {
		t.rootID = cp.ID
	}
	return true
}

// Link makes childID a child of parentID. The child must be unparented, must
// not be the root and must not be an ancestor of the parent.
func (t *Tree) Link(parentID, childID string) bool {
	parent, ok := t.markers[parentID]
	if !ok {
		return false
	}
	child, ok := t.markers[childID]
	if !ok || child.IsRoot || child.HasParent() {
		return false
	}
	for cur := parent; cur != nil; cur = t.markers[cur.ParentID] {
		if cur.ID == childID {
			return false
		}
		if !cur.HasParent() {
			break
		}
	}
	child.ParentID = parentID
	parent.ChildIDs = append(parent.ChildIDs, childID)
	return true
}

// Unlink detaches childID from parentID on both sides.
func (t *Tree) Unlink(parentID, childID string) bool {
	child, ok := t.markers[childID]
	if !ok || child.ParentID != parentID {
		return false
	}
	if parent, ok := t.markers[parentID]; ok {
		parent.removeChild(childID)
	}
	child.ParentID = ""
	return true
}

// Remove deletes id and its whole subtree. When the active marker is removed
// the former parent of the subtree becomes active (nothing when the root was
// removed).
func (t *Tree) Remove(id string) (Removal, bool) {
	m, ok := t.markers[id]
	if !ok {
		return Removal{}, false
	}
	result := Removal{FormerParent: m.ParentID}
	if m.HasParent() {
		t.Unlink(m.ParentID, id)
	}
	result.Removed = t.Descendants(id)

	gone := make(map[string]struct{}, len(result.Removed))
	for _, rid := range result.Removed {
		gone[rid] = struct{}{}
		if rid == t.activeID {
			result.ActiveMoved = true
		}
		if rid == t.rootID {
			t.rootID = ""
		}
		delete(t.markers, rid)
	}
	order := t.order[:0]
	for _, oid := range t.order {
		if _, removed := gone[oid]; !removed {
			order = append(order, oid)
		}
	}
	t.order = order

	if result.ActiveMoved {
		t.activeID = ""
		if _, ok := t.markers[result.FormerParent]; ok {
			t.activeID = result.FormerParent
		}
	}
	return result, true
}

// Activate makes id the active marker. Activating the active marker again is
// allowed and reported as success.
func (t *Tree) Activate(id string) bool {
	if _, ok := t.markers[id]; !ok {
		return false
	}
	t.activeID = id
	return true
}

// Clear removes every marker.
func (t *Tree) Clear() {
	t.markers = make(map[string]*Marker)
	t.order = nil
	t.rootID = ""
	t.activeID = ""
}

// Check verifies the structural invariants: a single root, consistent
// bidirectional links, every marker reachable from the root, and an active
// reference that resolves.
func (t *Tree) Check() error {
	var errs []error
	roots := 0
	for _, id := range t.order {
		m, ok := t.markers[id]
		if !ok {
			errs = append(errs, fmt.Errorf("order references missing marker %s", id))
			continue
		}
		if m.IsRoot {
			roots++
			if m.HasParent() {
				errs = append(errs, fmt.Errorf("root %s has parent %s", id, m.ParentID))
			}
		} else if !m.HasParent() {
			errs = append(errs, fmt.Errorf("marker %s has no parent", id))
		}
		if m.HasParent() {
			parent, ok := t.markers[m.ParentID]
			if !ok {
				errs = append(errs, fmt.Errorf("marker %s references missing parent %s", id, m.ParentID))
			} else if !parent.hasChild(id) {
				errs = append(errs, fmt.Errorf("parent %s does not list child %s", m.ParentID, id))
			}
		}
		for _, c := range m.ChildIDs {
			child, ok := t.markers[c]
			if !ok {
				errs = append(errs, fmt.Errorf("marker %s references missing child %s", id, c))
			} else if child.ParentID != id {
				errs = append(errs, fmt.Errorf("child %s of %s has parent %q", c, id, child.ParentID))
			}
		}
	}
	if len(t.order) != len(t.markers) {
		errs = append(errs, fmt.Errorf("order has %d entries for %d markers", len(t.order), len(t.markers)))
	}
	if roots > 1 {
		errs = append(errs, fmt.Errorf("%d roots", roots))
	}
	if len(t.markers) > 0 {
		if roots == 0 || t.Root() == nil {
			errs = append(errs, errors.New("non-empty tree without root"))
		} else if reachable := len(t.Descendants(t.rootID)); reachable != len(t.markers) {
			errs = append(errs, fmt.Errorf("%d of %d markers reachable from root", reachable, len(t.markers)))
		}
	}
	if t.activeID != "" {
		if _, ok := t.markers[t.activeID]; !ok {
			errs = append(errs, fmt.Errorf("active marker %s not in tree", t.activeID))
		}
	}
	return errors.Join(errs...)
}
