package marker

// Snapshot is the full persisted and transmitted state of a tree.
type Snapshot struct {
	Markers        []*Marker `json:"markers"`
	ActiveMarkerID *string   `json:"activeMarkerId"`
}

// Active returns the active id, or "" when none is recorded.
func (s Snapshot) Active() string {
	if s.ActiveMarkerID == nil {
		return ""
	}
	return *s.ActiveMarkerID
}

// NewSnapshot builds a snapshot holding copies of markers.
func NewSnapshot(markers []*Marker, activeID string) Snapshot {
	snap := Snapshot{Markers: make([]*Marker, 0, len(markers))}
	for _, m := range markers {
		snap.Markers = append(snap.Markers, m.Clone())
	}
	if activeID != "" {
		snap.ActiveMarkerID = &activeID
	}
	return snap
}

// Snapshot returns a deep copy of the tree's state in creation order.
func (t *Tree) Snapshot() Snapshot {
	return NewSnapshot(t.Markers(), t.activeID)
}

// Reconcile builds a tree from possibly inconsistent snapshot data. Only
// markers reachable from the root through links confirmed on both sides
// survive; everything else is pruned. Returns the tree and the pruned ids.
// The active marker falls back to fallback(survivors) when the recorded one
// did not survive.
func Reconcile(snap Snapshot, fallback func(*Tree) string) (*Tree, []string) {
	tree := NewTree()
	index := make(map[string]*Marker, len(snap.Markers))
	var root *Marker
	for _, m := range snap.Markers {
		if m == nil || m.ID == "" {
			continue
		}
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = m
		if m.IsRoot && !m.HasParent() && root == nil {
			root = m
		}
	}

	var pruned []string
	if root == nil {
		for _, m := range snap.Markers {
			if m != nil && m.ID != "" {
				pruned = append(pruned, m.ID)
			}
		}
		return tree, pruned
	}

	// Walk from the root: a child is accepted when both sides agree on the link.
	tree.Insert(root)
	var walk func(parent *Marker)
	walk = func(parent *Marker) {
		for _, cid := range parent.ChildIDs {
			child, ok := index[cid]
			if !ok || child.IsRoot || child.ParentID != parent.ID {
				continue
			}
			if _, seen := tree.Find(cid); seen {
				continue
			}
			tree.Insert(child)
			tree.Link(parent.ID, cid)
			walk(child)
		}
	}
	walk(root)

	// Restore creation order from the snapshot.
	order := make([]string, 0, tree.Len())
	seen := make(map[string]struct{}, tree.Len())
	for _, m := range snap.Markers {
		if m == nil || m.ID == "" {
			continue
		}
		if _, ok := tree.markers[m.ID]; !ok {
			pruned = append(pruned, m.ID)
			continue
		}
		if _, dup := seen[m.ID]; !dup {
			seen[m.ID] = struct{}{}
			order = append(order, m.ID)
		}
	}
	tree.order = order

	if !tree.Activate(snap.Active()) && fallback != nil {
		tree.Activate(fallback(tree))
	}
	return tree, pruned
}

// LatestMarker returns the id of the most recently created marker, or "".
func LatestMarker(t *Tree) string {
	if len(t.order) == 0 {
		return ""
	}
	return t.order[len(t.order)-1]
}
