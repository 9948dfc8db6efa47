// Package marker implements the marker entity and the marker tree shared by
// the authoritative store and the view mirror.
package marker

import "fmt"

// Position is a zero-based line/character position within a file.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a (start, end) pair of positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// String formats the range as line:col-line:col.
func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
}

// Marker is a bookmarked text range plus its place in the tree.
// Parent and child fields are identifiers, never owning references.
type Marker struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	FileName string   `json:"fileName"`
	Range    Range    `json:"range"`
	IsRoot   bool     `json:"isRoot,omitempty"`
	ParentID string   `json:"parentId,omitempty"`
	ChildIDs []string `json:"childIds,omitempty"`
}

// HasParent reports whether the marker references a parent.
func (m *Marker) HasParent() bool {
	return m.ParentID != ""
}

// Clone returns a deep copy of the marker.
func (m *Marker) Clone() *Marker {
	cp := *m
	if m.ChildIDs != nil {
		cp.ChildIDs = append([]string(nil), m.ChildIDs...)
	}
	return &cp
}

func (m *Marker) hasChild(id string) bool {
	for _, c := range m.ChildIDs {
		if c == id {
			return true
		}
	}
	return false
}

func (m *Marker) removeChild(id string) bool {
	for i, c := range m.ChildIDs {
		if c == id {
			m.ChildIDs = append(m.ChildIDs[:i], m.ChildIDs[i+1:]...)
			if len(m.ChildIDs) == 0 {
				m.ChildIDs = nil
			}
			return true
		}
	}
	return false
}
