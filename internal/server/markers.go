package server

import (
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/store"
	"github.com/zot/markit/internal/svc"
)

// Markers runs store operations on the server queue so callers outside the
// protocol (HTTP, MCP) interleave safely with view messages.
type Markers struct {
	queue *svc.Queue
	store *store.Store
}

// Mark captures a new marker under the active one.
func (m *Markers) Mark(fileName string, rng marker.Range, content string) (*marker.Marker, error) {
	return svc.Call(m.queue, func() (*marker.Marker, error) {
		return m.store.Mark(fileName, rng, content)
	})
}

// Remove deletes a marker and its subtree.
func (m *Markers) Remove(id string) (bool, error) {
	return svc.Call(m.queue, func() (bool, error) {
		return m.store.Remove(id)
	})
}

// Activate activates a marker and navigates to it, like a click in a view.
func (m *Markers) Activate(id string) (bool, error) {
	return svc.Call(m.queue, func() (bool, error) {
		ok, err := m.store.Activate(id)
		if !ok || err != nil {
			return ok, err
		}
		return true, m.store.Open(id)
	})
}

// Open navigates to a marker without activating it.
func (m *Markers) Open(id string) error {
	_, err := svc.Call(m.queue, func() (struct{}, error) {
		return struct{}{}, m.store.Open(id)
	})
	return err
}

// Snapshot returns the current state.
func (m *Markers) Snapshot() (marker.Snapshot, error) {
	return svc.Call(m.queue, func() (marker.Snapshot, error) {
		return m.store.Snapshot(), nil
	})
}

// Clear removes every marker.
func (m *Markers) Clear() error {
	_, err := svc.Call(m.queue, func() (struct{}, error) {
		return struct{}{}, m.store.Clear()
	})
	return err
}
