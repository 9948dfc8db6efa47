// Package store implements the authoritative marker store. It owns the
// canonical tree, persists the full snapshot after every mutation and emits
// one delta per committed operation to the attached views.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/navigate"
	"github.com/zot/markit/internal/protocol"
	"github.com/zot/markit/internal/storage"
)

// DefaultKey is the slot holding the snapshot.
const DefaultKey = "markit:markers"

// ErrNotFound is returned by API lookups of unknown ids. Protocol intents on
// unknown ids are ignored instead.
var ErrNotFound = errors.New("marker not found")

// State is the store side of the synchronization state machine.
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Emitter receives the messages the store sends to its views.
type Emitter interface {
	Emit(msg protocol.Message)
}

// EmitterFunc adapts a function to an Emitter.
type EmitterFunc func(msg protocol.Message)

// Emit calls f.
func (f EmitterFunc) Emit(msg protocol.Message) {
	f(msg)
}

// Store is not safe for concurrent use; callers serialize access (see svc).
type Store struct {
	cfg     *config.Config
	kv      storage.KV
	key     string
	nav     navigate.Navigator
	tree    *marker.Tree
	state   State
	visible bool
	emitter Emitter
	newID   func() string
}

// New loads the persisted snapshot from kv and rebuilds the tree.
func New(cfg *config.Config, kv storage.KV, nav navigate.Navigator) (*Store, error) {
	key := cfg.Storage.Key
	if key == "" {
		key = DefaultKey
	}
	if nav == nil {
		nav = navigate.Log{Config: cfg}
	}
	s := &Store{cfg: cfg, kv: kv, key: key, nav: nav}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load replaces the tree with the persisted one. Malformed documents load as
// an empty tree.
func (s *Store) load() error {
	data, ok, err := s.kv.Get(s.key)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.key, err)
	}
	var snap marker.Snapshot
	if ok {
		if err := json.Unmarshal(data, &snap); err != nil {
			s.cfg.Log(0, "store: ignoring malformed snapshot in %s: %v", s.key, err)
			snap = marker.Snapshot{}
		}
	}
	tree, pruned := marker.Reconcile(snap, marker.LatestMarker)
	if len(pruned) > 0 {
		s.cfg.Log(1, "store: pruned %d unreachable markers: %v", len(pruned), pruned)
	}
	if s.newID != nil {
		tree.SetIDGenerator(s.newID)
	}
	s.tree = tree
	s.cfg.Log(3, "store: loaded %d markers, active %q", tree.Len(), tree.ActiveID())
	return nil
}

// SetIDGenerator replaces the marker id generator, also across reloads.
func (s *Store) SetIDGenerator(fn func() string) {
	s.newID = fn
	s.tree.SetIDGenerator(fn)
}

// SetEmitter attaches the outbound channel.
func (s *Store) SetEmitter(e Emitter) {
	s.emitter = e
}

// SetVisible records whether a view is currently showing. Deltas are not
// emitted while invisible; the next init request resynchronizes.
func (s *Store) SetVisible(visible bool) {
	s.visible = visible
}

// Visible reports the visibility flag.
func (s *Store) Visible() bool {
	return s.visible
}

// State returns the synchronization state.
func (s *Store) State() State {
	return s.state
}

// Tree exposes the canonical tree for read-only use.
func (s *Store) Tree() *marker.Tree {
	return s.tree
}

// Key returns the storage slot holding the snapshot.
func (s *Store) Key() string {
	return s.key
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() marker.Snapshot {
	return s.tree.Snapshot()
}

func (s *Store) persist() error {
	data, err := json.Marshal(s.tree.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.kv.Set(s.key, data); err != nil {
		return fmt.Errorf("persist %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) emit(msg protocol.Message) {
	if s.state != Ready || !s.visible || s.emitter == nil {
		s.cfg.Log(4, "store: suppressed %s", msg.Action())
		return
	}
	s.cfg.Log(2, "store: emit %s", msg.Action())
	s.emitter.Emit(msg)
}

// Init marks the store ready and visible and returns the full snapshot
// message for the requesting view.
func (s *Store) Init() protocol.Init {
	s.state = Ready
	s.visible = true
	return protocol.Init{Snapshot: s.tree.Snapshot()}
}

// Mark adds a marker for the captured range under the active marker. The
// marker is committed even when persistence fails; the error is returned.
func (s *Store) Mark(fileName string, rng marker.Range, content string) (*marker.Marker, error) {
	m := s.tree.Add(fileName, rng, content)
	s.cfg.Log(3, "store: added %s %s %s", m.ID, fileName, rng)
	err := s.persist()
	s.emit(protocol.AddMarker{Marker: m.Clone()})
	return m.Clone(), err
}

// Remove deletes id and its subtree. Unknown ids report false.
func (s *Store) Remove(id string) (bool, error) {
	removal, ok := s.tree.Remove(id)
	if !ok {
		s.cfg.Log(2, "store: remove of unknown marker %q ignored", id)
		return false, nil
	}
	s.cfg.Log(3, "store: removed %v, active %q", removal.Removed, s.tree.ActiveID())
	err := s.persist()
	s.emit(protocol.RemoveMarker{ID: id})
	return true, err
}

// Activate moves the active marker. Re-activating the active marker is not
// deduplicated.
func (s *Store) Activate(id string) (bool, error) {
	if !s.tree.Activate(id) {
		s.cfg.Log(2, "store: activate of unknown marker %q ignored", id)
		return false, nil
	}
	err := s.persist()
	s.emit(protocol.ActivateMarker{ID: id})
	return true, err
}

// Open navigates to a stored marker.
func (s *Store) Open(id string) error {
	m, ok := s.tree.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.nav.Open(m.FileName, m.Range)
}

// Clear removes every marker and resynchronizes views with a fresh snapshot.
func (s *Store) Clear() error {
	s.tree.Clear()
	err := s.persist()
	s.emit(protocol.Init{Snapshot: s.tree.Snapshot()})
	return err
}

// Reload re-reads the persisted snapshot, for example after a hand edit, and
// resynchronizes views.
func (s *Store) Reload() error {
	if err := s.load(); err != nil {
		return err
	}
	s.emit(protocol.Init{Snapshot: s.tree.Snapshot()})
	return nil
}

// HandleMessage applies a message received from a view.
func (s *Store) HandleMessage(msg protocol.Message) error {
	s.cfg.Log(2, "store: received %s", msg.Action())
	return protocol.DispatchToStore(msg, s)
}

// HandleInit answers a snapshot request through the emitter.
func (s *Store) HandleInit() {
	msg := s.Init()
	if s.emitter != nil {
		s.emitter.Emit(msg)
	}
}

// HandleOpenDocument navigates to the marker's range.
func (s *Store) HandleOpenDocument(m *marker.Marker) {
	if m == nil {
		return
	}
	if err := s.nav.Open(m.FileName, m.Range); err != nil {
		s.cfg.Log(0, "store: open %s: %v", m.FileName, err)
	}
}

// HandleRemoveMarker deletes a marker on request.
func (s *Store) HandleRemoveMarker(id string) {
	if _, err := s.Remove(id); err != nil {
		s.cfg.Log(0, "store: %v", err)
	}
}

// HandleActivateMarker activates a marker and navigates to it.
func (s *Store) HandleActivateMarker(id string) {
	ok, err := s.Activate(id)
	if err != nil {
		s.cfg.Log(0, "store: %v", err)
	}
	if !ok {
		return
	}
	if err := s.Open(id); err != nil {
		s.cfg.Log(0, "store: open %s: %v", id, err)
	}
}
