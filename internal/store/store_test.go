package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/navigate"
	"github.com/zot/markit/internal/protocol"
	"github.com/zot/markit/internal/storage"
)

type recorder struct {
	messages []protocol.Message
}

func (r *recorder) Emit(msg protocol.Message) {
	r.messages = append(r.messages, msg)
}

func (r *recorder) take() []protocol.Message {
	msgs := r.messages
	r.messages = nil
	return msgs
}

type opened struct {
	file string
	rng  marker.Range
}

func rng(l1, c1, l2, c2 int) marker.Range {
	return marker.Range{Start: marker.Position{Line: l1, Character: c1}, End: marker.Position{Line: l2, Character: c2}}
}

func newTestStore(t *testing.T, kv storage.KV) (*Store, *recorder, *[]opened) {
	t.Helper()
	var opens []opened
	nav := navigate.Func(func(file string, r marker.Range) error {
		opens = append(opens, opened{file, r})
		return nil
	})
	s, err := New(config.DefaultConfig(), kv, nav)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n := 0
	s.SetIDGenerator(func() string {
		n++
		return fmt.Sprintf("m%d", n)
	})
	rec := &recorder{}
	s.SetEmitter(rec)
	return s, rec, &opens
}

func persisted(t *testing.T, kv storage.KV) marker.Snapshot {
	t.Helper()
	data, ok, err := kv.Get(DefaultKey)
	if err != nil || !ok {
		t.Fatalf("Expected persisted snapshot, ok=%v err=%v", ok, err)
	}
	var snap marker.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Persisted snapshot is not JSON: %v", err)
	}
	return snap
}

func TestInitTransitionsToReady(t *testing.T) {
	s, rec, _ := newTestStore(t, storage.NewMemoryStorage())
	if s.State() != Uninitialized {
		t.Fatalf("Expected uninitialized, got %s", s.State())
	}

	// Deltas before the first init are not emitted.
	s.Mark("a.ts", rng(0, 0, 0, 5), "foo")
	if len(rec.messages) != 0 {
		t.Fatalf("Expected no emission before init, got %d", len(rec.messages))
	}

	if err := s.HandleMessage(protocol.RequestInit{}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if s.State() != Ready || !s.Visible() {
		t.Error("Expected ready and visible after init")
	}
	msgs := rec.take()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	snap, ok := msgs[0].(protocol.Init)
	if !ok {
		t.Fatalf("Expected Init, got %T", msgs[0])
	}
	if len(snap.Snapshot.Markers) != 1 || snap.Snapshot.Active() != "m1" {
		t.Errorf("Unexpected snapshot %+v", snap.Snapshot)
	}
}

func TestMarkEmitsOneDeltaAndPersists(t *testing.T) {
	kv := storage.NewMemoryStorage()
	s, rec, _ := newTestStore(t, kv)
	s.Init()

	a, err := s.Mark("a.ts", rng(0, 0, 0, 5), "foo")
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if !a.IsRoot || a.HasParent() {
		t.Error("First marker should be the root")
	}
	b, _ := s.Mark("b.ts", rng(1, 0, 1, 3), "bar")
	if b.ParentID != a.ID {
		t.Errorf("Expected parent %s, got %s", a.ID, b.ParentID)
	}

	msgs := rec.take()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 deltas, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if _, ok := msg.(protocol.AddMarker); !ok {
			t.Errorf("Message %d: expected AddMarker, got %T", i, msg)
		}
	}

	snap := persisted(t, kv)
	if len(snap.Markers) != 2 || snap.Active() != b.ID {
		t.Errorf("Unexpected persisted snapshot %+v", snap)
	}
	if len(snap.Markers[0].ChildIDs) != 1 || snap.Markers[0].ChildIDs[0] != b.ID {
		t.Errorf("Root childIds not persisted: %v", snap.Markers[0].ChildIDs)
	}
}

func TestRemoveCascadeAndFallback(t *testing.T) {
	kv := storage.NewMemoryStorage()
	s, rec, _ := newTestStore(t, kv)
	s.Init()

	a, _ := s.Mark("a.go", rng(0, 0, 0, 1), "A")
	b, _ := s.Mark("b.go", rng(1, 0, 1, 1), "B")
	s.Mark("c.go", rng(2, 0, 2, 1), "C")
	rec.take()

	ok, err := s.Remove(b.ID)
	if !ok || err != nil {
		t.Fatalf("Remove failed: ok=%v err=%v", ok, err)
	}
	msgs := rec.take()
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly one delta, got %d", len(msgs))
	}
	if rm, ok := msgs[0].(protocol.RemoveMarker); !ok || rm.ID != b.ID {
		t.Errorf("Expected RemoveMarker %s, got %#v", b.ID, msgs[0])
	}
	if s.Tree().ActiveID() != a.ID {
		t.Errorf("Expected active %s, got %s", a.ID, s.Tree().ActiveID())
	}
	snap := persisted(t, kv)
	if len(snap.Markers) != 1 || snap.Active() != a.ID {
		t.Errorf("Unexpected persisted snapshot %+v", snap)
	}

	s.Remove(a.ID)
	snap = persisted(t, kv)
	if len(snap.Markers) != 0 || snap.ActiveMarkerID != nil {
		t.Errorf("Expected empty snapshot with null active, got %+v", snap)
	}
}

func TestUnknownIDsIgnored(t *testing.T) {
	s, rec, opens := newTestStore(t, storage.NewMemoryStorage())
	s.Init()
	s.Mark("a.go", rng(0, 0, 0, 1), "A")
	rec.take()

	s.HandleMessage(protocol.RequestRemoveMarker{ID: "ghost"})
	s.HandleMessage(protocol.RequestActivateMarker{ID: "ghost"})
	if len(rec.messages) != 0 {
		t.Errorf("Expected no deltas, got %d", len(rec.messages))
	}
	if len(*opens) != 0 {
		t.Errorf("Expected no navigation, got %v", *opens)
	}
	if s.Tree().Len() != 1 {
		t.Error("Tree should be unchanged")
	}
}

func TestActivateNavigatesEveryTime(t *testing.T) {
	s, rec, opens := newTestStore(t, storage.NewMemoryStorage())
	s.Init()
	a, _ := s.Mark("a.go", rng(3, 1, 3, 4), "A")
	rec.take()

	for i := 0; i < 2; i++ {
		if err := s.HandleMessage(protocol.RequestActivateMarker{ID: a.ID}); err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
	}
	if len(rec.take()) != 2 {
		t.Error("Re-activation should emit a delta each time")
	}
	if len(*opens) != 2 || (*opens)[0].file != "a.go" || (*opens)[0].rng != rng(3, 1, 3, 4) {
		t.Errorf("Expected two navigations to a.go, got %v", *opens)
	}
}

func TestOpenDocumentOnlyNavigates(t *testing.T) {
	kv := storage.NewMemoryStorage()
	s, rec, opens := newTestStore(t, kv)
	s.Init()
	a, _ := s.Mark("a.go", rng(0, 0, 0, 1), "A")
	b, _ := s.Mark("b.go", rng(1, 0, 1, 1), "B")
	rec.take()

	s.HandleMessage(protocol.RequestOpenDocument{Marker: a})
	if len(*opens) != 1 || (*opens)[0].file != "a.go" {
		t.Errorf("Expected navigation to a.go, got %v", *opens)
	}
	if len(rec.messages) != 0 {
		t.Error("Open document should not emit")
	}
	if s.Tree().ActiveID() != b.ID {
		t.Error("Open document should not change the active marker")
	}
}

func TestInvisibleSuppressesEmissionButPersists(t *testing.T) {
	kv := storage.NewMemoryStorage()
	s, rec, _ := newTestStore(t, kv)
	s.Init()
	s.SetVisible(false)

	s.Mark("a.go", rng(0, 0, 0, 1), "A")
	s.Mark("b.go", rng(1, 0, 1, 1), "B")
	if len(rec.messages) != 0 {
		t.Fatalf("Expected suppression, got %d messages", len(rec.messages))
	}
	if len(persisted(t, kv).Markers) != 2 {
		t.Error("Persistence must continue while invisible")
	}

	s.HandleInit()
	msgs := rec.take()
	if len(msgs) != 1 {
		t.Fatalf("Expected a single init, got %d", len(msgs))
	}
	if full := msgs[0].(protocol.Init); len(full.Snapshot.Markers) != 2 {
		t.Errorf("Init should coalesce both markers, got %d", len(full.Snapshot.Markers))
	}
}

func TestLoadFallsBackToLatest(t *testing.T) {
	kv := storage.NewMemoryStorage()
	kv.Set(DefaultKey, []byte(`{
		"markers": [
			{"id": "a", "content": "A", "fileName": "a.go", "range": {"start": {"line": 0, "character": 0}, "end": {"line": 0, "character": 1}}, "isRoot": true, "childIds": ["b", "c"]},
			{"id": "b", "content": "B", "fileName": "b.go", "range": {"start": {"line": 1, "character": 0}, "end": {"line": 1, "character": 1}}, "parentId": "a"},
			{"id": "c", "content": "C", "fileName": "c.go", "range": {"start": {"line": 2, "character": 0}, "end": {"line": 2, "character": 1}}, "parentId": "a"}
		],
		"activeMarkerId": "edited-away"
	}`))

	s, _, _ := newTestStore(t, kv)
	if s.Tree().ActiveID() != "c" {
		t.Errorf("Expected fallback to c, got %q", s.Tree().ActiveID())
	}
	if err := s.Tree().Check(); err != nil {
		t.Errorf("Loaded tree violates invariants: %v", err)
	}

	// New markers go under the fallback.
	m, _ := s.Mark("d.go", rng(3, 0, 3, 1), "D")
	if m.ParentID != "c" {
		t.Errorf("Expected parent c, got %s", m.ParentID)
	}
}

func TestLoadMalformedStartsEmpty(t *testing.T) {
	kv := storage.NewMemoryStorage()
	kv.Set(DefaultKey, []byte(`not json`))
	s, _, _ := newTestStore(t, kv)
	if s.Tree().Len() != 0 {
		t.Errorf("Expected empty tree, got %d", s.Tree().Len())
	}
}

func TestReloadAndClear(t *testing.T) {
	kv := storage.NewMemoryStorage()
	s, rec, _ := newTestStore(t, kv)
	s.Init()
	s.Mark("a.go", rng(0, 0, 0, 1), "A")
	rec.take()

	kv.Set(DefaultKey, []byte(`{"markers":[{"id":"x","content":"X","fileName":"x.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}},"isRoot":true}],"activeMarkerId":null}`))
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	msgs := rec.take()
	if len(msgs) != 1 {
		t.Fatalf("Expected one init after reload, got %d", len(msgs))
	}
	if full := msgs[0].(protocol.Init); full.Snapshot.Active() != "x" {
		t.Errorf("Expected active x after reload, got %q", full.Snapshot.Active())
	}

	// Ids keep coming from the injected generator after a reload.
	m, _ := s.Mark("y.go", rng(0, 0, 0, 0), "Y")
	if m.ID != "m2" {
		t.Errorf("Expected m2, got %s", m.ID)
	}
	rec.take()

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if s.Tree().Len() != 0 || len(persisted(t, kv).Markers) != 0 {
		t.Error("Clear should empty the tree and the slot")
	}
	if _, ok := rec.take()[0].(protocol.Init); !ok {
		t.Error("Clear should resynchronize with an init")
	}
}

func TestOpenUnknown(t *testing.T) {
	s, _, _ := newTestStore(t, storage.NewMemoryStorage())
	if err := s.Open("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWrongDirectionRejected(t *testing.T) {
	s, _, _ := newTestStore(t, storage.NewMemoryStorage())
	var dirErr *protocol.DirectionError
	if err := s.HandleMessage(protocol.AddMarker{Marker: &marker.Marker{ID: "x"}}); !errors.As(err, &dirErr) {
		t.Errorf("Expected DirectionError, got %v", err)
	}
}

type failingKV struct{ storage.KV }

func (failingKV) Set(string, []byte) error { return errors.New("disk full") }

func TestPersistFailureStillCommits(t *testing.T) {
	s, rec, _ := newTestStore(t, failingKV{storage.NewMemoryStorage()})
	s.Init()
	m, err := s.Mark("a.go", rng(0, 0, 0, 1), "A")
	if err == nil {
		t.Error("Expected persistence error")
	}
	if _, ok := s.Tree().Find(m.ID); !ok {
		t.Error("Marker should be committed")
	}
	if len(rec.messages) != 1 {
		t.Error("Delta should still be emitted")
	}
}
