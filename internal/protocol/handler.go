package protocol

import (
	"fmt"

	"github.com/zot/markit/internal/marker"
)

// StoreHandler receives the messages a view sends to the store.
type StoreHandler interface {
	HandleInit()
	HandleOpenDocument(m *marker.Marker)
	HandleRemoveMarker(id string)
	HandleActivateMarker(id string)
}

// ViewHandler receives the messages the store sends to a view.
type ViewHandler interface {
	HandleSnapshot(snap marker.Snapshot)
	HandleAddMarker(m *marker.Marker)
	HandleRemoveMarker(id string)
	HandleActivateMarker(id string)
}

// DirectionError reports a message delivered to the wrong side.
type DirectionError struct {
	Action Action
	To     string
}

func (e *DirectionError) Error() string {
	return fmt.Sprintf("%s is not a %s message", e.Action, e.To)
}

// DispatchToStore routes a view message to h.
func DispatchToStore(msg Message, h StoreHandler) error {
	switch m := msg.(type) {
	case RequestInit:
		h.HandleInit()
	case RequestOpenDocument:
		h.HandleOpenDocument(m.Marker)
	case RequestRemoveMarker:
		h.HandleRemoveMarker(m.ID)
	case RequestActivateMarker:
		h.HandleActivateMarker(m.ID)
	case Init, AddMarker, RemoveMarker, ActivateMarker:
		return &DirectionError{Action: msg.Action(), To: "store"}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, msg)
	}
	return nil
}

// DispatchToView routes a store message to h.
func DispatchToView(msg Message, h ViewHandler) error {
	switch m := msg.(type) {
	case Init:
		h.HandleSnapshot(m.Snapshot)
	case AddMarker:
		h.HandleAddMarker(m.Marker)
	case RemoveMarker:
		h.HandleRemoveMarker(m.ID)
	case ActivateMarker:
		h.HandleActivateMarker(m.ID)
	case RequestInit, RequestOpenDocument, RequestRemoveMarker, RequestActivateMarker:
		return &DirectionError{Action: msg.Action(), To: "view"}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, msg)
	}
	return nil
}
