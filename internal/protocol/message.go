// Package protocol defines the messages exchanged between the authoritative
// store and its views. Every frame is an envelope {action, data}; each action
// has exactly one Go variant carrying a typed payload.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zot/markit/internal/marker"
)

// Action names a message kind on the wire.
type Action string

const (
	// Store -> view
	ActInit           Action = "init"
	ActAddMarker      Action = "addMarker"
	ActRemoveMarker   Action = "removeMarker"
	ActActivateMarker Action = "activateMarker"

	// View -> store (a view also sends "init", without data, to request the snapshot)
	ActRequestOpenDocument   Action = "requestOpenDocument"
	ActRequestRemoveMarker   Action = "requestRemoveMarker"
	ActRequestActivateMarker Action = "requestActivateMarker"
)

// ErrUnknownAction is returned when a frame names an action this package does not know.
var ErrUnknownAction = errors.New("unknown action")

// Envelope is the wire form of every message.
type Envelope struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Message is one of the variants below.
type Message interface {
	Action() Action
	payload() any
}

// Init carries a full snapshot to a view.
type Init struct {
	Snapshot marker.Snapshot
}

// AddMarker announces a committed marker; it becomes active.
type AddMarker struct {
	Marker *marker.Marker
}

// RemoveMarker announces the removal of a marker and its subtree.
type RemoveMarker struct {
	ID string
}

// ActivateMarker announces a new active marker.
type ActivateMarker struct {
	ID string
}

// RequestInit asks the store for a full snapshot.
type RequestInit struct{}

// RequestOpenDocument asks the host to navigate to a marker's range.
type RequestOpenDocument struct {
	Marker *marker.Marker
}

// RequestRemoveMarker asks the store to delete a marker.
type RequestRemoveMarker struct {
	ID string
}

// RequestActivateMarker asks the store to activate a marker and navigate to it.
type RequestActivateMarker struct {
	ID string
}

func (Init) Action() Action                  { return ActInit }
func (AddMarker) Action() Action             { return ActAddMarker }
func (RemoveMarker) Action() Action          { return ActRemoveMarker }
func (ActivateMarker) Action() Action        { return ActActivateMarker }
func (RequestInit) Action() Action           { return ActInit }
func (RequestOpenDocument) Action() Action   { return ActRequestOpenDocument }
func (RequestRemoveMarker) Action() Action   { return ActRequestRemoveMarker }
func (RequestActivateMarker) Action() Action { return ActRequestActivateMarker }

func (m Init) payload() any                  { return m.Snapshot }
func (m AddMarker) payload() any             { return m.Marker }
func (m RemoveMarker) payload() any          { return m.ID }
func (m ActivateMarker) payload() any        { return m.ID }
func (RequestInit) payload() any             { return nil }
func (m RequestOpenDocument) payload() any   { return m.Marker }
func (m RequestRemoveMarker) payload() any   { return m.ID }
func (m RequestActivateMarker) payload() any { return m.ID }

// Encode serializes a message into its envelope.
func Encode(msg Message) ([]byte, error) {
	env := Envelope{Action: msg.Action()}
	if p := msg.payload(); p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msg.Action(), err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses an envelope into its variant. An "init" frame without data
// is a view's snapshot request; with data it is the snapshot itself.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Message()
}

// Message converts a parsed envelope into its variant.
func (env Envelope) Message() (Message, error) {
	switch env.Action {
	case ActInit:
		if isEmpty(env.Data) {
			return RequestInit{}, nil
		}
		var snap marker.Snapshot
		if err := unmarshal(env, &snap); err != nil {
			return nil, err
		}
		return Init{Snapshot: snap}, nil
	case ActAddMarker:
		var m marker.Marker
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return AddMarker{Marker: &m}, nil
	case ActRemoveMarker:
		id, err := unmarshalID(env)
		if err != nil {
			return nil, err
		}
		return RemoveMarker{ID: id}, nil
	case ActActivateMarker:
		id, err := unmarshalID(env)
		if err != nil {
			return nil, err
		}
		return ActivateMarker{ID: id}, nil
	case ActRequestOpenDocument:
		var m marker.Marker
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return RequestOpenDocument{Marker: &m}, nil
	case ActRequestRemoveMarker:
		id, err := unmarshalID(env)
		if err != nil {
			return nil, err
		}
		return RequestRemoveMarker{ID: id}, nil
	case ActRequestActivateMarker:
		id, err := unmarshalID(env)
		if err != nil {
			return nil, err
		}
		return RequestActivateMarker{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func unmarshal(env Envelope, v any) error {
	if isEmpty(env.Data) {
		return fmt.Errorf("decode %s: missing data", env.Action)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Action, err)
	}
	return nil
}

func unmarshalID(env Envelope) (string, error) {
	var id string
	if err := unmarshal(env, &id); err != nil {
		return "", err
	}
	return id, nil
}
