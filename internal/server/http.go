package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/store"
)

// MarkRequest is the body of POST /api/mark.
type MarkRequest struct {
	FileName string       `json:"fileName"`
	Range    marker.Range `json:"range"`
	Content  string       `json:"content"`
}

// IDRequest is the body of POST /api/remove, /api/activate and /api/open.
type IDRequest struct {
	ID string `json:"id"`
}

// Result is the body returned by operations on an id.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HTTPEndpoint handles HTTP requests.
type HTTPEndpoint struct {
	markers    *Markers
	wsEndpoint *WebSocketEndpoint
	render     func(w io.Writer) error
	mux        *http.ServeMux
}

// NewHTTPEndpoint creates a new HTTP endpoint.
func NewHTTPEndpoint(markers *Markers, wsEndpoint *WebSocketEndpoint, render func(w io.Writer) error) *HTTPEndpoint {
	h := &HTTPEndpoint{
		markers:    markers,
		wsEndpoint: wsEndpoint,
		render:     render,
		mux:        http.NewServeMux(),
	}
	h.setupRoutes()
	return h
}

// setupRoutes configures HTTP routes.
func (h *HTTPEndpoint) setupRoutes() {
	h.mux.HandleFunc("/ws", h.handleWebSocket)
	h.mux.HandleFunc("/api/", h.handleAPI)
	h.mux.HandleFunc("/canvas.svg", h.handleCanvas)
}

// ServeHTTP implements http.Handler.
func (h *HTTPEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleWebSocket handles WebSocket upgrade requests.
func (h *HTTPEndpoint) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsEndpoint.HandleWebSocket(w, r)
}

// handleCanvas renders the current tree as SVG.
func (h *HTTPEndpoint) handleCanvas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var buf bytes.Buffer
	if err := h.render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(buf.Bytes())
}

// handleAPI handles REST API requests.
func (h *HTTPEndpoint) handleAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Extract endpoint: /api/mark, /api/markers, etc.
	endpoint := strings.TrimPrefix(r.URL.Path, "/api/")

	if endpoint == "markers" {
		if r.Method != http.MethodGet {
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, err := h.markers.Snapshot()
		if err != nil {
			h.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(snap)
		return
	}

	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch endpoint {
	case "mark":
		var req MarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.FileName == "" {
			h.writeError(w, "fileName is required", http.StatusBadRequest)
			return
		}
		m, err := h.markers.Mark(req.FileName, req.Range, req.Content)
		if err != nil {
			h.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(m)
	case "clear":
		if err := h.markers.Clear(); err != nil {
			h.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Result{OK: true})
	case "remove", "activate", "open":
		var req IDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			h.writeError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		var ok bool
		var err error
		switch endpoint {
		case "remove":
			ok, err = h.markers.Remove(req.ID)
		case "activate":
			ok, err = h.markers.Activate(req.ID)
		case "open":
			err = h.markers.Open(req.ID)
			ok = err == nil
		}
		if errors.Is(err, store.ErrNotFound) || (!ok && err == nil) {
			h.writeError(w, "marker not found: "+req.ID, http.StatusNotFound)
			return
		}
		if err != nil {
			h.writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Result{OK: true})
	default:
		h.writeError(w, "Unknown endpoint", http.StatusNotFound)
	}
}

// writeError writes an error response.
func (h *HTTPEndpoint) writeError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Result{Error: message})
}
