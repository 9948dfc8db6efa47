package markitclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zot/markit/internal/marker"
)

// ErrNotFound is returned when the host does not know a marker id.
var ErrNotFound = errors.New("marker not found")

// Client calls the host's HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for the host at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e apiError
		json.NewDecoder(resp.Body).Decode(&e)
		if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/api/") {
			return fmt.Errorf("%w: %s", ErrNotFound, e.Error)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Mark captures a new marker.
func (c *Client) Mark(fileName string, rng marker.Range, content string) (*marker.Marker, error) {
	var m marker.Marker
	err := c.do(http.MethodPost, "/api/mark", map[string]any{
		"fileName": fileName,
		"range":    rng,
		"content":  content,
	}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Markers returns the current snapshot.
func (c *Client) Markers() (marker.Snapshot, error) {
	var snap marker.Snapshot
	err := c.do(http.MethodGet, "/api/markers", nil, &snap)
	return snap, err
}

// Remove deletes a marker and its subtree.
func (c *Client) Remove(id string) error {
	return c.do(http.MethodPost, "/api/remove", map[string]string{"id": id}, nil)
}

// Activate activates a marker and opens it in the editor.
func (c *Client) Activate(id string) error {
	return c.do(http.MethodPost, "/api/activate", map[string]string{"id": id}, nil)
}

// Open opens a marker in the editor without activating it.
func (c *Client) Open(id string) error {
	return c.do(http.MethodPost, "/api/open", map[string]string{"id": id}, nil)
}

// Clear removes every marker.
func (c *Client) Clear() error {
	return c.do(http.MethodPost, "/api/clear", nil, nil)
}

// Canvas returns the host-rendered SVG of the tree.
func (c *Client) Canvas() ([]byte, error) {
	resp, err := c.HTTP.Get(c.BaseURL + "/canvas.svg")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("canvas: %d %s", resp.StatusCode, strings.TrimSpace(buf.String()))
	}
	return buf.Bytes(), nil
}
