package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/lua"
	"github.com/zot/markit/internal/mcp"
	"github.com/zot/markit/internal/navigate"
	"github.com/zot/markit/internal/protocol"
	"github.com/zot/markit/internal/storage"
	"github.com/zot/markit/internal/store"
	"github.com/zot/markit/internal/svc"
	"github.com/zot/markit/internal/view"
)

// Version is reported by the MCP server.
var Version = "dev"

// Server is the marker host. Every store access runs on queue.
type Server struct {
	config       *config.Config
	kv           storage.KV
	store        *store.Store
	queue        *svc.Queue
	markers      *Markers
	wsEndpoint   *WebSocketEndpoint
	httpEndpoint *HTTPEndpoint
	httpServer   *http.Server
	canvas       *view.Canvas
	luaRuntime   *lua.Runtime
	hotLoader    *lua.HotLoader
	stopWatch    func() error
	mcpServer    *mcp.Server
}

// New creates a server using the storage named in cfg.
func New(cfg *config.Config) (*Server, error) {
	kv, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s, err := NewWithStorage(cfg, kv)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStorage creates a server on an already opened backend. The server
// closes kv on Shutdown.
func NewWithStorage(cfg *config.Config, kv storage.KV) (*Server, error) {
	s := &Server{
		config: cfg,
		kv:     kv,
		queue:  svc.New(),
	}

	nav := navigate.FromConfig(cfg)
	opts := view.OptionsFromConfig(cfg)
	if cfg.Lua.Enabled {
		if err := s.setupLua(cfg); err != nil {
			s.queue.Close()
			return nil, err
		}
		opts.Labeler = s.luaRuntime
		if s.luaRuntime.Has("open") {
			nav = navigate.Chain{s.luaRuntime, nav}
		}
	}

	st, err := store.New(cfg, kv, nav)
	if err != nil {
		s.shutdownLua()
		s.queue.Close()
		return nil, err
	}
	s.store = st
	st.SetEmitter(s)

	s.markers = &Markers{queue: s.queue, store: st}
	s.wsEndpoint = NewWebSocketEndpoint(cfg, s.queue, s)
	s.httpEndpoint = NewHTTPEndpoint(s.markers, s.wsEndpoint, s.renderCanvas)

	// The snapshot canvas never receives clicks; intents would go straight to
	// the store.
	s.canvas = view.New(cfg, nil, view.SenderFunc(st.HandleMessage), opts)

	if w, ok := kv.(storage.Watcher); ok {
		stop, err := w.Watch(s.onStorageChange)
		if err != nil {
			cfg.Log(0, "Warning: cannot watch storage: %v", err)
		} else {
			s.stopWatch = stop
		}
	}

	if cfg.MCP.Enabled {
		s.mcpServer = mcp.NewServer(cfg, s.markers, Version)
		cfg.Log(0, "MCP server initialized")
	}
	return s, nil
}

// setupLua loads the hook script and starts hot reloading.
func (s *Server) setupLua(cfg *config.Config) error {
	runtime, err := lua.NewRuntime(cfg, cfg.Lua.Path)
	if err != nil {
		return fmt.Errorf("load lua hooks: %w", err)
	}
	s.luaRuntime = runtime

	hl, err := lua.NewHotLoader(cfg, runtime, func() {
		cfg.Log(0, "Reloaded %s", runtime.Path())
	})
	if err != nil {
		cfg.Log(0, "Warning: failed to create Lua hot-loader: %v", err)
		return nil
	}
	if err := hl.Start(); err != nil {
		cfg.Log(0, "Warning: failed to start Lua hot-loader: %v", err)
		hl.Stop()
		return nil
	}
	s.hotLoader = hl
	return nil
}

func (s *Server) shutdownLua() {
	if s.hotLoader != nil {
		s.hotLoader.Stop()
		s.hotLoader = nil
	}
	if s.luaRuntime != nil {
		s.luaRuntime.Shutdown()
	}
}

// onStorageChange reloads the store after another process edited the slot.
func (s *Server) onStorageChange(key string) {
	if key != s.store.Key() {
		return
	}
	s.queue.Post(func() {
		s.config.Log(1, "Storage changed externally, reloading %s", key)
		if err := s.store.Reload(); err != nil {
			s.config.Log(0, "Reload failed: %v", err)
		}
	})
}

// Emit broadcasts a store message to every initialized view.
func (s *Server) Emit(msg protocol.Message) {
	if err := s.wsEndpoint.Broadcast(msg); err != nil {
		s.config.Log(0, "Broadcast %s failed: %v", msg.Action(), err)
	}
}

// HandleViewMessage handles a frame from a view. An init request answers that
// view alone with the full snapshot and makes the store visible.
func (s *Server) HandleViewMessage(connectionID string, msg protocol.Message) {
	if _, ok := msg.(protocol.RequestInit); ok {
		s.wsEndpoint.MarkInitialized(connectionID)
		if err := s.wsEndpoint.Send(connectionID, s.store.Init()); err != nil {
			s.config.Log(0, "Send init to %s failed: %v", connectionID, err)
		}
		return
	}
	if err := s.store.HandleMessage(msg); err != nil {
		s.config.Log(0, "Message %s from %s: %v", msg.Action(), connectionID, err)
	}
}

// HandleDisconnect hides the store once no initialized view remains.
func (s *Server) HandleDisconnect(connectionID string) {
	if s.wsEndpoint.InitializedCount() == 0 && s.store.Visible() {
		s.config.Log(1, "Last view gone, suppressing deltas")
		s.store.SetVisible(false)
	}
}

// renderCanvas lays out the current snapshot and writes it as SVG.
func (s *Server) renderCanvas(w io.Writer) error {
	_, err := svc.Call(s.queue, func() (struct{}, error) {
		if err := s.canvas.Apply(protocol.Init{Snapshot: s.store.Snapshot()}); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.canvas.RenderSVG(w)
	})
	return err
}

// Start serves MCP on stdio when enabled, otherwise HTTP on the configured
// port. The HTTP listener is started in both cases.
func (s *Server) Start() error {
	url, err := s.StartHTTP(s.config.Server.Port)
	if err != nil {
		return err
	}
	s.config.Log(0, "Serving markers at %s", url)
	if s.mcpServer != nil {
		if err := s.mcpServer.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %v", err)
		}
	}
	return nil
}

// StartHTTP starts the HTTP server on the specified port and returns the
// base URL. Port 0 picks a free port.
func (s *Server) StartHTTP(port int) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpEndpoint,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if port == 0 {
		addr = listener.Addr().String()
		_, portStr, _ := net.SplitHostPort(addr)
		s.config.Server.Port, _ = strconv.Atoi(portStr)
	}

	go func() {
		s.config.Log(0, "HTTP server listening on %s", addr)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.config.Log(0, "HTTP server error: %v", err)
		}
	}()

	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.config.Server.Port), nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wsEndpoint.CloseAll()
	if s.stopWatch != nil {
		s.stopWatch()
	}
	s.queue.Close()
	s.shutdownLua()
	if cerr := s.kv.Close(); err == nil {
		err = cerr
	}
	return err
}

// Handler returns the HTTP handler serving /ws, /api and /canvas.svg.
func (s *Server) Handler() http.Handler {
	return s.httpEndpoint
}

// Markers returns the serialized store operations.
func (s *Server) Markers() *Markers {
	return s.markers
}

// Views returns the WebSocket endpoint.
func (s *Server) Views() *WebSocketEndpoint {
	return s.wsEndpoint
}

// Visible reports whether deltas are currently emitted.
func (s *Server) Visible() bool {
	v, _ := svc.Call(s.queue, func() (bool, error) {
		return s.store.Visible(), nil
	})
	return v
}
