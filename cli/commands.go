package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	markitclient "github.com/zot/markit/lib/go"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/lua"
	"github.com/zot/markit/internal/marker"
	"github.com/zot/markit/internal/server"
	"github.com/zot/markit/internal/view"
)

func runServe(args []string) int {
	cfg, _, err := config.Load("serve", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	server.Version = Version
	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		close(stopped)
	}()

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	if cfg.MCP.Enabled {
		// stdin closed: the assistant went away
		sigChan <- syscall.SIGTERM
	}
	<-stopped
	return 0
}

func runView(args []string) int {
	var out string
	var watch bool
	cfg, _, err := config.Load("view", args, func(fs *flag.FlagSet) {
		fs.StringVar(&out, "o", "", "Write the SVG to this file")
		fs.BoolVar(&watch, "watch", false, "Rewrite the file after every change")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if watch && out == "" {
		fmt.Fprintln(os.Stderr, "Error: -watch requires -o")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := markitclient.Dial(ctx, cfg.Server.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := view.OptionsFromConfig(cfg)
	var hotLoader *lua.HotLoader
	var viewer *markitclient.Viewer
	if cfg.Lua.Enabled {
		runtime, err := lua.NewRuntime(cfg, cfg.Lua.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer runtime.Shutdown()
		opts.Labeler = runtime
		if watch {
			hotLoader, err = lua.NewHotLoader(cfg, runtime, func() {
				// Labels changed: ask for the snapshot again.
				if viewer == nil {
					return
				}
				if err := viewer.Refresh(); err != nil {
					cfg.Log(0, "Refresh failed: %v", err)
				}
			})
			if err == nil && hotLoader.Start() == nil {
				defer hotLoader.Stop()
			}
		}
	}

	viewer = markitclient.NewViewer(cfg, conn, opts)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var writeErr error
	err = viewer.Run(runCtx, func(c *view.Canvas) {
		var buf bytes.Buffer
		if writeErr = c.RenderSVG(&buf); writeErr == nil {
			writeErr = writeOutput(out, buf.Bytes())
		}
		if writeErr != nil || !watch {
			cancel()
		}
	})
	if writeErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", writeErr)
		return 1
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func runMark(args []string) int {
	cfg, rest, err := config.Load("mark", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(rest) < 1 || len(rest) > 3 {
		fmt.Fprintln(os.Stderr, "Usage: markit mark FILE [RANGE] [CONTENT|-]")
		return 1
	}

	fileName := rest[0]
	var rng marker.Range
	if len(rest) > 1 {
		if rng, err = ParseRange(rest[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	var content string
	if len(rest) > 2 {
		content = rest[2]
		if content == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			content = string(data)
		}
	}

	m, err := markitclient.NewClient(cfg.Server.URL).Mark(fileName, rng, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(m.ID)
	return 0
}

func runLs(args []string) int {
	cfg, _, err := config.Load("ls", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	snap, err := markitclient.NewClient(cfg.Server.URL).Markers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	PrintTree(os.Stdout, snap)
	return 0
}

func runMarkerCommand(command string, args []string) int {
	cfg, rest, err := config.Load(command, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(rest) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: markit %s ID\n", command)
		return 1
	}

	client := markitclient.NewClient(cfg.Server.URL)
	switch command {
	case "rm":
		err = client.Remove(rest[0])
	case "activate":
		err = client.Activate(rest[0])
	case "open":
		err = client.Open(rest[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runClear(args []string) int {
	cfg, _, err := config.Load("clear", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := markitclient.NewClient(cfg.Server.URL).Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// ParseRange parses LINE[:COL][-LINE[:COL]] with one-based numbers into a
// zero-based range. A missing end equals the start.
func ParseRange(s string) (marker.Range, error) {
	startText, endText, hasEnd := strings.Cut(s, "-")
	start, err := parsePosition(startText)
	if err != nil {
		return marker.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	end := start
	if hasEnd {
		if end, err = parsePosition(endText); err != nil {
			return marker.Range{}, fmt.Errorf("range %q: %w", s, err)
		}
	}
	if end.Line < start.Line || (end.Line == start.Line && end.Character < start.Character) {
		return marker.Range{}, fmt.Errorf("range %q ends before it starts", s)
	}
	return marker.Range{Start: start, End: end}, nil
}

func parsePosition(s string) (marker.Position, error) {
	lineText, colText, hasCol := strings.Cut(s, ":")
	line, err := strconv.Atoi(lineText)
	if err != nil || line < 1 {
		return marker.Position{}, fmt.Errorf("bad line %q", lineText)
	}
	col := 1
	if hasCol {
		if col, err = strconv.Atoi(colText); err != nil || col < 1 {
			return marker.Position{}, fmt.Errorf("bad column %q", colText)
		}
	}
	return marker.Position{Line: line - 1, Character: col - 1}, nil
}

// PrintTree writes the snapshot as an indented tree. The active marker is
// starred; markers not reachable from the root are omitted.
func PrintTree(w io.Writer, snap marker.Snapshot) {
	tree, _ := marker.Reconcile(snap, marker.LatestMarker)
	root := tree.Root()
	if root == nil {
		fmt.Fprintln(w, "(no markers)")
		return
	}
	var walk func(m *marker.Marker, depth int)
	walk = func(m *marker.Marker, depth int) {
		star := " "
		if m.ID == tree.ActiveID() {
			star = "*"
		}
		content := strings.Join(strings.Fields(m.Content), " ")
		if len(content) > 60 {
			content = content[:57] + "..."
		}
		fmt.Fprintf(w, "%s %s%s  %s:%d  %s\n", star, strings.Repeat("  ", depth), m.ID,
			m.FileName, m.Range.Start.Line+1, content)
		for _, child := range tree.Children(m.ID) {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
}
