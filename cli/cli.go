// Package cli provides the command-line interface for markit.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"os"
)

// Version is the markit release.
var Version = "0.1.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "view":
		return runView(cmdArgs)
	case "mark":
		return runMark(cmdArgs)
	case "ls":
		return runLs(cmdArgs)
	case "rm", "activate", "open":
		return runMarkerCommand(command, cmdArgs)
	case "clear":
		return runClear(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		// Check if it's a flag (starts with -)
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Println(`markit: a tree of code markers

Usage: markit [command] [options]

Host Commands:
  serve           Start the marker host (default)

View Commands:
  view            Render the marker tree as SVG

Marker Commands:
  mark FILE [RANGE] [CONTENT]
                  Drop a marker; RANGE is LINE[:COL][-LINE[:COL]], one-based
  ls              Print the marker tree, active marker starred
  rm ID           Remove a marker and its subtree
  activate ID     Activate a marker and open it in the editor
  open ID         Open a marker in the editor
  clear           Remove every marker

Host Options:
  -host           Listen address (default: 127.0.0.1)
  -port           Listen port (default: 7317)
  -storage        Storage type: memory, file, sqlite, postgresql
  -storage-path   Storage directory or SQLite database path
  -storage-url    PostgreSQL connection URL
  -lua-path       Lua hook script defining label(marker) and open(marker)
  -editor         Open command, e.g. "code -g {file}:{line}:{col}"
  -mcp            Also serve MCP tools on stdio
  -config         TOML configuration file (default: config/config.toml)
  -v              Verbosity (-v, -vv, -vvv, -vvvv)

Client Options:
  -url            Host URL (default: http://127.0.0.1:7317)

View Options:
  -o FILE         Write the SVG to FILE instead of stdout
  -watch          Keep running and rewrite FILE after every change

Examples:
  markit serve -storage sqlite -storage-path markers.db
  markit mark main.go 12:3-14 "func main()"
  markit view -watch -o tree.svg`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Printf("markit v%s\n", Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
