// Package navigate opens a document at a marker's range.
package navigate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
)

// ErrNoCommand is returned by a Command navigator with an empty template.
var ErrNoCommand = errors.New("no editor command configured")

// Navigator opens fileName with rng selected and revealed.
type Navigator interface {
	Open(fileName string, rng marker.Range) error
}

// Func adapts a function to a Navigator.
type Func func(fileName string, rng marker.Range) error

// Open calls f.
func (f Func) Open(fileName string, rng marker.Range) error {
	return f(fileName, rng)
}

// Log only records navigation requests.
type Log struct {
	Config *config.Config
}

// Open logs the request.
func (l Log) Open(fileName string, rng marker.Range) error {
	l.Config.Log(1, "navigate: %s %s", fileName, rng)
	return nil
}

// Command runs an editor command built from a template. The placeholders
// {file}, {line}, {col}, {endLine} and {endCol} are substituted with one-based
// values.
type Command struct {
	Template string
	Timeout  time.Duration
	Config   *config.Config
}

// Args expands the template for fileName and rng.
func (c Command) Args(fileName string, rng marker.Range) []string {
	r := strings.NewReplacer(
		"{file}", fileName,
		"{line}", strconv.Itoa(rng.Start.Line+1),
		"{col}", strconv.Itoa(rng.Start.Character+1),
		"{endLine}", strconv.Itoa(rng.End.Line+1),
		"{endCol}", strconv.Itoa(rng.End.Character+1),
	)
	fields := strings.Fields(c.Template)
	args := make([]string, len(fields))
	for i, f := range fields {
		args[i] = r.Replace(f)
	}
	return args
}

// Open runs the command and waits for it to exit.
func (c Command) Open(fileName string, rng marker.Range) error {
	args := c.Args(fileName, rng)
	if len(args) == 0 {
		return ErrNoCommand
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.Config.Log(2, "navigate: %s", strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Chain tries each navigator in turn until one succeeds.
type Chain []Navigator

// Open returns nil on the first success, otherwise all errors joined.
func (c Chain) Open(fileName string, rng marker.Range) error {
	var errs []error
	for _, n := range c {
		err := n.Open(fileName, rng)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FromConfig returns the command navigator when an editor command is
// configured, otherwise a logging navigator.
func FromConfig(cfg *config.Config) Navigator {
	if cfg.Editor.Command != "" {
		return Command{Template: cfg.Editor.Command, Config: cfg}
	}
	return Log{Config: cfg}
}
