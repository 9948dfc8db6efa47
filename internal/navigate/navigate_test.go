package navigate

import (
	"errors"
	"reflect"
	"testing"

	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
)

func TestCommandArgs(t *testing.T) {
	c := Command{Template: "code -g {file}:{line}:{col}"}
	rng := marker.Range{Start: marker.Position{Line: 9, Character: 2}, End: marker.Position{Line: 9, Character: 14}}

	got := c.Args("/src/main.go", rng)
	want := []string{"code", "-g", "/src/main.go:10:3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	c.Template = "vim +{line} {file} --end {endLine}:{endCol}"
	got = c.Args("a.go", rng)
	want = []string{"vim", "+10", "a.go", "--end", "10:15"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestCommandWithoutTemplate(t *testing.T) {
	if err := (Command{}).Open("a.go", marker.Range{}); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Expected ErrNoCommand, got %v", err)
	}
}

func TestCommandRuns(t *testing.T) {
	if err := (Command{Template: "true {file}"}).Open("a.go", marker.Range{}); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if err := (Command{Template: "false"}).Open("a.go", marker.Range{}); err == nil {
		t.Error("Expected failure from false")
	}
}

func TestChain(t *testing.T) {
	var calls []string
	fail := Func(func(string, marker.Range) error {
		calls = append(calls, "fail")
		return errors.New("nope")
	})
	ok := Func(func(string, marker.Range) error {
		calls = append(calls, "ok")
		return nil
	})

	if err := (Chain{fail, ok, fail}).Open("a.go", marker.Range{}); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"fail", "ok"}) {
		t.Errorf("Unexpected calls %v", calls)
	}
	if err := (Chain{fail, fail}).Open("a.go", marker.Range{}); err == nil {
		t.Error("Expected joined error")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, ok := FromConfig(cfg).(Log); !ok {
		t.Error("Expected logging navigator without editor command")
	}
	cfg.Editor.Command = "code -g {file}:{line}:{col}"
	if _, ok := FromConfig(cfg).(Command); !ok {
		t.Error("Expected command navigator")
	}
}
