package template

import (
	"errors"
	"testing"

	"github.com/tasktreehq/tt/internal/ttserr"
)

func TestRenderVarArgEnvTT(t *testing.T) {
	eng := NewEngine()
	scope := Scope{
		TaskName:          "build",
		Vars:              map[string]string{"app": "widget"},
		Args:              map[string]string{"env": "staging"},
		EnvAvailable:      true,
		Getenv:            func(name string) (string, bool) { return "C-" + name, name == "HOME" },
		BuiltinsAvailable: true,
		Builtins:          Builtins{TaskName: "build", ProjectRoot: "/proj"},
	}

	out, err := eng.Render("{{ var.app }}-{{ arg.env }}-{{ env.HOME }}-{{ tt.project_root }}", scope)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "widget-staging-C-HOME-/proj" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderOrderVarThenSelf(t *testing.T) {
	eng := NewEngine()
	scope := Scope{
		Vars:          map[string]string{"dir": "build"},
		SelfAvailable: true,
		SelfInputs: IndexedEntries{
			Values: []string{"build/main.go"},
			Names:  map[string]int{"main": 0},
		},
	}
	// The input path was registered under the rendered (post-var) name,
	// so a self reference resolves after var substitution has happened.
	out, err := eng.Render("{{ self.inputs.main }}", scope)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "build/main.go" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderUndefinedVarFails(t *testing.T) {
	eng := NewEngine()
	_, err := eng.Render("{{ var.missing }}", Scope{TaskName: "build"})
	var ttErr *ttserr.Error
	if !errors.As(err, &ttErr) || ttErr.Kind != ttserr.KindUndefinedVariable {
		t.Fatalf("expected KindUndefinedVariable, got %v", err)
	}
}

func TestRenderUndefinedArgWhenScopeHasNoArgs(t *testing.T) {
	eng := NewEngine()
	_, err := eng.Render("{{ arg.x }}", Scope{TaskName: "build"})
	var ttErr *ttserr.Error
	if !errors.As(err, &ttErr) || ttErr.Kind != ttserr.KindUndefinedArg {
		t.Fatalf("expected KindUndefinedArg, got %v", err)
	}
}

func TestSelfIndexOutOfRange(t *testing.T) {
	entries := IndexedEntries{Values: []string{"a", "b"}}
	if _, err := entries.Lookup("5"); err == nil {
		t.Fatal("expected an out-of-range error")
	}
	if _, err := entries.Lookup("-1"); err == nil {
		t.Fatal("expected a negative-index error")
	}
	v, err := entries.Lookup("1")
	if err != nil || v != "b" {
		t.Fatalf("Lookup(1) = %q, %v", v, err)
	}
}

func TestDepOutputReference(t *testing.T) {
	eng := NewEngine()
	scope := Scope{
		TaskName: "deploy",
		Deps:     map[string]map[string]string{"build": {"binary": "bin/app"}},
	}
	out, err := eng.Render("{{ dep.build.outputs.binary }}", scope)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "bin/app" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderLeavesPlainTextAlone(t *testing.T) {
	eng := NewEngine()
	out, err := eng.Render("echo hello world", Scope{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "echo hello world" {
		t.Fatalf("unexpected render: %q", out)
	}
}
