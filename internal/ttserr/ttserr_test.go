package ttserr

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorMessageIncludesTaskAndVariable(t *testing.T) {
	err := New(KindUndefinedVariable, "undefined reference").WithTask("build").WithVariable("var.app")
	msg := err.Error()
	if !strings.Contains(msg, string(KindUndefinedVariable)) {
		t.Fatalf("expected the kind in the message, got %q", msg)
	}
	if !strings.Contains(msg, `"build"`) || !strings.Contains(msg, `"var.app"`) {
		t.Fatalf("expected task and variable context in the message, got %q", msg)
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	inner := errors.New("permission denied")
	err := Wrap(KindVariableReadFailed, "failed to read file", inner)
	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to find the wrapped error")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected the wrapped error text in the message, got %q", err.Error())
	}
}

func TestWithMethodsDoNotMutateOriginal(t *testing.T) {
	base := New(KindUnknownTask, "no such task")
	decorated := base.WithTask("deploy")
	if base.Task != "" {
		t.Fatal("expected WithTask to return a copy, not mutate the receiver")
	}
	if decorated.Task != "deploy" {
		t.Fatalf("expected the copy to carry the new task, got %q", decorated.Task)
	}
}

func TestErrorsAsMatchesKind(t *testing.T) {
	var wrapped error = Wrap(KindStateFileCorrupt, "bad json", errors.New("unexpected EOF"))
	var ttErr *Error
	if !errors.As(wrapped, &ttErr) {
		t.Fatal("expected errors.As to unwrap to *Error")
	}
	if ttErr.Kind != KindStateFileCorrupt {
		t.Fatalf("expected KindStateFileCorrupt, got %v", ttErr.Kind)
	}
}

func TestFormatErrorIncludesSourceSnippetAndHint(t *testing.T) {
	err := New(KindSchemaViolation, "bad task").WithLocation("tasktree.yaml", 2, 5).WithHint("remove the stray key")
	out := err.FormatError("tasks:\n  bogus: true\n")
	if !strings.Contains(out, "tasktree.yaml:2:5") {
		t.Fatalf("expected the source location in the formatted output, got %q", out)
	}
	if !strings.Contains(out, "bogus: true") {
		t.Fatalf("expected the offending source line quoted, got %q", out)
	}
	if !strings.Contains(out, "remove the stray key") {
		t.Fatalf("expected the hint in the formatted output, got %q", out)
	}
}

func TestFormatErrorWithoutLocationSkipsSnippet(t *testing.T) {
	err := New(KindUnknownTask, "no such task")
	out := err.FormatError("")
	if strings.Contains(out, "-->") {
		t.Fatalf("expected no location arrow when no location is set, got %q", out)
	}
}
