// Package ttserr defines the typed error families Task Tree surfaces to
// users, each carrying enough context (task, variable, or path name, plus
// a source location where one is available) to render a one-sentence
// remediation hint.
package ttserr

import (
	"fmt"
	"strings"
)

// Kind discriminates an error family (spec §7).
type Kind string

const (
	// Validation
	KindUnknownTopLevelKey  Kind = "UnknownTopLevelKey"
	KindInvalidTaskName     Kind = "InvalidTaskName"
	KindInvalidArgSpec      Kind = "InvalidArgSpec"
	KindRunnerDefInvalid    Kind = "RunnerDefinitionInvalid"
	KindSchemaViolation     Kind = "SchemaViolation"

	// Resolution
	KindVariableNotSet      Kind = "VariableNotSet"
	KindVariableReadFailed  Kind = "VariableReadFailed"
	KindVariableEvalFailed  Kind = "VariableEvalFailed"
	KindUndefinedVariable   Kind = "UndefinedVariable"
	KindUndefinedEnv        Kind = "UndefinedEnv"
	KindUndefinedArg        Kind = "UndefinedArg"
	KindUndefinedDepOutput  Kind = "UndefinedDependencyOutput"
	KindUndefinedSelfRef    Kind = "UndefinedSelfRef"
	KindSelfRefOutOfRange   Kind = "SelfRefIndexOutOfRange"

	// Graph
	KindUnknownTask         Kind = "UnknownTask"
	KindUnknownArgument     Kind = "UnknownArgument"
	KindMissingArgument     Kind = "MissingArgument"
	KindArgTypeMismatch     Kind = "ArgumentTypeMismatch"
	KindArgOutOfRange       Kind = "ArgumentOutOfRange"
	KindArgNotInChoices     Kind = "ArgumentNotInChoices"
	KindDependencyCycle     Kind = "DependencyCycle"
	KindImportCycle         Kind = "ImportCycle"

	// Execution
	KindRunnerBuildFailed   Kind = "RunnerBuildFailed"
	KindProcessSpawnFailed  Kind = "ProcessSpawnFailed"
	KindTaskFailed          Kind = "TaskFailed"
	KindRecursionDetected   Kind = "RecursionDetected"
	KindNestedContainerSwch Kind = "NestedContainerSwitch"
	KindReservedVolumePath  Kind = "ReservedVolumePath"

	// State
	KindStateFileCorrupt     Kind = "StateFileCorrupt"
	KindStateFileWriteFailed Kind = "StateFileWriteFailed"
)

// Error is Task Tree's single error type; Kind lets callers branch with
// errors.As without a combinatorial explosion of Go error types.
type Error struct {
	Kind       Kind
	Task       string // offending task name, if any
	Variable   string // offending variable/arg name, if any
	Path       string // offending file/path, if any
	File       string // source file, if known
	Line       int    // 1-based YAML line, 0 if unknown
	Column     int    // 1-based YAML column, 0 if unknown
	Message    string // human-readable detail
	Hint       string // one-sentence remediation
	Wrapped    error
	ExitCode   int // for KindTaskFailed
	Chain      []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Task != "" {
		fmt.Fprintf(&b, " in task %q", e.Task)
	}
	if e.Variable != "" {
		fmt.Fprintf(&b, " (%q)", e.Variable)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.File != "" && e.Line > 0 {
		fmt.Fprintf(&b, " [%s:%d:%d]", e.File, e.Line, e.Column)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, ": %v", e.Wrapped)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// FormatError renders the error with a source snippet, a caret pointing
// at the offending column, and a remediation hint.
func (e *Error) FormatError(source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\033[31mError\033[0m: %s\n", e.Error())

	if e.File != "" && e.Line > 0 {
		fmt.Fprintf(&b, "  \033[36m--> %s:%d:%d\033[0m\n", e.File, e.Line, e.Column)

		lines := strings.Split(source, "\n")
		if e.Line <= len(lines) {
			sourceLine := lines[e.Line-1]
			lineNumStr := fmt.Sprintf("%d", e.Line)
			fmt.Fprintf(&b, "   \033[34m%s\033[0m | %s\n", lineNumStr, sourceLine)
			col := e.Column
			if col < 1 {
				col = 1
			}
			spaces := strings.Repeat(" ", len(lineNumStr)) + " | " + strings.Repeat(" ", col-1)
			fmt.Fprintf(&b, "   %s\033[31m^\033[0m\n", spaces)
		}
	}

	if e.Hint != "" {
		fmt.Fprintf(&b, "   \033[33mHint:\033[0m %s\n", e.Hint)
	}

	return b.String()
}

// New builds a minimal Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping another error.
func Wrap(kind Kind, message string, wrapped error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: wrapped}
}

// WithTask returns a copy of the error annotated with a task name.
func (e *Error) WithTask(task string) *Error {
	c := *e
	c.Task = task
	return &c
}

// WithVariable returns a copy of the error annotated with a variable/arg name.
func (e *Error) WithVariable(name string) *Error {
	c := *e
	c.Variable = name
	return &c
}

// WithPath returns a copy of the error annotated with a path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithLocation returns a copy of the error annotated with a source location.
func (e *Error) WithLocation(file string, line, col int) *Error {
	c := *e
	c.File = file
	c.Line = line
	c.Column = col
	return &c
}

// WithHint returns a copy of the error annotated with a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}
