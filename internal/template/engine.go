// Package template implements Task Tree's template substitution engine: a
// pure function from (template string, scope) to resolved string, with six
// interacting prefixes (var, arg, env, tt, dep, self) and a deterministic,
// documented evaluation order.
//
// The grammar is narrow and ordered enough that a bespoke two-pass
// tokenizer is the correct tool — a single text/template parse or a
// regex-only approach mishandles the cmd bodies that appear between
// template spans.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tasktreehq/tt/internal/ttserr"
)

// Builtins carries the fixed set of tt.* values available to a template.
type Builtins struct {
	ProjectRoot   string
	RecipeDir     string
	TaskName      string
	WorkingDir    string
	Timestamp     string // ISO-8601 UTC, captured once per task execution
	TimestampUnix string
	UserHome      string
	UserName      string
}

func (b Builtins) lookup(field string) (string, bool) {
	switch field {
	case "project_root":
		return b.ProjectRoot, true
	case "recipe_dir":
		return b.RecipeDir, true
	case "task_name":
		return b.TaskName, true
	case "working_dir":
		return b.WorkingDir, true
	case "timestamp":
		return b.Timestamp, true
	case "timestamp_unix":
		return b.TimestampUnix, true
	case "user_home":
		return b.UserHome, true
	case "user_name":
		return b.UserName, true
	default:
		return "", false
	}
}

// IndexedEntries backs self.inputs/self.outputs: entries indexable by
// position, and by name when named.
type IndexedEntries struct {
	Values []string // by zero-based index
	Names  map[string]int
}

// Lookup resolves either a name or a non-negative integer index.
func (e IndexedEntries) Lookup(ref string) (string, error) {
	if idx, ok := e.Names[ref]; ok {
		return e.Values[idx], nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return "", fmt.Errorf("undefined")
	}
	if n < 0 {
		return "", fmt.Errorf("negative index")
	}
	if n >= len(e.Values) {
		return "", fmt.Errorf("index %d out of range [0,%d)", n, len(e.Values))
	}
	return e.Values[n], nil
}

// Scope is the set of bindings a single Render call resolves against. A
// nil map/struct for a given prefix means that prefix is unavailable in
// this context (e.g. the Recipe Loader resolving a `variables` template
// string has no arg/dep/self scope) and any reference to it fails.
type Scope struct {
	TaskName string // used only for error messages

	Vars map[string]string // var.<name>
	Args map[string]string // arg.<name>; nil disables the prefix

	EnvAvailable bool
	Getenv       func(name string) (string, bool) // env.<NAME>; nil disables the prefix

	BuiltinsAvailable bool
	Builtins          Builtins // tt.<field>

	Deps map[string]map[string]string // dep.<task>.outputs.<name>; nil disables the prefix

	SelfAvailable bool
	SelfInputs    IndexedEntries
	SelfOutputs   IndexedEntries
}

// Engine renders templates against a Scope.
type Engine struct{}

// NewEngine creates a new template Engine.
func NewEngine() *Engine { return &Engine{} }

// Render resolves every {{ prefix.path }} occurrence in tmpl against scope,
// in the documented order: var, then dep, then self, then arg/env/tt.
func (e *Engine) Render(tmpl string, scope Scope) (string, error) {
	out := tmpl

	out, err := e.resolvePass(out, scope, "var")
	if err != nil {
		return "", err
	}
	out, err = e.resolvePass(out, scope, "dep")
	if err != nil {
		return "", err
	}
	out, err = e.resolvePass(out, scope, "self")
	if err != nil {
		return "", err
	}
	out, err = e.resolvePass(out, scope, "arg", "env", "tt")
	if err != nil {
		return "", err
	}
	return out, nil
}

// span is one {{ ... }} occurrence found while tokenizing.
type span struct {
	start, end int // byte offsets of the full "{{ ... }}" in the source, end exclusive
	expr       string
}

func tokenize(s string) []span {
	var spans []span
	i := 0
	for {
		start := strings.Index(s[i:], "{{")
		if start == -1 {
			break
		}
		start += i
		closeRel := strings.Index(s[start+2:], "}}")
		if closeRel == -1 {
			break
		}
		end := start + 2 + closeRel + 2
		expr := strings.TrimSpace(s[start+2 : start+2+closeRel])
		spans = append(spans, span{start: start, end: end, expr: expr})
		i = end
	}
	return spans
}

// resolvePass rewrites only the spans whose prefix is one of prefixes,
// leaving every other span untouched for a later pass.
func (e *Engine) resolvePass(s string, scope Scope, prefixes ...string) (string, error) {
	spans := tokenize(s)
	if len(spans) == 0 {
		return s, nil
	}

	wants := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		wants[p] = true
	}

	var b strings.Builder
	last := 0
	for _, sp := range spans {
		prefix, rest, ok := splitPrefix(sp.expr)
		if !ok || !wants[prefix] {
			continue
		}
		val, err := e.resolveOne(prefix, rest, scope)
		if err != nil {
			return "", err
		}
		b.WriteString(s[last:sp.start])
		b.WriteString(val)
		last = sp.end
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func splitPrefix(expr string) (prefix, rest string, ok bool) {
	dot := strings.IndexByte(expr, '.')
	if dot < 0 {
		return "", "", false
	}
	return expr[:dot], expr[dot+1:], true
}

func (e *Engine) resolveOne(prefix, rest string, scope Scope) (string, error) {
	switch prefix {
	case "var":
		if scope.Vars == nil {
			return "", undefinedErr(ttserr.KindUndefinedVariable, scope.TaskName, rest, "var")
		}
		v, ok := scope.Vars[rest]
		if !ok {
			return "", undefinedErr(ttserr.KindUndefinedVariable, scope.TaskName, rest, "var")
		}
		return v, nil

	case "arg":
		if scope.Args == nil {
			return "", undefinedErr(ttserr.KindUndefinedArg, scope.TaskName, rest, "arg")
		}
		v, ok := scope.Args[rest]
		if !ok {
			return "", undefinedErr(ttserr.KindUndefinedArg, scope.TaskName, rest, "arg")
		}
		return v, nil

	case "env":
		if !scope.EnvAvailable || scope.Getenv == nil {
			return "", undefinedErr(ttserr.KindUndefinedEnv, scope.TaskName, rest, "env")
		}
		v, ok := scope.Getenv(rest)
		if !ok {
			return "", undefinedErr(ttserr.KindUndefinedEnv, scope.TaskName, rest, "env")
		}
		return v, nil

	case "tt":
		if !scope.BuiltinsAvailable {
			return "", &ttserr.Error{Kind: ttserr.KindSchemaViolation, Task: scope.TaskName, Variable: "tt." + rest,
				Message: "built-in values are not available in this context"}
		}
		v, ok := scope.Builtins.lookup(rest)
		if !ok {
			return "", &ttserr.Error{Kind: ttserr.KindSchemaViolation, Task: scope.TaskName, Variable: "tt." + rest,
				Message: fmt.Sprintf("unknown built-in %q", rest)}
		}
		return v, nil

	case "dep":
		if scope.Deps == nil {
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedDepOutput, Task: scope.TaskName, Variable: "dep." + rest,
				Message: "dependency outputs are not available in this context"}
		}
		taskName, outName, ok := splitDepRef(rest)
		if !ok {
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedDepOutput, Task: scope.TaskName, Variable: "dep." + rest,
				Message: "expected dep.<task>.outputs.<name>"}
		}
		outs, ok := scope.Deps[taskName]
		if !ok {
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedDepOutput, Task: scope.TaskName, Variable: "dep." + rest,
				Message: fmt.Sprintf("task %q is not a dependency", taskName)}
		}
		v, ok := outs[outName]
		if !ok {
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedDepOutput, Task: scope.TaskName, Variable: "dep." + rest,
				Message: fmt.Sprintf("task %q has no output named %q", taskName, outName)}
		}
		return v, nil

	case "self":
		if !scope.SelfAvailable {
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedSelfRef, Task: scope.TaskName, Variable: "self." + rest,
				Message: "self references are not available in this context"}
		}
		kind, ref, ok := splitSelfRef(rest)
		if !ok {
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedSelfRef, Task: scope.TaskName, Variable: "self." + rest,
				Message: "expected self.inputs.<name|index> or self.outputs.<name|index>"}
		}
		var entries IndexedEntries
		switch kind {
		case "inputs":
			entries = scope.SelfInputs
		case "outputs":
			entries = scope.SelfOutputs
		default:
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedSelfRef, Task: scope.TaskName, Variable: "self." + rest,
				Message: "expected self.inputs or self.outputs"}
		}
		v, err := entries.Lookup(ref)
		if err != nil {
			if strings.Contains(err.Error(), "out of range") {
				return "", &ttserr.Error{Kind: ttserr.KindSelfRefOutOfRange, Task: scope.TaskName, Variable: "self." + rest,
					Message: err.Error()}
			}
			return "", &ttserr.Error{Kind: ttserr.KindUndefinedSelfRef, Task: scope.TaskName, Variable: "self." + rest,
				Message: fmt.Sprintf("no self.%s entry named or indexed %q", kind, ref)}
		}
		return v, nil

	default:
		return "", &ttserr.Error{Kind: ttserr.KindSchemaViolation, Task: scope.TaskName,
			Message: fmt.Sprintf("unknown template prefix %q", prefix)}
	}
}

func splitDepRef(rest string) (task, output string, ok bool) {
	// dep.<taskname>.outputs.<out_name> — taskname itself may contain dots
	// (namespaced imports), so split on the last ".outputs." marker.
	const marker = ".outputs."
	idx := strings.LastIndex(rest, marker)
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(marker):], true
}

func splitSelfRef(rest string) (kind, ref string, ok bool) {
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return "", "", false
	}
	return rest[:dot], rest[dot+1:], true
}

func undefinedErr(kind ttserr.Kind, task, name, prefix string) error {
	return &ttserr.Error{
		Kind:     kind,
		Task:     task,
		Variable: prefix + "." + name,
		Message:  fmt.Sprintf("undefined reference %s.%s", prefix, name),
		Hint:     fmt.Sprintf("define %q before referencing it, or check for a typo", name),
	}
}
