// Package recipe implements the Recipe Loader: it reads and merges YAML
// documents, resolves imports with namespacing and cycle detection,
// evaluates variables (including subprocess/file-backed kinds), and
// normalises every field into a canonical in-memory Recipe.
package recipe

import "fmt"

// Recipe is a fully resolved, immutable recipe.
type Recipe struct {
	Tasks       map[string]*Task
	TaskOrder   []string // insertion order, for deterministic listing
	Runners     map[string]*Runner
	Variables   map[string]string // always resolved to strings
	VarOrder    []string
	RecipeDir   string
	ProjectRoot string
	Default     *Runner // the recipe's "default" runner, if any
}

// Task is a single named unit of work.
type Task struct {
	Name        string
	Description string
	Deps        []DepInvocation
	Inputs      []IOEntry
	Outputs     []IOEntry
	WorkingDir  string
	RunnerName  string // name referencing Recipe.Runners, or "" for default resolution
	PinRunner   bool
	Args        []ArgSpec
	Cmd         string
	Private     bool
	TaskOutput  TaskOutputPolicy
	Schedule    string // expansion: optional cron expression consumed only by `tt serve`

	// ImportRunIn is the run_in override carried from the import site that
	// introduced this task, applied unless PinRunner is set.
	ImportRunIn string
}

// TaskOutputPolicy controls how a task's stdio is captured.
type TaskOutputPolicy string

const (
	TaskOutputAll   TaskOutputPolicy = "all"
	TaskOutputOut   TaskOutputPolicy = "out"
	TaskOutputErr   TaskOutputPolicy = "err"
	TaskOutputOnErr TaskOutputPolicy = "on-err"
	TaskOutputNone  TaskOutputPolicy = "none"
)

// IOEntry is a single input or output declaration: either anonymous
// (just a glob) or named (referenceable via self.inputs.<name> /
// self.outputs.<name>).
type IOEntry struct {
	Name string // empty for anonymous entries
	Glob string
}

// Named reports whether this entry can be referenced by name.
func (e IOEntry) Named() bool { return e.Name != "" }

// ArgType enumerates the closed set of argument value kinds.
type ArgType string

const (
	ArgStr      ArgType = "str"
	ArgInt      ArgType = "int"
	ArgFloat    ArgType = "float"
	ArgBool     ArgType = "bool"
	ArgPath     ArgType = "path"
	ArgDateTime ArgType = "datetime"
	ArgIP       ArgType = "ip"
	ArgIPv4     ArgType = "ipv4"
	ArgIPv6     ArgType = "ipv6"
	ArgEmail    ArgType = "email"
	ArgHostname ArgType = "hostname"
)

// ArgSpec describes one of a task's bindable arguments.
type ArgSpec struct {
	Name       string
	Exported   bool // leading "$" — exposed as an environment variable, not a template
	Type       ArgType
	HasDefault bool
	Default    string
	Choices    []string
	HasMin     bool
	Min        float64
	HasMax     bool
	Max        float64
}

// DepKind discriminates the three ways a dependency's arguments can be
// bound.
type DepKind int

const (
	DepDefaults DepKind = iota
	DepPositional
	DepNamed
)

// DepInvocation references another task plus a way to bind its arguments.
type DepInvocation struct {
	Task       string
	Kind       DepKind
	Positional []string          // template strings, only valid when Kind == DepPositional
	Named      map[string]string // arg name -> template string, only valid when Kind == DepNamed
}

// RunnerKind discriminates the two runner variants.
type RunnerKind int

const (
	RunnerShell RunnerKind = iota
	RunnerContainer
)

// Runner is either a Shell or a Container execution context.
type Runner struct {
	Name string
	Kind RunnerKind

	// Shell fields
	Shell         string
	ShellPreamble string

	// Container fields
	Dockerfile string
	Context    string
	Volumes    []VolumeBind
	Ports      map[string]string
	BuildArgs  map[string]string
	Env        map[string]string
	WorkingDir string
	RunAsRoot  bool
}

// VolumeBind is a host:container bind mount for a Container runner.
type VolumeBind struct {
	Host      string
	Container string
	ReadOnly  bool
}

// VariableKind discriminates the five ways a variable can be declared.
type VariableKind int

const (
	VarLiteral VariableKind = iota
	VarFromEnv
	VarFromFile
	VarFromEval
	VarTemplate
)

// VariableDecl is one entry in the recipe's "variables" map, prior to
// resolution.
type VariableDecl struct {
	Name    string
	Kind    VariableKind
	Literal string // VarLiteral, VarTemplate
	EnvName string // VarFromEnv
	EnvDef  string
	HasEnvDefault bool
	ReadPath string // VarFromFile
	EvalCmd  string // VarFromEval

	Line, Column int // source location, for diagnostics
}

func (t *Task) String() string {
	return fmt.Sprintf("Task(%s)", t.Name)
}
