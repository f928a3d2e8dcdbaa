package recipe

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawDoc mirrors the on-disk YAML shape of a recipe document before
// normalisation. imports, runners, variables, and tasks are the only
// top-level keys recognised.
type rawDoc struct {
	Imports   []rawImport           `yaml:"imports"`
	Runners   map[string]rawRunner  `yaml:"runners"`
	Variables yaml.Node             `yaml:"variables"`
	Tasks     map[string]rawTask    `yaml:"tasks"`

	line, col int
}

// UnmarshalYAML captures the node's own position (for "unknown top-level
// key" diagnostics) while decoding normally via an alias type.
func (d *rawDoc) UnmarshalYAML(node *yaml.Node) error {
	type plain rawDoc
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = rawDoc(p)
	d.line, d.col = node.Line, node.Column

	known := map[string]bool{"imports": true, "runners": true, "variables": true, "tasks": true}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !known[key] {
			return fmt.Errorf("unknown top-level key %q at line %d", key, node.Content[i].Line)
		}
	}
	return nil
}

type rawImport struct {
	File  string `yaml:"file"`
	As    string `yaml:"as"`
	RunIn string `yaml:"run_in"`
}

type rawRunner struct {
	// Shell
	Shell    string `yaml:"shell"`
	Preamble string `yaml:"preamble"`

	// Container
	Dockerfile string            `yaml:"dockerfile"`
	Context    string            `yaml:"context"`
	Volumes    []string          `yaml:"volumes"`
	Ports      map[string]string `yaml:"ports"`
	BuildArgs  map[string]string `yaml:"build_args"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`
	RunAsRoot  bool              `yaml:"run_as_root"`
}

func (r rawRunner) isContainer() bool {
	return r.Dockerfile != "" || r.Context != ""
}

type rawTask struct {
	Description string         `yaml:"description"`
	Deps        []rawDep       `yaml:"deps"`
	Inputs      []rawIOEntry   `yaml:"inputs"`
	Outputs     []rawIOEntry   `yaml:"outputs"`
	WorkingDir  string         `yaml:"working_dir"`
	Runner      string         `yaml:"runner"`
	PinRunner   bool           `yaml:"pin_runner"`
	Args        []rawArgSpec   `yaml:"args"`
	Cmd         string         `yaml:"cmd"`
	Private     bool           `yaml:"private"`
	TaskOutput  string         `yaml:"task_output"`
	Schedule    string         `yaml:"schedule"`
}

// rawIOEntry accepts either `glob: "pattern"` (anonymous) or
// `name: "n", glob: "pattern"` (named).
type rawIOEntry struct {
	Name string
	Glob string
}

func (e *rawIOEntry) UnmarshalYAML(node *yaml.Node) error {
	var m struct {
		Name string `yaml:"name"`
		Glob string `yaml:"glob"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	e.Name, e.Glob = m.Name, m.Glob
	return nil
}

// rawDep accepts a bare string (task name, Defaults binding), a mapping
// with a `task` key and either a `with` list (Positional) or map (Named).
type rawDep struct {
	Task       string
	Positional []string
	Named      map[string]string
	HasWith    bool
	line, col  int
}

func (d *rawDep) UnmarshalYAML(node *yaml.Node) error {
	d.line, d.col = node.Line, node.Column

	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&d.Task)
	case yaml.MappingNode:
		// A single-key mapping `{taskname: [args...]}` or `{taskname: {arg: val}}`
		// or the explicit long form `{task: name, with: [...]}`.
		var explicit struct {
			Task string    `yaml:"task"`
			With yaml.Node `yaml:"with"`
		}
		if err := node.Decode(&explicit); err == nil && explicit.Task != "" {
			d.Task = explicit.Task
			if explicit.With.Kind != 0 {
				return d.decodeWith(&explicit.With)
			}
			return nil
		}
		if len(node.Content) != 2 {
			return fmt.Errorf("dependency mapping must have exactly one task key, got %d", len(node.Content)/2)
		}
		d.Task = node.Content[0].Value
		return d.decodeWith(node.Content[1])
	default:
		return fmt.Errorf("dependency entry must be a string or mapping")
	}
}

func (d *rawDep) decodeWith(node *yaml.Node) error {
	d.HasWith = true
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&d.Positional)
	case yaml.MappingNode:
		return node.Decode(&d.Named)
	default:
		return fmt.Errorf("dependency arguments must be a list or mapping")
	}
}

type rawArgSpec struct {
	Name       string
	HasType    bool
	Type       string
	HasDefault bool
	Default    yaml.Node
	Choices    []yaml.Node
	HasChoices bool
	HasMin     bool
	Min        float64
	HasMax     bool
	Max        float64
}

func (a *rawArgSpec) UnmarshalYAML(node *yaml.Node) error {
	var m struct {
		Name    string      `yaml:"name"`
		Type    string      `yaml:"type"`
		Default yaml.Node   `yaml:"default"`
		Choices []yaml.Node `yaml:"choices"`
		Min     *float64    `yaml:"min"`
		Max     *float64    `yaml:"max"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	a.Name = m.Name
	if m.Type != "" {
		a.HasType, a.Type = true, m.Type
	}
	if m.Default.Kind != 0 {
		a.HasDefault, a.Default = true, m.Default
	}
	if len(m.Choices) > 0 {
		a.HasChoices, a.Choices = true, m.Choices
	}
	if m.Min != nil {
		a.HasMin, a.Min = true, *m.Min
	}
	if m.Max != nil {
		a.HasMax, a.Max = true, *m.Max
	}
	return nil
}

// rawVariable accepts a plain scalar (literal or template string) or one
// of the three structured kinds: env, read, or eval.
type rawVariable struct {
	Scalar        string
	IsScalar      bool
	EnvName       string
	HasEnv        bool
	EnvDefault    string
	HasEnvDefault bool
	ReadPath      string
	HasRead       bool
	EvalCmd       string
	HasEval       bool
	line, col     int
}

func (v *rawVariable) UnmarshalYAML(node *yaml.Node) error {
	v.line, v.col = node.Line, node.Column

	if node.Kind == yaml.ScalarNode {
		v.IsScalar = true
		return node.Decode(&v.Scalar)
	}
	var m struct {
		Env     string `yaml:"env"`
		Default string `yaml:"default"`
		Read    string `yaml:"read"`
		Eval    string `yaml:"eval"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	var hasDefault bool
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "default" {
			hasDefault = true
		}
	}
	switch {
	case m.Env != "":
		v.HasEnv, v.EnvName = true, m.Env
		v.HasEnvDefault, v.EnvDefault = hasDefault, m.Default
	case m.Read != "":
		v.HasRead, v.ReadPath = true, m.Read
	case m.Eval != "":
		v.HasEval, v.EvalCmd = true, m.Eval
	default:
		return fmt.Errorf("variable declaration must be a scalar, or have one of env/read/eval")
	}
	return nil
}
