package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/tasktreehq/tt/internal/shellrunner"
	"github.com/tasktreehq/tt/internal/template"
	"github.com/tasktreehq/tt/internal/ttio"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// DiscoveryNames are the filenames searched for, in priority order, in the
// working directory and each ancestor. If none is found, a single
// "*.tasks" file is accepted.
var DiscoveryNames = []string{"tasktree.yaml", "tasktree.yml", "tt.yaml"}

// Loader reads and resolves Task Tree recipes.
type Loader struct {
	FS       ttio.FileSystem
	Env      ttio.Environment
	Spawn    ttio.ProcessSpawner
	Engine   *template.Engine
	Selector *shellrunner.Selector

	// fileCache is created by NewLoader; Load does not consult it, so every
	// load reads and parses each recipe file again.
	fileCache *lru.Cache[string, *yaml.Node]

	// importStack tracks file paths currently being loaded, for import
	// cycle detection.
	importStack []string
}

// NewLoader builds a Loader with the given collaborators.
func NewLoader(fs ttio.FileSystem, env ttio.Environment, spawn ttio.ProcessSpawner) *Loader {
	cache, _ := lru.New[string, *yaml.Node](128)
	return &Loader{
		FS: fs, Env: env, Spawn: spawn,
		Engine: template.NewEngine(), Selector: shellrunner.NewSelector(),
		fileCache: cache,
	}
}

// Discover locates a recipe file starting from dir and searching ancestors.
func Discover(fs ttio.FileSystem, dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range DiscoveryNames {
			candidate := filepath.Join(dir, name)
			if _, err := fs.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		matches, _ := fs.Glob(dir, "*.tasks")
		if len(matches) > 1 {
			return "", ttserr.New(ttserr.KindSchemaViolation,
				fmt.Sprintf("multiple *.tasks files found in %s", dir))
		}
		if len(matches) == 1 {
			if filepath.IsAbs(matches[0]) {
				return matches[0], nil
			}
			return filepath.Join(dir, matches[0]), nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ttserr.New(ttserr.KindSchemaViolation,
				"no recipe file found (tried tasktree.yaml, tasktree.yml, tt.yaml, *.tasks in this directory and its ancestors")
		}
		dir = parent
	}
}

// Load reads filePath and every recipe it (transitively) imports, merges
// and resolves variables, and returns an immutable Recipe.
func (l *Loader) Load(filePath string) (*Recipe, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}

	rec := &Recipe{
		Tasks:       map[string]*Task{},
		Runners:     map[string]*Runner{},
		Variables:   map[string]string{},
		RecipeDir:   filepath.Dir(absPath),
		ProjectRoot: filepath.Dir(absPath),
	}

	if err := l.loadInto(rec, absPath, "", ""); err != nil {
		return nil, err
	}

	if d, ok := rec.Runners["default"]; ok {
		rec.Default = d
	}

	return rec, nil
}

// loadInto parses absPath and merges its tasks/runners/variables into rec,
// applying namespace (for imported files) and runInOverride.
func (l *Loader) loadInto(rec *Recipe, absPath, namespace, runInOverride string) error {
	for _, seen := range l.importStack {
		if seen == absPath {
			chain := append(append([]string{}, l.importStack...), absPath)
			return ttserr.New(ttserr.KindImportCycle, "import cycle: "+strings.Join(chain, " -> "))
		}
	}
	l.importStack = append(l.importStack, absPath)
	defer func() { l.importStack = l.importStack[:len(l.importStack)-1] }()

	data, err := l.FS.ReadFile(absPath)
	if err != nil {
		return ttserr.Wrap(ttserr.KindSchemaViolation, "failed to read recipe file "+absPath, err)
	}

	var doc rawDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ttserr.Wrap(ttserr.KindSchemaViolation, "failed to parse YAML in "+absPath, err)
	}

	dir := filepath.Dir(absPath)

	// Imports are resolved first so the importing document's own
	// declarations take precedence when merged.
	for _, imp := range doc.Imports {
		if imp.File == "" || imp.As == "" {
			return ttserr.New(ttserr.KindSchemaViolation, "imports entry requires 'file' and 'as'").WithPath(absPath)
		}
		importPath := imp.File
		if !filepath.IsAbs(importPath) {
			importPath = filepath.Join(dir, importPath)
		}
		childNamespace := imp.As
		if namespace != "" {
			childNamespace = namespace + "." + imp.As
		}
		if err := l.loadInto(rec, importPath, childNamespace, imp.RunIn); err != nil {
			return err
		}
	}

	// Runners are merged before variables are resolved so that an
	// `{eval:}` variable in this same file can run through this file's
	// own default runner, not just one inherited from an import.
	for name, rr := range doc.Runners {
		qualified := qualify(namespace, name)
		runner, err := normalizeRunner(qualified, rr)
		if err != nil {
			return err
		}
		rec.Runners[qualified] = runner
	}

	if err := l.resolveVariables(rec, &doc, dir); err != nil {
		return err
	}

	for name, rt := range doc.Tasks {
		if strings.Contains(name, ".") {
			return ttserr.New(ttserr.KindInvalidTaskName, "task name must not contain '.': "+name).WithPath(absPath)
		}
		qualified := qualify(namespace, name)
		task, err := normalizeTask(qualified, rt, namespace)
		if err != nil {
			return err
		}
		if runInOverride != "" && !task.PinRunner {
			task.ImportRunIn = runInOverride
		}
		if _, exists := rec.Tasks[qualified]; !exists {
			rec.TaskOrder = append(rec.TaskOrder, qualified)
		}
		rec.Tasks[qualified] = task
	}

	return nil
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// resolveVariables evaluates doc's `variables` map top-to-bottom, each
// definition seeing only variables defined earlier.
func (l *Loader) resolveVariables(rec *Recipe, doc *rawDoc, recipeDir string) error {
	node := &doc.Variables
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return ttserr.New(ttserr.KindSchemaViolation, "'variables' must be a mapping")
	}

	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := keyNode.Value

		var raw rawVariable
		if err := valNode.Decode(&raw); err != nil {
			return ttserr.Wrap(ttserr.KindSchemaViolation, "invalid variable "+name, err).
				WithLocation(recipeDir, valNode.Line, valNode.Column)
		}

		value, err := l.resolveOneVariable(rec, recipeDir, name, raw)
		if err != nil {
			return err
		}

		if _, exists := rec.Variables[name]; !exists {
			rec.VarOrder = append(rec.VarOrder, name)
		}
		rec.Variables[name] = value
	}
	return nil
}

func (l *Loader) resolveOneVariable(rec *Recipe, recipeDir, name string, raw rawVariable) (string, error) {
	switch {
	case raw.HasEnv:
		v, ok := l.Env.Getenv(raw.EnvName)
		if !ok {
			if raw.HasEnvDefault {
				return raw.EnvDefault, nil
			}
			return "", ttserr.New(ttserr.KindVariableNotSet,
				fmt.Sprintf("environment variable %q is not set", raw.EnvName)).WithVariable(name)
		}
		return v, nil

	case raw.HasRead:
		path := expandHome(raw.ReadPath, l.Env)
		if !filepath.IsAbs(path) {
			path = filepath.Join(recipeDir, path)
		}
		data, err := l.FS.ReadFile(path)
		if err != nil {
			return "", ttserr.Wrap(ttserr.KindVariableReadFailed, "failed to read "+path, err).WithVariable(name)
		}
		return strings.TrimSuffix(string(data), "\n"), nil

	case raw.HasEval:
		sh, preamble := l.evalRunnerShell(rec)
		scriptPath, err := shellrunner.Materialize(l.FS, recipeDir, sh, preamble, raw.EvalCmd)
		if err != nil {
			return "", ttserr.Wrap(ttserr.KindVariableEvalFailed, "failed to prepare eval command for "+name, err).WithVariable(name)
		}
		defer func() { _ = l.FS.Remove(scriptPath) }()

		var result *ttio.SpawnResult
		spawnErr := backoff.Retry(func() error {
			var err error
			result, err = l.Spawn.Spawn(context.Background(), ttio.SpawnOptions{
				Args:       sh.BuildCommand(scriptPath),
				WorkingDir: recipeDir,
				Env:        l.Env.Environ(),
			})
			return err
		}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2))
		if spawnErr != nil {
			return "", ttserr.Wrap(ttserr.KindVariableEvalFailed, "failed to spawn eval command for "+name, spawnErr).WithVariable(name)
		}
		if result.ExitCode != 0 {
			return "", ttserr.New(ttserr.KindVariableEvalFailed,
				fmt.Sprintf("eval command for %q exited %d: %s", name, result.ExitCode, result.Stderr)).WithVariable(name)
		}
		return strings.TrimSuffix(result.Stdout, "\n"), nil

	case raw.IsScalar:
		scope := template.Scope{
			TaskName:          "(variables)",
			Vars:              rec.Variables,
			EnvAvailable:      true,
			Getenv:            l.Env.Getenv,
			BuiltinsAvailable: true,
			Builtins:          Builtins(rec),
		}
		out, err := l.Engine.Render(raw.Scalar, scope)
		if err != nil {
			return "", err
		}
		return out, nil

	default:
		return "", ttserr.New(ttserr.KindSchemaViolation, "malformed variable declaration").WithVariable(name)
	}
}

// evalRunnerShell resolves the shell an `{eval:}` variable's command runs
// through: the recipe's own "default" runner if one has been declared by
// this point, falling back to the platform's native shell otherwise. A
// container default runner has no meaning here (there is no image to run
// against yet), so it is treated the same as having no default.
func (l *Loader) evalRunnerShell(rec *Recipe) (shellrunner.Shell, string) {
	if d, ok := rec.Runners["default"]; ok && d.Kind == RunnerShell {
		return l.Selector.Resolve(d.Shell), d.ShellPreamble
	}
	return l.Selector.Resolve(platformShell()), ""
}

func platformShell() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "bash"
}

// Builtins returns the tt.* values available while resolving variables
// (no task context yet, so only project_root/recipe_dir/user_* are set).
func Builtins(rec *Recipe) template.Builtins {
	home, _ := os.UserHomeDir()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	return template.Builtins{
		ProjectRoot: rec.ProjectRoot,
		RecipeDir:   rec.RecipeDir,
		UserHome:    home,
		UserName:    user,
	}
}

func expandHome(path string, env ttio.Environment) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, ok := env.Getenv("HOME")
		if !ok {
			home, _ = os.UserHomeDir()
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// RawRunnerDoc is the YAML shape of a standalone runner block, exported
// so layered config-file lookups (internal/recipeconfig) can parse a
// `default_runner` entry the same way a recipe's own runners are parsed.
type RawRunnerDoc = rawRunner

// NormalizeRunnerDoc builds a Runner from a standalone runner YAML block.
func NormalizeRunnerDoc(name string, rr RawRunnerDoc) (*Runner, error) {
	return normalizeRunner(name, rr)
}

func normalizeRunner(name string, rr rawRunner) (*Runner, error) {
	r := &Runner{Name: name}
	if rr.isContainer() {
		r.Kind = RunnerContainer
		r.Dockerfile = rr.Dockerfile
		r.Context = rr.Context
		r.BuildArgs = rr.BuildArgs
		r.Env = rr.Env
		r.Ports = rr.Ports
		r.WorkingDir = rr.WorkingDir
		r.RunAsRoot = rr.RunAsRoot
		for _, v := range rr.Volumes {
			bind, err := parseVolume(v)
			if err != nil {
				return nil, ttserr.Wrap(ttserr.KindRunnerDefInvalid, "invalid volume in runner "+name, err)
			}
			r.Volumes = append(r.Volumes, bind)
		}
		return r, nil
	}

	if rr.Shell == "" {
		return nil, ttserr.New(ttserr.KindRunnerDefInvalid, "runner "+name+" must declare shell or dockerfile")
	}
	r.Kind = RunnerShell
	r.Shell = rr.Shell
	r.ShellPreamble = rr.Preamble
	return r, nil
}

func parseVolume(spec string) (VolumeBind, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		return VolumeBind{Host: parts[0], Container: parts[1]}, nil
	case 3:
		return VolumeBind{Host: parts[0], Container: parts[1], ReadOnly: parts[2] == "ro"}, nil
	default:
		return VolumeBind{}, fmt.Errorf("expected host:container[:ro], got %q", spec)
	}
}

func normalizeTask(name string, rt rawTask, namespace string) (*Task, error) {
	t := &Task{
		Name:        name,
		Description: rt.Description,
		WorkingDir:  rt.WorkingDir,
		RunnerName:  qualifyRunnerRef(namespace, rt.Runner),
		PinRunner:   rt.PinRunner,
		Cmd:         rt.Cmd,
		Private:     rt.Private,
		Schedule:    rt.Schedule,
		TaskOutput:  TaskOutputAll,
	}
	if rt.TaskOutput != "" {
		switch TaskOutputPolicy(rt.TaskOutput) {
		case TaskOutputAll, TaskOutputOut, TaskOutputErr, TaskOutputOnErr, TaskOutputNone:
			t.TaskOutput = TaskOutputPolicy(rt.TaskOutput)
		default:
			return nil, ttserr.New(ttserr.KindSchemaViolation, "invalid task_output "+rt.TaskOutput).WithTask(name)
		}
	}

	for _, io := range rt.Inputs {
		t.Inputs = append(t.Inputs, IOEntry{Name: io.Name, Glob: io.Glob})
	}
	for _, io := range rt.Outputs {
		t.Outputs = append(t.Outputs, IOEntry{Name: io.Name, Glob: io.Glob})
	}

	for _, d := range rt.Deps {
		dep, err := normalizeDep(d, namespace)
		if err != nil {
			return nil, ttserr.Wrap(ttserr.KindSchemaViolation, "invalid dependency in task "+name, err).WithTask(name)
		}
		t.Deps = append(t.Deps, dep)
	}

	for _, a := range rt.Args {
		spec, err := normalizeArgSpec(a)
		if err != nil {
			return nil, ttserr.Wrap(ttserr.KindInvalidArgSpec, "invalid arg "+a.Name+" in task "+name, err).WithTask(name)
		}
		t.Args = append(t.Args, spec)
	}

	return t, nil
}

func qualifyRunnerRef(namespace, ref string) string {
	if ref == "" || namespace == "" || strings.Contains(ref, ".") {
		return ref
	}
	return namespace + "." + ref
}

func normalizeDep(d rawDep, namespace string) (DepInvocation, error) {
	dep := DepInvocation{Task: qualifyRunnerRef(namespace, d.Task)}
	if !d.HasWith {
		dep.Kind = DepDefaults
		return dep, nil
	}
	if d.Positional != nil {
		if len(d.Positional) == 0 {
			return dep, fmt.Errorf("positional argument list must not be empty")
		}
		dep.Kind = DepPositional
		dep.Positional = d.Positional
		return dep, nil
	}
	if d.Named != nil {
		dep.Kind = DepNamed
		dep.Named = d.Named
		return dep, nil
	}
	dep.Kind = DepDefaults
	return dep, nil
}

func normalizeArgSpec(a rawArgSpec) (ArgSpec, error) {
	spec := ArgSpec{Name: a.Name}
	if strings.HasPrefix(a.Name, "$") {
		spec.Exported = true
		spec.Name = strings.TrimPrefix(a.Name, "$")
		if a.HasType {
			return spec, fmt.Errorf("exported argument %q may not declare a type", spec.Name)
		}
	}

	if a.HasChoices && (a.HasMin || a.HasMax) {
		return spec, fmt.Errorf("choices and min/max are mutually exclusive")
	}

	if a.HasDefault {
		spec.HasDefault = true
		spec.Default = stringifyYAML(&a.Default)
	}
	if a.HasChoices {
		for _, c := range a.Choices {
			spec.Choices = append(spec.Choices, stringifyYAML(&c))
		}
	}
	if a.HasMin {
		spec.HasMin, spec.Min = true, a.Min
	}
	if a.HasMax {
		spec.HasMax, spec.Max = true, a.Max
	}

	if spec.Exported {
		spec.Type = ArgStr
		return finishArgSpec(spec)
	}

	if a.HasType {
		spec.Type = ArgType(a.Type)
		if !validArgType(spec.Type) {
			return spec, fmt.Errorf("unknown arg type %q", a.Type)
		}
	} else {
		inferred, ok := inferArgType(a)
		if !ok {
			return spec, fmt.Errorf("cannot infer type: default, min, max, and choices are absent or disagree")
		}
		spec.Type = inferred
	}

	return finishArgSpec(spec)
}

func finishArgSpec(spec ArgSpec) (ArgSpec, error) {
	if spec.HasDefault && len(spec.Choices) > 0 {
		found := false
		for _, c := range spec.Choices {
			if c == spec.Default {
				found = true
				break
			}
		}
		if !found {
			return spec, fmt.Errorf("default %q is not among choices", spec.Default)
		}
	}
	if spec.HasDefault && (spec.HasMin || spec.HasMax) {
		f, err := strconv.ParseFloat(spec.Default, 64)
		if err == nil {
			if spec.HasMin && f < spec.Min {
				return spec, fmt.Errorf("default %v is below min %v", f, spec.Min)
			}
			if spec.HasMax && f > spec.Max {
				return spec, fmt.Errorf("default %v is above max %v", f, spec.Max)
			}
		}
	}
	return spec, nil
}

func validArgType(t ArgType) bool {
	switch t {
	case ArgStr, ArgInt, ArgFloat, ArgBool, ArgPath, ArgDateTime, ArgIP, ArgIPv4, ArgIPv6, ArgEmail, ArgHostname:
		return true
	default:
		return false
	}
}

// inferArgType infers an untyped arg's type in order: default -> min ->
// max -> first choices element; every present source must agree.
func inferArgType(a rawArgSpec) (ArgType, bool) {
	var candidates []ArgType
	if a.HasDefault {
		candidates = append(candidates, guessScalarType(&a.Default))
	}
	if a.HasMin || a.HasMax {
		candidates = append(candidates, ArgFloat)
	}
	if a.HasChoices && len(a.Choices) > 0 {
		candidates = append(candidates, guessScalarType(&a.Choices[0]))
	}
	if len(candidates) == 0 {
		return "", false
	}
	for _, c := range candidates[1:] {
		if c != candidates[0] {
			return "", false
		}
	}
	return candidates[0], true
}

func guessScalarType(n *yaml.Node) ArgType {
	if n.Tag == "!!bool" {
		return ArgBool
	}
	if n.Tag == "!!int" {
		return ArgInt
	}
	if n.Tag == "!!float" {
		return ArgFloat
	}
	return ArgStr
}

func stringifyYAML(n *yaml.Node) string {
	return n.Value
}
