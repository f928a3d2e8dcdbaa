package graph

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/tasktreehq/tt/internal/hashing"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/template"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// Request is how the caller (CLI) asks for a task to be built, mirroring
// DepInvocation's binding kinds for the root node.
type Request struct {
	Task       string
	Kind       recipe.DepKind
	Positional []string
	Named      map[string]string
}

// Builder expands a Recipe's dependency graph from a requested task.
type Builder struct {
	Recipe *recipe.Recipe
	Engine *template.Engine

	// CLIRunnerOverride, if non-empty, wins over every other runner
	// resolution source for every node (priority 1 in the resolution
	// order).
	CLIRunnerOverride string

	// ConfigDefaultRunner is the layered-configuration default runner,
	// consulted after the recipe's own default (priority 6).
	ConfigDefaultRunner *recipe.Runner

	// Only restricts the graph to the requested node alone, skipping
	// dependency expansion entirely.
	Only bool

	nodes    map[string]*Node // by ID, for dedup
	visiting map[string]bool
	path     []string // current DFS stack of task names, for cycle error traces
	order    []*Node  // post-order accumulation == valid topological order
}

// Build expands req and its transitive dependencies, returning the
// topologically sorted node list (root last) and the root node itself.
func (b *Builder) Build(req Request) ([]*Node, *Node, error) {
	b.nodes = map[string]*Node{}
	b.visiting = map[string]bool{}
	b.order = nil

	rootScope := rootCallerScope(b.Recipe)
	root, err := b.expand(req.Task, recipe.DepInvocation{
		Task: req.Task, Kind: req.Kind, Positional: req.Positional, Named: req.Named,
	}, rootScope)
	if err != nil {
		return nil, nil, err
	}
	return b.order, root, nil
}

func rootCallerScope(rec *recipe.Recipe) template.Scope {
	return template.Scope{
		TaskName:          "(cli)",
		Vars:              rec.Variables,
		EnvAvailable:      true,
		Getenv:            os.LookupEnv,
		BuiltinsAvailable: true,
		Builtins:          template.Builtins{ProjectRoot: rec.ProjectRoot, RecipeDir: rec.RecipeDir},
		Args:              map[string]string{},
	}
}

func (b *Builder) expand(taskName string, inv recipe.DepInvocation, callerScope template.Scope) (*Node, error) {
	task, ok := b.Recipe.Tasks[taskName]
	if !ok {
		return nil, &ttserr.Error{Kind: ttserr.KindUnknownTask, Task: taskName,
			Message: fmt.Sprintf("no task named %q", taskName)}
	}

	args, exported, err := bindArgs(task, inv, b.Engine, callerScope)
	if err != nil {
		return nil, err
	}

	argHash := hashing.ArgBindingHash(mergeForHash(args, exported))
	id := taskName + "#" + argHash

	if b.visiting[id] {
		chain := append(append([]string{}, b.path...), taskName)
		return nil, &ttserr.Error{Kind: ttserr.KindDependencyCycle, Task: taskName,
			Message: "dependency cycle: " + strings.Join(chain, " -> "), Chain: chain}
	}
	if existing, ok := b.nodes[id]; ok {
		return existing, nil
	}

	b.visiting[id] = true
	b.path = append(b.path, taskName)

	node := &Node{Task: task, Args: args, ExportedArgs: exported, ArgBindingHash: argHash}

	ownScope := template.Scope{
		TaskName:          taskName,
		Vars:              b.Recipe.Variables,
		EnvAvailable:      true,
		Getenv:            os.LookupEnv,
		BuiltinsAvailable: true,
		Builtins:          template.Builtins{ProjectRoot: b.Recipe.ProjectRoot, RecipeDir: b.Recipe.RecipeDir, TaskName: taskName},
		Args:              args,
	}

	isRoot := len(b.path) == 1
	var deps []*Node
	depOutputs := map[string]map[string]string{}
	if !(b.Only && isRoot) {
		for _, d := range task.Deps {
			depNode, err := b.expand(d.Task, d, ownScope)
			if err != nil {
				return nil, err
			}
			deps = append(deps, depNode)
			depOutputs[d.Task] = namedOutputValues(depNode)
		}
	}
	node.Deps = deps
	ownScope.Deps = depOutputs

	inputs, err := resolveIOEntries(task.Inputs, b.Engine, ownScope)
	if err != nil {
		return nil, err
	}
	ownScope.SelfAvailable = true
	ownScope.SelfInputs = indexedFrom(inputs)

	outputs, err := resolveIOEntries(task.Outputs, b.Engine, ownScope)
	if err != nil {
		return nil, err
	}
	ownScope.SelfOutputs = indexedFrom(outputs)

	workingDir, err := b.Engine.Render(task.WorkingDir, ownScope)
	if err != nil {
		return nil, err
	}
	node.Inputs = inputs
	node.Outputs = outputs
	node.WorkingDir = workingDir
	node.EffectiveInputs = append(append([]recipe.IOEntry{}, inputs...), inheritedInputs(deps)...)

	runner, runnerHash, err := b.resolveRunner(task)
	if err != nil {
		return nil, err
	}
	node.Runner = runner
	node.RunnerHash = runnerHash
	node.DefinitionHash = hashing.DefinitionHash(&recipe.Task{
		Cmd: task.Cmd, WorkingDir: workingDir, Outputs: outputs, Args: task.Args,
	}, runnerHash)

	delete(b.visiting, id)
	b.path = b.path[:len(b.path)-1]
	b.nodes[id] = node
	b.order = append(b.order, node)
	return node, nil
}

func mergeForHash(args, exported map[string]string) map[string]string {
	out := make(map[string]string, len(args)+len(exported))
	for k, v := range args {
		out["a:"+k] = v
	}
	for k, v := range exported {
		out["x:"+k] = v
	}
	return out
}

func namedOutputValues(n *Node) map[string]string {
	out := map[string]string{}
	for _, o := range n.Outputs {
		if o.Named() {
			out[o.Name] = o.Glob
		}
	}
	return out
}

func indexedFrom(entries []recipe.IOEntry) template.IndexedEntries {
	idx := template.IndexedEntries{Names: map[string]int{}}
	for i, e := range entries {
		idx.Values = append(idx.Values, e.Glob)
		if e.Named() {
			idx.Names[e.Name] = i
		}
	}
	return idx
}

func resolveIOEntries(entries []recipe.IOEntry, eng *template.Engine, scope template.Scope) ([]recipe.IOEntry, error) {
	out := make([]recipe.IOEntry, len(entries))
	for i, e := range entries {
		glob, err := eng.Render(e.Glob, scope)
		if err != nil {
			return nil, err
		}
		out[i] = recipe.IOEntry{Name: e.Name, Glob: glob}
	}
	return out, nil
}

// inheritedInputs implements automatic, direct-only input inheritance:
// every output glob of every direct dependency becomes an effective
// input.
func inheritedInputs(deps []*Node) []recipe.IOEntry {
	var out []recipe.IOEntry
	for _, d := range deps {
		out = append(out, d.Outputs...)
	}
	return out
}

// resolveRunner applies the seven-step runner resolution priority chain.
func (b *Builder) resolveRunner(t *recipe.Task) (*recipe.Runner, string, error) {
	var name string
	switch {
	case b.CLIRunnerOverride != "":
		name = b.CLIRunnerOverride
	case t.PinRunner && t.RunnerName != "":
		name = t.RunnerName
	case t.ImportRunIn != "":
		name = t.ImportRunIn
	case t.RunnerName != "":
		name = t.RunnerName
	}

	if name != "" {
		r, ok := b.Recipe.Runners[name]
		if !ok {
			return nil, "", &ttserr.Error{Kind: ttserr.KindRunnerDefInvalid, Task: t.Name,
				Message: fmt.Sprintf("runner %q is not defined", name)}
		}
		return r, hashing.RunnerHash(r), nil
	}

	if b.Recipe.Default != nil {
		return b.Recipe.Default, hashing.RunnerHash(b.Recipe.Default), nil
	}
	if b.ConfigDefaultRunner != nil {
		return b.ConfigDefaultRunner, hashing.RunnerHash(b.ConfigDefaultRunner), nil
	}

	platform := &recipe.Runner{Name: "(platform default)", Kind: recipe.RunnerShell, Shell: platformShell()}
	return platform, hashing.RunnerHash(platform), nil
}

func platformShell() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "bash"
}
