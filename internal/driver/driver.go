// Package driver implements the Execution Driver: for each stale
// GraphNode, in topological order, it materialises the command, composes
// the environment, spawns the runner, enforces the recursion guard and
// container-nesting policy, and updates the state file on success. Nodes
// run strictly sequentially, in dependency order; there is no concurrent
// task execution within one invocation.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/tasktreehq/tt/internal/container"
	"github.com/tasktreehq/tt/internal/freshness"
	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/shellrunner"
	"github.com/tasktreehq/tt/internal/template"
	"github.com/tasktreehq/tt/internal/ttio"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// EnvCallChain, EnvContainerRunner, EnvStateFilePath name the internal
// variables the driver injects into every spawned process.
const (
	EnvCallChain       = "TT_CALL_CHAIN"
	EnvContainerRunner = "TT_CONTAINERIZED_RUNNER"
	EnvStateFilePath   = "TT_STATE_FILE_PATH"
)

// Driver runs a topologically sorted node list against a state store.
type Driver struct {
	FS       ttio.FileSystem
	Env      ttio.Environment
	Spawn    ttio.ProcessSpawner
	Clock    ttio.Clock
	Selector *shellrunner.Selector
	Engine   *template.Engine

	Store    *freshness.Store
	Fresh    *freshness.Engine
	ProjectRoot string

	Images *container.ImageCache
	docker *dockerclient.Client // lazily constructed on first Container runner

	// Output is where streamed stdout/stderr (per task_output policy) is
	// written for "all"/"out"/"err" tasks; NewDriver sets them to the
	// process's stdout and stderr. An "on-err" task's captured stderr is
	// written to os.Stderr when it fails.
	Output, ErrOutput *os.File

	// CorrelationID is a per-invocation UUID set by NewDriver; nothing in
	// this package reads it.
	CorrelationID string
}

// NewDriver wires a Driver with real OS collaborators.
func NewDriver(fs ttio.FileSystem, env ttio.Environment, spawn ttio.ProcessSpawner, clock ttio.Clock, store *freshness.Store, projectRoot string) *Driver {
	return &Driver{
		FS: fs, Env: env, Spawn: spawn, Clock: clock,
		Selector: shellrunner.NewSelector(), Engine: template.NewEngine(),
		Store: store, Fresh: &freshness.Engine{FS: fs, Clock: clock},
		ProjectRoot:   projectRoot,
		Images:        container.NewImageCache(),
		Output:        os.Stdout,
		ErrOutput:     os.Stderr,
		CorrelationID: uuid.NewString(),
	}
}

// RunOptions controls one invocation's scheduling policy.
type RunOptions struct {
	Force bool // CLI --force / --only, applied to requested node(s) only
	TaskOutputOverride recipe.TaskOutputPolicy // "" = use each task's own policy
}

// Run executes every stale node in nodes, in order, stopping at the first
// failure.
func (d *Driver) Run(ctx context.Context, nodes []*graph.Node, requested map[string]bool, opts RunOptions) error {
	liveHashes := map[string]bool{}
	for _, n := range nodes {
		liveHashes[n.DefinitionHash] = true
	}
	d.Store.Prune(liveHashes)

	for _, node := range nodes {
		force := opts.Force && requested[node.ID()]
		result, err := d.Fresh.Classify(node, d.Store, force)
		if err != nil {
			return err
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "tt: warning: %s: %s\n", node.Task.Name, w)
		}
		if !result.Stale {
			continue
		}

		if err := d.runOne(ctx, node, opts); err != nil {
			return err
		}

		node.Executed = true
		// A nested tt invocation sharing this project's state file
		// (TT_STATE_FILE_PATH) may have rewritten it for other nodes while
		// this node ran, so reload before merging this node's own result in.
		if err := d.Store.Reload(); err != nil {
			return err
		}
		d.Store.Upsert(node.DefinitionHash, node.ArgBindingHash, d.Clock.Now().Unix(), result.Inputs)
		if err := d.Store.Save(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runOne(ctx context.Context, node *graph.Node, opts RunOptions) error {
	var callChain []string
	if raw, ok := d.Env.Getenv(EnvCallChain); ok && raw != "" {
		callChain = strings.Split(raw, ",")
	}
	for _, name := range callChain {
		if name == node.Task.Name {
			return &ttserr.Error{Kind: ttserr.KindRecursionDetected, Task: node.Task.Name,
				Message: "task already present in the call chain: " + strings.Join(append(callChain, node.Task.Name), " -> "),
				Chain:   append(callChain, node.Task.Name)}
		}
	}
	newChain := append(append([]string{}, callChain...), node.Task.Name)

	cmd, err := d.Engine.Render(node.Task.Cmd, d.execScope(node))
	if err != nil {
		return err
	}

	currentContainerRunner, insideContainer := d.Env.Getenv(EnvContainerRunner)
	if insideContainer && node.Runner.Kind == recipe.RunnerContainer {
		// Same container, or a shell-only runner inside one: execute in
		// place rather than launching a nested container. A different
		// container runner is refused outright.
		if node.Runner.Name != currentContainerRunner {
			return &ttserr.Error{Kind: ttserr.KindNestedContainerSwch, Task: node.Task.Name,
				Message: fmt.Sprintf("cannot switch from container runner %q to %q in a nested invocation", currentContainerRunner, node.Runner.Name)}
		}
		return d.runShell(ctx, node, cmd, newChain, opts)
	}

	switch node.Runner.Kind {
	case recipe.RunnerShell:
		return d.runShell(ctx, node, cmd, newChain, opts)
	case recipe.RunnerContainer:
		return d.runContainer(ctx, node, cmd, newChain, opts)
	default:
		return &ttserr.Error{Kind: ttserr.KindRunnerDefInvalid, Task: node.Task.Name, Message: "unknown runner kind"}
	}
}

func effectiveTaskOutput(node *graph.Node, opts RunOptions) recipe.TaskOutputPolicy {
	if opts.TaskOutputOverride != "" {
		return opts.TaskOutputOverride
	}
	return node.Task.TaskOutput
}

func (d *Driver) execScope(node *graph.Node) template.Scope {
	now := d.Clock.Now().UTC()
	deps := map[string]map[string]string{}
	for _, dep := range node.Deps {
		outs := map[string]string{}
		for _, o := range dep.Outputs {
			if o.Named() {
				outs[o.Name] = o.Glob
			}
		}
		deps[dep.Task.Name] = outs
	}
	return template.Scope{
		TaskName:     node.Task.Name,
		Vars:         nil, // variables were already substituted at graph-build time into args/inputs/outputs
		Args:         node.Args,
		EnvAvailable: true,
		Getenv:       d.Env.Getenv,
		BuiltinsAvailable: true,
		Builtins: template.Builtins{
			ProjectRoot:   d.ProjectRoot,
			TaskName:      node.Task.Name,
			WorkingDir:    node.WorkingDir,
			Timestamp:     now.Format(time.RFC3339),
			TimestampUnix: strconv.FormatInt(now.Unix(), 10),
		},
		Deps:          deps,
		SelfAvailable: true,
		SelfInputs:    indexed(node.Inputs),
		SelfOutputs:   indexed(node.Outputs),
	}
}

func indexed(entries []recipe.IOEntry) template.IndexedEntries {
	idx := template.IndexedEntries{Names: map[string]int{}}
	for i, e := range entries {
		idx.Values = append(idx.Values, e.Glob)
		if e.Named() {
			idx.Names[e.Name] = i
		}
	}
	return idx
}

func (d *Driver) composeEnv(node *graph.Node, chain []string, containerRunnerName string) []string {
	env := append([]string{}, d.Env.Environ()...)
	if node.Runner.Kind == recipe.RunnerContainer {
		for k, v := range node.Runner.Env {
			env = append(env, k+"="+v)
		}
	}
	for name, value := range node.ExportedArgs {
		env = append(env, strings.ToUpper(name)+"="+value)
	}
	env = append(env, EnvCallChain+"="+strings.Join(chain, ","))
	env = append(env, EnvStateFilePath+"="+d.Store.Path)
	if containerRunnerName != "" {
		env = append(env, EnvContainerRunner+"="+containerRunnerName)
	}
	return env
}

func (d *Driver) runShell(ctx context.Context, node *graph.Node, cmd string, chain []string, opts RunOptions) error {
	shellName := node.Runner.Shell
	if node.Runner.Kind == recipe.RunnerContainer {
		// In-place run inside the current container: use the same shell
		// runContainer launches the script with.
		shellName = "sh"
	}
	sh := d.Selector.Resolve(shellName)
	scriptPath, err := shellrunner.Materialize(d.FS, d.scratchDir(), sh, node.Runner.ShellPreamble, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.FS.Remove(scriptPath) }()

	policy := effectiveTaskOutput(node, opts)
	stdout, stderr := d.outputsFor(policy)
	env := d.composeEnv(node, chain, "")

	result, err := d.Spawn.Spawn(ctx, ttio.SpawnOptions{
		Args:       sh.BuildCommand(scriptPath),
		WorkingDir: node.WorkingDir,
		Env:        env,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	if err != nil {
		return &ttserr.Error{Kind: ttserr.KindProcessSpawnFailed, Task: node.Task.Name, Message: err.Error()}
	}
	if result.ExitCode != 0 && policy == recipe.TaskOutputOnErr {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	return d.checkExit(node, result.ExitCode, "")
}

func (d *Driver) runContainer(ctx context.Context, node *graph.Node, cmd string, chain []string, opts RunOptions) error {
	if d.docker == nil {
		cli, err := container.NewClient()
		if err != nil {
			return err
		}
		d.docker = cli
	}

	image, err := d.Images.EnsureImage(ctx, d.docker, node.Runner, d.FS.ReadFile)
	if err != nil {
		return err
	}

	sh := d.Selector.Resolve("sh")
	scriptPath, err := shellrunner.Materialize(d.FS, d.scratchDir(), sh, node.Runner.ShellPreamble, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.FS.Remove(scriptPath) }()

	stdout, stderr := d.outputsFor(effectiveTaskOutput(node, opts))
	env := d.composeEnv(node, chain, node.Runner.Name)

	exitCode, err := container.Run(ctx, d.docker, container.RunOptions{
		Image:         image,
		Cmd:           sh.BuildCommand(scriptPath),
		WorkingDir:    node.WorkingDir,
		Env:           env,
		StatePathHost: d.Store.Path,
		Volumes:       node.Runner.Volumes,
		Ports:         node.Runner.Ports,
		RunAsRoot:     node.Runner.RunAsRoot,
		Stdout:        stdout,
		Stderr:        stderr,
	})
	if err != nil {
		return err
	}
	return d.checkExit(node, exitCode, "")
}

func (d *Driver) checkExit(node *graph.Node, exitCode int, stderr string) error {
	if exitCode == 0 {
		return nil
	}
	return &ttserr.Error{Kind: ttserr.KindTaskFailed, Task: node.Task.Name, ExitCode: exitCode,
		Message: fmt.Sprintf("exited with status %d", exitCode), Wrapped: errIfNonEmpty(stderr)}
}

func errIfNonEmpty(s string) error {
	if s == "" {
		return nil
	}
	return fmt.Errorf("%s", strings.TrimSpace(s))
}

func (d *Driver) outputsFor(policy recipe.TaskOutputPolicy) (stdout, stderr io.Writer) {
	switch policy {
	case recipe.TaskOutputNone:
		return nil, nil
	case recipe.TaskOutputOut:
		return d.Output, nil
	case recipe.TaskOutputErr:
		return nil, d.ErrOutput
	case recipe.TaskOutputOnErr:
		return nil, nil // buffered via SpawnResult.Stderr, emitted by the caller on failure
	default: // all
		return d.Output, d.ErrOutput
	}
}

func (d *Driver) scratchDir() string {
	dir := filepath.Join(d.ProjectRoot, ".tasktree-tmp")
	_ = d.FS.MkdirAll(dir, 0o755)
	return dir
}
