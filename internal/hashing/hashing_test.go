package hashing

import (
	"testing"

	"github.com/tasktreehq/tt/internal/recipe"
)

func TestDefinitionHashIsDeterministic(t *testing.T) {
	task := &recipe.Task{Cmd: "echo hi", WorkingDir: "."}
	h1 := DefinitionHash(task, "runnerhash")
	h2 := DefinitionHash(task, "runnerhash")
	if h1 != h2 {
		t.Fatalf("expected the same task to hash identically, got %q and %q", h1, h2)
	}
}

func TestDefinitionHashIgnoresNameDescriptionInputsDeps(t *testing.T) {
	base := &recipe.Task{Cmd: "echo hi", WorkingDir: "."}
	decorated := &recipe.Task{
		Cmd: "echo hi", WorkingDir: ".",
		Name: "renamed", Description: "a new description",
		Inputs: []recipe.IOEntry{{Glob: "**/*.go"}},
		Deps:   []recipe.DepInvocation{{Task: "build"}},
	}
	if DefinitionHash(base, "r") != DefinitionHash(decorated, "r") {
		t.Fatal("name, description, inputs, and deps must not affect the definition hash")
	}
}

func TestDefinitionHashChangesWithCmd(t *testing.T) {
	a := DefinitionHash(&recipe.Task{Cmd: "echo one"}, "r")
	b := DefinitionHash(&recipe.Task{Cmd: "echo two"}, "r")
	if a == b {
		t.Fatal("different cmd bodies must produce different definition hashes")
	}
}

func TestDefinitionHashChangesWithOutputs(t *testing.T) {
	a := DefinitionHash(&recipe.Task{Cmd: "echo hi", Outputs: []recipe.IOEntry{{Glob: "a.txt"}}}, "r")
	b := DefinitionHash(&recipe.Task{Cmd: "echo hi", Outputs: []recipe.IOEntry{{Glob: "b.txt"}}}, "r")
	if a == b {
		t.Fatal("different declared outputs must produce different definition hashes")
	}
}

func TestDefinitionHashChangesWithRunnerHash(t *testing.T) {
	a := DefinitionHash(&recipe.Task{Cmd: "echo hi"}, "runner-a")
	b := DefinitionHash(&recipe.Task{Cmd: "echo hi"}, "runner-b")
	if a == b {
		t.Fatal("a different resolved runner hash must change the definition hash")
	}
}

func TestRunnerHashDistinguishesKinds(t *testing.T) {
	shell := RunnerHash(&recipe.Runner{Kind: recipe.RunnerShell, Shell: "bash"})
	container := RunnerHash(&recipe.Runner{Kind: recipe.RunnerContainer, Dockerfile: "Dockerfile"})
	if shell == container {
		t.Fatal("a shell runner and a container runner must hash differently")
	}
}

func TestRunnerHashNilIsStable(t *testing.T) {
	if RunnerHash(nil) != RunnerHash(nil) {
		t.Fatal("hashing a nil runner twice must be stable")
	}
}

func TestImageHashIgnoresVolumesAndEnv(t *testing.T) {
	base := &recipe.Runner{Kind: recipe.RunnerContainer, Context: ".", BuildArgs: map[string]string{"X": "1"}}
	withVolumes := &recipe.Runner{
		Kind: recipe.RunnerContainer, Context: ".", BuildArgs: map[string]string{"X": "1"},
		Volumes: []recipe.VolumeBind{{Host: "/a", Container: "/b"}},
		Env:     map[string]string{"FOO": "bar"},
	}
	if ImageHash("FROM alpine", base) != ImageHash("FROM alpine", withVolumes) {
		t.Fatal("volumes and env are run-time settings and must not affect the image build cache key")
	}
}

func TestImageHashChangesWithDockerfileContents(t *testing.T) {
	r := &recipe.Runner{Kind: recipe.RunnerContainer, Context: "."}
	a := ImageHash("FROM alpine", r)
	b := ImageHash("FROM debian", r)
	if a == b {
		t.Fatal("different Dockerfile contents must produce different image hashes")
	}
}

func TestArgBindingHashIsOrderIndependent(t *testing.T) {
	a := ArgBindingHash(map[string]string{"env": "staging", "replicas": "3"})
	b := ArgBindingHash(map[string]string{"replicas": "3", "env": "staging"})
	if a != b {
		t.Fatal("argument binding order must not affect the binding hash")
	}
}

func TestArgBindingHashChangesWithValue(t *testing.T) {
	a := ArgBindingHash(map[string]string{"env": "staging"})
	b := ArgBindingHash(map[string]string{"env": "production"})
	if a == b {
		t.Fatal("a different bound value must change the binding hash")
	}
}
