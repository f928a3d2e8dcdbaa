// Package graph builds the dependency graph: expanding DepInvocations into
// bound, deduplicated GraphNodes and topologically sorting them.
package graph

import "github.com/tasktreehq/tt/internal/recipe"

// Node is a (task, bound-args) pair — the unit the Freshness Engine and
// Execution Driver operate on.
type Node struct {
	Task *recipe.Task

	// Args holds bound, template-expanded, non-exported argument values,
	// addressable in the task's own cmd via {{ arg.<name> }}.
	Args map[string]string

	// ExportedArgs holds bound $-prefixed arguments, which are exposed to
	// the task's process as environment variables rather than through
	// the template engine.
	ExportedArgs map[string]string

	Runner         *recipe.Runner
	RunnerHash     string
	DefinitionHash string
	ArgBindingHash string

	// WorkingDir, Inputs, and Outputs are the task's corresponding fields
	// after template resolution against this node's bound scope.
	WorkingDir string
	Inputs     []recipe.IOEntry
	Outputs    []recipe.IOEntry

	// EffectiveInputs is Inputs plus every output glob inherited from
	// direct dependencies.
	EffectiveInputs []recipe.IOEntry

	Deps []*Node // direct dependency nodes, in declaration order

	// Executed is set by the Execution Driver once this node's command
	// has actually run (not merely been found fresh), driving the
	// cascade rule in the Freshness Engine.
	Executed bool
}

// ID uniquely identifies a node: task name plus its sorted argument
// binding.
func (n *Node) ID() string {
	return n.Task.Name + "#" + n.ArgBindingHash
}
