package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttserr"
)

var treeCmd = &cobra.Command{
	Use:   "tree <task>",
	Short: "Show a task's expanded dependency tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := newInvocation()
		if err != nil {
			return err
		}
		if _, ok := inv.Recipe.Tasks[args[0]]; !ok {
			return &ttserr.Error{Kind: ttserr.KindUnknownTask, Task: args[0],
				Message: fmt.Sprintf("no task named %q", args[0])}
		}

		builder := &graph.Builder{
			Recipe: inv.Recipe, Engine: inv.Loader.Engine,
			CLIRunnerOverride: runnerOverride(), ConfigDefaultRunner: inv.ConfigDefaultRunner,
		}
		_, root, err := builder.Build(graph.Request{Task: args[0], Kind: recipe.DepDefaults})
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", root.Task.Name, root.Runner.Name)
		printTreeChildren(root, "", map[string]bool{root.ID(): true})
		return nil
	},
}

func printTreeChildren(node *graph.Node, prefix string, seen map[string]bool) {
	for i, dep := range node.Deps {
		branch, nextPrefix := "├── ", prefix+"│   "
		if i == len(node.Deps)-1 {
			branch, nextPrefix = "└── ", prefix+"    "
		}
		fmt.Printf("%s%s%s (%s)\n", prefix, branch, dep.Task.Name, dep.Runner.Name)
		if seen[dep.ID()] {
			continue
		}
		seen[dep.ID()] = true
		printTreeChildren(dep, nextPrefix, seen)
	}
}
