package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasktreehq/tt/internal/driver"
	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttserr"
)

func runRoot(cmd *cobra.Command, args []string) error {
	inv, err := newInvocation()
	if err != nil {
		return err
	}

	if listFlag {
		return printTaskList(inv.Recipe)
	}
	if len(args) == 0 {
		return printTaskList(inv.Recipe)
	}

	taskName, rest := args[0], args[1:]
	task, ok := inv.Recipe.Tasks[taskName]
	if !ok {
		return &ttserr.Error{Kind: ttserr.KindUnknownTask, Task: taskName,
			Message: fmt.Sprintf("no task named %q", taskName)}
	}

	req := parseTaskArgs(task, rest)

	builder := &graph.Builder{
		Recipe: inv.Recipe, Engine: inv.Loader.Engine,
		CLIRunnerOverride: runnerOverride(), ConfigDefaultRunner: inv.ConfigDefaultRunner, Only: onlyFlag,
	}
	nodes, root, err := builder.Build(req)
	if err != nil {
		return err
	}

	outputOverride, err := parseOutputFlag()
	if err != nil {
		return err
	}

	store := newFreshnessStore(inv)
	d := newDriver(inv, store)

	requested := map[string]bool{root.ID(): true}
	opts := driver.RunOptions{Force: forceFlag || onlyFlag, TaskOutputOverride: outputOverride}

	return d.Run(cmd.Context(), nodes, requested, opts)
}

func runnerOverride() string { return runnerFlag }

func parseOutputFlag() (recipe.TaskOutputPolicy, error) {
	switch recipe.TaskOutputPolicy(outputFlag) {
	case "":
		return "", nil
	case recipe.TaskOutputAll, recipe.TaskOutputOut, recipe.TaskOutputErr, recipe.TaskOutputOnErr, recipe.TaskOutputNone:
		return recipe.TaskOutputPolicy(outputFlag), nil
	default:
		return "", fmt.Errorf("invalid --output value %q (want all, out, err, on-err, or none)", outputFlag)
	}
}
