package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttserr"
)

var showCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show a task's definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := newInvocation()
		if err != nil {
			return err
		}
		task, ok := inv.Recipe.Tasks[args[0]]
		if !ok {
			return &ttserr.Error{Kind: ttserr.KindUnknownTask, Task: args[0],
				Message: fmt.Sprintf("no task named %q", args[0])}
		}
		printTask(task)
		return nil
	},
}

func printTask(task *recipe.Task) {
	fmt.Printf("task: %s\n", task.Name)
	if task.Description != "" {
		fmt.Printf("  description: %s\n", task.Description)
	}
	if task.WorkingDir != "" {
		fmt.Printf("  working_dir: %s\n", task.WorkingDir)
	}
	fmt.Printf("  task_output: %s\n", orDefault(string(task.TaskOutput), "all"))
	if task.Schedule != "" {
		fmt.Printf("  schedule: %s\n", task.Schedule)
	}

	if len(task.Args) > 0 {
		fmt.Println("  args:")
		for _, a := range task.Args {
			line := fmt.Sprintf("    - %s (%s)", a.Name, a.Type)
			if a.Exported {
				line += " exported"
			}
			if a.HasDefault {
				line += fmt.Sprintf(" default=%q", a.Default)
			}
			if len(a.Choices) > 0 {
				line += fmt.Sprintf(" choices=%v", a.Choices)
			}
			fmt.Println(line)
		}
	}

	if len(task.Deps) > 0 {
		fmt.Println("  deps:")
		for _, d := range task.Deps {
			fmt.Printf("    - %s\n", d.Task)
		}
	}

	printEntries("inputs", task.Inputs)
	printEntries("outputs", task.Outputs)

	fmt.Printf("  cmd: |\n")
	for _, line := range strings.Split(task.Cmd, "\n") {
		fmt.Printf("    %s\n", line)
	}
}

func printEntries(label string, entries []recipe.IOEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("  %s:\n", label)
	for _, e := range entries {
		if e.Named() {
			fmt.Printf("    - %s: %s\n", e.Name, e.Glob)
		} else {
			fmt.Printf("    - %s\n", e.Glob)
		}
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
