package app

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tasktreehq/tt/internal/recipe"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the recipe's tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := newInvocation()
		if err != nil {
			return err
		}
		return printTaskList(inv.Recipe)
	},
}

func printTaskList(rec *recipe.Recipe) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	for _, name := range rec.TaskOrder {
		task := rec.Tasks[name]
		if task.Private {
			continue
		}
		desc := task.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, desc)
	}
	return nil
}
