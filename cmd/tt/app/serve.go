package app

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tasktreehq/tt/internal/driver"
	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every task with a schedule on its cron expression until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := newInvocation()
		if err != nil {
			return err
		}

		entries, err := schedule.Collect(inv.Recipe)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no task declares a schedule")
		}
		for _, e := range entries {
			inv.Log.Infof("scheduled %q on %q", e.TaskName, e.Spec)
		}

		store := newFreshnessStore(inv)
		d := newDriver(inv, store)
		builder := &graph.Builder{Recipe: inv.Recipe, Engine: inv.Loader.Engine, ConfigDefaultRunner: inv.ConfigDefaultRunner}

		runTask := func(taskName string) error {
			nodes, root, err := builder.Build(graph.Request{Task: taskName, Kind: recipe.DepDefaults})
			if err != nil {
				return err
			}
			requested := map[string]bool{root.ID(): true}
			return d.Run(cmd.Context(), nodes, requested, driver.RunOptions{})
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return schedule.Run(ctx, entries, runTask)
	},
}
