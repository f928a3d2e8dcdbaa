// Package schedule implements the opt-in `tt serve` mode: periodically
// re-running a task on the cron expression in its recipe's `schedule`
// field, layered entirely on top of the Graph Builder and Execution
// Driver rather than touching either. Expressions are parsed with
// cron.ParseStandard into a cron.Schedule, and robfig/cron's own Cron
// type drives the run loop.
package schedule

import (
	"context"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/tasktreehq/tt/internal/recipe"
)

// Entry pairs a scheduled task with its parsed cron schedule.
type Entry struct {
	TaskName string
	Spec     string
	Parsed   cron.Schedule
}

// Collect gathers every task in rec that declares a non-empty Schedule
// field, parsing each cron expression up front so a typo is reported
// before `tt serve` starts running anything.
func Collect(rec *recipe.Recipe) ([]Entry, error) {
	var entries []Entry
	for name, task := range rec.Tasks {
		if task.Schedule == "" {
			continue
		}
		parsed, err := cron.ParseStandard(task.Schedule)
		if err != nil {
			return nil, fmt.Errorf("task %q: invalid schedule %q: %w", name, task.Schedule, err)
		}
		entries = append(entries, Entry{TaskName: name, Spec: task.Schedule, Parsed: parsed})
	}
	return entries, nil
}

// Run runs a cron.Cron scheduler until ctx is cancelled, invoking runTask
// for each entry at its scheduled time. Runs are strictly sequential: a
// run of one task waits for a run of another to finish, and a tick that
// fires while a prior run of the same task is still in flight is skipped.
func Run(ctx context.Context, entries []Entry, runTask func(taskName string) error) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	running := make(chan struct{}, 1)
	for _, e := range entries {
		entry := e
		id, err := c.AddJob(entry.Spec, cron.FuncJob(func() {
			running <- struct{}{}
			defer func() { <-running }()
			if err := runTask(entry.TaskName); err != nil {
				fmt.Fprintf(os.Stderr, "tt serve: task %q failed: %v\n", entry.TaskName, err)
			}
		}))
		if err != nil {
			return fmt.Errorf("task %q: %w", entry.TaskName, err)
		}
		_ = id
	}

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}
