// Package app implements the tt command-line surface: flag parsing,
// recipe discovery, and wiring the Recipe Loader, Graph Builder,
// Freshness Engine, and Execution Driver into one invocation. rootCmd
// stays flat with a single RunE; cobra parses tt's own flags and hands the
// remaining positionals (task name, then its arguments) to runRoot. A
// --name=value token is parsed by cobra as a flag, so a task argument
// written that way is rejected as an unknown flag.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	fileFlag     string
	logLevelFlag string
	runnerFlag   string
	forceFlag    bool
	onlyFlag     bool
	outputFlag   string
	listFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "tt [task] [positionals...] [name=value...] [flags...]",
	Short: "A declarative, incremental task runner",
	Long: `tt builds a task's dependency graph from a YAML recipe, skips every
task whose inputs and definition are unchanged since its last successful
run, and executes the rest in dependency order.

Named arguments are given as name=value.`,
	RunE:          runRoot,
	SilenceErrors: true,
	SilenceUsage:  true,
	Args:          cobra.ArbitraryArgs,
}

func init() {
	rootCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "recipe file (default: discovered from the working directory)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "warn", "silent, error, warn, info, or debug")
	rootCmd.Flags().StringVar(&runnerFlag, "runner", "", "override the runner for every task in this invocation")
	rootCmd.Flags().BoolVar(&forceFlag, "force", false, "rerun the requested task even if it is fresh")
	rootCmd.Flags().BoolVar(&onlyFlag, "only", false, "run only the requested task, skipping its dependencies")
	rootCmd.Flags().StringVar(&outputFlag, "output", "", "override every task's task_output policy: all, out, err, on-err, none")
	rootCmd.Flags().BoolVarP(&listFlag, "list", "l", false, "list the recipe's tasks")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cleanStateCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tt: %v\n", err)
		return exitCodeFor(err)
	}
	return 0
}
