package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter tasktree.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "tasktree.yaml"
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s already exists", target)
		}
		if err := os.WriteFile(target, []byte(starterRecipe), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		fmt.Printf("created %s\n", target)
		return nil
	},
}

const starterRecipe = `variables:
  app_name: "myapp"

tasks:
  build:
    description: "Build the project"
    outputs:
      - name: binary
        glob: "bin/{{ var.app_name }}"
    cmd: |
      mkdir -p bin
      echo "building {{ var.app_name }}" > bin/{{ var.app_name }}

  test:
    description: "Run tests"
    deps:
      - task: build
    cmd: |
      echo "running tests for {{ var.app_name }}"
`
