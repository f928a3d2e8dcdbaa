package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cleanStateCmd = &cobra.Command{
	Use:   "clean-state",
	Short: "Remove the incremental-build state file",
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := newInvocation()
		if err != nil {
			return err
		}
		store := newFreshnessStore(inv)
		if err := os.Remove(store.Path); err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no state file to remove")
				return nil
			}
			return err
		}
		fmt.Printf("removed %s\n", store.Path)
		return nil
	},
}
