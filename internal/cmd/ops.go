package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/provision"
	"github.com/yoanbernabeu/piprov/internal/script"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List available operations",
	RunE:  runOps,
}

func init() {
	rootCmd.AddCommand(opsCmd)
}

func runOps(cmd *cobra.Command, args []string) error {
	fmt.Println("Available operations:")
	fmt.Println()
	for _, op := range provision.DefaultCatalog().List() {
		fmt.Printf("  %-10s %s\n", op.Name, op.Summary)
		if params := script.Describe(script.Template{Params: op.UserParams()}); params != "" {
			fmt.Printf("  %-10s params: %s\n", "", params)
		}
		if op.PreCheck != nil {
			fmt.Printf("  %-10s pre-check: %s\n", "", op.PreCheck.Template.Name)
		}
		if op.RebootsOnSuccess {
			fmt.Printf("  %-10s reboots the host when done\n", "")
		}
		if op.Name == "stacks" {
			for _, c := range provision.Components() {
				fmt.Printf("  %-10s %-9s %-10s %s\n", "", c.Stack, c.Name, c.Image)
			}
		}
	}
	fmt.Println()
	fmt.Println("Run one with: piprov provision <operation> <target...>")
	return nil
}
