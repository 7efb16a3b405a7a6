package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/provision"
)

var probeCmd = &cobra.Command{
	Use:   "probe [target]",
	Short: "Test a connection and detect the board",
	Long: `Connects to a target and reports its operating system, distribution and
board model. The target defaults to $PIPROV_TARGET.

Example:
  piprov probe kitchen
  piprov probe pi@192.168.1.50`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}

	var spec string
	if len(args) > 0 {
		spec = args[0]
	}
	rt, err := app.resolveTarget(spec)
	if err != nil {
		return err
	}
	target, err := withSecret(rt.Target, "Password for "+rt.Target.Redacted())
	if err != nil {
		return err
	}

	PrintInfo("Connecting to %s...", target.Redacted())

	orch := app.orchestrator()
	var info provision.HostInfo
	err = connectTrusting(func(fp string) error {
		var err error
		info, err = orch.Detect(cmd.Context(), target, fp)
		return err
	})
	if err != nil {
		return errors.New(describeError(err))
	}

	PrintSuccess("Connected to %s", target.Redacted())
	fmt.Println()
	fmt.Printf("  OS:     %s\n", info.OS)
	fmt.Printf("  Distro: %s\n", valueOr(info.Distro, "unknown"))
	fmt.Printf("  Model:  %s\n", valueOr(info.Model, "unknown"))
	fmt.Println()

	if !info.IsRaspberryPi {
		PrintWarning("This host does not look like a Raspberry Pi; operations may still work on Debian-based systems")
	}
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
