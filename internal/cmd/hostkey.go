package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/ssh"
)

var hostkeyCmd = &cobra.Command{
	Use:   "hostkey",
	Short: "Manage pinned SSH host keys",
	Long: `piprov only talks to hosts whose SSH key is pinned in its known_hosts file.
Unknown keys are shown with their fingerprint and pinned after confirmation.`,
}

var hostkeyTrustCmd = &cobra.Command{
	Use:   "trust <target>",
	Short: "Connect to a target and pin its host key",
	Long: `Connects to a target and pins its host key.

With --fingerprint the key is pinned without prompting, but only when it
matches (CI/CD mode).

Example:
  piprov hostkey trust kitchen
  piprov hostkey trust pi@10.0.0.7 --fingerprint SHA256:...`,
	Args: cobra.ExactArgs(1),
	RunE: runHostkeyTrust,
}

var hostkeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned host keys",
	RunE:  runHostkeyList,
}

var hostkeyRemoveCmd = &cobra.Command{
	Use:   "remove <target|host[:port]>",
	Short: "Forget the pinned keys of a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostkeyRemove,
}

var trustFingerprint string

func init() {
	rootCmd.AddCommand(hostkeyCmd)
	hostkeyCmd.AddCommand(hostkeyTrustCmd)
	hostkeyCmd.AddCommand(hostkeyListCmd)
	hostkeyCmd.AddCommand(hostkeyRemoveCmd)

	hostkeyTrustCmd.Flags().StringVar(&trustFingerprint, "fingerprint", "", "Expected SHA256 fingerprint")
}

func runHostkeyTrust(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}
	rt, err := app.resolveTarget(args[0])
	if err != nil {
		return err
	}
	target, err := withSecret(rt.Target, "Password for "+rt.Target.Redacted())
	if err != nil {
		return err
	}

	orch := app.orchestrator()
	ctx := cmd.Context()

	if trustFingerprint != "" {
		err = orch.TestConnection(ctx, target, trustFingerprint)
	} else {
		err = connectTrusting(func(fp string) error {
			return orch.TestConnection(ctx, target, fp)
		})
	}

	var unknown *ssh.UnknownHostKeyError
	var auth *ssh.AuthenticationError
	switch {
	case err == nil:
		PrintSuccess("Host key for %s is trusted", target.Addr())
		return nil
	case errors.As(err, &unknown) && trustFingerprint != "":
		return fmt.Errorf("host presents %s, expected %s", unknown.Fingerprint, trustFingerprint)
	case errors.As(err, &auth):
		// Keys are checked before authentication, so the pin stands
		PrintSuccess("Host key for %s is trusted", target.Addr())
		PrintWarning("%s", describeError(err))
		return nil
	}
	return errors.New(describeError(err))
}

func runHostkeyList(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}

	entries, err := app.HostKeys.List()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(entries) == 0 {
		PrintInfo("No host keys pinned in %s", app.HostKeys.Path())
		return nil
	}

	fmt.Printf("Pinned host keys (%s):\n\n", app.HostKeys.Path())
	for _, e := range entries {
		fmt.Printf("  %s\n", strings.Join(e.Hosts, ", "))
		fmt.Printf("    %s %s\n", e.KeyType, e.Fingerprint)
	}
	return nil
}

func runHostkeyRemove(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}

	host := args[0]
	if _, ok := app.Config.Targets[host]; ok {
		rt, err := app.resolveTarget(host)
		if err != nil {
			return err
		}
		host = rt.Target.Addr()
	}

	removed, err := app.HostKeys.Remove(host)
	if err != nil {
		return err
	}
	if removed == 0 {
		PrintInfo("No pinned key for %s", host)
		return nil
	}

	PrintSuccess("Removed %d key(s) for %s", removed, host)
	return nil
}
