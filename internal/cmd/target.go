package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/config"
	"github.com/yoanbernabeu/piprov/internal/security"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage configured hosts",
	Long:  `Commands to add, list, test and remove the hosts piprov provisions.`,
}

var targetAddCmd = &cobra.Command{
	Use:   "add <name> <user@host[:port]>",
	Short: "Add a new target",
	Long: `Adds a new target to the global configuration.
Passwords are never stored: they are read from PIPROV_SECRET or prompted for.

Example:
  piprov target add kitchen pi@192.168.1.50
  piprov target add garage admin@garage.local:2222 --key ~/.ssh/id_ed25519`,
	Args: cobra.ExactArgs(2),
	RunE: runTargetAdd,
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured targets",
	RunE:  runTargetList,
}

var targetRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetRemove,
}

var targetTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test the SSH connection to a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetTest,
}

var (
	targetKeyPath  string
	skipTargetTest bool
)

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetAddCmd)
	targetCmd.AddCommand(targetListCmd)
	targetCmd.AddCommand(targetRemoveCmd)
	targetCmd.AddCommand(targetTestCmd)

	targetAddCmd.Flags().StringVarP(&targetKeyPath, "key", "k", "", "SSH private key path")
	targetAddCmd.Flags().BoolVar(&skipTargetTest, "skip-test", false, "Skip SSH connection test")
}

func runTargetAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := security.ValidateTargetName(name); err != nil {
		return fmt.Errorf("invalid target name: %w", err)
	}

	app, err := loadApp()
	if err != nil {
		return err
	}

	tc, err := parseTargetSpec(args[1], app.Config.DefaultUser, app.Config.DefaultPort)
	if err != nil {
		return err
	}
	tc.KeyPath = targetKeyPath

	if err := app.Config.AddTarget(name, tc); err != nil {
		return err
	}
	if err := app.saveConfig(); err != nil {
		return err
	}

	PrintSuccess("Added target '%s' (%s@%s)", name, tc.User, tc.Host)

	if skipTargetTest {
		PrintInfo("Skipping SSH connection test (--skip-test)")
		printTargetNextSteps(name)
		return nil
	}

	if err := testAndConfigureSSH(cmd.Context(), app, name); err != nil {
		PrintWarning("SSH connection could not be established: %s", describeError(err))
		PrintInfo("You can test the connection later with: piprov target test %s", name)
	}

	printTargetNextSteps(name)
	return nil
}

func printTargetNextSteps(name string) {
	fmt.Println()
	fmt.Println("Next step:")
	fmt.Printf("  Run 'piprov probe %s' to identify the board\n", name)
}

func runTargetList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig(GetConfigFile())
	if err != nil {
		return err
	}

	names := cfg.ListTargets()
	if len(names) == 0 {
		PrintInfo("No targets configured")
		fmt.Println()
		fmt.Println("Add a target with:")
		fmt.Println("  piprov target add <name> <user@host>")
		return nil
	}

	fmt.Println("Configured targets:")
	fmt.Println()
	for _, name := range names {
		t := cfg.Targets[name]
		fmt.Printf("  %s\n", name)
		fmt.Printf("    Host: %s@%s:%d\n", t.User, t.Host, t.Port)
		if t.KeyPath != "" {
			fmt.Printf("    Key:  %s\n", t.KeyPath)
		}
		fmt.Println()
	}
	return nil
}

func runTargetRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := config.LoadGlobalConfig(GetConfigFile())
	if err != nil {
		return err
	}
	if err := cfg.RemoveTarget(name); err != nil {
		return err
	}
	if err := config.SaveGlobalConfig(cfg, GetConfigFile()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Removed target '%s'", name)
	return nil
}

func runTargetTest(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}
	if _, err := app.Config.GetTarget(args[0]); err != nil {
		return err
	}
	if err := testAndConfigureSSH(cmd.Context(), app, args[0]); err != nil {
		return errors.New(describeError(err))
	}
	return nil
}

// testAndConfigureSSH tests the connection to a configured target. When the
// configured key is rejected it offers the other keys found in ~/.ssh and
// saves the one that works.
func testAndConfigureSSH(ctx context.Context, app *appContext, name string) error {
	PrintInfo("Testing SSH connection...")

	rt, err := app.resolveTarget(name)
	if err != nil {
		return err
	}
	target, err := withSecret(rt.Target, "Password for "+rt.Target.Redacted())
	if err != nil {
		return err
	}

	orch := app.orchestrator()
	test := func(t ssh.Target) error {
		return connectTrusting(func(fp string) error {
			return orch.TestConnection(ctx, t, fp)
		})
	}

	err = test(target)
	if err == nil {
		PrintSuccess("SSH connection successful")
		return nil
	}

	var auth *ssh.AuthenticationError
	if !errors.As(err, &auth) {
		return err
	}
	PrintWarning("Authentication failed with the configured credentials")

	keys, derr := ssh.DiscoverKeys("")
	if derr != nil {
		return fmt.Errorf("failed to discover SSH keys: %w", derr)
	}

	var available []ssh.KeyInfo
	for _, key := range keys {
		if key.IsEncrypted {
			PrintVerbose("Skipping encrypted key: %s", key.Name)
			continue
		}
		if key.Path == target.KeyPath {
			continue
		}
		available = append(available, key)
	}
	if len(available) == 0 {
		return err
	}

	var working *ssh.KeyInfo
	if IsInteractive() {
		working = interactiveKeySelection(target, available, test)
	} else {
		working = autoTryKeys(target, available, test)
	}
	if working == nil {
		return fmt.Errorf("no working SSH key found: %w", err)
	}

	tc := app.Config.Targets[name]
	tc.KeyPath = working.Path
	app.Config.Targets[name] = tc
	if err := app.saveConfig(); err != nil {
		return err
	}

	PrintSuccess("Updated target config with key: %s", working.Path)
	return nil
}

// interactiveKeySelection prompts the user to select an SSH key
func interactiveKeySelection(target ssh.Target, keys []ssh.KeyInfo, test func(ssh.Target) error) *ssh.KeyInfo {
	options := make([]string, len(keys))
	for i, key := range keys {
		options[i] = fmt.Sprintf("%s (%s)", key.Name, key.Type)
	}

	fmt.Println()
	PrintInfo("Available SSH keys:")
	choice := PromptSelect("Select SSH key to use:", options)
	if choice < 0 {
		return nil
	}

	selected := &keys[choice]
	PrintInfo("Testing with %s...", selected.Path)

	target.KeyPath = selected.Path
	if err := test(target); err != nil {
		PrintError("Connection failed: %s", describeError(err))
		return nil
	}

	PrintSuccess("Connection successful!")
	return selected
}

// autoTryKeys tries available keys in order
func autoTryKeys(target ssh.Target, keys []ssh.KeyInfo, test func(ssh.Target) error) *ssh.KeyInfo {
	PrintInfo("Trying available SSH keys automatically...")

	for i := range keys {
		PrintVerbose("Trying %s...", keys[i].Name)
		target.KeyPath = keys[i].Path
		if err := test(target); err == nil {
			PrintSuccess("SSH connection successful with %s", keys[i].Name)
			return &keys[i]
		}
	}
	return nil
}
