package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yoanbernabeu/piprov/internal/history"
	"github.com/yoanbernabeu/piprov/internal/provision"
	"github.com/yoanbernabeu/piprov/internal/script"
	"github.com/yoanbernabeu/piprov/internal/security"
	"github.com/yoanbernabeu/piprov/internal/ssh"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run an operation on one or more hosts",
	Long: `Runs a catalog operation on one or more targets, streaming remote output.
Targets are configured names or user@host[:port]; they default to $PIPROV_TARGET.

Each target gets its own SSH session. With several targets the output lines
are prefixed with the host they come from.

Examples:
  piprov provision usb kitchen --vol /mnt/usb
  piprov provision nfs kitchen garage --vol /mnt/nas --share nas:/export/media
  piprov provision update kitchen garage attic --parallel 2`,
}

var (
	provisionParallel int
	provisionTrustFP  string
	provisionForce    bool
	provisionWait     bool
)

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.PersistentFlags().IntVar(&provisionParallel, "parallel", 0, "Hosts provisioned at once (default from config)")
	provisionCmd.PersistentFlags().StringVar(&provisionTrustFP, "trust-fingerprint", "", "Pin an unknown host key matching this SHA256 fingerprint")
	provisionCmd.PersistentFlags().BoolVarP(&provisionForce, "force", "f", false, "Skip confirmation for operations that erase data")
	provisionCmd.PersistentFlags().BoolVar(&provisionWait, "wait", false, "Wait for rebooted hosts and started containers to be up")

	for _, op := range provision.DefaultCatalog().List() {
		provisionCmd.AddCommand(newOperationCmd(op))
	}
}

// newOperationCmd builds the subcommand running op, with one flag per operator parameter
func newOperationCmd(op provision.Operation) *cobra.Command {
	values := make(map[string]*string)

	cmd := &cobra.Command{
		Use:   op.Name + " [target...]",
		Short: op.Summary,
		Long:  operationHelp(op),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make(map[string]string)
			for name, v := range values {
				if *v != "" {
					params[name] = *v
				}
			}
			return runOperation(cmd.Context(), op, args, params)
		},
	}

	addParamFlags(cmd.Flags(), op, values)
	return cmd
}

// addParamFlags registers a string flag per non-secret parameter of op
func addParamFlags(flags *pflag.FlagSet, op provision.Operation, values map[string]*string) {
	for _, p := range op.UserParams() {
		if p.Secret {
			continue
		}
		usage := p.Usage
		if p.Required {
			usage += " (required)"
		}
		values[p.Name] = flags.String(flagName(p.Name), p.Default, usage)
	}
}

func operationHelp(op provision.Operation) string {
	var b strings.Builder
	b.WriteString(op.Summary + ".\n")

	if op.PreCheck != nil {
		b.WriteString("\nA read-only check runs first; nothing is changed when it fails (" + op.PreCheck.Reason + ").\n")
	}
	if op.RebootsOnSuccess {
		b.WriteString("\nThe host reboots at the end; the dropped connection is expected.\n")
	}
	if op.Destructive {
		b.WriteString("\nThis operation erases data: it asks for confirmation unless --force or --yes is set.\n")
	}

	var secrets []string
	for _, p := range op.UserParams() {
		if p.Secret {
			secrets = append(secrets, fmt.Sprintf("  %-24s %s", secretEnv(p.Name), p.Usage))
		}
	}
	if len(secrets) > 0 {
		b.WriteString("\nSecret parameters are prompted for, or read from:\n")
		b.WriteString(strings.Join(secrets, "\n") + "\n")
	}
	return b.String()
}

// flagName maps a parameter name to its flag: share_user becomes --share-user
func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}

// secretEnv is the environment variable holding a secret parameter
func secretEnv(param string) string {
	return "PIPROV_" + strings.ToUpper(param)
}

// resolveSecretParams fills secret parameters from the environment or a prompt
func resolveSecretParams(op provision.Operation, params map[string]string, getenv func(string) string) error {
	for _, p := range op.UserParams() {
		if !p.Secret || params[p.Name] != "" {
			continue
		}
		if v := getenv(secretEnv(p.Name)); v != "" {
			params[p.Name] = v
			continue
		}
		if !p.Required {
			continue
		}
		if !IsInteractive() {
			return fmt.Errorf("%s requires %s (set %s)", op.Name, p.Name, secretEnv(p.Name))
		}
		v, err := PromptSecret(p.Usage)
		if err != nil {
			return err
		}
		params[p.Name] = v
	}
	return nil
}

func runOperation(ctx context.Context, op provision.Operation, args []string, params map[string]string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := loadApp()
	if err != nil {
		return err
	}

	specs := args
	if len(specs) == 0 {
		specs = []string{""}
	}

	targets := make([]ssh.Target, 0, len(specs))
	for _, spec := range specs {
		rt, err := app.resolveTarget(spec)
		if err != nil {
			return err
		}
		t, err := withSecret(rt.Target, "Password for "+rt.Target.Redacted())
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	if err := resolveSecretParams(op, params, os.Getenv); err != nil {
		return err
	}

	if op.Destructive && !provisionForce && !IsYesMode() {
		if !IsInteractive() {
			return fmt.Errorf("%s erases data: use --force or --yes to confirm", op.Name)
		}
		PrintWarning("%s will erase data on: %s", op.Name, joinTargets(targets))
		if !PromptConfirm("Continue?") {
			PrintInfo("Cancelled")
			return nil
		}
	}

	sinks := []provision.ProgressSink{
		provision.NewWriterSink(os.Stdout, len(targets) > 1),
		provision.LogSink{Logger: logger},
	}
	if store, err := app.openHistory(); err != nil {
		PrintWarning("Runs will not be recorded: %v", err)
	} else {
		defer store.Close()
		sinks = append(sinks, history.NewSink(store, logger))
	}
	orch := app.orchestrator(sinks...)

	reqs := make([]provision.Request, len(targets))
	for i, t := range targets {
		reqs[i] = provision.Request{
			Operation:        op.Name,
			Target:           t,
			Params:           params,
			TrustFingerprint: provisionTrustFP,
		}
	}

	PrintVerbose("Parameters: %s", paramsSummary(op, params))

	parallel := provisionParallel
	if parallel <= 0 {
		parallel = app.Config.MaxParallel
	}

	var results []provision.Result
	if len(reqs) == 1 {
		results = []provision.Result{executeTrusting(ctx, orch, reqs[0])}
	} else {
		PrintInfo("Running %s on %d targets (%d at a time)...", op.Name, len(reqs), parallel)
		results = orch.ExecuteAll(ctx, reqs, parallel)
	}

	err = summarize(results)
	if provisionWait {
		if n := waitHealthy(ctx, orch, op, targets, results); n > 0 && err == nil {
			err = fmt.Errorf("%d host(s) did not become healthy", n)
		}
	}
	return err
}

// waitHealthy waits, after each successful run, for the host to come back
// from its reboot or for the container the operation started. It returns
// how many checks did not pass.
func waitHealthy(ctx context.Context, orch *provision.Orchestrator, op provision.Operation, targets []ssh.Target, results []provision.Result) int {
	if !op.RebootsOnSuccess && op.Container == "" {
		return 0
	}

	unhealthy := 0
	for i, res := range results {
		if !res.OK() {
			continue
		}

		hc := orch.NewHealthChecker(targets[i], "")
		var (
			hr  *provision.HealthResult
			err error
		)
		if op.RebootsOnSuccess {
			PrintInfo("Waiting for %s to come back...", res.Target)
			hr, err = hc.WaitForHost(ctx)
		} else {
			PrintInfo("Waiting for container %s on %s...", op.Container, res.Target)
			hr, err = hc.WaitForContainer(ctx, op.Container)
		}

		switch {
		case err != nil:
			unhealthy++
			PrintWarning("%s: %s", res.Target, describeError(err))
		case hr.Healthy:
			PrintSuccess("%s: %s after %s", res.Target, hr.Message, hr.Elapsed.Round(time.Second))
		default:
			unhealthy++
			PrintWarning("%s: %s", res.Target, hr.Message)
		}
	}
	return unhealthy
}

// executeTrusting runs req and, when the host key is unknown and the
// operator accepts it, runs it again pinning the key
func executeTrusting(ctx context.Context, orch *provision.Orchestrator, req provision.Request) provision.Result {
	var res provision.Result
	_ = connectTrusting(func(fp string) error {
		if fp != "" {
			req.TrustFingerprint = fp
		}
		res = orch.Execute(ctx, req)
		return res.Err
	})
	return res
}

func joinTargets(targets []ssh.Target) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Redacted()
	}
	return strings.Join(names, ", ")
}

// summarize prints one line per result and fails when any did not succeed
func summarize(results []provision.Result) error {
	fmt.Println()
	failed := 0
	for _, res := range results {
		switch res.Status {
		case provision.StatusSuccess:
			PrintSuccess("%s on %s completed in %s", res.Operation, res.Target, res.Duration().Round(100*time.Millisecond))
		case provision.StatusPreconditionNotMet:
			failed++
			PrintWarning("%s on %s skipped: %s", res.Operation, res.Target, res.Reason)
		default:
			failed++
			PrintError("%s on %s failed: %s", res.Operation, res.Target, resultError(res))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d operations did not succeed", failed, len(results))
	}
	return nil
}

func resultError(res provision.Result) string {
	if res.Err == nil {
		return res.Status.String()
	}
	var remote *provision.RemoteCommandError
	if errors.As(res.Err, &remote) {
		return security.SanitizeCommandForLog(remote.Error())
	}
	return describeError(res.Err)
}

// paramsSummary renders operator parameters for verbose output, secrets masked
func paramsSummary(op provision.Operation, params map[string]string) string {
	var parts []string
	for _, p := range op.UserParams() {
		v, ok := params[p.Name]
		if !ok {
			continue
		}
		if p.Secret {
			v = script.RedactedValue
		}
		parts = append(parts, flagName(p.Name)+"="+v)
	}
	return strings.Join(parts, " ")
}
