package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/constants"
	"github.com/yoanbernabeu/piprov/internal/history"
	"github.com/yoanbernabeu/piprov/internal/provision"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs",
	Long: `Lists recent operation runs, newest first.

Examples:
  piprov history
  piprov history --target 192.168.1.50 --limit 5
  piprov history --cleanup`,
	RunE: runHistory,
}

var (
	historyTarget  string
	historyLimit   int
	historyCleanup bool
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historyTarget, "target", "t", "", "Only runs whose user@host:port contains this text")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", constants.DefaultHistoryLimit, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historyCleanup, "cleanup", false, "Delete runs older than the retention period")
}

func runHistory(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}

	store, err := app.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if historyCleanup {
		days := app.Config.HistoryRetentionDays
		removed, err := store.Cleanup(days)
		if err != nil {
			return err
		}
		PrintSuccess("Removed %d run(s) older than %d days", removed, days)
		return nil
	}

	runs, err := store.ListRecent(historyLimit, historyTarget)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		PrintInfo("No runs recorded")
		return nil
	}

	for _, r := range runs {
		printRun(r)
	}
	return nil
}

func printRun(r history.Run) {
	icon := "❌"
	if status, err := provision.ParseStatus(r.Status); err == nil {
		switch status {
		case provision.StatusSuccess:
			icon = "✅"
		case provision.StatusPreconditionNotMet:
			icon = "⚠️ "
		}
	}

	fmt.Printf("%s %s  %-10s %s  (%s)\n",
		icon,
		r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		r.Operation,
		r.Target,
		r.Duration.Round(time.Second))

	var details []string
	if r.Reason != "" {
		details = append(details, r.Reason)
	}
	if r.Error != "" {
		details = append(details, r.Error)
	}
	if r.ExitStatus.Valid {
		details = append(details, fmt.Sprintf("exit %d", r.ExitStatus.Int64))
	}
	if len(details) > 0 {
		fmt.Printf("   %s\n", strings.Join(details, "; "))
	}
	if IsVerbose() && r.LastLine != "" {
		fmt.Printf("   last output: %s\n", r.LastLine)
	}
}
