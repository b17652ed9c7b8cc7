package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-package-reconciler/internal/config"
	"github.com/open-edge-platform/os-package-reconciler/internal/history"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/reconcile"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// Apply command flags
var (
	applyFile       string
	interactive     bool
	removeUnmanaged bool
	reportDir       string
	noHistory       bool
)

// confirmEntry asks the operator about one diverged entry. Tests replace it.
var confirmEntry = func(entry *ospackage.DesiredEntry) bool {
	ok := false
	if err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(entry.QText).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).Run(); err != nil {
		logger.Logger().Warnf("confirmation for %s aborted: %v", entry.Name, err)
		return false
	}
	return ok
}

// createApplyCommand creates the apply subcommand
func createApplyCommand() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply [flags]",
		Short: "Converge installed packages to a desired state",
		Long: `Apply verifies every entry of the desired-state document and remediates
the diverged ones: unmanaged instances are erased, install-only packages and
signing keys are installed, the rest are upgraded or reinstalled. Every
touched entry is verified again afterwards.`,
		Args: cobra.NoArgs,
		RunE: executeApply,
	}

	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Desired-state document")
	applyCmd.Flags().BoolVarP(&interactive, "interactive", "i", false,
		"Ask before changing each diverged package")
	applyCmd.Flags().BoolVar(&removeUnmanaged, "remove-unmanaged", false,
		"Erase installed packages the document does not mention")
	applyCmd.Flags().StringVar(&reportDir, "report-dir", "",
		"Write the list of modified packages to this directory")
	applyCmd.Flags().BoolVar(&noHistory, "no-history", false,
		"Do not record the pass in the history database")
	_ = applyCmd.RegisterFlagCompletionFunc("file", desiredFileCompletion)
	return applyCmd
}

// executeApply handles the apply command logic
func executeApply(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	entries, err := loadDesired(applyFile)
	if err != nil {
		return err
	}
	log.Infof("applying %d package entries from %s", len(entries), applyFile)
	checkHost(cmd.Context(), globalConfig)

	bar := progressbar.NewOptions(4,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription("remediating"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	opts := reconcile.RunOptions{
		RemoveUnmanaged: removeUnmanaged || globalConfig.Packages.RemoveUnmanaged,
		ContentModified: globalConfig.ContentModified,
		Progress: func(ev reconcile.ProgressEvent) {
			bar.Describe(ev.Step)
			_ = bar.Set(ev.Done)
		},
	}
	if interactive {
		opts.Confirm = confirmEntry
	}

	out := newTelemetry(cmd)
	defer out.Close()
	r := newReconciler(globalConfig, out)
	report, runErr := r.Run(cmd.Context(), entries, opts)
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	if report != nil {
		if err := writeModifiedReport(globalConfig, report); err != nil {
			log.Warnf("unable to write modified package report: %v", err)
		}
		if !noHistory {
			if err := recordHistory(cmd.Context(), globalConfig, report); err != nil {
				log.Warnf("unable to record pass history: %v", err)
			}
		}
		if err := renderReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("reconciliation aborted: %w", runErr)
	}
	if report.Err != nil || !report.Converged() {
		return fmt.Errorf("reconciliation finished with %d error(s)", len(report.Errors))
	}
	return nil
}

// writeModifiedReport writes the names of modified entries to the report
// directory, one file per pass. --report-dir wins over the configured
// directory; nothing is written when neither is set.
func writeModifiedReport(cfg *config.GlobalConfig, report *reconcile.PassReport) error {
	if reportDir != "" {
		cfg.ReportDir = reportDir
	}
	if cfg.ReportDir == "" {
		return nil
	}
	resolved, err := config.NewConfigHelpers(cfg).CreateReportDir()
	if err != nil {
		return err
	}
	logger.ReportPath = resolved

	list := logger.NewStringListReport("modified")
	for _, name := range report.Modified {
		list.Add(name)
	}
	path, err := list.WriteToFile(report.ID)
	if err != nil {
		return err
	}
	logger.Logger().Infof("modified package list written to %s", path)
	return nil
}

func recordHistory(ctx context.Context, cfg *config.GlobalConfig, report *reconcile.PassReport) error {
	helpers := config.NewConfigHelpers(cfg)
	if err := helpers.CreateHistoryDir(); err != nil {
		return err
	}
	path, err := helpers.HistoryDB()
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, report)
}
