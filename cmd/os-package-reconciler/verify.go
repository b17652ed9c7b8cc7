package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-package-reconciler/internal/reconcile"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// Verify command flags
var (
	verifyFile   string
	verifyFormat string = "text" // "text" | "json"
)

// createVerifyCommand creates the verify subcommand
func createVerifyCommand() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify [flags]",
		Short: "Report how installed packages differ from a desired state",
		Long: `Verify snapshots the installed packages, checks every entry of the
desired-state document and prints the action each diverged entry needs.
Nothing on the host is changed.`,
		Args: cobra.NoArgs,
		RunE: executeVerify,
	}

	verifyCmd.Flags().StringVarP(&verifyFile, "file", "f", "", "Desired-state document")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
	_ = verifyCmd.RegisterFlagCompletionFunc("file", desiredFileCompletion)
	return verifyCmd
}

// executeVerify handles the verify command logic
func executeVerify(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	format := strings.ToLower(verifyFormat)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid --format %q (expected text|json)", verifyFormat)
	}

	entries, err := loadDesired(verifyFile)
	if err != nil {
		return err
	}
	log.Infof("verifying %d package entries from %s", len(entries), verifyFile)

	checkHost(cmd.Context(), globalConfig)
	out := newTelemetry(cmd)
	defer out.Close()
	r := newReconciler(globalConfig, out)
	report, err := r.Run(cmd.Context(), entries, reconcile.RunOptions{
		DryRun:          true,
		ContentModified: globalConfig.ContentModified,
	})
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return renderReport(cmd.OutOrStdout(), report)
}
