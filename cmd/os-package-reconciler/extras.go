package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

var (
	extrasFile   string
	extrasFormat string = "text"
)

// createExtrasCommand creates the extras subcommand
func createExtrasCommand() *cobra.Command {
	extrasCmd := &cobra.Command{
		Use:   "extras [flags]",
		Short: "List installed packages the desired state does not mention",
		Args:  cobra.NoArgs,
		RunE:  executeExtras,
	}
	extrasCmd.Flags().StringVarP(&extrasFile, "file", "f", "", "Desired-state document")
	extrasCmd.Flags().StringVar(&extrasFormat, "format", "text", "Output format: text or json")
	_ = extrasCmd.RegisterFlagCompletionFunc("file", desiredFileCompletion)
	return extrasCmd
}

func executeExtras(cmd *cobra.Command, args []string) error {
	entries, err := loadDesired(extrasFile)
	if err != nil {
		return err
	}
	checkHost(cmd.Context(), globalConfig)

	out := newTelemetry(cmd)
	defer out.Close()
	r := newReconciler(globalConfig, out)
	st, err := r.NewState(cmd.Context())
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	for _, e := range entries {
		r.Policy().Resolve(e)
	}
	extras := r.FindExtraPackages(st, entries)

	switch extrasFormat {
	case "json":
		out := make([]extraPackage, 0, len(extras))
		for _, e := range extras {
			out = append(out, extraPackage{Name: e.Name, Kind: e.Kind.String(), Installed: instanceList(e)})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	case "text":
		return renderExtras(cmd.OutOrStdout(), extras)
	default:
		return fmt.Errorf("invalid --format %q (expected text|json)", extrasFormat)
	}
}

type extraPackage struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Installed []string `json:"installed"`
}

func instanceList(e *ospackage.DesiredEntry) []string {
	out := make([]string, 0, len(e.Instances))
	for _, inst := range e.Instances {
		out = append(out, inst.EVRA())
	}
	return out
}
