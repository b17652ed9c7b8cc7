package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] DESIRED_FILE",
		Short: "Validate a desired-state document",
		Long: `Validate a desired-state document against the schema without touching
the package database. Every entry is also checked for the attributes that
verification and installation need.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeValidate,
		ValidArgsFunction: desiredFileCompletion,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	desiredFile := args[0]

	log.Infof("validating desired-state file: %s", desiredFile)
	entries, err := loadDesired(desiredFile)
	if err != nil {
		return fmt.Errorf("desired-state validation failed: %w", err)
	}

	policy := globalConfig.Policy()
	problems := 0
	for _, e := range entries {
		policy.Resolve(e)
		if _, err := ospackage.Normalize(e); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", failMsg("%v", err))
			problems++
			continue
		}
		if err := ospackage.CanVerify(e); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", failMsg("%v", err))
			problems++
			continue
		}
		if err := ospackage.CanInstall(e); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", warnMsg("%v (verify only)", err))
		}
	}
	if problems > 0 {
		return fmt.Errorf("%d of %d entries are invalid", problems, len(entries))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", okMsg("%s: %d package entries", desiredFile, len(entries)))
	return nil
}
