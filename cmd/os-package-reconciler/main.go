package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/open-edge-platform/os-package-reconciler/internal/config"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage/rpmutils"
	"github.com/open-edge-platform/os-package-reconciler/internal/reconcile"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/network"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/system"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/telemetry"
)

// Global command flags
var (
	configFile string
	logLevel   string
	verbose    bool
	rpmBin     string
	rpmRoot    string
	useSudo    bool
	traceSpans bool
)

// globalConfig is loaded by the logging hook before any subcommand runs.
var globalConfig = config.DefaultGlobalConfig()

func main() {
	rootCmd := createRootCommand()
	if err := rootCmd.Execute(); err != nil {
		logger.Logger().Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// createRootCommand builds the command tree
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "os-package-reconciler",
		Short: "Converge installed rpm packages to a desired state",
		Long: `os-package-reconciler compares the rpm packages installed on a host with a
desired-state document, reports every divergence and, when asked, installs,
upgrades, reinstalls or removes package instances until the host matches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Global configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rpmBin, "rpm", "",
		"rpm binary to run (overrides config)")
	rootCmd.PersistentFlags().StringVar(&rpmRoot, "root", "",
		"Install root passed to rpm --root (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&useSudo, "sudo", false,
		"Run mutating rpm commands through sudo")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false,
		"Print a timing line for every reconciliation step to stderr")

	rootCmd.AddCommand(createVerifyCommand())
	rootCmd.AddCommand(createApplyCommand())
	rootCmd.AddCommand(createExtrasCommand())
	rootCmd.AddCommand(createHistoryCommand())
	rootCmd.AddCommand(createValidateCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks makes every subcommand load configuration and set up
// logging before it runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = setupCommand
	}
}

func setupCommand(cmd *cobra.Command, args []string) error {
	if err := bindEnvToFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.LoadGlobalConfig(configFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = cfg.Logging.Level
	}
	if err := logger.Init(level); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	cfg.Logging.Level = level
	globalConfig = cfg
	return nil
}

// envName maps a flag name to its OSPKG_ environment variable.
func envName(flag string) string {
	return config.EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// bindEnvToFlags sets every flag the user did not pass from its environment
// variable, if present.
func bindEnvToFlags(flags *pflag.FlagSet) error {
	var errs []string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "help" {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if err := flags.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", envName(f.Name), err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.GlobalConfig) {
	flags := cmd.Flags()
	if flags.Changed("rpm") {
		cfg.RPM.Binary = rpmBin
	}
	if flags.Changed("root") {
		cfg.RPM.Root = rpmRoot
	}
	if flags.Changed("sudo") {
		cfg.RPM.Sudo = useSudo
	}
}

// resolveRequestedLogLevel returns the level asked for on the command line,
// or "" when the configuration should decide.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Changed {
		if v, err := cmd.Flags().GetBool("verbose"); err == nil && v {
			return "debug"
		}
	}
	return ""
}

// newTelemetry returns the span output for one command. Spans always reach
// the debug log; --trace also prints them to the command's stderr.
func newTelemetry(cmd *cobra.Command) *telemetry.Output {
	if traceSpans {
		return telemetry.NewOutput(cmd.ErrOrStderr())
	}
	return telemetry.NewOutput(nil)
}

// newReconciler wires the rpm backend configured in cfg.
func newReconciler(cfg *config.GlobalConfig, out *telemetry.Output) *reconcile.Reconciler {
	backend := rpmutils.NewBackend(cfg.RPM.Binary, cfg.RPM.Root, cfg.RPM.Sudo)
	if cfg.RPM.CheckRemote {
		backend.RemoteClient = network.NewSecureHTTPClient()
	}
	return reconcile.New(backend, cfg.Policy(), reconcile.WithTracerProvider(out.Provider()))
}

// checkHost warns when the running host does not look like an rpm system.
// An alternate root is not checked.
func checkHost(ctx context.Context, cfg *config.GlobalConfig) {
	if cfg.RPM.Root != "" && cfg.RPM.Root != "/" {
		return
	}
	if _, err := system.RequireRPMHost(ctx); err != nil {
		logger.Logger().Warnf("%v", err)
	}
}

// desiredFileCompletion completes desired-state document names
func desiredFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"yaml", "yml", "json", "gz", "zst", "xz"}, cobra.ShellCompDirectiveFilterFileExt
}

func loadDesired(path string) ([]*ospackage.DesiredEntry, error) {
	if path == "" {
		return nil, fmt.Errorf("no desired-state file provided, use --file")
	}
	return config.LoadDesiredState(path)
}
