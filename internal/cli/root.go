// Package cli implements the cobra-based CLI commands for dashlaunch.
//
// The root command launches the dashboard, so `dashlaunch` on its own does
// what the old launcher scripts did. The setup, status and clean
// subcommands are each defined in their own file within this package.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// The launched dashboard's own output is never reformatted.
	jsonOutput bool

	// verbose enables progress logging on stderr.
	verbose bool

	// noColor disables colored prefixes even on a terminal.
	noColor bool
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// Unlike a plain command group, the root command runs the dashboard itself.
// Its flags are shared with the run subcommand.
func NewRootCommand() *cobra.Command {
	flags := &runFlags{}

	rootCmd := &cobra.Command{
		Use:   "dashlaunch [flags] [--] [args...]",
		Short: "Launch the log dashboard in its own Python environment",
		Long: `dashlaunch prepares a Python virtual environment next to the dashboard,
installs its requirements and starts the dashboard with any extra arguments.

The environment is created once and reused. Requirements are reinstalled
only when requirements.txt changes (or with --reinstall). The dashboard's
exit status becomes dashlaunch's exit status.

Everything from the first argument dashlaunch does not recognise is passed
to the dashboard unmodified, flags included. A subcommand is only
recognised as the first argument; use "dashlaunch -- status" or
"dashlaunch run status" to hand the dashboard a word that names one.

Examples:
  dashlaunch
  dashlaunch --home
  dashlaunch --port 8060 --debug
  dashlaunch --runtime container`,

		// The dashboard's arguments can look like anything. launchArgs has
		// already moved them behind "--".
		Args: cobra.ArbitraryArgs,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		// Version is displayed when --version flag is used.
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureColor(noColor)
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, args, flags)
		},
	}
	rootCmd.Flags().SetInterspersed(false)

	// PersistentFlags are inherited by all subcommands, so the global and
	// environment flags need no re-declaration.
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	addEnvFlags(rootCmd)

	rootCmd.Flags().BoolVar(&flags.reinstall, "reinstall", false, "Reinstall requirements even if unchanged")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewSetupCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewCleanCommand())

	return rootCmd
}

// Execute runs the root command and exits with the resulting code.
// This is the main entry point called from main.go.
func Execute(rootCmd *cobra.Command) {
	// Step 1: Separate dashlaunch's own flags from the dashboard's.
	rootCmd.SetArgs(launchArgs(rootCmd, os.Args[1:]))

	// Step 2: Run with a context that an interrupt cancels.
	ctx, stop := notifyContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()

	os.Exit(handleError(err, os.Stdout, os.Stderr))
}

// handleError reports err and returns the process exit code for it.
//
//   - nil exits 0.
//   - A dashboard exit status is returned as-is with nothing printed; the
//     dashboard has already spoken for itself.
//   - A missing requirements file or entry point is reported on stdout,
//     where the launcher scripts always printed it, and exits 1.
//   - CLIError types carry their own exit codes; other errors exit 1.
func handleError(err error, stdout, stderr io.Writer) int {
	if err == nil {
		return int(model.ExitSuccess)
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) && cliErr.IsPassthrough() {
		return int(cliErr.Code)
	}

	var missing *model.MissingFileError
	if errors.As(err, &missing) {
		printError(stdout, missing.Error(), nil)
		return int(missing.ExitCode())
	}

	if cliErr != nil {
		printError(stderr, cliErr.Message, cliErr.Err)
		return int(cliErr.Code)
	}

	printError(stderr, err.Error(), nil)
	return int(model.ExitGeneralError)
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "%s %s: %v\n", errorPrefix(), message, underlying)
	} else {
		fmt.Fprintf(w, "%s %s\n", errorPrefix(), message)
	}
}

// VerboseLog prints a message to stderr only when verbose mode is enabled.
// It is also handed to the launcher as its progress logger.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, verbosePrefix()+" "+format+"\n", args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
