package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/dashlaunch/internal/launcher"
	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// setupFlags holds the flag values for the setup command.
type setupFlags struct {
	reinstall bool
}

// NewSetupCommand creates the "setup" cobra command.
func NewSetupCommand() *cobra.Command {
	flags := &setupFlags{}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the environment and install requirements without launching",
		Long: `Create the virtual environment if it does not exist and install the
requirements, but do not start the dashboard. Useful to warm up a machine
ahead of time.

Only the venv runtime is prepared this way; the container runtime sets up
its volume on the first run.

Examples:
  dashlaunch setup
  dashlaunch setup --home --reinstall`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.reinstall, "reinstall", false, "Reinstall requirements even if unchanged")

	return cmd
}

func runSetup(cmd *cobra.Command, flags *setupFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Runtime == model.RuntimeContainer {
		return model.NewCLIError(model.ExitGeneralError,
			"setup only prepares the venv runtime; the container runtime installs on its first run")
	}

	l := launcher.New(cfg, newRunner())
	l.SetLogger(VerboseLog)
	l.Manager().SetNoWait(envOpts.noWait)
	// pip's progress goes to stderr so --json output stays parseable.
	l.SetIO(cmd.InOrStdin(), cmd.ErrOrStderr(), cmd.ErrOrStderr())

	result, err := l.Setup(cmd.Context(), flags.reinstall)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printSetupText(cmd.OutOrStdout(), result)
	return nil
}

func printSetupText(w io.Writer, result *launcher.SetupResult) {
	if result.Created {
		fmt.Fprintf(w, "%s virtual environment %s\n", successText("Created"), result.VenvDir)
	} else {
		fmt.Fprintf(w, "Reusing virtual environment %s\n", result.VenvDir)
	}
	if result.Installed {
		fmt.Fprintf(w, "%s requirements\n", successText("Installed"))
	} else {
		fmt.Fprintln(w, "Requirements are up to date")
	}
}
