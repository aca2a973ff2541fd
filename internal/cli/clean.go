package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/dashlaunch/internal/launcher"
	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// volume also removes the container runtime's venv volume, even when
	// the configured runtime is venv.
	volume bool
}

// cleanResult is the --json output of the clean command.
type cleanResult struct {
	VenvDir       string `json:"venvDir"`
	VenvRemoved   bool   `json:"venvRemoved"`
	VolumeRemoved bool   `json:"volumeRemoved"`
}

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the dashboard's virtual environment",
		Long: `Remove the virtual environment so the next launch recreates it from
scratch. With the container runtime (or --volume), the Docker volume
holding the container's environment is removed as well.

Examples:
  dashlaunch clean
  dashlaunch clean --home --volume`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.volume, "volume", false, "Also remove the container runtime's venv volume")

	return cmd
}

func runClean(cmd *cobra.Command, flags *cleanFlags) error {
	ctx := cmd.Context()

	// Step 1: Resolve the environment. Validation already refuses a venv
	// directory that is the work directory or one of its parents.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	l := launcher.New(cfg, newRunner())
	l.Manager().SetNoWait(envOpts.noWait)

	// Step 2: Remove the host environment under its lock. Remove refuses
	// any directory without pyvenv.cfg.
	result := &cleanResult{VenvDir: cfg.VenvPath()}
	result.VenvRemoved = l.Manager().Exists(result.VenvDir)
	if err := l.Manager().Remove(ctx, result.VenvDir); err != nil {
		return err
	}
	VerboseLog("Removed %s", result.VenvDir)

	// Step 3: The container runtime keeps its environment in a volume.
	if flags.volume || cfg.Runtime == model.RuntimeContainer {
		cli, err := connectDocker(ctx)
		if err != nil {
			return err
		}
		result.VolumeRemoved, err = cli.RemoveVolume(ctx, cfg.WorkDir)
		_ = cli.Close()
		if err != nil {
			return err
		}
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printCleanText(cmd.OutOrStdout(), result)
	return nil
}

func printCleanText(w io.Writer, result *cleanResult) {
	if result.VenvRemoved {
		fmt.Fprintf(w, "%s virtual environment %s\n", successText("Removed"), result.VenvDir)
	} else {
		fmt.Fprintf(w, "No virtual environment at %s\n", result.VenvDir)
	}
	if result.VolumeRemoved {
		fmt.Fprintf(w, "%s container volume\n", successText("Removed"))
	}
}
