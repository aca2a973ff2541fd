package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/dashlaunch/internal/config"
	"github.com/shinji-kodama/dashlaunch/internal/docker"
	"github.com/shinji-kodama/dashlaunch/internal/launcher"
	"github.com/shinji-kodama/dashlaunch/internal/model"
	"github.com/shinji-kodama/dashlaunch/internal/venv"
)

// envFlags selects and overrides the launch environment. They are
// persistent on the root command, so every subcommand resolves the same
// work directory the same way.
type envFlags struct {
	// dir is the work directory holding requirements.txt and the entry
	// point. Empty means the current directory.
	dir string

	// home selects $HOME/logeagle instead of dir.
	home bool

	runtime      string
	python       string
	requirements string
	entrypoint   string
	venvDir      string
	image        string

	// noWait fails with ExitLockBusy instead of waiting for another
	// dashlaunch working on the same environment.
	noWait bool
}

var envOpts envFlags

// newRunner creates the process runner for launches. Tests replace it.
var newRunner = func() venv.Runner { return venv.NewExecRunner() }

func addEnvFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&envOpts.dir, "dir", "C", "", "Work directory (default: current directory)")
	f.BoolVar(&envOpts.home, "home", false, "Use $HOME/"+config.HomeDirName+" as the work directory")
	f.StringVar(&envOpts.runtime, "runtime", "", "Runtime: venv or container")
	f.StringVar(&envOpts.python, "python", "", "Base Python interpreter used to create the environment")
	f.StringVar(&envOpts.requirements, "requirements", "", "Requirements file")
	f.StringVar(&envOpts.entrypoint, "entrypoint", "", "Dashboard script")
	f.StringVar(&envOpts.venvDir, "venv", "", "Virtual environment directory")
	f.StringVar(&envOpts.image, "image", "", "Python image for the container runtime")
	f.BoolVar(&envOpts.noWait, "no-wait", false, "Fail instead of waiting when the environment is locked")
	cmd.MarkFlagsMutuallyExclusive("dir", "home")
}

// runFlags holds the flag values for the run command (and the root
// command, which behaves the same).
type runFlags struct {
	reinstall bool
}

// NewRunCommand creates the "run" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] [--] [args...]",
		Short: "Prepare the environment and start the dashboard",
		Long: `Create the virtual environment if needed, install requirements when they
changed, then start the dashboard with the given arguments.

This is what dashlaunch does when no subcommand is given.

Examples:
  dashlaunch run
  dashlaunch run --home --debug
  dashlaunch run status
  dashlaunch run --reinstall`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, args, flags)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&flags.reinstall, "reinstall", false, "Reinstall requirements even if unchanged")

	return cmd
}

// runLaunch is the main logic function for the root and run commands.
// The dashboard's exit status is returned as a passthrough CLIError so that
// Execute exits with it.
func runLaunch(cmd *cobra.Command, args []string, flags *runFlags) error {
	ctx := cmd.Context()

	// Step 1: Resolve the work directory and its configuration.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 2: Build the launcher for the selected runtime. For the
	// container runtime this also checks that Docker is reachable.
	l, closeFn, err := newLauncher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	l.SetIO(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())

	// Step 3: Prepare the environment and run the dashboard. args are
	// exactly what followed dashlaunch's own flags.
	code, err := l.Launch(ctx, args, flags.reinstall)
	if err != nil {
		return err
	}
	VerboseLog("Dashboard exited with status %d", code)

	// Step 4: Exit with the dashboard's status, without a message.
	if code != int(model.ExitSuccess) {
		return model.NewExitStatus(code)
	}
	return nil
}

// loadConfig resolves the work directory, reads its dashlaunch.jsonc and
// applies flag overrides. Flags win over the file.
func loadConfig() (*config.Config, error) {
	workDir, err := config.ResolveWorkDir(envOpts.dir, envOpts.home)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to resolve work directory", err)
	}
	VerboseLog("Work directory: %s", workDir)

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to load configuration", err)
	}
	if err := applyEnvFlags(cfg, envOpts); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvFlags copies every non-empty override into cfg and re-validates.
func applyEnvFlags(cfg *config.Config, opts envFlags) error {
	if opts.runtime != "" {
		rt, err := model.ParseRuntime(opts.runtime)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "invalid --runtime", err)
		}
		cfg.Runtime = rt
	}
	overrides := []struct {
		value  string
		target *string
	}{
		{opts.python, &cfg.Python},
		{opts.requirements, &cfg.Requirements},
		{opts.entrypoint, &cfg.Entrypoint},
		{opts.venvDir, &cfg.VenvDir},
		{opts.image, &cfg.Image},
	}
	for _, o := range overrides {
		if o.value != "" {
			*o.target = o.value
		}
	}
	if err := cfg.Validate(); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid configuration", err)
	}
	return nil
}

// newLauncher builds a Launcher for cfg. For the container runtime it also
// connects to Docker; the returned close function releases that client.
func newLauncher(ctx context.Context, cfg *config.Config) (*launcher.Launcher, func(), error) {
	l := launcher.New(cfg, newRunner())
	l.SetLogger(VerboseLog)
	l.Manager().SetNoWait(envOpts.noWait)

	if cfg.Runtime != model.RuntimeContainer {
		return l, func() {}, nil
	}

	cli, err := connectDocker(ctx)
	if err != nil {
		return nil, nil, err
	}
	l.SetContainerBackend(cli)
	return l, func() { _ = cli.Close() }, nil
}

// connectDocker creates a Docker client and checks the daemon answers.
func connectDocker(ctx context.Context) (*docker.Client, error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	VerboseLog("Connected to Docker daemon")
	return cli, nil
}

// describeRuntime is used in text output.
func describeRuntime(cfg *config.Config) string {
	if cfg.Runtime == model.RuntimeContainer {
		return fmt.Sprintf("%s (%s)", cfg.Runtime, cfg.Image)
	}
	return fmt.Sprintf("%s (%s)", cfg.Runtime, cfg.Python)
}
