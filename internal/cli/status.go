package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/dashlaunch/internal/launcher"
	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// NewStatusCommand creates the "status" cobra command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the dashboard environment",
		Long: `Show the work directory, the interpreter, whether the virtual environment
exists and whether its installed requirements match requirements.txt.
Nothing is created or installed.

With the container runtime, dashboard containers for the work directory
are listed too.

Examples:
  dashlaunch status
  dashlaunch status --home --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	l := launcher.New(cfg, newRunner())
	l.SetLogger(VerboseLog)

	status, err := l.Status(ctx)
	if err != nil {
		return err
	}

	// Docker being down is worth a note, not a failure, for a read-only
	// report.
	if cfg.Runtime == model.RuntimeContainer {
		if cli, err := connectDocker(ctx); err != nil {
			VerboseLog("Skipping container listing: %v", err)
		} else {
			status.Containers, err = cli.ListManagedContainers(ctx, cfg.WorkDir)
			_ = cli.Close()
			if err != nil {
				return err
			}
		}
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), status)
	}
	printStatusText(cmd.OutOrStdout(), status, describeRuntime(cfg))
	return nil
}

// printStatusText outputs the status as an aligned key/value list.
func printStatusText(w io.Writer, st *model.EnvStatus, runtime string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Work dir:\t%s\n", st.WorkDir)
	fmt.Fprintf(tw, "Runtime:\t%s\n", runtime)

	python := st.PythonVersion
	if python == "" {
		python = warnText("not found")
	}
	fmt.Fprintf(tw, "Python:\t%s\n", python)

	fmt.Fprintf(tw, "Virtual env:\t%s (%s)\n", st.VenvDir, presence(st.VenvExists))
	fmt.Fprintf(tw, "Requirements:\t%s (%s)\n", st.RequirementsPath, requirementsState(st))
	fmt.Fprintf(tw, "Entry point:\t%s (%s)\n", st.EntrypointPath, presence(st.EntrypointExists))

	if st.State != nil && !st.State.InstalledAt.IsZero() {
		fmt.Fprintf(tw, "Installed at:\t%s\n", st.State.InstalledAt.Local().Format(time.RFC3339))
	}
	if st.DashboardPort > 0 {
		fmt.Fprintf(tw, "Dashboard URL:\thttp://localhost:%d\n", st.DashboardPort)
	}
	if len(st.PortsInUse) > 0 {
		fmt.Fprintf(tw, "Ports in use:\t%s\n", formatPorts(st.PortsInUse))
	}
	_ = tw.Flush()

	if len(st.Containers) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Containers:")
		ctw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(ctw, "  NAME\tSTATUS\tURL\tID")
		for _, c := range st.Containers {
			id := c.ContainerID
			if len(id) > 12 {
				id = id[:12]
			}
			url := c.URL
			if url == "" {
				url = "-"
			}
			fmt.Fprintf(ctw, "  %s\t%s\t%s\t%s\n", c.ContainerName, c.Status, url, id)
		}
		_ = ctw.Flush()
	}
}

// formatPorts joins ports with commas, truncating long lists.
func formatPorts(ports []int) string {
	const maxShown = 8
	strs := make([]string, 0, len(ports))
	for _, p := range ports {
		strs = append(strs, strconv.Itoa(p))
	}
	if len(strs) > maxShown {
		return fmt.Sprintf("%s, ... (%d total)", strings.Join(strs[:maxShown], ", "), len(strs))
	}
	return strings.Join(strs, ", ")
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return warnText("missing")
}

// requirementsState summarises the requirements file against the install
// record in the environment.
func requirementsState(st *model.EnvStatus) string {
	var parts []string
	if !st.RequirementsExists {
		return warnText("missing")
	}
	parts = append(parts, "present")
	switch {
	case st.State == nil || st.State.RequirementsSHA256 == "":
		parts = append(parts, warnText("not installed"))
	case st.UpToDate:
		parts = append(parts, successText("installed"))
	default:
		parts = append(parts, warnText("changed since install"))
	}
	return strings.Join(parts, ", ")
}
