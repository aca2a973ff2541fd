package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// configureColor decides once per invocation whether prefixes are colored.
// Error and verbose output go to stderr, so that is the stream checked;
// fatih/color on its own only looks at stdout. NO_COLOR is still honoured
// by the color package itself.
func configureColor(disable bool) {
	if disable || !isTerminal(os.Stderr) {
		color.NoColor = true
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func errorPrefix() string {
	return color.New(color.FgRed, color.Bold).Sprint("Error:")
}

func verbosePrefix() string {
	return color.New(color.FgHiBlack).Sprint("[verbose]")
}

func successText(s string) string {
	return color.New(color.FgGreen).Sprint(s)
}

func warnText(s string) string {
	return color.New(color.FgYellow).Sprint(s)
}

// notifyContext returns a context cancelled on the first interrupt or
// terminate signal. The launcher forwards the cancellation to the dashboard
// as an interrupt and still waits for its exit status. The signal handlers
// are released as soon as the context is cancelled, so a second Ctrl-C
// kills dashlaunch outright.
func notifyContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
