package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// builtinSubcommands are added by cobra itself during Execute, so they are
// not yet registered when the command line is split.
var builtinSubcommands = map[string]bool{
	"help":       true,
	"completion": true,
}

// launchArgs rewrites the command line so that cobra only ever parses the
// flags dashlaunch owns. Everything from the first argument it does not
// own onwards belongs to the dashboard and is moved behind "--", which
// stops cobra from parsing it. The dashboard therefore sees
//
//	dashlaunch --home --debug --port 8060 status
//
// as "--debug --port 8060 status", exactly as the old scripts passed "$@".
//
// A subcommand is recognised only as the very first argument. "run" is
// treated like the root command; setup, status and clean take no
// passthrough arguments, so their command lines are left untouched.
func launchArgs(root *cobra.Command, args []string) []string {
	if len(args) == 0 {
		return args
	}

	if sub := findSubcommand(root, args[0]); sub != nil {
		if sub.Name() != "run" {
			return args
		}
		return append([]string{args[0]}, splitPassthrough(sub, root, args[1:])...)
	}
	if builtinSubcommands[args[0]] {
		return args
	}
	return splitPassthrough(root, root, args)
}

func findSubcommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name || c.HasAlias(name) {
			return c
		}
	}
	return nil
}

// splitPassthrough returns the owned flags of cmd, then "--", then the
// passthrough arguments verbatim. Flags are looked up on cmd and on the
// persistent flags of root.
func splitPassthrough(cmd, root *cobra.Command, args []string) []string {
	owned := make([]string, 0, len(args)+1)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			// An explicit separator is kept; everything after it is
			// already passthrough.
			return append(owned, args[i:]...)
		}

		flag, inlineValue := lookupFlag(cmd, root, arg)
		if flag == nil {
			return appendPassthrough(owned, args[i:])
		}

		owned = append(owned, arg)
		if !inlineValue && flag.NoOptDefVal == "" && i+1 < len(args) {
			// Flags that need a value take the next argument, as pflag
			// would.
			i++
			owned = append(owned, args[i])
		}
	}
	return owned
}

func appendPassthrough(owned, rest []string) []string {
	owned = append(owned, "--")
	return append(owned, rest...)
}

// lookupFlag resolves arg to one of dashlaunch's flags. It returns nil for
// positional arguments and unknown flags. The bool reports whether the
// value is part of arg ("--dir=x", "-Cx").
func lookupFlag(cmd, root *cobra.Command, arg string) (*pflag.Flag, bool) {
	switch {
	case strings.HasPrefix(arg, "--") && len(arg) > 2:
		name, _, hasValue := strings.Cut(arg[2:], "=")
		return findFlag(cmd, root, name, ""), hasValue

	case strings.HasPrefix(arg, "-") && len(arg) > 1:
		f := findFlag(cmd, root, "", arg[1:2])
		if f == nil {
			return nil, false
		}
		// Grouped shorthands ("-vx") are only accepted when the rest is
		// a value; otherwise the whole argument is the dashboard's.
		if len(arg) > 2 && f.NoOptDefVal != "" {
			return nil, false
		}
		return f, len(arg) > 2
	}
	return nil, false
}

// findFlag looks a flag up by name or shorthand. help and version are
// added by cobra at execution time, so they are matched here by name.
func findFlag(cmd, root *cobra.Command, name, short string) *pflag.Flag {
	sets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags(), root.PersistentFlags()}
	for _, fs := range sets {
		if name != "" {
			if f := fs.Lookup(name); f != nil {
				return f
			}
		} else if f := fs.ShorthandLookup(short); f != nil {
			return f
		}
	}

	switch {
	case name == "help" || short == "h":
		return &pflag.Flag{Name: "help", NoOptDefVal: "true"}
	case name == "version" && cmd == root:
		return &pflag.Flag{Name: "version", NoOptDefVal: "true"}
	}
	return nil
}
