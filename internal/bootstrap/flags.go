// Package bootstrap wires configuration, the source control service and the
// lazyscc command line together.
package bootstrap

import (
	urfavecli "github.com/urfave/cli/v3"
)

// globalFlags returns all global flags for the application.
// Note: --version is provided automatically by urfave/cli via Version
func globalFlags() []urfavecli.Flag {
	return []urfavecli.Flag{
		&urfavecli.StringFlag{
			Name:  "config-file",
			Usage: "Path to configuration file",
		},
		&urfavecli.StringSliceFlag{
			Name:    "config",
			Aliases: []string{"C"},
			Usage:   "Override config values (repeatable): --config=scc.key=value",
		},
		&urfavecli.StringFlag{
			Name:  "env-file",
			Usage: "Dotenv file with LAZYSCC_* settings (default: .env)",
		},
		&urfavecli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "Source control provider: none, git or perforce",
		},
		&urfavecli.StringFlag{
			Name:    "workspace",
			Aliases: []string{"w"},
			Usage:   "Workspace root directory",
		},
		&urfavecli.StringFlag{
			Name:  "debug-log",
			Usage: "Path to debug log file",
		},
		&urfavecli.StringFlag{
			Name:    "theme",
			Aliases: []string{"t"},
			Usage:   "Override the UI theme",
		},
		&urfavecli.BoolFlag{
			Name:  "silent",
			Usage: "Do not show message boxes for files checked out by others",
		},
		&urfavecli.BoolFlag{
			Name:  "verbose",
			Usage: "Print debug logs to stderr",
		},
		&urfavecli.BoolFlag{
			Name:  "no-tui",
			Usage: "Never draw the progress spinner",
		},
	}
}

// flagOverrides turns dedicated flags into scc.key=value overrides so they
// take precedence over every configuration layer.
func flagOverrides(cmd *urfavecli.Command) []string {
	overrides := append([]string(nil), cmd.StringSlice("config")...)
	if v := cmd.String("provider"); v != "" {
		overrides = append(overrides, "scc.provider="+v)
	}
	if v := cmd.String("workspace"); v != "" {
		overrides = append(overrides, "scc.workspace_root="+v)
	}
	if cmd.Bool("silent") {
		overrides = append(overrides, "scc.silent=true")
	}
	return overrides
}
