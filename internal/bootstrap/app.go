package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chmouel/lazyscc/internal/buildinfo"
	"github.com/chmouel/lazyscc/internal/config"
	"github.com/chmouel/lazyscc/internal/log"
	urfavecli "github.com/urfave/cli/v3"
)

// loadConfigFunc is replaced in tests.
var loadConfigFunc = config.Load

// app carries state shared by the subcommands of one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg   *config.AppConfig
	noTUI bool
}

// NewCommand builds the lazyscc root command.
func NewCommand(in io.Reader, out, errOut io.Writer) *urfavecli.Command {
	a := &app{in: in, out: out, errOut: errOut}
	return &urfavecli.Command{
		Name:                  "lazyscc",
		Usage:                 "Check out, submit and inspect files through git or Perforce",
		Version:               buildinfo.Get().String(),
		EnableShellCompletion: true,
		Writer:                out,
		ErrWriter:             errOut,
		Flags:                 globalFlags(),
		Before:                a.before,
		Commands:              a.commands(),
	}
}

// Run executes the command line in args.
func Run(ctx context.Context, args []string) error {
	defer func() { _ = log.Close() }()
	return NewCommand(os.Stdin, os.Stdout, os.Stderr).Run(ctx, args)
}

func (a *app) before(ctx context.Context, cmd *urfavecli.Command) (context.Context, error) {
	debugLog := cmd.String("debug-log")
	if debugLog != "" {
		setDebugLog(a.errOut, debugLog)
	}

	cfg, err := loadConfigFunc(config.LoadOptions{
		ConfigFile: cmd.String("config-file"),
		Overrides:  flagOverrides(cmd),
		EnvFile:    cmd.String("env-file"),
	})
	if err != nil {
		return ctx, fmt.Errorf("error loading config: %w", err)
	}

	if themeName := cmd.String("theme"); themeName != "" {
		normalized := config.NormalizeThemeName(themeName)
		if normalized == "" {
			return ctx, fmt.Errorf("unknown theme %q", themeName)
		}
		cfg.Theme = normalized
	}

	log.SetFormat(cfg.LogFormat)
	log.SetLevel(cfg.LogLevel)
	if cmd.Bool("verbose") {
		log.SetMirror(a.errOut)
		log.SetLevel("debug")
	}
	switch {
	case debugLog != "":
		cfg.DebugLog = debugLog
	case cfg.DebugLog != "":
		setDebugLog(a.errOut, cfg.DebugLog)
	default:
		// No debug log configured, discard any buffered logs
		_ = log.SetFile("")
	}

	a.cfg = cfg
	a.noTUI = cmd.Bool("no-tui")
	log.Debug().Str("provider", cfg.Provider).Str("config", cfg.Path).Msg("configuration loaded")
	return ctx, nil
}

func setDebugLog(errOut io.Writer, path string) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		expanded = path
	}
	if err := log.SetFile(expanded); err != nil {
		_, _ = fmt.Fprintf(errOut, "Error opening debug log file %q: %v\n", expanded, err)
	}
}
