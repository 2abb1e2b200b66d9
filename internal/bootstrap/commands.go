package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chmouel/lazyscc/internal/config"
	"github.com/chmouel/lazyscc/internal/journal"
	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/theme"
	"github.com/chmouel/lazyscc/internal/ui"
	urfavecli "github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func (a *app) commands() []*urfavecli.Command {
	return []*urfavecli.Command{
		{
			Name:   "info",
			Usage:  "Show server, user and workspace details",
			Action: a.withSession(a.runInfo),
		},
		{
			Name:      "status",
			Usage:     "Query and print the state of files",
			ArgsUsage: "<file>...",
			Action:    a.withSession(a.runStatus),
		},
		{
			Name:      "checkout",
			Aliases:   []string{"edit"},
			Usage:     "Open files for edit",
			ArgsUsage: "<file>...",
			Flags: []urfavecli.Flag{
				&urfavecli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not report files checked out by others"},
			},
			Action: a.withSession(a.runCheckOut),
		},
		{
			Name:      "checkin",
			Aliases:   []string{"submit"},
			Usage:     "Submit opened files",
			ArgsUsage: "<file>...",
			Flags: []urfavecli.Flag{
				&urfavecli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Change description", Required: true},
			},
			Action: a.withSession(a.runCheckIn),
		},
		{
			Name:      "add",
			Usage:     "Mark files for add",
			ArgsUsage: "<file>...",
			Action:    a.withSession(a.simple("add", (*session).add)),
		},
		{
			Name:      "delete",
			Usage:     "Mark files for delete",
			ArgsUsage: "<file>...",
			Action:    a.withSession(a.simple("delete", (*session).remove)),
		},
		{
			Name:      "revert",
			Usage:     "Discard changes to opened files",
			ArgsUsage: "<file>...",
			Flags: []urfavecli.Flag{
				&urfavecli.BoolFlag{Name: "unchanged", Aliases: []string{"a"}, Usage: "Only revert files with no content changes"},
			},
			Action: a.withSession(a.runRevert),
		},
		{
			Name:      "history",
			Aliases:   []string{"log"},
			Usage:     "Show the revision history of files",
			ArgsUsage: "<file>...",
			Action:    a.withSession(a.runHistory),
		},
		{
			Name:      "modified",
			Usage:     "List opened files whose content differs from the depot",
			ArgsUsage: "<file>...",
			Action:    a.withSession(a.runModified(true)),
		},
		{
			Name:      "unmodified",
			Usage:     "List opened files whose content matches the depot",
			ArgsUsage: "<file>...",
			Action:    a.withSession(a.runModified(false)),
		},
		{
			Name:      "resolve",
			Usage:     "Map package names to workspace paths",
			ArgsUsage: "<package>...",
			Action:    a.withSession(a.runResolve),
		},
		{
			Name:  "watch",
			Usage: "Watch the workspace, adding new files and refreshing changed ones",
			Flags: []urfavecli.Flag{
				&urfavecli.StringFlag{Name: "root", Usage: "Directory to watch (default: workspace root)"},
			},
			Action: a.withSession(a.runWatch),
		},
		{
			Name:  "journal",
			Usage: "Show recently completed commands",
			Flags: []urfavecli.Flag{
				&urfavecli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Number of entries"},
			},
			Action: a.runJournal,
		},
		{
			Name:  "set-password",
			Usage: "Encrypt and store the server password in the config file",
			Flags: []urfavecli.Flag{
				&urfavecli.StringFlag{Name: "user", Usage: "User name the password belongs to"},
			},
			Action: a.runSetPassword,
		},
		{
			Name:  "themes",
			Usage: "List available themes",
			Action: func(_ context.Context, _ *urfavecli.Command) error {
				for _, name := range theme.AvailableThemes() {
					_, _ = fmt.Fprintln(a.out, name)
				}
				return nil
			},
		},
	}
}

type sessionAction func(ctx context.Context, cmd *urfavecli.Command, s *session) error

// withSession opens a session around action and drains queued commands
// before closing it.
func (a *app) withSession(action sessionAction) urfavecli.ActionFunc {
	return func(ctx context.Context, cmd *urfavecli.Command) error {
		s, err := a.openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		err = action(ctx, cmd, s)
		if werr := s.wait(ctx); werr != nil && err == nil {
			err = werr
		}
		if err == nil && s.listener.Failures() > 0 {
			err = fmt.Errorf("%d queued command(s) failed", s.listener.Failures())
		}
		return err
	}
}

func requireArgs(cmd *urfavecli.Command, what string) ([]string, error) {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: lazyscc %s %s: no %s given", cmd.Name, cmd.ArgsUsage, what)
	}
	return args, nil
}

func (a *app) runInfo(ctx context.Context, _ *urfavecli.Command, s *session) error {
	info, ok := s.svc.Info(ctx)
	if !ok {
		return errors.New("info failed")
	}
	info["provider"] = s.svc.Provider().Name()
	_, _ = fmt.Fprint(s.out, s.render.Info(info))
	return nil
}

func (s *session) printStatus(files []string) {
	_, _ = fmt.Fprintln(s.out, s.render.StatusTable(s.svc.FileStates(files)))
}

func (a *app) runStatus(ctx context.Context, cmd *urfavecli.Command, s *session) error {
	files, err := requireArgs(cmd, "files")
	if err != nil {
		return err
	}
	if !s.svc.ForceGetStatus(ctx, files) {
		return errors.New("status update failed")
	}
	s.printStatus(files)
	return nil
}

func (a *app) runCheckOut(ctx context.Context, cmd *urfavecli.Command, s *session) error {
	files, err := requireArgs(cmd, "files")
	if err != nil {
		return err
	}
	ok := s.svc.CheckOut(ctx, s.listener, files, s.cfg.Silent || cmd.Bool("quiet"))
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.printStatus(files)
	if !ok {
		return errors.New("checkout failed")
	}
	return nil
}

func (a *app) runCheckIn(ctx context.Context, cmd *urfavecli.Command, s *session) error {
	files, err := requireArgs(cmd, "files")
	if err != nil {
		return err
	}
	if !s.svc.CheckIn(ctx, s.listener, files, cmd.String("message")) {
		return errors.New("checkin failed")
	}
	return nil
}

func (s *session) add(ctx context.Context, files []string) bool {
	return s.svc.Add(ctx, s.listener, files)
}

func (s *session) remove(ctx context.Context, files []string) bool {
	return s.svc.Delete(ctx, s.listener, files)
}

// simple wraps operations that take only files and print the resulting
// status.
func (a *app) simple(name string, op func(*session, context.Context, []string) bool) sessionAction {
	return func(ctx context.Context, cmd *urfavecli.Command, s *session) error {
		files, err := requireArgs(cmd, "files")
		if err != nil {
			return err
		}
		ok := op(s, ctx, files)
		if err := s.wait(ctx); err != nil {
			return err
		}
		s.printStatus(files)
		if !ok {
			return fmt.Errorf("%s failed", name)
		}
		return nil
	}
}

func (s *session) revert(ctx context.Context, files []string) bool {
	return s.svc.Revert(ctx, s.listener, files)
}

func (s *session) revertUnchanged(ctx context.Context, files []string) bool {
	return s.svc.RevertUnchanged(ctx, s.listener, files)
}

func (a *app) runRevert(ctx context.Context, cmd *urfavecli.Command, s *session) error {
	op := (*session).revert
	if cmd.Bool("unchanged") {
		op = (*session).revertUnchanged
	}
	return a.simple("revert", op)(ctx, cmd, s)
}

func (a *app) runHistory(ctx context.Context, cmd *urfavecli.Command, s *session) error {
	files, err := requireArgs(cmd, "files")
	if err != nil {
		return err
	}
	histories, ok := s.svc.GetHistory(ctx, files)
	if !ok {
		return errors.New("history failed")
	}
	width := ui.Width(s.out)
	for _, h := range histories {
		_, _ = fmt.Fprint(s.out, s.render.History(h, width))
	}
	return nil
}

func (a *app) runModified(modified bool) sessionAction {
	return func(ctx context.Context, cmd *urfavecli.Command, s *session) error {
		files, err := requireArgs(cmd, "files")
		if err != nil {
			return err
		}
		var (
			out []string
			ok  bool
		)
		if modified {
			out, ok = s.svc.GetModifiedFiles(ctx, files)
		} else {
			out, ok = s.svc.GetUnmodifiedFiles(ctx, files)
		}
		if !ok {
			return fmt.Errorf("%s failed", cmd.Name)
		}
		for _, f := range out {
			_, _ = fmt.Fprintln(s.out, f)
		}
		return nil
	}
}

func (a *app) runResolve(_ context.Context, cmd *urfavecli.Command, s *session) error {
	names, err := requireArgs(cmd, "package names")
	if err != nil {
		return err
	}
	paths, missing := s.svc.ConvertPackageNamesToSourceControlPaths(names)
	for _, p := range paths {
		_, _ = fmt.Fprintln(s.out, p)
	}
	if len(missing) > 0 {
		return fmt.Errorf("packages not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (a *app) runWatch(ctx context.Context, cmd *urfavecli.Command, s *session) error {
	root := cmd.String("root")
	if root == "" {
		root = s.cfg.WorkspaceRoot
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}
	w, err := s.svc.StartWatcher(ctx, root, s.listener)
	if err != nil {
		return err
	}
	defer w.Stop()
	_, _ = fmt.Fprintf(a.errOut, "watching %s (ctrl+c to stop)\n", root)

	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for s.svc.Tick() {
			}
		}
	}
}

func (a *app) runJournal(ctx context.Context, cmd *urfavecli.Command) error {
	path, err := a.cfg.ResolveJournalPath()
	if err != nil {
		return err
	}
	j, err := journal.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	recs, err := j.Recent(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(a.out, "no commands recorded")
		return nil
	}
	r := ui.NewRenderer(theme.GetTheme(a.cfg.Theme), a.cfg.ShowIcons, a.cfg.WorkspaceRoot)
	_, _ = fmt.Fprintln(a.out, r.Journal(recs))
	return nil
}

// readPasswordFunc is replaced in tests.
var readPasswordFunc = term.ReadPassword

func (a *app) readPassword() (string, error) {
	if f, ok := a.in.(*os.File); ok && ui.IsTerminal(f) {
		_, _ = fmt.Fprint(a.errOut, "Password: ")
		pw, err := readPasswordFunc(int(f.Fd())) // #nosec G115 -- fd fits in int
		_, _ = fmt.Fprintln(a.errOut)
		return string(pw), err
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) runSetPassword(_ context.Context, cmd *urfavecli.Command) error {
	user := cmd.String("user")
	if user == "" {
		user = a.cfg.User
	}
	if user == "" {
		return errors.New("no user: pass --user or set scc.user")
	}
	pw, err := a.readPassword()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if pw == "" {
		return errors.New("empty password")
	}
	if err := config.SavePassword(a.cfg.Path, user, pw); err != nil {
		return err
	}
	log.Info().Str("user", user).Msg("password stored")
	_, _ = fmt.Fprintln(a.errOut, "password stored")
	return nil
}
