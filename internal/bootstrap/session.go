package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chmouel/lazyscc/internal/config"
	"github.com/chmouel/lazyscc/internal/events"
	"github.com/chmouel/lazyscc/internal/journal"
	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/provider"
	"github.com/chmouel/lazyscc/internal/scc"
	"github.com/chmouel/lazyscc/internal/theme"
	"github.com/chmouel/lazyscc/internal/ui"
)

const shutdownTimeout = 30 * time.Second

// newProviderFunc is replaced in tests.
var newProviderFunc = provider.New

// session is one initialized source control service plus the things that
// observe it.
type session struct {
	cfg      *config.AppConfig
	svc      *scc.Service
	bus      *events.Bus
	journal  *journal.Journal
	detach   func()
	render   *ui.Renderer
	listener *cliListener
	out      io.Writer
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	cfg := a.cfg
	prov, err := newProviderFunc(cfg)
	if err != nil {
		return nil, err
	}
	thm := theme.GetTheme(cfg.Theme)

	s := &session{
		cfg:      cfg,
		bus:      events.NewBus(64),
		render:   ui.NewRenderer(thm, cfg.ShowIcons, cfg.WorkspaceRoot),
		listener: &cliListener{},
		out:      a.out,
	}

	if path, err := cfg.ResolveJournalPath(); err == nil {
		j, jerr := journal.Open(ctx, path)
		if jerr != nil {
			log.Warn().Err(jerr).Str("path", path).Msg("command journal unavailable")
		} else {
			s.journal = j
			s.detach = j.Attach(s.bus)
		}
	}

	packages := scc.NewPackageCache(cfg.ResolvePackagePaths(), cfg.PackageExtensions)
	if len(cfg.PackagePaths) > 0 {
		if err := packages.Refresh(); err != nil {
			log.Warn().Err(err).Msg("package scan failed")
		}
	}

	progressOpts := []ui.ProgressOption{ui.WithProgressIO(a.in, a.errOut)}
	if a.noTUI {
		progressOpts = append(progressOpts, ui.WithInteractive(false))
	}

	s.svc = scc.New(scc.Options{
		Provider:      &reportingProvider{Provider: prov, out: a.errOut},
		Progress:      ui.NewProgress(thm, progressOpts...),
		Prompter:      ui.NewMessageBox(a.errOut, thm),
		Bus:           s.bus,
		Packages:      packages,
		Workers:       cfg.Workers,
		ProbeTimeout:  cfg.ProbeTimeout,
		ProbeInterval: cfg.ProbeInterval,
		ForceCheckout: cfg.ForceCheckout,
	})
	if err := s.svc.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(a.errOut, "source control unavailable: %v\n", err)
	}
	return s, nil
}

// wait delivers every queued command to its listener.
func (s *session) wait(ctx context.Context) error {
	return s.svc.WaitIdle(ctx, 0)
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.svc.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
	s.bus.Close()
	if s.detach != nil {
		s.detach()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

// reportingProvider prints the diagnostics of failed commands as the
// service dumps them.
type reportingProvider struct {
	scc.Provider

	mu  sync.Mutex
	out io.Writer
}

func (p *reportingProvider) DumpMessages(cmd *scc.Command) {
	p.Provider.DumpMessages(cmd)
	if cmd.Succeeded {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := strings.Join(cmd.ErrorMessages, "; ")
	if msg == "" {
		msg = cmd.ErrorType.String() + " error"
	}
	_, _ = fmt.Fprintf(p.out, "%s failed: %s\n", cmd.Type, msg)
}

// cliListener counts failed queued commands.
type cliListener struct {
	mu       sync.Mutex
	failures int
}

func (l *cliListener) SourceControlCallback(cmd *scc.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Debug().Uint64("command", cmd.ID).Str("type", cmd.Type.String()).Bool("succeeded", cmd.Succeeded).Msg("queued command delivered")
	if !cmd.Succeeded {
		l.failures++
	}
}

func (l *cliListener) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}
