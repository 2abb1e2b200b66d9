// Package provider builds the configured source control backend.
package provider

import (
	"fmt"
	"os"

	"github.com/chmouel/lazyscc/internal/config"
	"github.com/chmouel/lazyscc/internal/git"
	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/perforce"
	"github.com/chmouel/lazyscc/internal/provider/cmdrun"
	"github.com/chmouel/lazyscc/internal/provider/stub"
	"github.com/chmouel/lazyscc/internal/scc"
)

// New returns an uninitialized provider for cfg.Provider. All CLI backed
// providers share one runner bounded by cfg.Workers.
func New(cfg *config.AppConfig) (scc.Provider, error) {
	name := config.NormalizeProvider(cfg.Provider)
	if name == "" {
		return nil, fmt.Errorf("unknown source control provider %q", cfg.Provider)
	}
	log.Debug().Str("provider", name).Msg("selecting provider")

	switch name {
	case config.ProviderGit:
		root := cfg.WorkspaceRoot
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			root = wd
		}
		return git.New(git.Options{
			Root:    root,
			AutoAdd: cfg.AutoAddNewFiles,
			Runner:  cmdrun.New(cfg.Workers, nil),
		}), nil
	case config.ProviderPerforce:
		return perforce.New(perforce.Options{
			Port:      cfg.Server,
			User:      cfg.User,
			Client:    cfg.Client,
			Password:  cfg.Password,
			Workspace: cfg.WorkspaceRoot,
			AutoAdd:   cfg.AutoAddNewFiles,
			Runner:    cmdrun.New(cfg.Workers, nil),
		}), nil
	default:
		return stub.New(), nil
	}
}
