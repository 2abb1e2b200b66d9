// Package stub is the provider used when source control is turned off.
package stub

import (
	"context"

	"github.com/chmouel/lazyscc/internal/scc"
)

// Provider accepts no commands. It initializes straight to disabled.
type Provider struct {
	scc.BaseProvider
}

// New returns the disabled provider.
func New() *Provider {
	return &Provider{BaseProvider: scc.BaseProvider{Label: "none"}}
}

// Init implements scc.Provider.
func (p *Provider) Init(context.Context) error {
	p.UpdateState(func(s *scc.ProviderState) {
		s.Initialized = true
		s.Disabled = true
	})
	return nil
}

// Close implements scc.Provider.
func (p *Provider) Close() error {
	p.UpdateState(func(s *scc.ProviderState) { *s = scc.ProviderState{} })
	return nil
}

// ExecuteCommand implements scc.Provider.
func (p *Provider) ExecuteCommand(_ context.Context, cmd *scc.Command) error {
	return p.CheckAvailable(cmd)
}
