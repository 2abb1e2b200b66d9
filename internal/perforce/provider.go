// Package perforce is the source control provider backed by the p4 command
// line client.
package perforce

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/provider/cmdrun"
	"github.com/chmouel/lazyscc/internal/scc"
)

// Options holds the connection settings. Empty values fall back to the
// P4 environment and P4CONFIG files.
type Options struct {
	Port      string
	User      string
	Client    string
	Password  string
	Workspace string
	AutoAdd   bool
	Runner    *cmdrun.Runner
}

// Provider implements scc.Provider with p4.
type Provider struct {
	scc.BaseProvider

	opts   Options
	runner *cmdrun.Runner
}

// New returns an uninitialized perforce provider.
func New(opts Options) *Provider {
	runner := opts.Runner
	if runner == nil {
		runner = cmdrun.New(0, nil)
	}
	return &Provider{
		BaseProvider: scc.BaseProvider{Label: "perforce"},
		opts:         opts,
		runner:       runner,
	}
}

// Init connects to the server with p4 info. An unreachable server leaves
// the provider enabled but unavailable so a later probe can recover it.
func (p *Provider) Init(ctx context.Context) error {
	if !cmdrun.Available("p4") {
		p.UpdateState(func(s *scc.ProviderState) {
			s.Initialized = true
			s.Disabled = true
		})
		return fmt.Errorf("perforce: %w: p4 not found in PATH", scc.ErrDisabled)
	}

	cmd := scc.NewCommand(models.CommandInfo, nil)
	err := p.info(ctx, cmd)
	clientKnown := err == nil && cmd.Result(models.InfoResultKey, models.KeyClientRoot) != ""
	p.UpdateState(func(s *scc.ProviderState) {
		s.Initialized = true
		s.Disabled = false
		s.ServerAvailable = err == nil
		s.ProjectOpen = clientKnown
		s.AutoAddNewFiles = p.opts.AutoAdd
	})
	if err != nil {
		return err
	}
	log.Debug().
		Str("server", cmd.Result(models.InfoResultKey, models.KeyServerAddress)).
		Str("client", cmd.Result(models.InfoResultKey, models.KeyClientName)).
		Msg("perforce provider ready")
	return nil
}

// Close implements scc.Provider.
func (p *Provider) Close() error {
	p.UpdateState(func(s *scc.ProviderState) { *s = scc.ProviderState{} })
	return nil
}

// ExecuteCommand implements scc.Provider.
func (p *Provider) ExecuteCommand(ctx context.Context, cmd *scc.Command) error {
	if err := p.CheckAvailable(cmd); err != nil {
		return err
	}
	switch cmd.Type {
	case models.CommandInfo:
		return p.info(ctx, cmd)
	case models.CommandUpdateStatus:
		return p.updateStatus(ctx, cmd, cmd.Files)
	case models.CommandCheckOut:
		return p.mutate(ctx, cmd, "edit")
	case models.CommandAdd:
		return p.mutate(ctx, cmd, "add")
	case models.CommandDelete:
		return p.mutate(ctx, cmd, "delete")
	case models.CommandRevert:
		return p.mutate(ctx, cmd, "revert")
	case models.CommandRevertUnchanged:
		return p.mutate(ctx, cmd, "revert", "-a")
	case models.CommandCheckIn:
		return p.submit(ctx, cmd)
	case models.CommandHistory:
		return p.history(ctx, cmd)
	case models.CommandGetModifiedFiles, models.CommandGetUnmodifiedFiles:
		return p.diff(ctx, cmd)
	default:
		return fmt.Errorf("perforce %s: %w", cmd.Type, scc.ErrUnsupported)
	}
}

func (p *Provider) env() map[string]string {
	env := make(map[string]string)
	for k, v := range map[string]string{
		"P4PORT":   p.opts.Port,
		"P4USER":   p.opts.User,
		"P4CLIENT": p.opts.Client,
		"P4PASSWD": p.opts.Password,
	} {
		if v != "" {
			env[k] = v
		}
	}
	return env
}

type output struct {
	records  []record
	stdout   string
	messages []string
}

// p4 runs one p4 command. Exit status 1 with per-file messages is a partial
// result, not a failure.
func (p *Provider) p4(ctx context.Context, stdin string, args ...string) (output, error) {
	full := append([]string{"p4", "-ztag"}, args...)
	res, err := p.runner.Run(ctx, cmdrun.Request{
		Args:    full,
		Dir:     p.opts.Workspace,
		Env:     p.env(),
		Stdin:   stdin,
		OKCodes: []int{1},
	})
	op := "p4 " + args[0]
	if err != nil {
		var exitErr *cmdrun.ExitError
		if errors.As(err, &exitErr) && !isConnectionFailure(exitErr.Stderr) {
			return output{}, scc.WrapCommandError(op, err)
		}
		if errors.As(err, &exitErr) {
			return output{}, scc.NewConnectionError(op, errors.New(exitErr.Stderr))
		}
		return output{}, err
	}
	if isConnectionFailure(res.Stderr) {
		return output{}, scc.NewConnectionError(op, errors.New(res.Stderr))
	}
	out := output{records: parseZtag(res.Stdout), stdout: res.Stdout}
	for _, line := range strings.Split(res.Stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out.messages = append(out.messages, line)
		}
	}
	return out, nil
}

func (p *Provider) info(ctx context.Context, cmd *scc.Command) error {
	out, err := p.p4(ctx, "", "info")
	if err != nil {
		return err
	}
	if len(out.records) == 0 {
		return scc.NewConnectionError("p4 info", errors.New("empty response"))
	}
	r := out.records[0]
	set := func(k, v string) {
		if v != "" {
			cmd.SetResult(models.InfoResultKey, k, v)
		}
	}
	set(models.KeyServerAddress, r["serverAddress"])
	set(models.KeyServerVersion, r["serverVersion"])
	set(models.KeyUserName, r["userName"])
	set(models.KeyClientName, r["clientName"])
	if r["clientName"] != "*unknown*" {
		set(models.KeyClientRoot, r["clientRoot"])
	}
	return nil
}

// fstat returns the fstat record of every local file that is in the depot.
func (p *Provider) fstat(ctx context.Context, files []string) (map[string]record, []string, error) {
	out, err := p.p4(ctx, "", append([]string{"fstat"}, files...)...)
	if err != nil {
		return nil, nil, err
	}
	byFile := make(map[string]record, len(out.records))
	for i, r := range out.records {
		local := filepath.Clean(r["clientFile"])
		if len(files) == len(out.records) && !matchesAny(local, files) {
			local = files[i]
		}
		byFile[local] = r
	}
	return byFile, out.messages, nil
}

func matchesAny(path string, files []string) bool {
	for _, f := range files {
		if f == path {
			return true
		}
	}
	return false
}

func (p *Provider) updateStatus(ctx context.Context, cmd *scc.Command, files []string) error {
	if len(files) == 0 {
		return nil
	}
	byFile, _, err := p.fstat(ctx, files)
	if err != nil {
		return err
	}
	for _, f := range files {
		r := byFile[f]
		kind, users := stateFromFstat(r)
		cmd.SetResult(f, models.KeyState, kind.String())
		if r != nil {
			cmd.SetResult(f, models.KeyDepotPath, r["depotFile"])
			cmd.SetResult(f, models.KeyHaveRev, r["haveRev"])
			cmd.SetResult(f, models.KeyHeadRev, r["headRev"])
		}
		if len(users) > 0 {
			cmd.SetResult(f, models.KeyOtherUsers, strings.Join(users, ","))
		}
	}
	return nil
}

// mutate runs a file-opening command and reports the resulting states.
// It fails only when p4 rejected every file.
func (p *Provider) mutate(ctx context.Context, cmd *scc.Command, args ...string) error {
	if len(cmd.Files) == 0 {
		return nil
	}
	out, err := p.p4(ctx, "", append(args, cmd.Files...)...)
	if err != nil {
		return err
	}
	for _, msg := range out.messages {
		cmd.AddError("%s", msg)
	}
	for _, r := range out.records {
		// edit reports files also opened elsewhere in the same record
		if warn := r["otherOpen0"]; warn != "" {
			log.Info().Str("file", r["depotFile"]).Str("also_opened_by", warn).Msg("perforce")
		}
	}
	if err := p.updateStatus(ctx, cmd, cmd.Files); err != nil {
		return err
	}
	if len(out.records) == 0 && len(out.messages) > 0 && args[len(args)-1] != "-a" {
		return scc.NewCommandError("p4 "+args[0], out.messages...)
	}
	return nil
}

var changeCreated = regexp.MustCompile(`Change (\d+) created`)

// buildChangeForm fills the change spec template from p4 change -o with a
// description and file list.
func buildChangeForm(template, description string, depotFiles []string) string {
	var b strings.Builder
	skip := false
	for _, line := range strings.Split(template, "\n") {
		switch {
		case strings.HasPrefix(line, "#"):
			continue
		case line != "" && !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " "):
			field, _, _ := strings.Cut(line, ":")
			skip = field == "Description" || field == "Files" || field == "Jobs"
			if skip {
				continue
			}
		case skip:
			continue
		}
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\nDescription:\n")
	for _, line := range strings.Split(strings.TrimSpace(description), "\n") {
		b.WriteString("\t" + line + "\n")
	}
	b.WriteString("\nFiles:\n")
	for _, f := range depotFiles {
		b.WriteString("\t" + f + "\n")
	}
	return b.String()
}

func (p *Provider) submit(ctx context.Context, cmd *scc.Command) error {
	if strings.TrimSpace(cmd.Description) == "" {
		return scc.NewCommandError("p4 submit", "change description missing")
	}
	byFile, _, err := p.fstat(ctx, cmd.Files)
	if err != nil {
		return err
	}
	var depot []string
	for _, f := range cmd.Files {
		r := byFile[f]
		if r == nil || r["action"] == "" {
			cmd.AddError("%s - file(s) not opened on this client", f)
			continue
		}
		depot = append(depot, r["depotFile"])
	}
	if len(depot) == 0 {
		return scc.NewCommandError("p4 submit", cmd.ErrorMessages...)
	}

	// change -o/-i speak the form language, not tagged output
	res, err := p.runner.Run(ctx, cmdrun.Request{Args: []string{"p4", "change", "-o"}, Dir: p.opts.Workspace, Env: p.env()})
	if err != nil {
		return p.classify("p4 change", err)
	}
	form := buildChangeForm(res.Stdout, cmd.Description, depot)
	res, err = p.runner.Run(ctx, cmdrun.Request{Args: []string{"p4", "change", "-i"}, Dir: p.opts.Workspace, Env: p.env(), Stdin: form})
	if err != nil {
		return p.classify("p4 change", err)
	}
	m := changeCreated.FindStringSubmatch(res.Stdout)
	if m == nil {
		return scc.NewCommandError("p4 change", strings.TrimSpace(res.Stdout))
	}
	change := m[1]

	out, err := p.p4(ctx, "", "submit", "-c", change)
	if err == nil && len(out.messages) > 0 && len(out.records) == 0 {
		err = scc.NewCommandError("p4 submit", out.messages...)
	}
	if err != nil {
		p.dropChange(ctx, change, depot)
		return err
	}
	submitted := change
	for _, r := range out.records {
		if c := r["submittedChange"]; c != "" {
			submitted = c
		}
	}
	for _, f := range cmd.Files {
		cmd.SetResult(f, models.KeyChangelist, submitted)
	}
	return p.updateStatus(ctx, cmd, cmd.Files)
}

// dropChange moves files of a failed submit back to the default changelist
// and deletes the pending change that held them.
func (p *Provider) dropChange(ctx context.Context, change string, depot []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	args := append([]string{"reopen", "-c", "default"}, depot...)
	if _, err := p.p4(ctx, "", args...); err != nil {
		log.Warn().Str("change", change).Err(err).Msg("could not move files back to the default changelist")
		return
	}
	if _, err := p.p4(ctx, "", "change", "-d", change); err != nil {
		log.Warn().Str("change", change).Err(err).Msg("could not delete pending changelist")
	}
}

func (p *Provider) classify(op string, err error) error {
	var exitErr *cmdrun.ExitError
	if errors.As(err, &exitErr) {
		if isConnectionFailure(exitErr.Stderr) {
			return scc.NewConnectionError(op, errors.New(exitErr.Stderr))
		}
		return scc.WrapCommandError(op, err)
	}
	return err
}

func (p *Provider) history(ctx context.Context, cmd *scc.Command) error {
	byFile, _, err := p.fstat(ctx, cmd.Files)
	if err != nil {
		return err
	}
	depotToLocal := make(map[string]string)
	var depot []string
	for _, f := range cmd.Files {
		if r := byFile[f]; r != nil && r["depotFile"] != "" {
			depotToLocal[r["depotFile"]] = f
			depot = append(depot, r["depotFile"])
			continue
		}
		cmd.SetResult(f, models.KeyRevisions, "0")
	}
	if len(depot) == 0 {
		return nil
	}

	out, err := p.p4(ctx, "", append([]string{"filelog", "-l", "-m", "100"}, depot...)...)
	if err != nil {
		return err
	}
	for _, r := range out.records {
		f, ok := depotToLocal[r["depotFile"]]
		if !ok {
			continue
		}
		revs := r.indexed("rev")
		cmd.SetResult(f, models.KeyDepotPath, r["depotFile"])
		cmd.SetResult(f, models.KeyRevisions, strconv.Itoa(len(revs)))
		for i, rev := range revs {
			idx := strconv.Itoa(i)
			cmd.SetResult(f, models.KeyRevPrefix+idx, rev)
			cmd.SetResult(f, models.KeyChangePrefix+idx, r["change"+idx])
			cmd.SetResult(f, models.KeyUserPrefix+idx, r["user"+idx])
			cmd.SetResult(f, models.KeyDatePrefix+idx, r["time"+idx])
			cmd.SetResult(f, models.KeyActionPrefix+idx, r["action"+idx])
			cmd.SetResult(f, models.KeySizePrefix+idx, r["fileSize"+idx])
			cmd.SetResult(f, models.KeyDescPrefix+idx, strings.TrimSpace(r["desc"+idx]))
		}
	}
	return nil
}

func (p *Provider) diff(ctx context.Context, cmd *scc.Command) error {
	byFile, _, err := p.fstat(ctx, cmd.Files)
	if err != nil {
		return err
	}
	flag := "-sa"
	if cmd.Type == models.CommandGetUnmodifiedFiles {
		flag = "-sr"
	}
	out, err := p.p4(ctx, "", append([]string{"diff", flag}, cmd.Files...)...)
	if err != nil {
		return err
	}
	listed := make(map[string]bool)
	for _, r := range out.records {
		if c := r["clientFile"]; c != "" {
			listed[filepath.Clean(c)] = true
		}
		if d := r["depotFile"]; d != "" {
			listed[d] = true
		}
	}
	for _, f := range cmd.Files {
		r := byFile[f]
		if r == nil || r["action"] == "" {
			if cmd.Type == models.CommandGetModifiedFiles {
				cmd.SetResult(f, models.KeyModified, "false")
			}
			continue
		}
		hit := listed[f] || listed[r["depotFile"]]
		modified := hit
		if cmd.Type == models.CommandGetUnmodifiedFiles {
			modified = !hit
		}
		cmd.SetResult(f, models.KeyModified, strconv.FormatBool(modified))
	}
	return nil
}
