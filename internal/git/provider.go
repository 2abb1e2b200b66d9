// Package git is the source control provider backed by a local git
// repository. Git has no exclusive checkout, so files opened for edit are
// tracked in a list kept inside the git directory.
package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/chmouel/lazyscc/internal/log"
	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/provider/cmdrun"
	"github.com/chmouel/lazyscc/internal/scc"
)

// Options configures the git provider.
type Options struct {
	// Root is any directory inside the work tree.
	Root    string
	AutoAdd bool
	Runner  *cmdrun.Runner
}

// Provider implements scc.Provider on top of the git CLI.
type Provider struct {
	scc.BaseProvider

	runner  *cmdrun.Runner
	start   string
	autoAdd bool

	root   string
	gitDir string

	// openedMu guards the opened file on disk.
	openedMu sync.Mutex
}

// New returns an uninitialized git provider.
func New(opts Options) *Provider {
	runner := opts.Runner
	if runner == nil {
		runner = cmdrun.New(0, nil)
	}
	return &Provider{
		BaseProvider: scc.BaseProvider{Label: "git"},
		runner:       runner,
		start:        opts.Root,
		autoAdd:      opts.AutoAdd,
	}
}

// Root returns the top level of the work tree once initialized.
func (p *Provider) Root() string {
	return p.root
}

// Init resolves the work tree. The provider ends up disabled when git is
// missing or Root is not inside a repository.
func (p *Provider) Init(ctx context.Context) error {
	disable := func(err error) error {
		p.UpdateState(func(s *scc.ProviderState) {
			s.Initialized = true
			s.Disabled = true
			s.ServerAvailable = false
		})
		return err
	}

	if !cmdrun.Available("git") {
		return disable(fmt.Errorf("git: %w: git not found in PATH", scc.ErrDisabled))
	}
	res, err := p.runner.Run(ctx, cmdrun.Request{
		Args: []string{"git", "rev-parse", "--show-toplevel", "--absolute-git-dir"},
		Dir:  p.start,
	})
	if err != nil {
		return disable(fmt.Errorf("git: %w: %w", scc.ErrDisabled, err))
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) < 2 {
		return disable(fmt.Errorf("git: %w: unexpected rev-parse output %q", scc.ErrDisabled, res.Stdout))
	}
	p.root = filepath.Clean(strings.TrimSpace(lines[0]))
	p.gitDir = filepath.Clean(strings.TrimSpace(lines[1]))

	p.UpdateState(func(s *scc.ProviderState) {
		s.Initialized = true
		s.Disabled = false
		s.ServerAvailable = true
		s.ProjectOpen = true
		s.AutoAddNewFiles = p.autoAdd
	})
	log.Debug().Str("root", p.root).Str("git_dir", p.gitDir).Msg("git provider ready")
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
	if cmd.Type == models.CommandInfo {
		return p.info(ctx, cmd)
	}

	files, rels, err := p.relativize(cmd)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	switch cmd.Type {
	case models.CommandUpdateStatus:
		return p.updateStatus(ctx, cmd, files, rels)
	case models.CommandCheckOut:
		return p.checkOut(ctx, cmd, files, rels)
	case models.CommandCheckIn:
		return p.checkIn(ctx, cmd, files, rels)
	case models.CommandAdd:
		return p.add(ctx, cmd, files, rels)
	case models.CommandDelete:
		return p.delete(ctx, cmd, files, rels)
	case models.CommandRevert:
		return p.revert(ctx, cmd, files, rels, false)
	case models.CommandRevertUnchanged:
		return p.revert(ctx, cmd, files, rels, true)
	case models.CommandHistory:
		return p.history(ctx, cmd, files, rels)
	case models.CommandGetModifiedFiles, models.CommandGetUnmodifiedFiles:
		return p.modifiedFiles(ctx, cmd, files, rels)
	default:
		return fmt.Errorf("git %s: %w", cmd.Type, scc.ErrUnsupported)
	}
}

// relativize drops files outside the work tree, recording an error for each.
func (p *Provider) relativize(cmd *scc.Command) (files, rels []string, err error) {
	for _, f := range cmd.Files {
		rel, rerr := filepath.Rel(p.root, f)
		if rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			cmd.AddError("%s - file(s) not in client view", f)
			continue
		}
		files = append(files, f)
		rels = append(rels, filepath.ToSlash(rel))
	}
	if len(files) == 0 && len(cmd.Files) > 0 {
		return nil, nil, scc.NewCommandError("git "+cmd.Type.String(), cmd.ErrorMessages...)
	}
	return files, rels, nil
}

func (p *Provider) git(ctx context.Context, args ...string) (cmdrun.Result, error) {
	return p.runner.Run(ctx, cmdrun.Request{
		Args: append([]string{"git"}, args...),
		Dir:  p.root,
		Env:  map[string]string{"GIT_OPTIONAL_LOCKS": "0"},
	})
}

func (p *Provider) gitOK(ctx context.Context, okCodes []int, args ...string) (cmdrun.Result, error) {
	return p.runner.Run(ctx, cmdrun.Request{
		Args:    append([]string{"git"}, args...),
		Dir:     p.root,
		OKCodes: okCodes,
	})
}

func (p *Provider) fail(op string, err error) error {
	var exitErr *cmdrun.ExitError
	if errors.As(err, &exitErr) {
		return scc.WrapCommandError("git "+op, err)
	}
	return err
}

func (p *Provider) hasHead(ctx context.Context) bool {
	res, err := p.gitOK(ctx, []int{1, 128}, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil && res.ExitCode == 0
}

func (p *Provider) trackedSet(ctx context.Context, rels []string, ref string) (map[string]bool, error) {
	args := []string{"ls-files", "-z", "--"}
	if ref != "" {
		args = []string{"ls-tree", "-r", "-z", "--name-only", ref, "--"}
	}
	res, err := p.git(ctx, append(args, rels...)...)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, name := range strings.Split(res.Stdout, "\x00") {
		if name != "" {
			set[name] = true
		}
	}
	return set, nil
}

func (p *Provider) statusMap(ctx context.Context, rels []string) (map[string]models.StatusFile, error) {
	res, err := p.git(ctx, append([]string{"status", "--porcelain=v2", "--ignored", "--untracked-files=all", "--"}, rels...)...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.StatusFile)
	for _, f := range parseStatusFiles(res.Stdout) {
		out[f.Filename] = f
	}
	return out, nil
}

// behindSet lists files that differ between HEAD and its upstream.
func (p *Provider) behindSet(ctx context.Context, rels []string) map[string]bool {
	res, err := p.gitOK(ctx, []int{128}, append([]string{"diff", "--name-only", "-z", "HEAD...@{upstream}", "--"}, rels...)...)
	set := make(map[string]bool)
	if err != nil || res.ExitCode != 0 {
		return set
	}
	for _, name := range strings.Split(res.Stdout, "\x00") {
		if name != "" {
			set[name] = true
		}
	}
	return set
}

func (p *Provider) updateStatus(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	status, err := p.statusMap(ctx, rels)
	if err != nil {
		return p.fail("status", err)
	}
	tracked, err := p.trackedSet(ctx, rels, "")
	if err != nil {
		return p.fail("ls-files", err)
	}
	opened, err := p.readOpened()
	if err != nil {
		return scc.WrapCommandError("git status", err)
	}
	behind := p.behindSet(ctx, rels)

	for i, f := range files {
		rel := rels[i]
		st, found := status[rel]
		kind, modified := fileState(st, found, opened[rel], tracked[rel])
		if kind == models.StateReadOnly && behind[rel] {
			kind = models.StateNotCurrent
		}
		cmd.SetResult(f, models.KeyState, kind.String())
		cmd.SetResult(f, models.KeyDepotPath, rel)
		cmd.SetResult(f, models.KeyModified, strconv.FormatBool(modified))
	}
	return nil
}

func (p *Provider) checkOut(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	tracked, err := p.trackedSet(ctx, rels, "")
	if err != nil {
		return p.fail("ls-files", err)
	}
	var open []string
	for i, f := range files {
		if !tracked[rels[i]] {
			cmd.AddError("%s - file(s) not on client", rels[i])
			continue
		}
		if info, err := os.Stat(f); err == nil && info.Mode().Perm()&0o200 == 0 {
			if err := os.Chmod(f, info.Mode().Perm()|0o200); err != nil {
				cmd.AddError("%s - %v", rels[i], err)
				continue
			}
		}
		open = append(open, rels[i])
		cmd.SetResult(f, models.KeyState, models.StateCheckedOut.String())
	}
	if err := p.updateOpened(open, nil); err != nil {
		return scc.WrapCommandError("git checkout", err)
	}
	if len(open) == 0 {
		return scc.NewCommandError("git checkout", cmd.ErrorMessages...)
	}
	return nil
}

func (p *Provider) checkIn(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	if strings.TrimSpace(cmd.Description) == "" {
		return scc.NewCommandError("git commit", "change description missing")
	}
	opened, err := p.readOpened()
	if err != nil {
		return scc.WrapCommandError("git commit", err)
	}
	var submit []string
	for _, rel := range rels {
		if !opened[rel] {
			cmd.AddError("%s - file(s) not opened on this client", rel)
			continue
		}
		submit = append(submit, rel)
	}
	if len(submit) == 0 {
		return scc.NewCommandError("git commit", cmd.ErrorMessages...)
	}

	// commit --only takes the work tree content of exactly these paths
	res, err := p.git(ctx, append([]string{"commit", "-q", "-m", cmd.Description, "--"}, submit...)...)
	if err != nil {
		return p.fail("commit", err)
	}
	if err := p.updateOpened(nil, submit); err != nil {
		return scc.WrapCommandError("git commit", err)
	}
	if head, herr := p.git(ctx, "rev-parse", "--short=12", "HEAD"); herr == nil {
		for i, f := range files {
			if slices.Contains(submit, rels[i]) {
				cmd.SetResult(f, models.KeyChangelist, strings.TrimSpace(head.Stdout))
			}
		}
	}
	log.Debug().Int("files", len(submit)).Str("output", strings.TrimSpace(res.Stdout)).Msg("git commit")
	return nil
}

func (p *Provider) add(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	if _, err := p.git(ctx, append([]string{"add", "--"}, rels...)...); err != nil {
		return p.fail("add", err)
	}
	if err := p.updateOpened(rels, nil); err != nil {
		return scc.WrapCommandError("git add", err)
	}
	for _, f := range files {
		cmd.SetResult(f, models.KeyState, models.StateAdded.String())
	}
	return nil
}

func (p *Provider) delete(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	if _, err := p.git(ctx, append([]string{"rm", "-q", "-f", "--"}, rels...)...); err != nil {
		return p.fail("rm", err)
	}
	if err := p.updateOpened(rels, nil); err != nil {
		return scc.WrapCommandError("git rm", err)
	}
	for _, f := range files {
		cmd.SetResult(f, models.KeyState, models.StateDeleted.String())
	}
	return nil
}

func (p *Provider) revert(ctx context.Context, cmd *scc.Command, files, rels []string, unchangedOnly bool) error {
	opened, err := p.readOpened()
	if err != nil {
		return scc.WrapCommandError("git revert", err)
	}
	var candidates []string
	for _, rel := range rels {
		if opened[rel] {
			candidates = append(candidates, rel)
		} else if !unchangedOnly {
			cmd.AddError("%s - file(s) not opened on this client", rel)
		}
	}
	if len(candidates) == 0 {
		if unchangedOnly {
			return nil
		}
		return scc.NewCommandError("git revert", cmd.ErrorMessages...)
	}

	var inHead map[string]bool
	if p.hasHead(ctx) {
		if inHead, err = p.trackedSet(ctx, candidates, "HEAD"); err != nil {
			return p.fail("ls-tree", err)
		}
	}

	if unchangedOnly {
		modified, err := p.modifiedSet(ctx, candidates, inHead != nil)
		if err != nil {
			return p.fail("diff", err)
		}
		var keep []string
		for _, rel := range candidates {
			// adds and deletes are changes even with identical content
			if inHead[rel] && !modified[rel] && fileExists(filepath.Join(p.root, rel)) {
				keep = append(keep, rel)
			}
		}
		if err := p.updateOpened(nil, keep); err != nil {
			return scc.WrapCommandError("git revert", err)
		}
		p.setReverted(cmd, files, rels, keep, inHead)
		return nil
	}

	var restore, unstage []string
	for _, rel := range candidates {
		if inHead[rel] {
			restore = append(restore, rel)
		} else {
			unstage = append(unstage, rel)
		}
	}
	if len(restore) > 0 {
		if _, err := p.git(ctx, append([]string{"checkout", "HEAD", "--"}, restore...)...); err != nil {
			return p.fail("checkout", err)
		}
	}
	if len(unstage) > 0 {
		if _, err := p.gitOK(ctx, []int{128}, append([]string{"rm", "-q", "--cached", "--ignore-unmatch", "--"}, unstage...)...); err != nil {
			return p.fail("rm", err)
		}
	}
	if err := p.updateOpened(nil, candidates); err != nil {
		return scc.WrapCommandError("git revert", err)
	}
	p.setReverted(cmd, files, rels, candidates, inHead)
	return nil
}

func (p *Provider) setReverted(cmd *scc.Command, files, rels, reverted []string, inHead map[string]bool) {
	for i, f := range files {
		if !slices.Contains(reverted, rels[i]) {
			continue
		}
		state := models.StateReadOnly
		if !inHead[rels[i]] {
			state = models.StateNotInDepot
		}
		cmd.SetResult(f, models.KeyState, state.String())
		cmd.SetResult(f, models.KeyModified, "false")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// modifiedSet returns the files whose work tree or index content differs
// from HEAD.
func (p *Provider) modifiedSet(ctx context.Context, rels []string, haveHead bool) (map[string]bool, error) {
	set := make(map[string]bool)
	if !haveHead {
		for _, rel := range rels {
			set[rel] = true
		}
		return set, nil
	}
	res, err := p.git(ctx, append([]string{"diff", "--name-only", "-z", "HEAD", "--"}, rels...)...)
	if err != nil {
		return nil, err
	}
	for _, name := range strings.Split(res.Stdout, "\x00") {
		if name != "" {
			set[name] = true
		}
	}
	return set, nil
}

func (p *Provider) modifiedFiles(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	modified, err := p.modifiedSet(ctx, rels, p.hasHead(ctx))
	if err != nil {
		return p.fail("diff", err)
	}
	var opened map[string]bool
	if cmd.Type == models.CommandGetUnmodifiedFiles {
		if opened, err = p.readOpened(); err != nil {
			return scc.WrapCommandError("git diff", err)
		}
	}
	for i, f := range files {
		if opened != nil && !opened[rels[i]] {
			continue
		}
		cmd.SetResult(f, models.KeyModified, strconv.FormatBool(modified[rels[i]]))
	}
	return nil
}

func (p *Provider) info(ctx context.Context, cmd *scc.Command) error {
	version, err := p.git(ctx, "--version")
	if err != nil {
		return err
	}
	set := func(k, v string) { cmd.SetResult(models.InfoResultKey, k, strings.TrimSpace(v)) }
	set(models.KeyServerVersion, strings.TrimPrefix(version.Stdout, "git version "))
	set(models.KeyClientRoot, p.root)

	if res, err := p.gitOK(ctx, []int{1, 2, 128}, "remote", "get-url", "origin"); err == nil && res.ExitCode == 0 {
		set(models.KeyServerAddress, res.Stdout)
	} else {
		set(models.KeyServerAddress, "local")
	}
	if res, err := p.gitOK(ctx, []int{1}, "config", "user.name"); err == nil {
		set(models.KeyUserName, res.Stdout)
	}
	if host, err := os.Hostname(); err == nil {
		set(models.KeyClientName, host)
	}
	return nil
}

func (p *Provider) openedPath() string {
	return filepath.Join(p.gitDir, models.OpenedFilename)
}

func (p *Provider) readOpened() (map[string]bool, error) {
	p.openedMu.Lock()
	defer p.openedMu.Unlock()
	return p.readOpenedLocked()
}

func (p *Provider) readOpenedLocked() (map[string]bool, error) {
	set := make(map[string]bool)
	f, err := os.Open(p.openedPath())
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			set[line] = true
		}
	}
	return set, scanner.Err()
}

// updateOpened adds and removes entries from the opened list.
func (p *Provider) updateOpened(add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	p.openedMu.Lock()
	defer p.openedMu.Unlock()

	set, err := p.readOpenedLocked()
	if err != nil {
		return err
	}
	for _, rel := range add {
		set[rel] = true
	}
	for _, rel := range remove {
		delete(set, rel)
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	slices.Sort(names)

	tmp := p.openedPath() + ".tmp"
	content := strings.Join(names, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.openedPath())
}
