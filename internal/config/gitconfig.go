package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// configPrefix namespaces lazyscc keys in git config and --config overrides.
const configPrefix = "scc."

type gitScope string

const (
	gitGlobal gitScope = "--global"
	gitLocal  gitScope = "--local"
)

// gitRunner runs git in dir and returns stdout. Tests replace it.
var gitRunner = runGit

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	// exit status 1 from git config means no key matched
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(args) > 0 && args[0] == "config" {
		return "", nil
	}
	return string(out), err
}

// layer collects repeated key=value pairs before they are handed to
// applyConfig. A key seen once stays a string, a repeated key becomes a
// list.
type layer map[string][]string

func (l layer) add(key, value string) {
	l[key] = append(l[key], value)
}

func (l layer) values() map[string]any {
	out := make(map[string]any, len(l))
	for key, vals := range l {
		switch len(vals) {
		case 0:
		case 1:
			out[key] = vals[0]
		default:
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			out[key] = list
		}
	}
	return out
}

// parseGitConfigNull parses `git config --null --get-regexp` output, where
// each entry is "key\nvalue\x00". Values may contain newlines.
func parseGitConfigNull(raw string) layer {
	l := layer{}
	for _, entry := range strings.Split(raw, "\x00") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		key, value, _ := strings.Cut(entry, "\n")
		key = strings.TrimPrefix(strings.TrimSpace(key), configPrefix)
		if key == "" {
			continue
		}
		l.add(key, value)
	}
	return l
}

// readGitConfig returns the scc.* keys of one git config scope.
func readGitConfig(scope gitScope, dir string) (map[string]any, error) {
	raw, err := gitRunner(dir, "config", string(scope), "--null", "--get-regexp", `^scc\.`)
	if err != nil {
		return nil, fmt.Errorf("git config %s: %w", scope, err)
	}
	return parseGitConfigNull(raw).values(), nil
}

// localRepoDir picks the repository whose local git config applies: the
// workspace root when it is inside a repository, else the working
// directory.
func localRepoDir(workspaceRoot string) string {
	candidates := []string{workspaceRoot}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if _, err := gitRunner(dir, "rev-parse", "--git-dir"); err == nil {
			return dir
		}
	}
	return ""
}

// parseOverrides turns --config scc.key=value arguments into a config layer.
func parseOverrides(overrides []string) (map[string]any, error) {
	l := layer{}
	for _, o := range overrides {
		fullKey, value, ok := strings.Cut(o, "=")
		if !ok {
			return nil, fmt.Errorf("invalid config override %q: want %skey=value", o, configPrefix)
		}
		key, ok := strings.CutPrefix(strings.TrimSpace(fullKey), configPrefix)
		if !ok {
			return nil, fmt.Errorf("config override %q must start with %q", fullKey, configPrefix)
		}
		if key == "" {
			return nil, fmt.Errorf("empty config key in override %q", o)
		}
		l.add(key, value)
	}
	return l.values(), nil
}
