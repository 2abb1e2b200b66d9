package config

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	out, err := exec.Command("git", "init", "-q", dir).CombinedOutput()
	require.NoError(t, err, string(out))
	return dir
}

func stubGit(t *testing.T, fn func(dir string, args ...string) (string, error)) {
	t.Helper()
	prev := gitRunner
	gitRunner = fn
	t.Cleanup(func() { gitRunner = prev })
}

func TestParseGitConfigNull(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want layer
	}{
		{
			name: "single values",
			raw:  "scc.provider\nperforce\x00scc.server\nssl:perforce:1666\x00scc.force_checkout\ntrue\x00",
			want: layer{
				"provider":       {"perforce"},
				"server":         {"ssl:perforce:1666"},
				"force_checkout": {"true"},
			},
		},
		{
			name: "repeated keys",
			raw:  "scc.package_paths\nContent\x00scc.package_paths\nEngine/Content\x00",
			want: layer{"package_paths": {"Content", "Engine/Content"}},
		},
		{
			name: "values with spaces and newlines",
			raw:  "scc.workspace_root\n/home/me/My Project\x00scc.user\nline one\nline two\x00",
			want: layer{
				"workspace_root": {"/home/me/My Project"},
				"user":           {"line one\nline two"},
			},
		},
		{
			name: "key without value",
			raw:  "scc.silent\x00",
			want: layer{"silent": {""}},
		},
		{name: "empty", raw: "", want: layer{}},
		{name: "blank entries", raw: "\x00  \x00", want: layer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseGitConfigNull(tt.raw))
		})
	}
}

func TestLayerValues(t *testing.T) {
	l := layer{
		"server":        {"perforce:1666"},
		"package_paths": {"A", "B", "C"},
		"empty":         {},
	}
	assert.Equal(t, map[string]any{
		"server":        "perforce:1666",
		"package_paths": []any{"A", "B", "C"},
	}, l.values())
}

func TestReadGitConfig(t *testing.T) {
	tests := []struct {
		name  string
		scope gitScope
		dir   string
		raw   string
		want  map[string]any
	}{
		{
			name:  "global",
			scope: gitGlobal,
			raw:   "scc.provider\nperforce\x00scc.user\nbuilder\x00",
			want:  map[string]any{"provider": "perforce", "user": "builder"},
		},
		{
			name:  "local",
			scope: gitLocal,
			dir:   "/repo",
			raw:   "scc.client\nbuilder-ws\x00",
			want:  map[string]any{"client": "builder-ws"},
		},
		{
			name:  "nothing set",
			scope: gitGlobal,
			want:  map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubGit(t, func(dir string, args ...string) (string, error) {
				assert.Equal(t, tt.dir, dir)
				assert.Equal(t, []string{"config", string(tt.scope), "--null", "--get-regexp", `^scc\.`}, args)
				return tt.raw, nil
			})
			got, err := readGitConfig(tt.scope, tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadGitConfigError(t *testing.T) {
	stubGit(t, func(string, ...string) (string, error) {
		return "", errors.New("git exploded")
	})
	got, err := readGitConfig(gitGlobal, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git exploded")
	assert.Nil(t, got)
}

func TestRunGitAgainstRealRepo(t *testing.T) {
	repo := initRepo(t)

	out, err := runGit(repo, "config", "--local", "--null", "--get-regexp", `^scc\.`)
	require.NoError(t, err, "no matching key is not an error")
	assert.Empty(t, out)

	require.NoError(t, exec.Command("git", "-C", repo, "config", "--local", "scc.theme", "nord").Run())
	got, err := readGitConfig(gitLocal, repo)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "nord"}, got)
}

func TestLocalRepoDir(t *testing.T) {
	repo := initRepo(t)
	assert.Equal(t, repo, localRepoDir(repo))

	t.Chdir(t.TempDir())
	assert.Empty(t, localRepoDir("/non/existent/path"))

	t.Chdir(repo)
	assert.Equal(t, repo, localRepoDir(""))
}

func TestParseOverrides(t *testing.T) {
	tests := []struct {
		name      string
		overrides []string
		want      map[string]any
		errMsg    string
	}{
		{
			name:      "single",
			overrides: []string{"scc.provider=git"},
			want:      map[string]any{"provider": "git"},
		},
		{
			name:      "several",
			overrides: []string{"scc.server=p4:1666", "scc.silent=true", "scc.workers=3"},
			want:      map[string]any{"server": "p4:1666", "silent": "true", "workers": "3"},
		},
		{
			name:      "value containing equals",
			overrides: []string{"scc.password=a=b"},
			want:      map[string]any{"password": "a=b"},
		},
		{
			name:      "repeated key",
			overrides: []string{"scc.package_paths=A", "scc.package_paths=B", "scc.package_paths=C"},
			want:      map[string]any{"package_paths": []any{"A", "B", "C"}},
		},
		{
			name:      "empty value",
			overrides: []string{"scc.theme="},
			want:      map[string]any{"theme": ""},
		},
		{name: "no equals", overrides: []string{"scc.server"}, errMsg: "invalid config override"},
		{name: "no prefix", overrides: []string{"server=p4:1666"}, errMsg: `must start with "scc."`},
		{name: "empty key", overrides: []string{"scc.=value"}, errMsg: "empty config key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOverrides(tt.overrides)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
