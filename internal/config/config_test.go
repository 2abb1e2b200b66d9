package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, ProviderNone, cfg.Provider)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.ProbeInterval)
	assert.Equal(t, []string{".upk", ".umap", ".u"}, cfg.PackageExtensions)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.ShowIcons)
	assert.False(t, cfg.AutoAddNewFiles)
	assert.False(t, cfg.ForceCheckout)
	assert.Zero(t, cfg.Workers)
	assert.Empty(t, cfg.Server)
	assert.Empty(t, cfg.PackagePaths)
}

func TestNormalizeArgsList(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected []string
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: []string{},
		},
		{
			name:     "empty string",
			input:    "",
			expected: []string{},
		},
		{
			name:     "comma separated string",
			input:    "Content, Engine/Content ,",
			expected: []string{"Content", "Engine/Content"},
		},
		{
			name:     "list",
			input:    []any{".upk", ".umap"},
			expected: []string{".upk", ".umap"},
		},
		{
			name:     "list with empty elements",
			input:    []any{".upk", "", nil, " .u "},
			expected: []string{".upk", ".u"},
		},
		{
			name:     "unsupported type",
			input:    42,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeArgsList(tt.input))
		})
	}
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		name       string
		input      any
		defaultVal bool
		expected   bool
	}{
		{"nil returns default", nil, true, true},
		{"bool true", true, false, true},
		{"int zero", 0, true, false},
		{"int non-zero", 5, false, true},
		{"string yes", "yes", false, true},
		{"string on uppercase", "ON", false, true},
		{"string off", "off", true, false},
		{"string n", " n ", true, false},
		{"invalid string keeps default", "maybe", true, true},
		{"float keeps default", 1.5, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, coerceBool(tt.input, tt.defaultVal))
		})
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		name       string
		input      any
		defaultVal int
		expected   int
	}{
		{"nil returns default", nil, 4, 4},
		{"int", 8, 4, 8},
		{"bool keeps default", true, 4, 4},
		{"numeric string", " 16 ", 4, 16},
		{"empty string", "", 4, 4},
		{"invalid string", "many", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, coerceInt(tt.input, tt.defaultVal))
		})
	}
}

func TestCoerceDuration(t *testing.T) {
	def := 10 * time.Second
	tests := []struct {
		name     string
		input    any
		expected time.Duration
	}{
		{"nil", nil, def},
		{"int is milliseconds", 250, 250 * time.Millisecond},
		{"numeric string is milliseconds", "1500", 1500 * time.Millisecond},
		{"duration string", "3s", 3 * time.Second},
		{"zero keeps default", 0, def},
		{"negative keeps default", "-2s", def},
		{"garbage keeps default", "soon", def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, coerceDuration(tt.input, def))
		})
	}
}

func TestNormalizeProvider(t *testing.T) {
	assert.Equal(t, ProviderNone, NormalizeProvider(""))
	assert.Equal(t, ProviderNone, NormalizeProvider("Disabled"))
	assert.Equal(t, ProviderGit, NormalizeProvider(" git "))
	assert.Equal(t, ProviderPerforce, NormalizeProvider("P4"))
	assert.Equal(t, ProviderPerforce, NormalizeProvider("perforce"))
	assert.Empty(t, NormalizeProvider("svn"))
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		validate func(t *testing.T, cfg *AppConfig)
	}{
		{
			name: "empty config uses defaults",
			data: map[string]any{},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "perforce connection settings",
			data: map[string]any{
				"provider": "p4",
				"server":   "ssl:perforce:1666",
				"user":     "builder",
				"client":   "builder-ws",
				"password": "secret",
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, ProviderPerforce, cfg.Provider)
				assert.Equal(t, "ssl:perforce:1666", cfg.Server)
				assert.Equal(t, "builder", cfg.User)
				assert.Equal(t, "builder-ws", cfg.Client)
				assert.Equal(t, "secret", cfg.Password)
			},
		},
		{
			name: "unknown provider keeps default",
			data: map[string]any{"provider": "svn"},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, ProviderNone, cfg.Provider)
			},
		},
		{
			name: "dispatcher tuning",
			data: map[string]any{
				"workers":        6,
				"probe_timeout":  "2s",
				"probe_interval": 20,
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, 6, cfg.Workers)
				assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
				assert.Equal(t, 20*time.Millisecond, cfg.ProbeInterval)
			},
		},
		{
			name: "flags",
			data: map[string]any{
				"auto_add_new_files": "yes",
				"force_checkout":     true,
				"silent":             1,
				"show_icons":         "false",
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.True(t, cfg.AutoAddNewFiles)
				assert.True(t, cfg.ForceCheckout)
				assert.True(t, cfg.Silent)
				assert.False(t, cfg.ShowIcons)
			},
		},
		{
			name: "package lookup",
			data: map[string]any{
				"package_paths":      []any{"Content", "Engine/Content"},
				"package_extensions": ".upk,.umap",
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, []string{"Content", "Engine/Content"}, cfg.PackagePaths)
				assert.Equal(t, []string{".upk", ".umap"}, cfg.PackageExtensions)
			},
		},
		{
			name: "empty package extensions keep defaults",
			data: map[string]any{"package_extensions": []any{}},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, DefaultConfig().PackageExtensions, cfg.PackageExtensions)
			},
		},
		{
			name: "logging",
			data: map[string]any{
				"log_level":  "DEBUG",
				"log_format": "json",
				"debug_log":  "/tmp/lazyscc.log",
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "json", cfg.LogFormat)
				assert.Equal(t, "/tmp/lazyscc.log", cfg.DebugLog)
			},
		},
		{
			name: "invalid logging values are ignored",
			data: map[string]any{"log_level": "loud", "log_format": "xml"},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "text", cfg.LogFormat)
			},
		},
		{
			name: "theme",
			data: map[string]any{"theme": "Nord"},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "nord", cfg.Theme)
			},
		},
		{
			name: "unknown theme ignored",
			data: map[string]any{"theme": "neon"},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Empty(t, cfg.Theme)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parseConfig(tt.data)
			require.NotNil(t, cfg)
			tt.validate(t, cfg)
		})
	}
}

func TestApplyConfigLayers(t *testing.T) {
	cfg := parseConfig(map[string]any{"server": "a:1666", "user": "alice", "workers": 2})
	applyConfig(cfg, map[string]any{"server": "b:1666"})

	assert.Equal(t, "b:1666", cfg.Server)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, 2, cfg.Workers)
}

func writeConfigFile(t *testing.T, content string) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	configPath := filepath.Join(tmpDir, "lazyscc", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o750))
	if content != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	}
	return tmpDir, configPath
}

func TestLoadConfig(t *testing.T) {
	t.Run("no config file returns defaults", func(t *testing.T) {
		_, configPath := writeConfigFile(t, "")

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, ProviderNone, cfg.Provider)
		assert.Empty(t, cfg.Path)
	})

	t.Run("valid config file", func(t *testing.T) {
		_, configPath := writeConfigFile(t, `provider: perforce
server: perforce:1666
user: builder
workers: 3
probe_timeout: 5s
auto_add_new_files: true
package_paths:
  - Content
`)

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, configPath, cfg.Path)
		assert.Equal(t, ProviderPerforce, cfg.Provider)
		assert.Equal(t, "perforce:1666", cfg.Server)
		assert.Equal(t, "builder", cfg.User)
		assert.Equal(t, 3, cfg.Workers)
		assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
		assert.True(t, cfg.AutoAddNewFiles)
		assert.Equal(t, []string{"Content"}, cfg.PackagePaths)
	})

	t.Run("default location is found", func(t *testing.T) {
		_, configPath := writeConfigFile(t, "provider: git\n")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, ProviderGit, cfg.Provider)
		assert.Equal(t, configPath, cfg.Path)
	})

	t.Run("invalid YAML is an error", func(t *testing.T) {
		_, configPath := writeConfigFile(t, "invalid: [[[")

		cfg, err := LoadConfig(configPath)
		require.Error(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("path outside config dir is rejected", func(t *testing.T) {
		writeConfigFile(t, "")
		outside := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(outside, []byte("provider: git\n"), 0o600))

		_, err := LoadConfig(outside)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config path must reside inside")
	})

	t.Run("encrypted password is decrypted", func(t *testing.T) {
		_, configPath := writeConfigFile(t, "")
		require.NoError(t, SavePassword(configPath, "builder", "hunter2"))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, "builder", cfg.User)
		assert.Equal(t, "hunter2", cfg.Password)
	})
}

func TestLoadLayers(t *testing.T) {
	_, configPath := writeConfigFile(t, `provider: perforce
server: file:1666
user: fileuser
workers: 2
`)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LAZYSCC_SERVER=dotenv:1666\nLAZYSCC_CLIENT=dotenv-ws\n"), 0o600))
	t.Setenv("LAZYSCC_USER", "envuser")

	cfg, err := Load(LoadOptions{
		ConfigFile:    configPath,
		EnvFile:       envFile,
		SkipGitConfig: true,
		Overrides:     []string{"scc.workers=9"},
	})
	require.NoError(t, err)

	assert.Equal(t, ProviderPerforce, cfg.Provider)
	assert.Equal(t, "dotenv:1666", cfg.Server)
	assert.Equal(t, "envuser", cfg.User)
	assert.Equal(t, "dotenv-ws", cfg.Client)
	assert.Equal(t, 9, cfg.Workers)
	assert.NotEmpty(t, cfg.Theme)
}

func TestLoadGitConfigLayer(t *testing.T) {
	_, configPath := writeConfigFile(t, "provider: perforce\nworkers: 2\nworkspace_root: /ws/game\n")
	stubGit(t, func(dir string, args ...string) (string, error) {
		switch {
		case args[0] == "rev-parse" && dir == "/ws/game":
			return ".git\n", nil
		case args[0] == "rev-parse":
			return "", errors.New("not a git repository")
		case args[1] == string(gitGlobal):
			return "scc.workers\n4\x00scc.server\nglobal:1666\x00", nil
		default:
			assert.Equal(t, "/ws/game", dir)
			return "scc.server\nlocal:1666\x00", nil
		}
	})

	cfg, err := Load(LoadOptions{
		ConfigFile: configPath,
		EnvFile:    filepath.Join(t.TempDir(), "missing.env"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "local:1666", cfg.Server)
}

func TestLoadBadOverride(t *testing.T) {
	_, configPath := writeConfigFile(t, "")
	_, err := Load(LoadOptions{
		ConfigFile:    configPath,
		EnvFile:       filepath.Join(t.TempDir(), "missing.env"),
		SkipGitConfig: true,
		Overrides:     []string{"workers=3"},
	})
	require.Error(t, err)
}

func TestExpandPathHomeAndEnv(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("LAZYSCC_TEST_DIR", "/custom")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"absolute", "/absolute/path", "/absolute/path"},
		{"tilde", "~/test/path", filepath.Join(home, "test", "path")},
		{"env var", "$LAZYSCC_TEST_DIR/test", "/custom/test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExpandPath(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsPathWithin(t *testing.T) {
	assert.True(t, isPathWithin("/a/b", "/a/b"))
	assert.True(t, isPathWithin("/a/b", "/a/b/c.yaml"))
	assert.False(t, isPathWithin("/a/b", "/a/bc"))
	assert.False(t, isPathWithin("/a/b", "/a"))
}

func TestResolvePaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	cfg := DefaultConfig()
	journal, err := cfg.ResolveJournalPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "lazyscc", "journal.db"), journal)

	cfg.JournalPath = "/var/lib/lazyscc.db"
	journal, err = cfg.ResolveJournalPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lazyscc.db", journal)

	cfg.WorkspaceRoot = "/ws"
	cfg.PackagePaths = []string{"Content", "/abs/Packages"}
	assert.Equal(t, []string{"/ws/Content", "/abs/Packages"}, cfg.ResolvePackagePaths())
}

func TestNormalizeThemeName(t *testing.T) {
	assert.Equal(t, "dracula", NormalizeThemeName(" Dracula "))
	assert.Empty(t, NormalizeThemeName("unknown"))
}
