// Package config loads lazyscc configuration from YAML, git config, the
// environment and command line overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/theme"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by the provider key.
const (
	ProviderNone     = "none"
	ProviderGit      = "git"
	ProviderPerforce = "perforce"
)

// AppConfig defines the lazyscc configuration options.
type AppConfig struct {
	Provider string
	Server   string
	User     string
	// Password is always held decrypted in memory.
	Password string
	Client   string

	WorkspaceRoot string
	Workers       int
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration

	AutoAddNewFiles bool
	ForceCheckout   bool // Check files out whatever state the server reports (build machines)
	Silent          bool // Suppress message boxes for files opened by other users

	PackagePaths      []string
	PackageExtensions []string

	JournalPath string
	DebugLog    string
	LogLevel    string
	LogFormat   string // "text" or "json"
	Theme       string // Theme name: see AvailableThemes in internal/theme
	ShowIcons   bool   // Render Nerd Font icons in status listings (default: true)

	// Path is the YAML file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Provider:          ProviderNone,
		ProbeTimeout:      10 * time.Second,
		ProbeInterval:     100 * time.Millisecond,
		PackageExtensions: []string{".upk", ".umap", ".u"},
		LogLevel:          "info",
		LogFormat:         "text",
		ShowIcons:         true,
	}
}

// normalizeArgsList converts a string or YAML list into a list of values.
// A plain string is split on commas.
func normalizeArgsList(value any) []string {
	if value == nil {
		return []string{}
	}

	switch v := value.(type) {
	case string:
		args := []string{}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				args = append(args, part)
			}
		}
		return args
	case []any:
		args := []string{}
		for _, item := range v {
			if item == nil {
				continue
			}
			text := strings.TrimSpace(fmt.Sprintf("%v", item))
			if text != "" {
				args = append(args, text)
			}
		}
		return args
	}

	return []string{}
}

func coerceBool(value any, defaultVal bool) bool {
	if value == nil {
		return defaultVal
	}

	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		text := strings.ToLower(strings.TrimSpace(v))
		switch text {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultVal
}

func coerceInt(value any, defaultVal int) int {
	if value == nil {
		return defaultVal
	}

	switch v := value.(type) {
	case bool:
		return defaultVal
	case int:
		return v
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return defaultVal
		}
		if i, err := strconv.Atoi(text); err == nil {
			return i
		}
	}
	return defaultVal
}

// coerceDuration accepts Go duration strings ("10s") or plain integers in
// milliseconds. Non-positive values keep the default.
func coerceDuration(value any, defaultVal time.Duration) time.Duration {
	var d time.Duration
	switch v := value.(type) {
	case int:
		d = time.Duration(v) * time.Millisecond
	case string:
		text := strings.TrimSpace(v)
		if ms, err := strconv.Atoi(text); err == nil {
			d = time.Duration(ms) * time.Millisecond
		} else if parsed, err := time.ParseDuration(text); err == nil {
			d = parsed
		}
	}
	if d <= 0 {
		return defaultVal
	}
	return d
}

func coerceString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case int, bool:
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

// NormalizeProvider maps provider aliases to a canonical name, or "".
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off", "disabled":
		return ProviderNone
	case "git":
		return ProviderGit
	case "perforce", "p4":
		return ProviderPerforce
	default:
		return ""
	}
}

func parseConfig(data map[string]any) *AppConfig {
	cfg := DefaultConfig()
	applyConfig(cfg, data)
	return cfg
}

// applyConfig layers the keys present in data over cfg.
func applyConfig(cfg *AppConfig, data map[string]any) {
	if v, ok := coerceString(data["provider"]); ok {
		if p := NormalizeProvider(v); p != "" {
			cfg.Provider = p
		}
	}
	for key, dst := range map[string]*string{
		"server":         &cfg.Server,
		"user":           &cfg.User,
		"client":         &cfg.Client,
		"workspace_root": &cfg.WorkspaceRoot,
		"journal_path":   &cfg.JournalPath,
		"debug_log":      &cfg.DebugLog,
	} {
		if v, ok := coerceString(data[key]); ok {
			*dst = v
		}
	}
	if v, ok := coerceString(data["password"]); ok {
		cfg.Password = v
	}

	cfg.Workers = coerceInt(data["workers"], cfg.Workers)
	cfg.ProbeTimeout = coerceDuration(data["probe_timeout"], cfg.ProbeTimeout)
	cfg.ProbeInterval = coerceDuration(data["probe_interval"], cfg.ProbeInterval)
	cfg.AutoAddNewFiles = coerceBool(data["auto_add_new_files"], cfg.AutoAddNewFiles)
	cfg.ForceCheckout = coerceBool(data["force_checkout"], cfg.ForceCheckout)
	cfg.Silent = coerceBool(data["silent"], cfg.Silent)
	cfg.ShowIcons = coerceBool(data["show_icons"], cfg.ShowIcons)

	if _, ok := data["package_paths"]; ok {
		cfg.PackagePaths = normalizeArgsList(data["package_paths"])
	}
	if _, ok := data["package_extensions"]; ok {
		if exts := normalizeArgsList(data["package_extensions"]); len(exts) > 0 {
			cfg.PackageExtensions = exts
		}
	}

	if v, ok := coerceString(data["log_level"]); ok {
		switch v = strings.ToLower(v); v {
		case "trace", "debug", "info", "warn", "error":
			cfg.LogLevel = v
		}
	}
	if v, ok := coerceString(data["log_format"]); ok {
		if v = strings.ToLower(v); v == "text" || v == "json" {
			cfg.LogFormat = v
		}
	}
	if v, ok := coerceString(data["theme"]); ok {
		if normalized := NormalizeThemeName(v); normalized != "" {
			cfg.Theme = normalized
		}
	}
}

func getConfigDir() string {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

// ConfigDir returns the lazyscc configuration directory.
func ConfigDir() string {
	return filepath.Clean(filepath.Join(getConfigDir(), "lazyscc"))
}

// readConfigFile returns the YAML data and the path it came from. A missing
// default file is not an error.
func readConfigFile(configPath string) (map[string]any, string, error) {
	configBase := ConfigDir()

	var paths []string
	if configPath != "" {
		expanded, err := ExpandPath(configPath)
		if err != nil {
			return nil, "", err
		}
		absPath, err := filepath.Abs(expanded)
		if err != nil {
			return nil, "", err
		}
		if !isPathWithin(configBase, absPath) {
			return nil, "", fmt.Errorf("config path must reside inside %s", configBase)
		}
		paths = []string{absPath}
	} else {
		paths = []string{
			filepath.Join(configBase, "config.yaml"),
			filepath.Join(configBase, "config.yml"),
		}
	}

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		// #nosec G304 -- path is constrained to the config directory after validation
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", path, err)
		}

		var yamlData map[string]any
		if err := yaml.Unmarshal(data, &yamlData); err != nil {
			return nil, "", fmt.Errorf("parse %s: %w", path, err)
		}
		if yamlData == nil {
			yamlData = map[string]any{}
		}
		return yamlData, path, nil
	}
	return map[string]any{}, "", nil
}

// LoadConfig reads the application configuration from a YAML file only.
func LoadConfig(configPath string) (*AppConfig, error) {
	data, path, err := readConfigFile(configPath)
	if err != nil {
		return DefaultConfig(), err
	}
	cfg := parseConfig(data)
	cfg.Path = path
	if err := cfg.decryptPassword(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOptions selects the configuration layers read by Load.
type LoadOptions struct {
	ConfigFile string
	// Overrides are scc.key=value pairs from the command line.
	Overrides []string
	// EnvFile is a dotenv file; empty means ".env" in the working directory.
	EnvFile string
	// SkipGitConfig disables the git config layers.
	SkipGitConfig bool
}

// Load builds the configuration from, in increasing precedence: the YAML
// file, global then local git config, dotenv and LAZYSCC_* environment
// variables, and command line overrides.
func Load(opts LoadOptions) (*AppConfig, error) {
	data, path, err := readConfigFile(opts.ConfigFile)
	if err != nil {
		return DefaultConfig(), err
	}
	cfg := parseConfig(data)
	cfg.Path = path

	if !opts.SkipGitConfig {
		if global, err := readGitConfig(gitGlobal, ""); err == nil {
			applyConfig(cfg, global)
		}
		if repo := localRepoDir(cfg.WorkspaceRoot); repo != "" {
			if local, err := readGitConfig(gitLocal, repo); err == nil {
				applyConfig(cfg, local)
			}
		}
	}

	env, err := loadEnv(opts.EnvFile)
	if err != nil {
		return cfg, err
	}
	applyConfig(cfg, env)

	overrides, err := parseOverrides(opts.Overrides)
	if err != nil {
		return cfg, err
	}
	applyConfig(cfg, overrides)

	if err := cfg.decryptPassword(); err != nil {
		return cfg, err
	}
	if cfg.Theme == "" {
		cfg.Theme = theme.Detect()
	}
	return cfg, nil
}

func (cfg *AppConfig) decryptPassword() error {
	if !IsEncrypted(cfg.Password) {
		return nil
	}
	plain, err := DecryptPassword(cfg.Password, cfg.User)
	if err != nil {
		return fmt.Errorf("decrypt password: %w", err)
	}
	cfg.Password = plain
	return nil
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path), nil
}

func isPathWithin(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)

	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}

// ResolveJournalPath returns the sqlite journal location, defaulting to the
// configuration directory.
func (cfg *AppConfig) ResolveJournalPath() (string, error) {
	if cfg.JournalPath == "" {
		return filepath.Join(ConfigDir(), models.JournalFilename), nil
	}
	return ExpandPath(cfg.JournalPath)
}

// ResolvePackagePaths expands package_paths, resolving relative entries
// against the workspace root.
func (cfg *AppConfig) ResolvePackagePaths() []string {
	out := make([]string, 0, len(cfg.PackagePaths))
	for _, p := range cfg.PackagePaths {
		expanded, err := ExpandPath(p)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(expanded) && cfg.WorkspaceRoot != "" {
			expanded = filepath.Join(cfg.WorkspaceRoot, expanded)
		}
		out = append(out, expanded)
	}
	return out
}

// NormalizeThemeName returns the canonical theme name if it is supported.
func NormalizeThemeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, available := range theme.AvailableThemes() {
		if available == name {
			return name
		}
	}
	return ""
}
