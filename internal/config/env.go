package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "LAZYSCC_"

// envKeys maps LAZYSCC_* variables to configuration keys.
var envKeys = map[string]string{
	"PROVIDER":       "provider",
	"SERVER":         "server",
	"USER":           "user",
	"PASSWORD":       "password",
	"CLIENT":         "client",
	"WORKSPACE_ROOT": "workspace_root",
	"JOURNAL_PATH":   "journal_path",
	"LOG_LEVEL":      "log_level",
	"LOG_FORMAT":     "log_format",
}

// loadEnv reads LAZYSCC_* settings from the dotenv file and the process
// environment. Process variables win. A missing dotenv file is ignored.
func loadEnv(envFile string) (map[string]any, error) {
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	result := make(map[string]any)
	for suffix, key := range envKeys {
		name := envPrefix + suffix
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			result[key] = v
			continue
		}
		if v, ok := dotenv[name]; ok && strings.TrimSpace(v) != "" {
			result[key] = v
		}
	}
	return result, nil
}
