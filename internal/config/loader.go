package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "catsync.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "catsync.yml"

// findConfigFile finds the config file to use.
// Priority: explicit path > catsync.yaml > catsync.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	if _, err := os.Stat(ConfigFileNameAlt); err == nil {
		return ConfigFileNameAlt
	}
	return ""
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults.
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"catalog_path":          DefaultCatalogPath,
		"verbose":               false,
		"output":                DefaultOutput,
		"sync.concurrency":      DefaultConcurrency,
		"sync.pull_attempts":    DefaultPullAttempts,
		"sync.pull_backoff":     DefaultPullBackoff,
		"sync.conflict_retries": DefaultConflictRetries,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file.
	configFile := findConfigFile(cfgFile)
	if configFile == "" && cfgFile != "" {
		return nil, fmt.Errorf("config file not found: %s", cfgFile)
	}
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	// 3. Environment variables (CATSYNC_ prefix).
	// Transform: CATSYNC_CATALOG_PATH -> catalog_path,
	// CATSYNC_SYNC__CONCURRENCY -> sync.concurrency.
	if err := k.Load(env.Provider("CATSYNC_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "CATSYNC_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority).
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set.
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")

			// The CLI uses --catalog for brevity; the config key is catalog_path.
			if key == "catalog" {
				return "catalog_path", posflag.FlagVal(flags, f)
			}
			if key == "concurrency" {
				return "sync.concurrency", posflag.FlagVal(flags, f)
			}

			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal.
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Expand ${VAR} in credentials so secrets stay out of the file.
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		src.Username = expandEnvVars(src.Username)
		src.Password = expandEnvVars(src.Password)
		src.Host = expandEnvVars(src.Host)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as-is.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}
