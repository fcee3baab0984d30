// Package config provides configuration loading for the policy core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for policycore.yaml/.yml
// in standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("policycore")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: POLICYCORE_ALLOWLIST_ENABLED
	viper.SetEnvPrefix("POLICYCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a policycore config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper
// from matching the binary "policycored" (no extension) in the current
// directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".policycore"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "policycore"))
		}
	} else {
		paths = append(paths, "/etc/policycore")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for policycore.yaml
// or .yml. Returns the full path of the first match, or empty string if
// none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "policycore"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: POLICYCORE_ALLOWLIST_DEFAULT_ACTION overrides allowlist.default_action.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("allowlist.enabled")
	_ = viper.BindEnv("allowlist.default_action")

	_ = viper.BindEnv("rbac.enabled")
	_ = viper.BindEnv("rbac.inherit_permissions")
	// Note: rbac.default_roles is an array, handled by Viper's env parsing.

	_ = viper.BindEnv("permission_cache.max_cached_principals")
	_ = viper.BindEnv("permission_cache.default_ttl_seconds")
	_ = viper.BindEnv("permission_cache.admin_ttl_seconds")
	_ = viper.BindEnv("permission_cache.cleanup_interval_seconds")

	_ = viper.BindEnv("invalidation.max_concurrent")
	_ = viper.BindEnv("invalidation.enable_warming")

	_ = viper.BindEnv("listing.max_filtering_ms")
	_ = viper.BindEnv("listing.fail_open_on_timeout")

	_ = viper.BindEnv("emergency.enabled")

	_ = viper.BindEnv("state.dir")
	_ = viper.BindEnv("state.backend")
	_ = viper.BindEnv("state.roles_file")
	_ = viper.BindEnv("state.roles_db_file")
	_ = viper.BindEnv("state.rules_file")
	_ = viper.BindEnv("state.capability_patterns_file")
	_ = viper.BindEnv("state.global_patterns_file")
	_ = viper.BindEnv("state.change_history_dir")

	_ = viper.BindEnv("audit.output")

	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// LoadConfig itself applies SetDefaults and SetDevDefaults and runs
// Validate on the unmarshalled config before returning it.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found (env vars
// only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
