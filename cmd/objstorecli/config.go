package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

var (
	errStoreDirEmpty  = errors.New("store_dir must not be empty")
	errStoreNameEmpty = errors.New("store_name must not be empty")
)

// Config holds the options that control where and how a store is opened.
type Config struct {
	StoreDir      string `json:"store_dir"`      //nolint:tagliatelle // snake_case for config file
	StoreName     string `json:"store_name"`     //nolint:tagliatelle // snake_case for config file
	CaseSensitive bool   `json:"case_sensitive"` //nolint:tagliatelle // snake_case for config file
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StoreDir:      ".objstore",
		StoreName:     "store",
		CaseSensitive: false,
	}
}

// ConfigFileName is the default project config file name. It's JSONC
// (JSON with comments and trailing commas), parsed via hujson.
const ConfigFileName = ".objstorecli.jsonc"

// getGlobalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/objstorecli/config.jsonc if set, otherwise
// ~/.config/objstorecli/config.jsonc. Returns empty string if the home
// directory cannot be determined.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "objstorecli", "config.jsonc")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "objstorecli", "config.jsonc")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "objstorecli", "config.jsonc")
	}

	return ""
}

// OverrideSet records which CLI flags were explicitly set, so LoadConfig
// can tell "--store-name store" apart from an unset flag that happens to
// match the default.
type OverrideSet struct {
	StoreDir      bool
	StoreName     bool
	CaseSensitive bool
}

// LoadConfig loads configuration with the following precedence (highest
// wins):
//  1. Defaults
//  2. Global user config (~/.config/objstorecli/config.jsonc)
//  3. Project config: the file at configPath if non-empty (it must exist),
//     otherwise .objstorecli.jsonc in workDir if present; .objstorecli.jsonc
//     is not read when configPath is given
//  4. CLI overrides.
func LoadConfig(
	workDir, configPath string, cliOverrides Config, overrides OverrideSet, env []string,
) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if overrides.StoreDir {
		cfg.StoreDir = cliOverrides.StoreDir
	}

	if overrides.StoreName {
		cfg.StoreName = cliOverrides.StoreName
	}

	if overrides.CaseSensitive {
		cfg.CaseSensitive = cliOverrides.CaseSensitive
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("config file not found: %s", configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

// loadConfigFile loads a config file. If mustExist is false, a missing
// file returns a zero Config and loaded=false rather than an error.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("reading config file %s: %w", path, err)
		}

		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.StoreDir != "" {
		base.StoreDir = overlay.StoreDir
	}

	if overlay.StoreName != "" {
		base.StoreName = overlay.StoreName
	}

	// A config file can only turn case sensitivity on over a less specific
	// layer, never back off; JSON booleans can't distinguish "false" from
	// "unset" the way the string fields above do.
	base.CaseSensitive = base.CaseSensitive || overlay.CaseSensitive

	return base
}

func validateConfig(cfg Config) error {
	if cfg.StoreDir == "" {
		return errStoreDirEmpty
	}

	if cfg.StoreName == "" {
		return errStoreNameEmpty
	}

	return nil
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
