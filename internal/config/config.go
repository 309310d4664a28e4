// Package config handles configuration loading and hive home resolution.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Config types
// ---------------------------------------------------------------------------

// CacheConfig controls the resolved-context cache.
type CacheConfig struct {
	TTLSeconds int  `yaml:"ttl_seconds"` // coarse safety net on top of explicit invalidation
	Janitor    bool `yaml:"janitor"`     // run the periodic expiry sweep
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// MergeConfig controls inheritance merge behaviour.
type MergeConfig struct {
	Policy string `yaml:"policy"` // "deep" | "override"
}

// StoreConfig controls persistence I/O bounds.
type StoreConfig struct {
	TimeoutMS int `yaml:"timeout_ms"` // per-operation bound on SQLite calls
	Retries   int `yaml:"retries"`    // bounded retries for transient store failures
}

// Timeout returns the store timeout as a duration.
func (s StoreConfig) Timeout() time.Duration { return time.Duration(s.TimeoutMS) * time.Millisecond }

// AncestryConfig controls ancestor auto-creation.
type AncestryConfig struct {
	// AutoCreate names the highest level the enforcer may synthesize when a
	// descendant is created: "none", "project" or "branch". Missing ancestors
	// above it fail with an actionable dependency error instead.
	AutoCreate string `yaml:"auto_create"`
}

// HiveConfig is the root per-hive configuration.
type HiveConfig struct {
	Cache    CacheConfig    `yaml:"cache"`
	Merge    MergeConfig    `yaml:"merge"`
	Store    StoreConfig    `yaml:"store"`
	Ancestry AncestryConfig `yaml:"ancestry"`
}

// Default returns a HiveConfig populated with sensible defaults.
func Default() *HiveConfig {
	return &HiveConfig{
		Cache:    CacheConfig{TTLSeconds: 300, Janitor: true},
		Merge:    MergeConfig{Policy: "deep"},
		Store:    StoreConfig{TimeoutMS: 5000, Retries: 3},
		Ancestry: AncestryConfig{AutoCreate: "branch"},
	}
}

// Load reads a per-hive config.yaml from path.
// If the file does not exist it returns Default() with no error.
// Missing keys retain their default values.
func Load(path string) (*HiveConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	// Unmarshal into a plain map so we can apply only the keys that are present.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if cache, ok := raw["cache"].(map[string]any); ok {
		if v, ok := cache["ttl_seconds"].(int); ok && v > 0 {
			cfg.Cache.TTLSeconds = v
		}
		if v, ok := cache["janitor"].(bool); ok {
			cfg.Cache.Janitor = v
		}
	}

	if mrg, ok := raw["merge"].(map[string]any); ok {
		if v, ok := mrg["policy"].(string); ok && v != "" {
			cfg.Merge.Policy = v
		}
	}

	if st, ok := raw["store"].(map[string]any); ok {
		if v, ok := st["timeout_ms"].(int); ok && v > 0 {
			cfg.Store.TimeoutMS = v
		}
		if v, ok := st["retries"].(int); ok && v >= 0 {
			cfg.Store.Retries = v
		}
	}

	if anc, ok := raw["ancestry"].(map[string]any); ok {
		if v, ok := anc["auto_create"].(string); ok && v != "" {
			cfg.Ancestry.AutoCreate = v
		}
	}

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Hive home resolution
// ---------------------------------------------------------------------------

// globalConfigPath returns the path to the global taskhive config file.
// This file stores only hive_home (and future global settings).
func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "taskhive", "config.yaml"), nil
}

// normalizePath expands ~ and makes the path absolute.
func normalizePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(os.ExpandEnv(path))
}

// ResolveHiveHome returns the hive home path and the source of the resolution.
// Priority: TASKHIVE_HOME env → persisted global config → ~/.taskhive
// source is one of "env", "config", or "default".
func ResolveHiveHome() (path, source string) {
	if env := os.Getenv("TASKHIVE_HOME"); env != "" {
		p, err := normalizePath(env)
		if err == nil {
			return p, "env"
		}
	}

	if persisted, ok, _ := GetPersistedHiveHome(); ok {
		return persisted, "config"
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskhive"), "default"
}

// GetHiveHome returns the resolved hive home path.
func GetHiveHome() string {
	path, _ := ResolveHiveHome()
	return path
}

// GetPersistedHiveHome reads hive_home from the global config.
// Returns ("", false, nil) if not set.
func GetPersistedHiveHome() (string, bool, error) {
	cfgPath, err := globalConfigPath()
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", false, nil
	}

	val, _ := raw["hive_home"].(string)
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false, nil
	}

	p, err := normalizePath(val)
	if err != nil {
		return "", false, err
	}
	return p, true, nil
}

// SetPersistedHiveHome normalizes path and persists it in the global config.
// Returns the normalized path.
func SetPersistedHiveHome(path string) (string, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return "", err
	}

	cfgPath, err := globalConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return "", err
	}

	// Read existing global config, preserving any other keys.
	var raw map[string]any
	if data, err := os.ReadFile(cfgPath); err == nil {
		_ = yaml.Unmarshal(data, &raw)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	raw["hive_home"] = normalized

	out, err := yaml.Marshal(raw)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, out, 0o600); err != nil {
		return "", err
	}
	return normalized, nil
}

// ClearPersistedHiveHome removes hive_home from the global config.
// Returns true if the key was present and removed.
// If the file becomes empty after removal it is deleted.
func ClearPersistedHiveHome() (bool, error) {
	cfgPath, err := globalConfigPath()
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false, nil
	}

	if _, ok := raw["hive_home"]; !ok {
		return false, nil
	}
	delete(raw, "hive_home")

	if len(raw) == 0 {
		_ = os.Remove(cfgPath)
		return true, nil
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(cfgPath, out, 0o600)
}
