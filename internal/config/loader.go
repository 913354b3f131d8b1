// Package config provides centralized configuration management for platescan.
// It implements the three-layer config pattern using gofulmen/config:
// Layer 1: Defaults (config/platescan/v0/platescan-defaults.yaml)
// Layer 2: User overrides (XDG config paths, or the --config file)
// Layer 3: Environment variables and runtime overrides
//
// The merged result is validated against schemas/platescan/v0/config.schema.json.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/pathfinder"
	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/viflex/platescan/internal/appid"
	"github.com/viflex/platescan/internal/assets/configfiles"
)

const (
	defaultAppName   = "platescan"
	defaultEnvPrefix = "PLATESCAN"
	configCategory   = "platescan"
	configVersion    = "v0"
	defaultsFile     = "platescan-defaults.yaml"
	schemaID         = "platescan/v0/config"
)

// ErrInvalid wraps schema validation failures.
var ErrInvalid = errors.New("invalid configuration")

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load resolves configuration from the defaults file, the user config (or
// configFile when set), PLATESCAN_* environment variables and runtime
// overrides, in that order. A missing configFile is an error; missing user
// config in the XDG paths is not.
//
// Runtime overrides may be nested maps or use dotted keys ("server.port").
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	root, err := assetsRoot()
	if err != nil {
		return nil, err
	}

	opts := gfconfig.LayeredConfigOptions{
		Category:     configCategory,
		Version:      configVersion,
		DefaultsFile: defaultsFile,
		SchemaID:     schemaID,
		UserPaths:    getUserConfigPaths(),
		Catalog:      schema.NewCatalog(filepath.Join(root, "schemas")),
		DefaultsRoot: filepath.Join(root, "config"),
	}

	layers := []map[string]any{}
	if strings.TrimSpace(configFile) != "" {
		fileLayer, err := readConfigFile(configFile)
		if err != nil {
			return nil, err
		}
		opts.UserPaths = []string{}
		layers = append(layers, fileLayer)
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	layers = append(layers, envOverrides)
	for _, overrides := range runtimeOverrides {
		layers = append(layers, expandKeys(overrides))
	}

	merged, diagnostics, err := gfconfig.LoadLayeredConfig(opts, layers...)
	if err != nil {
		return nil, fmt.Errorf("failed to load layered config: %w", err)
	}
	if len(diagnostics) > 0 {
		problems := make([]string, 0, len(diagnostics))
		for _, diag := range diagnostics {
			problems = append(problems, fmt.Sprintf("%s: %s", diag.Pointer, diag.Message))
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(" "),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.History.URL) == "" && strings.TrimSpace(cfg.History.Path) == "" {
		cfg.History.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

// readConfigFile reads an explicit config file. Any format viper understands
// (yaml, json, toml) is accepted.
func readConfigFile(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return v.AllSettings(), nil
}

// expandKeys turns dotted keys into nested maps so overrides merge per field.
func expandKeys(overrides map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range overrides {
		if nested, ok := value.(map[string]any); ok {
			value = expandKeys(nested)
		}
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		last := parts[len(parts)-1]
		if existing, ok := node[last].(map[string]any); ok {
			if incoming, ok := value.(map[string]any); ok {
				for k, v := range incoming {
					existing[k] = v
				}
				continue
			}
		}
		node[last] = value
	}
	return out
}

// assetsRoot returns the directory holding config/ and schemas/. Inside a
// checkout that is the repository root; elsewhere the embedded copy is
// written to the app cache dir.
func assetsRoot() (string, error) {
	if root, err := findProjectRoot(); err == nil {
		if _, statErr := os.Stat(filepath.Join(root, "config", configCategory, configVersion, defaultsFile)); statErr == nil {
			return root, nil
		}
	}

	configName, _ := appNamesForPaths()
	dir := gfconfig.GetAppCacheDir(configName)
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), defaultAppName+"-cache")
	}
	dir = filepath.Join(dir, "config-assets", configVersion)
	if err := writeEmbeddedAssets(dir); err != nil {
		return "", fmt.Errorf("failed to unpack config defaults: %w", err)
	}
	return dir, nil
}

// writeEmbeddedAssets copies the embedded config and schema files under dir.
// Files are replaced by rename so a concurrent reader never sees a partial file.
func writeEmbeddedAssets(dir string) error {
	return fs.WalkDir(configfiles.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := configfiles.FS.ReadFile(path)
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(target), ".asset-*")
		if err != nil {
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), target)
	})
}

// findProjectRoot walks up from the working directory to the nearest go.mod
// or .git.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	rootPath, err := pathfinder.FindRepositoryRoot(cwd, []string{"go.mod", ".git"}, pathfinder.WithMaxDepth(10))
	if err != nil {
		return "", fmt.Errorf("project root not found: %w", err)
	}
	return rootPath, nil
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()
	legacyNames := []string{}
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}
	return gfconfig.GetAppConfigPaths(configName, legacyNames...)
}

// getEnvSpecs maps {PREFIX}{SECTION}_{FIELD} to config paths, plus the short
// names (PORT, LOG_LEVEL, DB_PATH...) the other fulmen tools use.
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix() + "_"

	return []EnvVarSpec{
		// Analysis
		{Name: prefix + "ENDPOINT", Path: []string{"analysis", "endpoint"}, Type: EnvString},
		{Name: prefix + "ANALYSIS_ENDPOINT", Path: []string{"analysis", "endpoint"}, Type: EnvString},
		{Name: prefix + "ANALYSIS_FIELD_NAME", Path: []string{"analysis", "field_name"}, Type: EnvString},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "ANALYSIS_TIMEOUT", Path: []string{"analysis", "timeout"}, Type: EnvString},

		// Camera
		{Name: prefix + "CAMERA_MODE", Path: []string{"camera", "mode"}, Type: EnvString},
		{Name: prefix + "CAMERA_FFMPEG", Path: []string{"camera", "ffmpeg"}, Type: EnvString},
		{Name: prefix + "CAMERA_DEVICE", Path: []string{"camera", "device"}, Type: EnvString},
		{Name: prefix + "CAMERA_WIDTH", Path: []string{"camera", "width"}, Type: EnvInt},
		{Name: prefix + "CAMERA_HEIGHT", Path: []string{"camera", "height"}, Type: EnvInt},
		{Name: prefix + "CAMERA_READY_TIMEOUT", Path: []string{"camera", "ready_timeout"}, Type: EnvString},
		{Name: prefix + "CAMERA_FALLBACK", Path: []string{"camera", "fallback"}, Type: EnvBool},

		// Preview
		{Name: prefix + "PREVIEW_ENABLED", Path: []string{"preview", "enabled"}, Type: EnvBool},
		{Name: prefix + "PREVIEW_DIR", Path: []string{"preview", "dir"}, Type: EnvString},

		// History store
		{Name: prefix + "HISTORY_ENABLED", Path: []string{"history", "enabled"}, Type: EnvBool},
		{Name: prefix + "HISTORY_MAX_ENTRIES", Path: []string{"history", "max_entries"}, Type: EnvInt},
		{Name: prefix + "DB_DRIVER", Path: []string{"history", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"history", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"history", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"history", "auth_token"}, Type: EnvString},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "MAX_SESSIONS", Path: []string{"server", "max_sessions"}, Type: EnvInt},
		{Name: prefix + "SESSION_TTL", Path: []string{"server", "session_ttl"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func envPrefix() string {
	if appIdentity == nil || strings.TrimSpace(appIdentity.EnvPrefix) == "" {
		return defaultEnvPrefix
	}
	return strings.TrimSuffix(appIdentity.EnvPrefix, "_")
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "platescan" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = defaultAppName
	binaryName = defaultAppName
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the history database.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
