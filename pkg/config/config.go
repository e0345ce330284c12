package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
)

// ConfigFileEnv names the environment variable that points at the config file.
const ConfigFileEnv = "VPRISM_CONFIG_FILE"

// Config holds service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Reload         bool     `mapstructure:"reload"`
	MaxBodySize    int64    `mapstructure:"max_body_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Version overrides the build version reported by health checks when set.
	Version string `mapstructure:"version"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CacheConfig is parsed and reported; no cache sits in the request path.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	MemorySize int    `mapstructure:"memory_size"`
	DiskPath   string `mapstructure:"disk_path"`
}

// ProvidersConfig drives provider selection and call policy.
type ProvidersConfig struct {
	Timeout          int               `mapstructure:"timeout"`
	MaxRetries       int               `mapstructure:"max_retries"`
	RateLimit        int               `mapstructure:"rate_limit"`
	Default          string            `mapstructure:"default"`
	MarketDefaults   map[string]string `mapstructure:"market_defaults"`
	Enabled          []string          `mapstructure:"enabled"`
	YFinanceURL      string            `mapstructure:"yfinance_url"`
	AkshareURL       string            `mapstructure:"akshare_url"`
	BatchConcurrency int               `mapstructure:"batch_concurrency"`
}

// TimeoutDuration converts the timeout in seconds.
func (p ProvidersConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// IsEnabled reports whether the named provider should be registered.
// An empty list enables everything.
func (p ProvidersConfig) IsEnabled(name string) bool {
	if len(p.Enabled) == 0 {
		return true
	}
	for _, n := range p.Enabled {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
}

var envBindings = map[string]string{
	"server.host":           "VPRISM_HOST",
	"server.port":           "VPRISM_PORT",
	"server.reload":         "VPRISM_RELOAD",
	"cache.enabled":         "VPRISM_CACHE_ENABLED",
	"cache.memory_size":     "VPRISM_CACHE_MEMORY_SIZE",
	"cache.disk_path":       "VPRISM_CACHE_DISK_PATH",
	"providers.timeout":     "VPRISM_PROVIDER_TIMEOUT",
	"providers.max_retries": "VPRISM_PROVIDER_MAX_RETRIES",
	"providers.rate_limit":  "VPRISM_PROVIDER_RATE_LIMIT",
	"logging.level":         "VPRISM_LOGGING_LEVEL",
	"logging.file":          "VPRISM_LOGGING_FILE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.reload", false)
	v.SetDefault("server.max_body_size", 1<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.version", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.memory_size", 1000)
	v.SetDefault("cache.disk_path", "./cache")

	v.SetDefault("providers.timeout", 30)
	v.SetDefault("providers.max_retries", 3)
	v.SetDefault("providers.rate_limit", 60)
	v.SetDefault("providers.default", "")
	v.SetDefault("providers.market_defaults", map[string]any{
		"cn": "akshare",
		"us": "yfinance",
		"hk": "yfinance",
	})
	v.SetDefault("providers.enabled", []string{"yfinance", "akshare"})
	v.SetDefault("providers.yfinance_url", "https://query2.finance.yahoo.com")
	v.SetDefault("providers.akshare_url", "https://push2his.eastmoney.com")
	v.SetDefault("providers.batch_concurrency", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.format", "console")
}

// Default returns the configuration built from defaults only.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// ResolvePath picks the config file: explicit flag, then VPRISM_CONFIG_FILE,
// then ~/.vprism/config.toml.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p, ok := os.LookupEnv(ConfigFileEnv); ok && p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vprism", "config.toml")
}

// Manager loads, merges and watches configuration.
type Manager struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	v         *viper.Viper
	overrides map[string]any
	current   Config
}

// NewManager creates a manager for the given file path. An empty path skips the file layer.
func NewManager(path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		path:      path,
		logger:    logger,
		overrides: map[string]any{},
		current:   Default(),
	}
}

// Load reads defaults < file < environment. File problems are logged and skipped.
func (m *Manager) Load() Config {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, env)
	}

	if m.path != "" {
		v.SetConfigFile(m.path)
		if err := v.ReadInConfig(); err != nil {
			m.logger.Warn("Failed to load config file, using defaults",
				zap.String("path", m.path),
				zap.Error(apperrors.WrapError(err, apperrors.ErrCodeConfigLoad, "config file unreadable")))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = v
	m.current = m.decodeLocked(v.AllSettings())
	return m.current
}

// decodeLocked merges pending overrides into settings and decodes them,
// falling back to defaults when the result does not fit the typed config.
func (m *Manager) decodeLocked(settings map[string]any) Config {
	cfg, err := decode(Merge(settings, m.overrides))
	if err != nil {
		m.logger.Warn("Invalid configuration values, using defaults",
			zap.Error(apperrors.WrapError(err, apperrors.ErrCodeConfigLoad, "config decode failed")))
		return Default()
	}
	return cfg
}

// Current returns the last loaded configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update merges a partial configuration tree into the current configuration.
// Leaves from partial always win. The current configuration is unchanged on error.
func (m *Manager) Update(partial map[string]any) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.v
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	base := v.AllSettings()

	overrides := Merge(m.overrides, partial)
	cfg, err := decode(Merge(base, overrides))
	if err != nil {
		return m.current, apperrors.WrapError(err, apperrors.ErrCodeValidation, "invalid configuration update")
	}

	m.overrides = overrides
	m.current = cfg
	return cfg, nil
}

// Watch reloads the file on change and hands the new configuration to fn.
// It must be called after Load.
func (m *Manager) Watch(fn func(Config)) {
	m.mu.RLock()
	v := m.v
	m.mu.RUnlock()
	if v == nil || m.path == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		m.mu.Lock()
		m.current = m.decodeLocked(v.AllSettings())
		cfg := m.current
		m.mu.Unlock()

		m.logger.Info("Configuration reloaded", zap.String("file", e.Name))
		fn(cfg)
	})
	v.WatchConfig()
}

// Merge recursively merges partial into base and returns a new tree.
// Keys are matched case-insensitively; leaves in partial override base.
func Merge(base, partial map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, val := range base {
		out[strings.ToLower(k)] = copyValue(val)
	}
	for k, val := range partial {
		key := strings.ToLower(k)
		if sub, ok := toMap(val); ok {
			if existing, ok := toMap(out[key]); ok {
				out[key] = Merge(existing, sub)
				continue
			}
			out[key] = Merge(nil, sub)
			continue
		}
		out[key] = copyValue(val)
	}
	return out
}

func copyValue(v any) any {
	if m, ok := toMap(v); ok {
		return Merge(nil, m)
	}
	return v
}

func toMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func decode(settings map[string]any) (Config, error) {
	v := viper.New()
	if err := v.MergeConfigMap(settings); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
