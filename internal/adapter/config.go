package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
)

// Config holds all application configuration
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
	Cache   CacheConfig   `mapstructure:"cache"`
	UI      UIConfig      `mapstructure:"ui"`
	Player  PlayerConfig  `mapstructure:"player"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BackendConfig holds the hosted backend connection
type BackendConfig struct {
	URL     string        `mapstructure:"url"`      // Project URL, e.g. https://xyz.supabase.co
	AnonKey string        `mapstructure:"anon_key"` // Public API key
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig holds the signed-in user's tokens
type SessionConfig struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserID       string `mapstructure:"user_id"`
	Email        string `mapstructure:"email"`
	ExpiresAt    int64  `mapstructure:"expires_at"` // Unix seconds
}

// CacheConfig holds cache behaviour
type CacheConfig struct {
	Dir         string        `mapstructure:"dir"`
	Persist     bool          `mapstructure:"persist"` // Keep collections across runs
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	PageSize    int           `mapstructure:"page_size"`
}

// UIConfig holds UI configuration
type UIConfig struct {
	Language      string `mapstructure:"language"`
	DefaultFilter string `mapstructure:"default_filter"` // Query string, e.g. "languages=spanish&sortBy=upvotes"
}

// PlayerConfig holds audio player configuration
type PlayerConfig struct {
	Command      string   `mapstructure:"command"`        // Empty for auto-detection
	Args         []string `mapstructure:"args"`           // Replaces the known player's default flags
	AudioBaseURL string   `mapstructure:"audio_base_url"` // Prefix for relative audio paths
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Dir:         defaultCachePath(),
			Persist:     true,
			IdleTimeout: 5 * time.Minute,
			PageSize:    20,
		},
		UI: UIConfig{
			Language: string(domain.DefaultLanguage),
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// Language returns the configured content language
func (c *Config) Language() domain.Language {
	return domain.ParseLanguage(c.UI.Language)
}

// DefaultFilter decodes the configured default filter
func (c *Config) DefaultFilter() filter.State {
	return filter.Decode(c.UI.DefaultFilter)
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "verdad", "verdad.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "verdad", "verdad.log")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "verdad")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "verdad")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "verdad", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "verdad", "cache")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	return loadConfig(viper.GetViper(), defaultConfigPath())
}

func loadConfig(v *viper.Viper, configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	// Environment variable overrides, e.g. VERDAD_BACKEND_URL
	v.SetEnvPrefix("VERDAD")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.Cache.PageSize <= 0 {
		cfg.Cache.PageSize = 20
	}
	if cfg.Cache.IdleTimeout <= 0 {
		cfg.Cache.IdleTimeout = 5 * time.Minute
	}
	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	return saveConfig(viper.GetViper(), defaultConfigPath(), cfg)
}

func saveConfig(v *viper.Viper, configPath string, cfg *Config) error {
	v.Set("backend.url", cfg.Backend.URL)
	v.Set("backend.anon_key", cfg.Backend.AnonKey)
	v.Set("backend.timeout", cfg.Backend.Timeout.String())

	setSession(v, cfg.Session)

	v.Set("cache.dir", cfg.Cache.Dir)
	v.Set("cache.persist", cfg.Cache.Persist)
	v.Set("cache.idle_timeout", cfg.Cache.IdleTimeout.String())
	v.Set("cache.page_size", cfg.Cache.PageSize)

	v.Set("ui.language", cfg.UI.Language)
	v.Set("ui.default_filter", cfg.UI.DefaultFilter)

	v.Set("player.command", cfg.Player.Command)
	v.Set("player.args", cfg.Player.Args)
	v.Set("player.audio_base_url", cfg.Player.AudioBaseURL)

	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)

	return writeConfig(v, configPath)
}

func setSession(v *viper.Viper, s SessionConfig) {
	v.Set("session.access_token", s.AccessToken)
	v.Set("session.refresh_token", s.RefreshToken)
	v.Set("session.user_id", s.UserID)
	v.Set("session.email", s.Email)
	v.Set("session.expires_at", s.ExpiresAt)
}

func writeConfig(v *viper.Viper, configPath string) error {
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configPath, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveSession updates just the session tokens in the configuration
func SaveSession(s SessionConfig) error {
	setSession(viper.GetViper(), s)
	return writeConfig(viper.GetViper(), defaultConfigPath())
}

// ClearSession signs out locally while preserving every other setting
func ClearSession() error {
	return SaveSession(SessionConfig{})
}

// IsConfigured returns true if the backend URL and anon key are set
func (c *Config) IsConfigured() bool {
	return c.Backend.URL != "" && c.Backend.AnonKey != ""
}

// IsSignedIn returns true if a session token is stored
func (c *Config) IsSignedIn() bool {
	return c.Session.AccessToken != "" && c.Session.UserID != ""
}

// ClearCache removes all cached data
func ClearCache(cfg *Config) error {
	if cfg.Cache.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(cfg.Cache.Dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
