package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackendConfig holds the case-management API connection settings
type BackendConfig struct {
	BaseURL string `json:"base_url"`

	// Static bearer token. Takes precedence over client credentials when set.
	APIToken string `json:"api_token"`

	// OAuth2 client credentials flow
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`

	Timeout   string  `json:"timeout"`
	SearchQPS float64 `json:"search_qps"` // Client-side limit for directory and search calls
}

// ComposeConfig defines composer behaviour
type ComposeConfig struct {
	DebounceMs     int    `json:"debounce_ms"`
	DefaultChannel string `json:"default_channel"` // email, sms
	TemplatesDir   string `json:"templates_dir"`   // Relative to config dir or absolute
}

// DeleteConfig defines the OTP-confirmed delete policy
type DeleteConfig struct {
	OTPLength   int    `json:"otp_length"`
	MaxAttempts int    `json:"max_attempts"`
	RequestTTL  string `json:"request_ttl"`
}

// CacheConfig controls the local SQLite store
type CacheConfig struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path"`
	DirectoryTTL string `json:"directory_ttl"`
}

// SandboxConfig configures the in-memory development backend
type SandboxConfig struct {
	Addr         string `json:"addr"`
	SeedContacts bool   `json:"seed_contacts"`
}

// Config holds all configuration for casecomms
type Config struct {
	Backend BackendConfig `json:"backend"`
	Compose ComposeConfig `json:"compose"`
	Delete  DeleteConfig  `json:"delete"`
	Cache   CacheConfig   `json:"cache"`
	Sandbox SandboxConfig `json:"sandbox"`

	// Logging
	LogFile string `json:"log_file"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: DefaultBackendConfig(),
		Compose: DefaultComposeConfig(),
		Delete:  DefaultDeleteConfig(),
		Cache:   DefaultCacheConfig(),
		Sandbox: DefaultSandboxConfig(),
		LogFile: "",
	}
}

// DefaultBackendConfig points at a locally running sandbox
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:   "http://localhost:8089",
		Timeout:   "15s",
		SearchQPS: 5,
	}
}

// DefaultComposeConfig returns default composer settings
func DefaultComposeConfig() ComposeConfig {
	return ComposeConfig{
		DebounceMs:     300,
		DefaultChannel: "email",
		TemplatesDir:   "templates/messages",
	}
}

// DefaultDeleteConfig returns the default delete policy
func DefaultDeleteConfig() DeleteConfig {
	return DeleteConfig{
		OTPLength:   6,
		MaxAttempts: 5,
		RequestTTL:  "10m",
	}
}

// DefaultCacheConfig returns default cache settings
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		Path:         "",
		DirectoryTTL: "15m",
	}
}

// DefaultSandboxConfig returns default sandbox settings
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Addr:         ":8089",
		SeedContacts: true,
	}
}

// LoadConfig loads configuration from file. A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	return cfg, nil
}

// DefaultConfigPath returns the configuration file path, honouring CASECOMMS_CONFIG
func DefaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("CASECOMMS_CONFIG")); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "casecomms", "config.json")
}

// DefaultCacheDir returns the default cache directory path
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "casecomms", "cache")
}

// DefaultLogDir returns the default log directory path
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "casecomms")
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetBackendTimeout returns the parsed HTTP timeout for backend calls
func (c *Config) GetBackendTimeout() time.Duration {
	return parseDuration(c.Backend.Timeout, 15*time.Second)
}

// GetDebounceDelay returns the recipient search debounce delay
func (c *Config) GetDebounceDelay() time.Duration {
	if c.Compose.DebounceMs > 0 {
		return time.Duration(c.Compose.DebounceMs) * time.Millisecond
	}
	return 300 * time.Millisecond
}

// GetRequestTTL returns how long a delete request stays confirmable
func (c *Config) GetRequestTTL() time.Duration {
	return parseDuration(c.Delete.RequestTTL, 10*time.Minute)
}

// GetDirectoryTTL returns how long cached directory defaults stay fresh
func (c *Config) GetDirectoryTTL() time.Duration {
	return parseDuration(c.Cache.DirectoryTTL, 15*time.Minute)
}

// GetCachePath returns the SQLite database path
func (c *Config) GetCachePath() string {
	if strings.TrimSpace(c.Cache.Path) != "" {
		return c.Cache.Path
	}
	return filepath.Join(DefaultCacheDir(), "casecomms.sqlite3")
}

// GetTemplatesDir resolves the templates directory against the config directory
func (c *Config) GetTemplatesDir() string {
	dir := strings.TrimSpace(c.Compose.TemplatesDir)
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(filepath.Dir(DefaultConfigPath()), dir)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
