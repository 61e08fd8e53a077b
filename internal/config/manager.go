package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Manager provides centralized configuration management with validation
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config: DefaultConfig(),
	}
}

// LoadFromFile loads configuration from a file with validation
func (m *Manager) LoadFromFile(configPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	configPath = expandPath(configPath)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	m.applyDefaults(cfg)

	if err := m.validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.config = cfg
	m.configPath = configPath
	return nil
}

// LoadFromDefaults loads default configuration
func (m *Manager) LoadFromDefaults() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = DefaultConfig()
	m.configPath = ""
}

// GetConfig returns a copy of the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.copyConfig(m.config)
}

// ConfigPath returns the file the configuration was loaded from, if any
func (m *Manager) ConfigPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configPath
}

// UpdateConfig updates the configuration with validation
func (m *Manager) UpdateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	m.applyDefaults(cfg)
	if err := m.validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = m.copyConfig(cfg)
	return nil
}

// SaveToFile saves the current configuration to a file
func (m *Manager) SaveToFile(filePath string) error {
	m.mu.RLock()
	cfg := m.copyConfig(m.config)
	m.mu.RUnlock()

	if err := cfg.SaveConfig(expandPath(filePath)); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// validateConfig validates the configuration
func (m *Manager) validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid backend base_url: %q", cfg.Backend.BaseURL)
		}
	}

	if cfg.Backend.ClientID != "" && cfg.Backend.TokenURL == "" {
		return fmt.Errorf("client credentials require token_url")
	}

	if cfg.Backend.SearchQPS < 0 {
		return fmt.Errorf("search_qps cannot be negative")
	}

	for name, value := range map[string]string{
		"backend timeout": cfg.Backend.Timeout,
		"request_ttl":     cfg.Delete.RequestTTL,
		"directory_ttl":   cfg.Cache.DirectoryTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch cfg.Compose.DefaultChannel {
	case "email", "sms":
	default:
		return fmt.Errorf("invalid default_channel: %q", cfg.Compose.DefaultChannel)
	}

	if cfg.Delete.OTPLength < 4 || cfg.Delete.OTPLength > 10 {
		return fmt.Errorf("otp_length must be between 4 and 10")
	}

	if cfg.Delete.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	return nil
}

// applyDefaults applies default values for missing configuration
func (m *Manager) applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Compose.DebounceMs <= 0 {
		cfg.Compose.DebounceMs = defaults.Compose.DebounceMs
	}
	if cfg.Compose.DefaultChannel == "" {
		cfg.Compose.DefaultChannel = defaults.Compose.DefaultChannel
	}
	if cfg.Delete.OTPLength == 0 {
		cfg.Delete.OTPLength = defaults.Delete.OTPLength
	}
	if cfg.Delete.MaxAttempts == 0 {
		cfg.Delete.MaxAttempts = defaults.Delete.MaxAttempts
	}
	if cfg.Delete.RequestTTL == "" {
		cfg.Delete.RequestTTL = defaults.Delete.RequestTTL
	}
	if cfg.Sandbox.Addr == "" {
		cfg.Sandbox.Addr = defaults.Sandbox.Addr
	}

	cfg.Cache.Path = expandPath(cfg.Cache.Path)
	cfg.Compose.TemplatesDir = expandPath(cfg.Compose.TemplatesDir)
	cfg.LogFile = expandPath(cfg.LogFile)
}

// copyConfig creates a deep copy of the configuration
func (m *Manager) copyConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}

	c := *cfg
	if cfg.Backend.Scopes != nil {
		c.Backend.Scopes = append([]string(nil), cfg.Backend.Scopes...)
	}
	return &c
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
