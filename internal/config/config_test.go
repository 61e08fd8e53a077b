package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:8089", cfg.Backend.BaseURL)
	assert.Equal(t, 300, cfg.Compose.DebounceMs)
	assert.Equal(t, "email", cfg.Compose.DefaultChannel)
	assert.Equal(t, 6, cfg.Delete.OTPLength)
	assert.Equal(t, 5, cfg.Delete.MaxAttempts)
	assert.Equal(t, "10m", cfg.Delete.RequestTTL)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Sandbox.SeedContacts)
	assert.Empty(t, cfg.LogFile)
}

func TestDurationGetters(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"valid_seconds", "30s", 30 * time.Second},
		{"valid_minutes", "2m", 2 * time.Minute},
		{"invalid_format", "invalid", 0},
		{"empty_string", "", 0},
		{"negative", "-5s", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Backend: BackendConfig{Timeout: tt.value},
				Delete:  DeleteConfig{RequestTTL: tt.value},
				Cache:   CacheConfig{DirectoryTTL: tt.value},
			}
			want := func(fallback time.Duration) time.Duration {
				if tt.expected == 0 {
					return fallback
				}
				return tt.expected
			}
			assert.Equal(t, want(15*time.Second), cfg.GetBackendTimeout())
			assert.Equal(t, want(10*time.Minute), cfg.GetRequestTTL())
			assert.Equal(t, want(15*time.Minute), cfg.GetDirectoryTTL())
		})
	}
}

func TestGetDebounceDelay(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, (&Config{}).GetDebounceDelay())
	assert.Equal(t, 150*time.Millisecond, (&Config{Compose: ComposeConfig{DebounceMs: 150}}).GetDebounceDelay())
}

func TestGetCachePath(t *testing.T) {
	cfg := &Config{Cache: CacheConfig{Path: "/tmp/x.db"}}
	assert.Equal(t, "/tmp/x.db", cfg.GetCachePath())

	cfg.Cache.Path = ""
	if DefaultCacheDir() != "" {
		assert.Contains(t, cfg.GetCachePath(), "casecomms.sqlite3")
	}
}

func TestGetTemplatesDir(t *testing.T) {
	t.Setenv("CASECOMMS_CONFIG", "/etc/casecomms/config.json")

	assert.Equal(t, "/srv/tpl", (&Config{Compose: ComposeConfig{TemplatesDir: "/srv/tpl"}}).GetTemplatesDir())
	assert.Equal(t, filepath.Join("/etc/casecomms", "templates"), (&Config{Compose: ComposeConfig{TemplatesDir: "templates"}}).GetTemplatesDir())
	assert.Empty(t, (&Config{}).GetTemplatesDir())
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("CASECOMMS_CONFIG", "")
	path := DefaultConfigPath()

	if path != "" {
		assert.Contains(t, path, ".config")
		assert.Contains(t, path, "casecomms")
		assert.Contains(t, path, "config.json")
	}

	t.Setenv("CASECOMMS_CONFIG", "/opt/cc.json")
	assert.Equal(t, "/opt/cc.json", DefaultConfigPath())
}

func TestDefaultDirs(t *testing.T) {
	if path := DefaultCacheDir(); path != "" {
		assert.Contains(t, path, "casecomms")
		assert.Contains(t, path, "cache")
	}
	if path := DefaultLogDir(); path != "" {
		assert.Contains(t, path, "casecomms")
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")

	assert.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, DefaultConfig().Backend.BaseURL, cfg.Backend.BaseURL)
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/config.json")

	assert.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, DefaultConfig().Delete, cfg.Delete)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.json")
	data := `{"backend": {"base_url": "https://cases.example.com", "scopes": ["messages"]}, "delete": {"max_attempts": 3}}`
	require.NoError(t, os.WriteFile(configFile, []byte(data), 0600))

	cfg, err := LoadConfig(configFile)
	require.NoError(t, err)

	assert.Equal(t, "https://cases.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, []string{"messages"}, cfg.Backend.Scopes)
	assert.Equal(t, 3, cfg.Delete.MaxAttempts)
	assert.Equal(t, 6, cfg.Delete.OTPLength)
	assert.Equal(t, 300, cfg.Compose.DebounceMs)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(configFile, []byte("invalid json content"), 0600))

	cfg, err := LoadConfig(configFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestSaveConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "deep", "config.json")

	cfg := DefaultConfig()
	cfg.Backend.APIToken = "tok"
	cfg.Compose.DefaultChannel = "sms"

	require.NoError(t, cfg.SaveConfig(configFile))
	assert.FileExists(t, configFile)

	loaded, err := LoadConfig(configFile)
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.Backend.APIToken)
	assert.Equal(t, "sms", loaded.Compose.DefaultChannel)
}

func TestManager_LoadFromFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"defaults_applied", `{"compose": {"debounce_ms": 0}}`, ""},
		{"bad_base_url", `{"backend": {"base_url": "not a url"}}`, "invalid backend base_url"},
		{"client_id_without_token_url", `{"backend": {"client_id": "abc"}}`, "token_url"},
		{"bad_ttl", `{"delete": {"request_ttl": "soon"}}`, "invalid request_ttl"},
		{"bad_channel", `{"compose": {"default_channel": "fax"}}`, "default_channel"},
		{"otp_too_short", `{"delete": {"otp_length": 2}}`, "otp_length"},
		{"negative_qps", `{"backend": {"search_qps": -1}}`, "search_qps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			m := NewManager()
			err := m.LoadFromFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, m.ConfigPath())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, m.ConfigPath())
			assert.Equal(t, 300, m.GetConfig().Compose.DebounceMs)
		})
	}
}

func TestManager_GetConfigReturnsCopy(t *testing.T) {
	m := NewManager()
	cfg := DefaultConfig()
	cfg.Backend.Scopes = []string{"a"}
	require.NoError(t, m.UpdateConfig(cfg))

	got := m.GetConfig()
	got.Backend.Scopes[0] = "mutated"
	got.Delete.MaxAttempts = 99

	again := m.GetConfig()
	assert.Equal(t, "a", again.Backend.Scopes[0])
	assert.Equal(t, 5, again.Delete.MaxAttempts)

	assert.Error(t, m.UpdateConfig(nil))
}

func TestManager_SaveToFile(t *testing.T) {
	m := NewManager()
	m.LoadFromDefaults()

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, m.SaveToFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Sandbox, loaded.Sandbox)
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "", expandPath(""))

	home, err := os.UserHomeDir()
	if err == nil {
		assert.Equal(t, filepath.Join(home, "x.db"), expandPath("~/x.db"))
	}
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
