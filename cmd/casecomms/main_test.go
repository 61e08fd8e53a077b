package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ajramos/casecomms/internal/config"
	"github.com/ajramos/casecomms/internal/db"
	"github.com/ajramos/casecomms/internal/services"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig stores a config whose files all live under a temp dir
func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Cache.Path = filepath.Join(dir, "cache.sqlite3")
	cfg.LogFile = filepath.Join(dir, "casecomms.log")
	cfg.Compose.TemplatesDir = filepath.Join(dir, "templates")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.json")
	require.NoError(t, cfg.SaveConfig(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"compose", "delete", "deletions", "sandbox", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	// version must work without any config on disk
	t.Setenv("CASECOMMS_CONFIG", filepath.Join(t.TempDir(), "missing", "config.json"))

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "casecomms")
	assert.Contains(t, out, "Go version:")
}

func TestSetup_LoadsConfig(t *testing.T) {
	path := writeConfig(t, func(cfg *config.Config) {
		cfg.Backend.BaseURL = "http://cases.internal:9000"
		cfg.Compose.DefaultChannel = "sms"
	})

	c := &cli{configPath: path}
	require.NoError(t, c.setup())
	defer c.teardown()

	assert.Equal(t, "http://cases.internal:9000", c.cfg.Backend.BaseURL)
	assert.NotNil(t, c.logger)
	assert.NotNil(t, c.logFile)

	ch, err := c.resolveChannel("")
	require.NoError(t, err)
	assert.Equal(t, services.ChannelSMS, ch)
}

func TestSetup_InvalidConfig(t *testing.T) {
	path := writeConfig(t, func(cfg *config.Config) {
		cfg.Compose.DefaultChannel = "fax"
	})

	_, err := execute(t, "--config", path, "deletions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestResolveChannel(t *testing.T) {
	c := &cli{cfg: config.DefaultConfig()}

	tests := []struct {
		flag    string
		want    services.Channel
		wantErr bool
	}{
		{"", services.ChannelEmail, false},
		{"SMS", services.ChannelSMS, false},
		{" email ", services.ChannelEmail, false},
		{"fax", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got, err := c.resolveChannel(tt.flag)
			if tt.wantErr {
				assert.ErrorIs(t, err, services.ErrInvalidChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewBackend(t *testing.T) {
	c := &cli{cfg: config.DefaultConfig(), verbose: true}
	c.cfg.Backend.APIToken = "secret"

	client, err := c.newBackend(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, client)

	c.cfg.Backend.APIToken = ""
	c.cfg.Backend.ClientID = "casecomms"
	_, err = c.newBackend(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure authentication")
}

func TestOpenStore_Disabled(t *testing.T) {
	c := &cli{cfg: config.DefaultConfig()}
	c.cfg.Cache.Enabled = false

	store, err := c.openStore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestDeletePolicy(t *testing.T) {
	c := &cli{cfg: config.DefaultConfig()}
	c.cfg.Delete = config.DeleteConfig{OTPLength: 8, MaxAttempts: 3, RequestTTL: "2m"}

	assert.Equal(t, services.DeletePolicy{OTPLength: 8, MaxAttempts: 3, RequestTTL: 2 * time.Minute}, c.deletePolicy())
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()
	c := &cli{cfg: config.DefaultConfig()}
	c.cfg.Compose.TemplatesDir = dir

	svc := services.NewTemplateService(dir)
	require.NoError(t, svc.SaveTemplate(&services.MessageTemplate{ID: "reminder", Name: "Reminder", Channel: services.ChannelSMS, Body: "See you {{date}}"}))

	assert.Len(t, c.loadTemplates(services.ChannelSMS), 1)
	assert.Empty(t, c.loadTemplates(services.ChannelEmail))
}

func TestDeletionsCmd(t *testing.T) {
	path := writeConfig(t, nil)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := db.Open(ctx, cfg.Cache.Path)
	require.NoError(t, err)
	ledger := db.NewDeleteRequestStore(store)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, ledger.SaveDeleteRequest(ctx, services.DeleteRequest{
		TargetID: "42", RequestID: "req-old", Status: services.DeleteStatusPending, CreatedAt: old, UpdatedAt: old,
	}))
	require.NoError(t, ledger.SaveDeleteRequest(ctx, services.DeleteRequest{
		TargetID: "43", RequestID: "req-done", Status: services.DeleteStatusConfirmed, Attempts: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "--config", path, "-v", "deletions")
	require.NoError(t, err)
	assert.Contains(t, out, "req-old")
	assert.Contains(t, out, "req-done")

	out, err = execute(t, "--config", path, "-v", "deletions", "--status", "confirmed")
	require.NoError(t, err)
	assert.NotContains(t, out, "req-old")

	out, err = execute(t, "--config", path, "-v", "deletions", "--expire", "--status", "expired")
	require.NoError(t, err)
	assert.Contains(t, out, "Expired 1 stale request(s).")
	assert.Contains(t, out, "req-old")

	_, err = execute(t, "--config", path, "-v", "deletions", "--status", "bogus")
	assert.Error(t, err)
}

func TestDeletionsCmd_CacheDisabled(t *testing.T) {
	path := writeConfig(t, func(cfg *config.Config) { cfg.Cache.Enabled = false })

	_, err := execute(t, "--config", path, "-v", "deletions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache is disabled")
}

func TestComposeCmd_RequiresConversation(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := execute(t, "--config", path, "-v", "compose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation")
}

func TestDeleteCmd_RequiresTarget(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := execute(t, "--config", path, "-v", "delete")
	assert.Error(t, err)
}

func TestMain_LogFileCreated(t *testing.T) {
	path := writeConfig(t, nil)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "deletions")
	require.NoError(t, err)
	_, statErr := os.Stat(cfg.LogFile)
	assert.NoError(t, statErr)
}

func TestPurgeDirectoryCache(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	defer store.Close()

	dirStore := db.NewDirectoryStore(store)
	now := time.Now()
	require.NoError(t, dirStore.SaveDirectory(ctx, "old", "email", []byte(`[]`), now.Add(-8*24*time.Hour).Unix()))
	require.NoError(t, dirStore.SaveDirectory(ctx, "recent", "email", []byte(`[]`), now.Add(-time.Hour).Unix()))

	var logs bytes.Buffer
	c := &cli{logger: log.New(&logs, "", 0)}
	c.purgeDirectoryCache(ctx, dirStore, now)

	_, _, ok, err := dirStore.LoadDirectory(ctx, "old", "email")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, ok, err = dirStore.LoadDirectory(ctx, "recent", "email")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, logs.String(), "purged 1 stale directory cache entries")
}

func TestPrintDeletions_AlignsWideTargets(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	defer store.Close()

	ledger := db.NewDeleteRequestStore(store)
	now := time.Now()
	require.NoError(t, ledger.SaveDeleteRequest(ctx, services.DeleteRequest{
		TargetID: "案件-0001-アーカイブ", RequestID: "req-1", Status: services.DeleteStatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	var out bytes.Buffer
	require.NoError(t, printDeletions(ctx, &out, ledger, "", 10))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	header := runewidth.StringWidth(lines[0][:strings.Index(lines[0], "Status")])
	row := runewidth.StringWidth(lines[2][:strings.Index(lines[2], "pending")])
	assert.Equal(t, header, row)
	assert.Contains(t, lines[2], "...")
}
