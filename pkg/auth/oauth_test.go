package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewOAuth2Config(t *testing.T) {
	config := NewOAuth2Config("id", "secret", "https://auth.example.com/token", "messages", "deletions")

	assert.NotNil(t, config)
	assert.Equal(t, "id", config.ClientID)
	assert.Equal(t, "secret", config.ClientSecret)
	assert.Equal(t, "https://auth.example.com/token", config.TokenURL)
	assert.Equal(t, []string{"messages", "deletions"}, config.Scopes)
}

func TestOAuth2Config_LoadToken_Errors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		config := &OAuth2Config{TokenPath: "/nonexistent/token.json"}
		_, err := config.LoadToken()
		assert.Error(t, err)
	})

	t.Run("empty_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		require.NoError(t, os.WriteFile(path, nil, 0600))
		config := &OAuth2Config{TokenPath: path}
		_, err := config.LoadToken()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "EOF")
	})
}

func TestOAuth2Config_SaveToken_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "token.json")
	config := &OAuth2Config{TokenPath: path}

	original := &oauth2.Token{
		AccessToken: "first",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
	require.NoError(t, config.SaveToken(original))
	require.NoError(t, config.SaveToken(&oauth2.Token{AccessToken: "second", TokenType: "Bearer"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := config.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "second", loaded.AccessToken)
}

func TestOAuth2Config_SaveToken_EmptyPath(t *testing.T) {
	config := &OAuth2Config{TokenPath: ""}
	assert.Error(t, config.SaveToken(&oauth2.Token{AccessToken: "x"}))
}

func TestOAuth2Config_TokenSource_Modes(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated", func(t *testing.T) {
		src, err := (&OAuth2Config{}).TokenSource(ctx)
		assert.NoError(t, err)
		assert.Nil(t, src)
	})

	t.Run("static_token_wins", func(t *testing.T) {
		src, err := (&OAuth2Config{StaticToken: " abc ", ClientID: "id"}).TokenSource(ctx)
		require.NoError(t, err)
		tok, err := src.Token()
		require.NoError(t, err)
		assert.Equal(t, "abc", tok.AccessToken)
	})

	t.Run("client_id_without_token_url", func(t *testing.T) {
		_, err := (&OAuth2Config{ClientID: "id"}).TokenSource(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "token URL is required")
	})
}

func newTokenServer(t *testing.T, issued *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(issued, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewHTTPClient_ClientCredentials(t *testing.T) {
	var issued int32
	tokenSrv := newTokenServer(t, &issued)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cc-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	tokenPath := filepath.Join(t.TempDir(), "token.json")
	cfg := NewOAuth2Config("id", "secret", tokenSrv.URL, "messages")
	cfg.TokenPath = tokenPath
	cfg.Timeout = 5 * time.Second

	client, err := NewHTTPClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(api.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&issued), "token reused while valid")

	cached, err := cfg.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "cc-token", cached.AccessToken)

	// A fresh client picks up the cached token without contacting the token endpoint
	client2, err := NewHTTPClient(context.Background(), cfg)
	require.NoError(t, err)
	resp, err := client2.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&issued))
}

func TestNewHTTPClient_Unauthenticated(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer api.Close()

	client, err := NewHTTPClient(context.Background(), nil)
	require.NoError(t, err)
	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func BenchmarkOAuth2Config_SaveToken(b *testing.B) {
	config := &OAuth2Config{TokenPath: filepath.Join(b.TempDir(), "bench_token.json")}
	token := &oauth2.Token{AccessToken: "bench-access-token", TokenType: "Bearer"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = config.SaveToken(token)
	}
}
