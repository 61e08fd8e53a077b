package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config holds the credentials used to reach the case-management API.
// A static token wins over client credentials; with neither the client is unauthenticated.
type OAuth2Config struct {
	StaticToken  string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// TokenPath caches client-credential tokens between runs. Optional.
	TokenPath string
	Timeout   time.Duration
}

// NewOAuth2Config creates a client credentials configuration
func NewOAuth2Config(clientID, clientSecret, tokenURL string, scopes ...string) *OAuth2Config {
	return &OAuth2Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
}

// LoadToken loads cached token from file
func (c *OAuth2Config) LoadToken() (*oauth2.Token, error) {
	f, err := os.Open(c.TokenPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

// SaveToken saves token to file
func (c *OAuth2Config) SaveToken(token *oauth2.Token) error {
	dir := filepath.Dir(c.TokenPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(c.TokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("could not save OAuth token: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}

// TokenSource returns the token source for the configured mode, or nil when unauthenticated
func (c *OAuth2Config) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if tok := strings.TrimSpace(c.StaticToken); tok != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil
	}
	if c.ClientID == "" {
		return nil, nil
	}
	if c.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required for client credentials")
	}

	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
	src := cc.TokenSource(ctx)
	if c.TokenPath == "" {
		return src, nil
	}

	var cached *oauth2.Token
	if tok, err := c.LoadToken(); err == nil && tok.Valid() {
		cached = tok
	}
	return oauth2.ReuseTokenSource(cached, &savingTokenSource{base: src, cfg: c}), nil
}

// NewHTTPClient builds the HTTP client used for backend calls
func NewHTTPClient(ctx context.Context, c *OAuth2Config) (*http.Client, error) {
	if c == nil {
		c = &OAuth2Config{}
	}
	src, err := c.TokenSource(ctx)
	if err != nil {
		return nil, err
	}

	var client *http.Client
	if src == nil {
		client = &http.Client{}
	} else {
		client = oauth2.NewClient(ctx, src)
	}
	client.Timeout = c.Timeout
	return client, nil
}

// savingTokenSource persists each freshly minted token
type savingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	cfg  *OAuth2Config
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("could not obtain token: %w", err)
	}
	// A failed cache write only costs a token fetch next run
	_ = s.cfg.SaveToken(tok)
	return tok, nil
}
