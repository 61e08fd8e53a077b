// Package backend implements the case-management REST API behind the
// directory, search, submission and delete interfaces.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ajramos/casecomms/internal/services"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// Client talks to the case-management API. Directory and search calls share a
// client-side rate limit so fast typing cannot flood the server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

var (
	_ services.ContactDirectoryProvider = (*Client)(nil)
	_ services.RecipientSearchProvider  = (*Client)(nil)
	_ services.MessageSubmissionService = (*Client)(nil)
	_ services.DeleteService            = (*Client)(nil)
)

// NewClient creates an API client. A nil httpClient uses http.DefaultClient;
// qps <= 0 disables the lookup rate limit.
func NewClient(baseURL string, httpClient *http.Client, qps float64) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	burst := 1
	if qps > 0 {
		limit = rate.Limit(qps)
		burst = int(qps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		baseURL: u,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// SetLogger sets the logger for the client
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// DirectoryDefaults implements services.ContactDirectoryProvider
func (c *Client) DirectoryDefaults(ctx context.Context, conversationID string, channel services.Channel) ([]services.RecipientCandidate, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/recipients"
	q := url.Values{"channel": {string(channel)}}
	return c.lookup(ctx, path, q, channel)
}

// SearchRecipients implements services.RecipientSearchProvider
func (c *Client) SearchRecipients(ctx context.Context, query string, channel services.Channel) ([]services.RecipientCandidate, error) {
	q := url.Values{"q": {query}, "channel": {string(channel)}}
	return c.lookup(ctx, "/api/v1/recipients/search", q, channel)
}

// SubmitMessage implements services.MessageSubmissionService
func (c *Client) SubmitMessage(ctx context.Context, payload services.SubmitPayload) (*services.SubmitResponse, error) {
	var resp services.SubmitResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/messages", nil, payload, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestDelete implements services.DeleteService
func (c *Client) RequestDelete(ctx context.Context, targetID string) (*services.DeleteInitResponse, error) {
	body := map[string]string{"targetId": targetID}
	var resp services.DeleteInitResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/deletions", nil, body, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmDelete implements services.DeleteService
func (c *Client) ConfirmDelete(ctx context.Context, requestID, otpCode string) (*services.DeleteConfirmResponse, error) {
	body := map[string]string{"requestId": requestID, "otpCode": otpCode}
	var resp services.DeleteConfirmResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/deletions/confirm", nil, body, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) lookup(ctx context.Context, path string, q url.Values, channel services.Channel) ([]services.RecipientCandidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	var out []services.RecipientCandidate
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out, false); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Channel == "" {
			out[i].Channel = channel
		}
	}
	return out, nil
}

// call performs one request. With envelope set, non-2xx bodies carrying an
// apiStatus field decode into out as application results.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out interface{}, envelope bool) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("Backend: %s %s failed: %v", method, path, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, classifyError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, path, wrapNetwork(err))
	}

	if c.logger != nil {
		c.logger.Printf("Backend: %s %s -> %d", method, path, resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: %w: %v", method, path, services.ErrUnexpectedResponse, err)
		}
		return nil
	}

	if envelope && hasAPIStatus(data) {
		if err := json.Unmarshal(data, out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, statusError(resp.StatusCode))
}

func hasAPIStatus(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe["apiStatus"]
	return ok
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return services.ErrRateLimited
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return services.ErrServiceUnavailable
	case code == http.StatusGatewayTimeout:
		return services.ErrTimeout
	default:
		return services.ErrUnexpectedResponse
	}
}

func classifyError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", services.ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", services.ErrTimeout, err)
	default:
		return wrapNetwork(err)
	}
}

// wrapNetwork tags a low-level failure as services.ErrNetworkUnavailable
func wrapNetwork(err error) error {
	return fmt.Errorf("%w: %v", services.ErrNetworkUnavailable, err)
}
