// Package authclient is the caller-side adapter for the access-control
// service. It owns a token pair and transparently refreshes it: when many
// in-flight requests discover a stale access token at once, exactly one
// refresh call goes out and every waiter shares its outcome.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotAuthenticated is returned when no token pair is held
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired is returned when the shared refresh failed. The
	// stored pair is cleared; the caller must log in again, never retry.
	ErrSessionExpired = errors.New("session expired")
)

// TokenPair is the client-side copy of the two credentials
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Client calls the platform with automatic token refresh
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	tokens TokenPair

	// group coalesces concurrent refreshes: the first caller for a given
	// stale access token performs the rotation, later arrivals attach to
	// the same in-flight call.
	group singleflight.Group

	refreshTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRefreshTimeout bounds how long a shared refresh call may take
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		refreshTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokens installs a token pair obtained out of band
func (c *Client) SetTokens(pair TokenPair) {
	c.mu.Lock()
	c.tokens = pair
	c.mu.Unlock()
}

// Tokens returns the currently held pair, false when logged out
func (c *Client) Tokens() (TokenPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens, c.tokens.AccessToken != ""
}

// Login authenticates and stores the resulting token pair
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", resp.Status)
	}
	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return err
	}
	c.SetTokens(pair)
	return nil
}

// Do sends the request with a bearer token, refreshing and retrying once if
// the token turns out to be stale. Requests with a non-replayable body are
// not retried; their 401 is returned as-is.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.mu.RLock()
	access := c.tokens.AccessToken
	c.mu.RUnlock()
	if access == "" {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.send(ctx, req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	newAccess, err := c.refresh(ctx, access)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, newAccess)
}

func (c *Client) send(ctx context.Context, req *http.Request, access string) (*http.Response, error) {
	clone := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	clone.Header.Set("Authorization", "Bearer "+access)
	return c.httpClient.Do(clone)
}

// refresh returns a valid access token, rotating the pair at most once per
// stale token no matter how many callers arrive concurrently. A caller whose
// own context is cancelled while waiting detaches; the shared refresh keeps
// running for the other waiters.
func (c *Client) refresh(ctx context.Context, staleAccess string) (string, error) {
	c.mu.RLock()
	current := c.tokens.AccessToken
	c.mu.RUnlock()
	if current != "" && current != staleAccess {
		// Someone already rotated while we were in flight.
		return current, nil
	}

	ch := c.group.DoChan("refresh:"+staleAccess, func() (interface{}, error) {
		return c.doRefresh()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// doRefresh performs the actual rotation. It deliberately uses its own
// context: the waiters' contexts must not cancel a refresh other waiters
// still depend on.
func (c *Client) doRefresh() (string, error) {
	c.mu.RLock()
	refreshToken := c.tokens.RefreshToken
	c.mu.RUnlock()
	if refreshToken == "" {
		return "", ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var pair TokenPair
		if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
			return "", err
		}
		c.SetTokens(pair)
		return pair.AccessToken, nil
	case resp.StatusCode == http.StatusUnauthorized:
		// Expired, revoked, or replayed: terminal for this session.
		// Discard both tokens so no caller retries with them.
		c.SetTokens(TokenPair{})
		return "", ErrSessionExpired
	default:
		return "", fmt.Errorf("refresh failed: %s", resp.Status)
	}
}

// Logout revokes the current session server-side and clears the stored pair
func (c *Client) Logout(ctx context.Context) error {
	c.mu.RLock()
	access := c.tokens.AccessToken
	c.mu.RUnlock()
	c.SetTokens(TokenPair{})
	if access == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
