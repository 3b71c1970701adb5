// Package client provides authenticated HTTP access to a single
// ServiceNow instance. A Provider owns the credential lifecycle (OAuth
// token acquisition and refresh, or basic auth) and hands out Clients
// exposing a minimal verb surface. Token refresh is single-flight: when
// many concurrent calls find the token expired, exactly one refresh
// request goes to the instance and every caller awaits its result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State reflects the provider's credential lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateRefreshing      State = "refreshing"
	StateReady           State = "ready"
	StateFailed          State = "failed"
)

// expirySkew refreshes tokens slightly before their reported expiry so
// an in-flight request doesn't race the instance-side cutoff.
const expirySkew = 30 * time.Second

// AuthError means credentials could not be obtained or refreshed. It is
// terminal for the current call chain: the provider does not retry
// beyond one refresh attempt per outbound call.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Cause)
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Cause }

// TransportError means the request never produced a response: network
// failure, timeout, or cancellation.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// RemoteError means the instance answered with a non-2xx status.
type RemoteError struct {
	Status int
	Body   []byte
}

func (e *RemoteError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, body)
}

// Config holds the target instance and credential material. OAuth is
// used when ClientID is set; otherwise requests carry basic auth.
type Config struct {
	Instance     string // e.g. https://dev12345.service-now.com
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Timeout      time.Duration
	Logger       *zap.Logger
}

type token struct {
	access  string
	refresh string
	expiry  time.Time
}

func (t *token) valid(now time.Time) bool {
	return t != nil && t.access != "" && now.Before(t.expiry.Add(-expirySkew))
}

// Provider produces ready-to-use Clients for one instance, refreshing
// credentials as needed.
type Provider struct {
	cfg    Config
	httpc  *http.Client
	logger *zap.Logger

	group singleflight.Group

	mu    sync.Mutex
	tok   *token
	state State
}

// NewProvider validates the configuration and returns a provider in
// the Unauthenticated state. No network calls happen until GetClient.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Instance == "" {
		return nil, fmt.Errorf("instance URL is required")
	}
	if _, err := url.Parse(cfg.Instance); err != nil {
		return nil, fmt.Errorf("invalid instance URL: %w", err)
	}
	if cfg.ClientID == "" && cfg.Username == "" {
		return nil, fmt.Errorf("either basic or OAuth credentials are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Instance = strings.TrimRight(cfg.Instance, "/")

	p := &Provider{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
		state:  StateUnauthenticated,
	}
	if cfg.RefreshToken != "" {
		p.tok = &token{refresh: cfg.RefreshToken}
	}
	return p, nil
}

// Instance returns the normalized base URL of the target instance.
func (p *Provider) Instance() string { return p.cfg.Instance }

// State reports the current credential lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) oauth() bool { return p.cfg.ClientID != "" }

// GetClient returns a client ready for immediate use, performing the
// authenticate/refresh transition if the current token is missing or
// near expiry. Safe for unlimited concurrent callers.
func (p *Provider) GetClient(ctx context.Context) (*Client, error) {
	if p.oauth() {
		if err := p.ensureToken(ctx, ""); err != nil {
			return nil, err
		}
	} else {
		p.mu.Lock()
		p.state = StateReady
		p.mu.Unlock()
	}
	return &Client{p: p}, nil
}

// ensureToken guarantees a usable access token. staleAccess, when
// non-empty, names a token that just failed with 401: the refresh is
// forced unless another flight already replaced it.
func (p *Provider) ensureToken(ctx context.Context, staleAccess string) error {
	p.mu.Lock()
	if staleAccess == "" && p.tok.valid(time.Now()) {
		p.mu.Unlock()
		return nil
	}
	if staleAccess != "" && p.tok != nil && p.tok.access != staleAccess && p.tok.valid(time.Now()) {
		// Another caller already refreshed past the stale token.
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	_, err, _ := p.group.Do("token", func() (any, error) {
		p.mu.Lock()
		if staleAccess == "" && p.tok.valid(time.Now()) {
			p.mu.Unlock()
			return nil, nil
		}
		p.state = StateRefreshing
		refresh := ""
		if p.tok != nil {
			refresh = p.tok.refresh
		}
		p.mu.Unlock()

		tok, err := p.fetchToken(ctx, refresh)

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.state = StateFailed
			p.tok = nil
			return nil, err
		}
		p.tok = tok
		p.state = StateReady
		return nil, nil
	})
	return err
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// fetchToken performs one grant request against /oauth_token.do: the
// refresh_token grant when a refresh token is on hand, the password
// grant otherwise. Any failure here resolves the state machine to
// Failed; it never leaves it mid-transition.
func (p *Provider) fetchToken(ctx context.Context, refresh string) (*token, error) {
	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	if refresh != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refresh)
	} else {
		form.Set("grant_type", "password")
		form.Set("username", p.cfg.Username)
		form.Set("password", p.cfg.Password)
	}

	endpoint := p.cfg.Instance + "/oauth_token.do"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Message: "building token request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	p.logger.Debug("requesting token", zap.String("grant", form.Get("grant_type")))

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, &AuthError{Message: "token request failed", Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Message: "reading token response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Message: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &AuthError{Message: "decoding token response", Cause: err}
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{Message: "token response has no access_token"}
	}

	tok := &token{
		access:  tr.AccessToken,
		refresh: tr.RefreshToken,
		expiry:  time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if tok.refresh == "" {
		tok.refresh = refresh
	}
	return tok, nil
}

func (p *Provider) accessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tok == nil {
		return ""
	}
	return p.tok.access
}

// Response is the raw outcome of a successful (2xx) call.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Client performs authenticated calls against the provider's instance.
// Each verb issues exactly one HTTP request; a 401 answer triggers
// exactly one refresh-and-retry cycle before the error is surfaced.
type Client struct {
	p *Provider
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, nil, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, nil, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	resp, err := c.attempt(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized || !c.p.oauth() {
		return c.finish(resp)
	}

	// One refresh-and-retry cycle, then surface whatever comes back.
	stale := c.p.accessToken()
	c.p.logger.Debug("got 401, forcing token refresh", zap.String("path", path))
	if err := c.p.ensureToken(ctx, stale); err != nil {
		return nil, err
	}
	resp, err = c.attempt(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	return c.finish(resp)
}

// finish maps a raw response to the success path or a RemoteError.
func (c *Client) finish(resp *Response) (*Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	return nil, &RemoteError{Status: resp.Status, Body: resp.Body}
}

// attempt issues one HTTP request. Transport-level failures (including
// timeout and cancellation) surface as TransportError.
func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	target := c.p.cfg.Instance + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Op: "encoding request body", Cause: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &TransportError{Op: "building request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.p.oauth() {
		req.Header.Set("Authorization", "Bearer "+c.p.accessToken())
	} else {
		req.SetBasicAuth(c.p.cfg.Username, c.p.cfg.Password)
	}

	resp, err := c.p.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &TransportError{Op: "reading response", Cause: err}
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
