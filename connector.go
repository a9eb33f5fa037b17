package connector

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Connector composes an authentication strategy, a rate limiter and the
// HTTP execution layer behind a connect/disconnect/request lifecycle.
// Vendor adapters own one Connector per API endpoint; a Connector is safe
// for use by multiple goroutines but never shared between adapters.
type Connector struct {
	cfg     Config
	options *Options

	mu       sync.Mutex
	state    connState
	http     *httpClient
	auth     AuthStrategy
	bucket   *RateLimiter
	adaptive *AdaptiveRateLimiter
}

// New creates a Connector for the given configuration. Invalid option
// values are silently ignored and the default retained; configuration and
// options are validated when [Connector.Connect] is called.
func New(cfg Config, opts ...Option) *Connector {
	options := newConnectorOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Connector{cfg: cfg, options: options}
}

// Connect validates the configuration, builds the HTTP client, the
// authentication strategy and the rate limiter, and authenticates. It is a
// no-op when already connected. On any failure the connector stays
// disconnected and no network resources are retained.
func (c *Connector) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("connector is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateConnected {
		return nil
	}

	cfg := c.cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := c.options.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	c.state = stateConnecting

	// The strategy may predate Connect when the interactive
	// authorization-code steps ran first; keep it and its token.
	auth := c.auth
	if auth == nil {
		var err error
		auth, err = newAuthStrategy(cfg, c.options.requestLogger)
		if err != nil {
			c.state = stateDisconnected
			return err
		}
	}

	hc := newHTTPClient(cfg, c.options)

	ratePerSecond := cfg.RateLimit.MaxRequestsPerMinute / 60.0
	var bucket *RateLimiter
	var adaptive *AdaptiveRateLimiter
	if cfg.RateLimit.Adaptive {
		adaptive = NewAdaptiveRateLimiter(ratePerSecond, time.Second, cfg.RateLimit.MaxBurst, cfg.RateLimit.MaxDelay, cfg.RateLimit.SafetyFactor)
		bucket = adaptive.RateLimiter
		hc.onResponse = adaptive.UpdateFromHeaders
	} else {
		bucket = NewRateLimiter(ratePerSecond, time.Second, cfg.RateLimit.MaxBurst, cfg.RateLimit.MaxDelay)
	}

	if err := auth.Authenticate(ctx); err != nil {
		hc.close()
		c.auth = auth
		c.state = stateDisconnected
		return err
	}

	c.cfg = cfg
	c.auth = auth
	c.http = hc
	c.bucket = bucket
	c.adaptive = adaptive
	c.state = stateConnected
	c.options.requestLogger.Debugf("connected to %s (auth=%s, adaptive=%v)", cfg.API.BaseURL, cfg.Auth.Method, cfg.RateLimit.Adaptive)
	return nil
}

// Disconnect releases the pooled connections and returns the connector to
// the disconnected state. It is a no-op when already disconnected.
func (c *Connector) Disconnect() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateDisconnected {
		return
	}

	if c.http != nil {
		c.http.close()
	}
	c.http = nil
	c.bucket = nil
	c.adaptive = nil
	c.state = stateDisconnected
}

// IsConnected reports whether Connect has completed successfully.
func (c *Connector) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// WithConnection connects, runs fn, and guarantees Disconnect on every
// exit path.
func (c *Connector) WithConnection(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()
	return fn(ctx)
}

// Do executes one request and returns the full response. It auto-connects
// when needed, refreshes the credential if it is near expiry, attaches the
// auth headers, and acquires exactly one rate-limit token before sending.
func (c *Connector) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	if c == nil {
		return nil, fmt.Errorf("connector is nil")
	}

	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	auth, bucket, hc := c.auth, c.bucket, c.http
	c.mu.Unlock()
	if hc == nil {
		return nil, &ConnectionError{Retryable: true, Cause: fmt.Errorf("connector was disconnected")}
	}

	refreshed, err := auth.RefreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	if refreshed {
		c.options.requestLogger.Debugf("credential refreshed before %s %s", method, path)
	}

	headers := auth.AuthHeaders()
	for k, v := range ro.headers {
		headers[k] = v
	}
	ro.headers = headers

	if err := bucket.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	return hc.execute(ctx, method, path, ro)
}

// Get issues a GET and returns the parsed body.
func (c *Connector) Get(ctx context.Context, path string, opts ...RequestOption) (any, error) {
	return c.request(ctx, http.MethodGet, path, opts...)
}

// Post issues a POST and returns the parsed body.
func (c *Connector) Post(ctx context.Context, path string, opts ...RequestOption) (any, error) {
	return c.request(ctx, http.MethodPost, path, opts...)
}

// Put issues a PUT and returns the parsed body.
func (c *Connector) Put(ctx context.Context, path string, opts ...RequestOption) (any, error) {
	return c.request(ctx, http.MethodPut, path, opts...)
}

// Patch issues a PATCH and returns the parsed body.
func (c *Connector) Patch(ctx context.Context, path string, opts ...RequestOption) (any, error) {
	return c.request(ctx, http.MethodPatch, path, opts...)
}

// Delete issues a DELETE and returns the parsed body.
func (c *Connector) Delete(ctx context.Context, path string, opts ...RequestOption) (any, error) {
	return c.request(ctx, http.MethodDelete, path, opts...)
}

func (c *Connector) request(ctx context.Context, method, path string, opts ...RequestOption) (any, error) {
	resp, err := c.Do(ctx, method, path, opts...)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// AuthorizationURL starts the interactive authorization-code grant. It
// returns the provider consent URL and the state value to verify in the
// callback. Only valid for auth method oauth2_authorization_code.
func (c *Connector) AuthorizationURL() (string, string, error) {
	s, err := c.authCodeStrategy()
	if err != nil {
		return "", "", err
	}
	url, state := s.CreateAuthorizationURL()
	return url, state, nil
}

// ExchangeAuthorizationCode completes the interactive grant with the code
// and state returned to the redirect URL. The resulting token is persisted
// when a token file is configured, so a later Connect succeeds without
// further interaction.
func (c *Connector) ExchangeAuthorizationCode(ctx context.Context, code, state string) error {
	s, err := c.authCodeStrategy()
	if err != nil {
		return err
	}
	return s.FetchToken(ctx, code, state)
}

// authCodeStrategy returns the authorization-code strategy, building it on
// demand so the interactive steps can run before the first Connect.
func (c *Connector) authCodeStrategy() (*oauthAuthorizationCode, error) {
	if c == nil {
		return nil, fmt.Errorf("connector is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.auth.(*oauthAuthorizationCode); ok {
		return s, nil
	}

	cfg := c.cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Auth.Method != AuthOAuth2AuthorizationCode {
		return nil, &ConfigurationError{Field: "auth.method", Reason: fmt.Sprintf("authorization URL requires method %s, have %s", AuthOAuth2AuthorizationCode, cfg.Auth.Method)}
	}

	s := newAuthorizationCodeStrategy(cfg.Auth, c.options.requestLogger)
	c.auth = s
	return s, nil
}
