// Package connector is the resilient API client foundation shared by the
// Vieux Moulin back-office integrations. Every vendor adapter (CRM, POS,
// reservation and supplier APIs) composes a [Connector] instead of talking
// HTTP directly.
//
// The connector wraps [github.com/go-resty/resty/v2] with pluggable
// authentication, client-side token-bucket rate limiting, automatic retries
// with exponential backoff, and typed error classification.
//
// # Basic Usage
//
//	c := connector.New(connector.Config{
//	    API: connector.APIConfig{BaseURL: "https://api.example.com"},
//	    Auth: connector.AuthConfig{
//	        Method: connector.AuthAPIKey,
//	        APIKey: "my-key",
//	    },
//	})
//
//	if err := c.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Disconnect()
//
//	body, err := c.Get(ctx, "/v1/contacts")
//
// Every verb method auto-connects when needed, so adapters that prefer a
// scoped lifetime can use [Connector.WithConnection] instead.
//
// # Authentication
//
// Four methods are supported, selected by [AuthConfig].Method: api_key,
// basic_auth, oauth2_client_credentials and oauth2_authorization_code.
// OAuth2 tokens are refreshed automatically inside a 30-second expiry
// margin and persisted to [AuthConfig].TokenFile with owner-only
// permissions, so a restarted process reuses the token instead of
// re-authenticating. The authorization-code grant needs one interactive
// round: [Connector.AuthorizationURL] and
// [Connector.ExchangeAuthorizationCode], optionally with PKCE.
//
// # Rate Limiting
//
// Each request consumes one token from a bucket refilled at
// [RateLimitConfig].MaxRequestsPerMinute. With Adaptive enabled the refill
// rate is retuned from X-RateLimit-* and Retry-After response headers,
// scaled by a safety factor to stay under the server's real quota.
//
// # Retry Behaviour
//
// [DefaultRetryPolicy] retries transient connection errors; HTTP responses
// are retried when their status is in the retry-code set (default 408, 429,
// 500, 502, 503, 504). A 429 with an explicit Retry-After header waits
// exactly that long; everything else backs off exponentially. A per-attempt
// timeout is retried while the caller's context is still live; cancellation
// of the caller's context and DNS resolution errors are never retried. All
// failures surface as one of the typed errors:
// [ConfigurationError], [AuthenticationError], [ConnectionError],
// [RateLimitError], [ResourceNotFoundError], [ValidationError], [APIError].
//
// # Logging
//
// Implement [RequestLogger] and supply it via [WithRequestLogger] to
// integrate with your logging library, or use [NewZapLogger] for zap. The
// default [NoopLogger] discards all log output.
package connector
