package connector

import (
	"fmt"
	"math"
	"net/url"
	"time"
)

// AuthMethod selects the authentication strategy built at Connect time.
type AuthMethod string

const (
	AuthAPIKey                  AuthMethod = "api_key"
	AuthBasic                   AuthMethod = "basic_auth"
	AuthOAuth2ClientCredentials AuthMethod = "oauth2_client_credentials"
	AuthOAuth2AuthorizationCode AuthMethod = "oauth2_authorization_code"
)

// Config describes one vendor API endpoint. It is validated once when
// [Connector.Connect] is called and treated as immutable afterwards.
type Config struct {
	API        APIConfig
	Auth       AuthConfig
	Connection ConnectionConfig
	RateLimit  RateLimitConfig
}

// APIConfig holds the endpoint and headers sent on every request.
type APIConfig struct {
	// BaseURL is required. Relative request paths are resolved against it.
	BaseURL string

	// DefaultHeaders are merged into every request. Call-specific headers
	// win on conflict.
	DefaultHeaders map[string]string
}

// AuthConfig holds the credential material for the selected Method.
// Only the fields of the selected method are consulted.
type AuthConfig struct {
	Method AuthMethod

	// api_key
	APIKey       string
	APIKeyHeader string // default "X-API-Key"

	// basic_auth
	Username string
	Password string

	// oauth2_client_credentials / oauth2_authorization_code
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// oauth2_authorization_code only
	AuthURL     string
	RedirectURL string
	UsePKCE     bool

	// TokenFile is where OAuth2 tokens are persisted between processes.
	// Empty disables persistence; the token then lives for the process only.
	TokenFile string
}

// ConnectionConfig tunes the HTTP execution layer. Zero values take the
// documented defaults. Set MaxRetries negative to disable retries.
type ConnectionConfig struct {
	Timeout         time.Duration // default 30s
	MaxRetries      int           // default 3; negative means 0
	RetryDelay      time.Duration // default 2s, doubled per attempt
	PoolConnections int           // default 10, idle connections kept per host
	PoolMaxSize     int           // default 10, cap on in-flight connections per host
}

// RateLimitConfig tunes client-side admission control. The default is a
// non-adaptive bucket refilled at MaxRequestsPerMinute/60 tokens per second.
type RateLimitConfig struct {
	MaxRequestsPerMinute float64 // default 60
	MaxBurst             float64 // default floor(rate), minimum 1

	// Adaptive retunes the refill rate from X-RateLimit-* response headers.
	Adaptive     bool
	SafetyFactor float64 // clamped to [0.1, 1.0], default 0.9

	// MaxDelay bounds the time Acquire may wait for a token. Zero means
	// wait as long as it takes.
	MaxDelay time.Duration
}

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
	defaultPoolSize   = 10
	defaultPerMinute  = 60.0
	defaultSafety     = 0.9
	defaultKeyHeader  = "X-API-Key"
)

// withDefaults returns a copy of cfg with defaults applied for every
// optional zero-valued field.
func (c Config) withDefaults() Config {
	if c.Connection.Timeout <= 0 {
		c.Connection.Timeout = defaultTimeout
	}
	if c.Connection.MaxRetries == 0 {
		c.Connection.MaxRetries = defaultMaxRetries
	} else if c.Connection.MaxRetries < 0 {
		c.Connection.MaxRetries = 0
	}
	if c.Connection.RetryDelay <= 0 {
		c.Connection.RetryDelay = defaultRetryDelay
	}
	if c.Connection.PoolConnections <= 0 {
		c.Connection.PoolConnections = defaultPoolSize
	}
	if c.Connection.PoolMaxSize <= 0 {
		c.Connection.PoolMaxSize = defaultPoolSize
	}
	if c.RateLimit.MaxRequestsPerMinute <= 0 {
		c.RateLimit.MaxRequestsPerMinute = defaultPerMinute
	}
	if c.RateLimit.SafetyFactor == 0 {
		c.RateLimit.SafetyFactor = defaultSafety
	}
	c.RateLimit.SafetyFactor = math.Min(1.0, math.Max(0.1, c.RateLimit.SafetyFactor))
	if c.Auth.APIKeyHeader == "" {
		c.Auth.APIKeyHeader = defaultKeyHeader
	}
	return c
}

// validate checks the required fields, naming the missing key. It performs
// no network I/O.
func (c Config) validate() error {
	if c.API.BaseURL == "" {
		return &ConfigurationError{Field: "api.baseUrl", Reason: "must be set"}
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "api.baseUrl", Reason: fmt.Sprintf("not a valid absolute URL: %q", c.API.BaseURL)}
	}

	switch c.Auth.Method {
	case AuthAPIKey:
		if c.Auth.APIKey == "" {
			return &ConfigurationError{Field: "auth.apiKey", Reason: "required for method api_key"}
		}
	case AuthBasic:
		if c.Auth.Username == "" {
			return &ConfigurationError{Field: "auth.username", Reason: "required for method basic_auth"}
		}
		if c.Auth.Password == "" {
			return &ConfigurationError{Field: "auth.password", Reason: "required for method basic_auth"}
		}
	case AuthOAuth2ClientCredentials:
		if c.Auth.ClientID == "" {
			return &ConfigurationError{Field: "auth.clientId", Reason: "required for method oauth2_client_credentials"}
		}
		if c.Auth.ClientSecret == "" {
			return &ConfigurationError{Field: "auth.clientSecret", Reason: "required for method oauth2_client_credentials"}
		}
		if c.Auth.TokenURL == "" {
			return &ConfigurationError{Field: "auth.tokenUrl", Reason: "required for method oauth2_client_credentials"}
		}
	case AuthOAuth2AuthorizationCode:
		if c.Auth.ClientID == "" {
			return &ConfigurationError{Field: "auth.clientId", Reason: "required for method oauth2_authorization_code"}
		}
		if c.Auth.ClientSecret == "" && !c.Auth.UsePKCE {
			return &ConfigurationError{Field: "auth.clientSecret", Reason: "required for method oauth2_authorization_code unless PKCE is enabled"}
		}
		if c.Auth.AuthURL == "" {
			return &ConfigurationError{Field: "auth.authUrl", Reason: "required for method oauth2_authorization_code"}
		}
		if c.Auth.TokenURL == "" {
			return &ConfigurationError{Field: "auth.tokenUrl", Reason: "required for method oauth2_authorization_code"}
		}
		if c.Auth.RedirectURL == "" {
			return &ConfigurationError{Field: "auth.redirectUrl", Reason: "required for method oauth2_authorization_code"}
		}
	case "":
		return &ConfigurationError{Field: "auth.method", Reason: "must be set"}
	default:
		return &ConfigurationError{Field: "auth.method", Reason: fmt.Sprintf("unknown method %q", c.Auth.Method)}
	}

	return nil
}
