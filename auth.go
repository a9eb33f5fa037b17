package connector

import (
	"context"
	"encoding/base64"
	"fmt"
)

// AuthStrategy supplies credentials for outgoing requests. One strategy is
// owned by exactly one [Connector] and built from its [AuthConfig] at
// Connect time.
type AuthStrategy interface {
	// Authenticate obtains fresh credential material. For api_key and
	// basic_auth this is a local validation with no network call.
	Authenticate(ctx context.Context) error

	// IsAuthenticated reports whether a usable credential is present. For
	// OAuth2 strategies the token must not expire within the next 30s.
	IsAuthenticated() bool

	// AuthHeaders returns the headers carrying the credential. It is
	// synchronous and side-effect-free, and returns an empty map when no
	// valid credential is held.
	AuthHeaders() map[string]string

	// RefreshIfNeeded renews an OAuth2 token that is within 30s of expiry,
	// returning true when a renewal was performed. Always false for
	// api_key and basic_auth.
	RefreshIfNeeded(ctx context.Context) (bool, error)
}

// newAuthStrategy builds the strategy selected by cfg.Auth.Method. The
// config must already be validated.
func newAuthStrategy(cfg Config, logger RequestLogger) (AuthStrategy, error) {
	switch cfg.Auth.Method {
	case AuthAPIKey:
		return &apiKeyStrategy{key: cfg.Auth.APIKey, header: cfg.Auth.APIKeyHeader}, nil
	case AuthBasic:
		return &basicAuthStrategy{username: cfg.Auth.Username, password: cfg.Auth.Password}, nil
	case AuthOAuth2ClientCredentials:
		return newClientCredentialsStrategy(cfg.Auth, logger), nil
	case AuthOAuth2AuthorizationCode:
		return newAuthorizationCodeStrategy(cfg.Auth, logger), nil
	default:
		return nil, &ConfigurationError{Field: "auth.method", Reason: fmt.Sprintf("unknown method %q", cfg.Auth.Method)}
	}
}

// apiKeyStrategy sends a static key in a configurable header.
type apiKeyStrategy struct {
	key           string
	header        string
	authenticated bool
}

func (s *apiKeyStrategy) Authenticate(_ context.Context) error {
	if s.key == "" {
		return &AuthenticationError{Reason: "API key is empty"}
	}
	s.authenticated = true
	return nil
}

func (s *apiKeyStrategy) IsAuthenticated() bool {
	return s.authenticated
}

func (s *apiKeyStrategy) AuthHeaders() map[string]string {
	if !s.authenticated {
		return map[string]string{}
	}
	return map[string]string{s.header: s.key}
}

func (s *apiKeyStrategy) RefreshIfNeeded(_ context.Context) (bool, error) {
	return false, nil
}

// basicAuthStrategy sends a precomputed Authorization: Basic header.
type basicAuthStrategy struct {
	username      string
	password      string
	encoded       string
	authenticated bool
}

func (s *basicAuthStrategy) Authenticate(_ context.Context) error {
	if s.username == "" || s.password == "" {
		return &AuthenticationError{Reason: "username and password must both be set"}
	}
	s.encoded = base64.StdEncoding.EncodeToString([]byte(s.username + ":" + s.password))
	s.authenticated = true
	return nil
}

func (s *basicAuthStrategy) IsAuthenticated() bool {
	return s.authenticated
}

func (s *basicAuthStrategy) AuthHeaders() map[string]string {
	if !s.authenticated {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Basic " + s.encoded}
}

func (s *basicAuthStrategy) RefreshIfNeeded(_ context.Context) (bool, error) {
	return false, nil
}
