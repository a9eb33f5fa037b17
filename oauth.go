package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// expiryMargin is the safety window before token expiry. A token that
// expires within this margin is treated as already expired.
const expiryMargin = 30 * time.Second

func tokenUsable(tok *oauth2.Token, now time.Time) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return tok.Expiry.Sub(now) > expiryMargin
}

// authError maps an OAuth2 token-endpoint failure to an AuthenticationError,
// preserving the HTTP status when the server responded.
func authError(err error, grant string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		reason := fmt.Sprintf("%s grant rejected", grant)
		if retrieveErr.ErrorCode != "" {
			reason = fmt.Sprintf("%s grant rejected: %s", grant, retrieveErr.ErrorCode)
		}
		return &AuthenticationError{Reason: reason, StatusCode: retrieveErr.Response.StatusCode}
	}
	return &AuthenticationError{Reason: fmt.Sprintf("%s grant failed: %v", grant, err)}
}

// oauthClientCredentials implements the fully automatable
// client-credentials grant. Tokens are persisted through the store and
// reloaded before re-authenticating over the network.
type oauthClientCredentials struct {
	conf   *clientcredentials.Config
	store  *FileTokenStore
	logger RequestLogger

	mu    sync.Mutex
	token *oauth2.Token
	now   func() time.Time
}

func newClientCredentialsStrategy(auth AuthConfig, logger RequestLogger) *oauthClientCredentials {
	s := &oauthClientCredentials{
		conf: &clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
			Scopes:       auth.Scopes,
		},
		logger: logger,
		now:    time.Now,
	}
	if auth.TokenFile != "" {
		s.store = NewFileTokenStore(auth.TokenFile, logger)
	}
	return s
}

func (s *oauthClientCredentials) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil && s.store != nil {
		if tok, _ := s.store.Load(); tokenUsable(tok, s.now()) {
			s.logger.Debugf("reusing persisted client-credentials token")
			s.token = tok
			return nil
		}
	}

	return s.grantLocked(ctx)
}

// grantLocked runs the client_credentials grant and persists the result.
func (s *oauthClientCredentials) grantLocked(ctx context.Context) error {
	tok, err := s.conf.Token(ctx)
	if err != nil {
		return authError(err, "client_credentials")
	}

	s.token = tok
	s.persistLocked()
	s.logger.Debugf("obtained client-credentials token, expires at %v", tok.Expiry)
	return nil
}

func (s *oauthClientCredentials) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.token); err != nil {
		// The in-memory token stays usable for this process lifetime.
		s.logger.Warnf("failed to persist token: %v", err)
	}
}

func (s *oauthClientCredentials) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenUsable(s.token, s.now())
}

func (s *oauthClientCredentials) AuthHeaders() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !tokenUsable(s.token, s.now()) {
		return map[string]string{}
	}
	return map[string]string{"Authorization": s.token.Type() + " " + s.token.AccessToken}
}

// RefreshIfNeeded re-runs the grant when the held token is missing, expired,
// or within the expiry margin. The client-credentials grant has no refresh
// token; a fresh grant is the refresh.
func (s *oauthClientCredentials) RefreshIfNeeded(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenUsable(s.token, s.now()) {
		return false, nil
	}

	if err := s.grantLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// oauthAuthorizationCode implements the interactive authorization-code
// grant, optionally with PKCE (S256). Authenticate cannot complete the
// initial grant; it only loads a persisted token or refreshes one. The
// one-time interactive steps are CreateAuthorizationURL and FetchToken.
type oauthAuthorizationCode struct {
	conf    *oauth2.Config
	store   *FileTokenStore
	logger  RequestLogger
	usePKCE bool

	mu       sync.Mutex
	token    *oauth2.Token
	state    string
	verifier string
	now      func() time.Time
}

func newAuthorizationCodeStrategy(auth AuthConfig, logger RequestLogger) *oauthAuthorizationCode {
	s := &oauthAuthorizationCode{
		conf: &oauth2.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			RedirectURL:  auth.RedirectURL,
			Scopes:       auth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  auth.AuthURL,
				TokenURL: auth.TokenURL,
			},
		},
		usePKCE: auth.UsePKCE,
		logger:  logger,
		now:     time.Now,
	}
	if auth.TokenFile != "" {
		s.store = NewFileTokenStore(auth.TokenFile, logger)
	}
	return s
}

func (s *oauthAuthorizationCode) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenUsable(s.token, s.now()) {
		return nil
	}

	if s.token == nil && s.store != nil {
		if tok, _ := s.store.Load(); tok != nil {
			s.token = tok
		}
	}

	if tokenUsable(s.token, s.now()) {
		s.logger.Debugf("reusing persisted authorization-code token")
		return nil
	}

	if s.token != nil && s.token.RefreshToken != "" {
		return s.refreshLocked(ctx)
	}

	return &AuthenticationError{Reason: "no stored token for authorization_code grant; complete the interactive flow via CreateAuthorizationURL and FetchToken"}
}

// CreateAuthorizationURL returns the provider consent URL and the CSRF
// state value embedded in it. With PKCE enabled a fresh S256 challenge is
// generated for each call.
func (s *oauthAuthorizationCode) CreateAuthorizationURL() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = uuid.NewString()
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if s.usePKCE {
		s.verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(s.verifier))
	}
	return s.conf.AuthCodeURL(s.state, opts...), s.state
}

// FetchToken completes the interactive grant by exchanging the code
// returned to the redirect URL. state must match the value issued by
// CreateAuthorizationURL.
func (s *oauthAuthorizationCode) FetchToken(ctx context.Context, code, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == "" || state != s.state {
		return &AuthenticationError{Reason: "state mismatch in authorization callback"}
	}

	var opts []oauth2.AuthCodeOption
	if s.usePKCE {
		opts = append(opts, oauth2.VerifierOption(s.verifier))
	}

	tok, err := s.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return authError(err, "authorization_code")
	}

	s.token = tok
	s.state = ""
	s.verifier = ""
	s.persistLocked()
	s.logger.Debugf("completed authorization-code grant, expires at %v", tok.Expiry)
	return nil
}

func (s *oauthAuthorizationCode) refreshLocked(ctx context.Context) error {
	src := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return authError(err, "refresh_token")
	}

	// Some providers omit the refresh token on renewal; keep the old one.
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.token.RefreshToken
	}

	s.token = tok
	s.persistLocked()
	s.logger.Debugf("refreshed authorization-code token, expires at %v", tok.Expiry)
	return nil
}

func (s *oauthAuthorizationCode) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.token); err != nil {
		s.logger.Warnf("failed to persist token: %v", err)
	}
}

func (s *oauthAuthorizationCode) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenUsable(s.token, s.now())
}

func (s *oauthAuthorizationCode) AuthHeaders() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !tokenUsable(s.token, s.now()) {
		return map[string]string{}
	}
	return map[string]string{"Authorization": s.token.Type() + " " + s.token.AccessToken}
}

// RefreshIfNeeded performs the refresh grant when the token is within the
// expiry margin and a refresh token is available.
func (s *oauthAuthorizationCode) RefreshIfNeeded(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenUsable(s.token, s.now()) {
		return false, nil
	}
	if s.token == nil || s.token.RefreshToken == "" {
		return false, nil
	}

	if err := s.refreshLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}
