package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenUsable_ExpiryMargin(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name string
		tok  *oauth2.Token
		want bool
	}{
		{"nil token", nil, false},
		{"empty access token", &oauth2.Token{}, false},
		{"no expiry", &oauth2.Token{AccessToken: "a"}, true},
		{"expires in 31s", &oauth2.Token{AccessToken: "a", Expiry: now.Add(31 * time.Second)}, true},
		{"expires in 30s", &oauth2.Token{AccessToken: "a", Expiry: now.Add(30 * time.Second)}, false},
		{"expires in 29s", &oauth2.Token{AccessToken: "a", Expiry: now.Add(29 * time.Second)}, false},
		{"already expired", &oauth2.Token{AccessToken: "a", Expiry: now.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tokenUsable(tt.tok, now); got != tt.want {
				t.Errorf("tokenUsable = %v, want %v", got, tt.want)
			}
		})
	}
}

// tokenServer is a minimal OAuth2 token endpoint. Each call increments
// grants and issues access token "t<grants>".
type tokenServer struct {
	grants    int
	expiresIn int
	lastForm  url.Values
	status    int
}

func (s *tokenServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s.lastForm = r.Form
		if id, secret, ok := r.BasicAuth(); ok {
			s.lastForm.Set("client_id", id)
			s.lastForm.Set("client_secret", secret)
		}

		if s.status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}

		s.grants++
		expiresIn := s.expiresIn
		if expiresIn == 0 {
			expiresIn = 3600
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "t" + itoa(s.grants),
			"token_type":    "Bearer",
			"expires_in":    expiresIn,
			"refresh_token": "r" + itoa(s.grants),
		})
	}
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestClientCredentials_Authenticate(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	s := newClientCredentialsStrategy(AuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		TokenFile:    tokenFile,
	}, &NoopLogger{})

	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.lastForm.Get("grant_type") != "client_credentials" {
		t.Errorf("expected grant_type=client_credentials, got %s", ts.lastForm.Get("grant_type"))
	}

	if ts.lastForm.Get("client_id") != "client" {
		t.Errorf("expected client_id=client, got %s", ts.lastForm.Get("client_id"))
	}

	if !s.IsAuthenticated() {
		t.Error("expected authenticated after grant")
	}

	if got := s.AuthHeaders()["Authorization"]; got != "Bearer t1" {
		t.Errorf("expected Authorization=Bearer t1, got %s", got)
	}

	// The token was persisted with an absolute expiry.
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		t.Fatalf("token file not written: %v", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("token file is not valid JSON: %v", err)
	}
	if rec.AccessToken != "t1" {
		t.Errorf("expected persisted access_token=t1, got %s", rec.AccessToken)
	}
	if rec.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expected absolute expires_at in the future, got %d", rec.ExpiresAt)
	}
}

func TestClientCredentials_ReusesPersistedToken(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	store := NewFileTokenStore(tokenFile, nil)
	if err := store.Save(&oauth2.Token{AccessToken: "persisted", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	s := newClientCredentialsStrategy(AuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL,
		TokenFile:    tokenFile,
	}, &NoopLogger{})

	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.grants != 0 {
		t.Errorf("expected no network grant when a usable token is persisted, got %d", ts.grants)
	}

	if got := s.AuthHeaders()["Authorization"]; got != "Bearer persisted" {
		t.Errorf("expected persisted token to be used, got %s", got)
	}
}

func TestClientCredentials_RefreshIfNeeded(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{expiresIn: 3600}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	s := newClientCredentialsStrategy(AuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	}, &NoopLogger{})

	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Still fresh: no refresh.
	refreshed, err := s.RefreshIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed {
		t.Error("expected no refresh while the token is fresh")
	}

	// Simulate the clock passing the token's lifetime.
	s.mu.Lock()
	s.now = func() time.Time { return time.Now().Add(3601 * time.Second) }
	s.mu.Unlock()

	refreshed, err = s.RefreshIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !refreshed {
		t.Error("expected a refresh once the token is past expiry")
	}

	if ts.grants != 2 {
		t.Errorf("expected 2 grants (initial + refresh), got %d", ts.grants)
	}
}

func TestClientCredentials_ServerRejection(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{status: http.StatusUnauthorized}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	s := newClientCredentialsStrategy(AuthConfig{
		ClientID:     "client",
		ClientSecret: "wrong",
		TokenURL:     server.URL,
	}, &NoopLogger{})

	err := s.Authenticate(context.Background())

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}

	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected statusCode=401, got %d", authErr.StatusCode)
	}
}

func TestAuthorizationCode_AuthenticateWithoutToken(t *testing.T) {
	t.Parallel()

	s := newAuthorizationCodeStrategy(AuthConfig{
		ClientID:    "client",
		AuthURL:     "https://auth.example.com/authorize",
		TokenURL:    "https://auth.example.com/token",
		RedirectURL: "https://app.example.com/callback",
		UsePKCE:     true,
	}, &NoopLogger{})

	err := s.Authenticate(context.Background())

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}

	if !strings.Contains(err.Error(), "interactive") {
		t.Errorf("expected error to point at the interactive flow, got: %v", err)
	}
}

func TestAuthorizationCode_CreateAuthorizationURL(t *testing.T) {
	t.Parallel()

	s := newAuthorizationCodeStrategy(AuthConfig{
		ClientID:    "client",
		AuthURL:     "https://auth.example.com/authorize",
		TokenURL:    "https://auth.example.com/token",
		RedirectURL: "https://app.example.com/callback",
		UsePKCE:     true,
	}, &NoopLogger{})

	rawURL, state := s.CreateAuthorizationURL()

	if state == "" {
		t.Fatal("expected non-empty state")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}

	q := u.Query()
	if q.Get("client_id") != "client" {
		t.Errorf("expected client_id=client, got %s", q.Get("client_id"))
	}
	if q.Get("state") != state {
		t.Errorf("expected state=%s in URL, got %s", state, q.Get("state"))
	}
	if q.Get("redirect_uri") != "https://app.example.com/callback" {
		t.Errorf("unexpected redirect_uri: %s", q.Get("redirect_uri"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("expected code_challenge_method=S256, got %s", q.Get("code_challenge_method"))
	}
	if q.Get("code_challenge") == "" {
		t.Error("expected a code_challenge")
	}

	// Each call issues a fresh state.
	_, state2 := s.CreateAuthorizationURL()
	if state2 == state {
		t.Error("expected a fresh state per call")
	}
}

func TestAuthorizationCode_FetchToken(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	s := newAuthorizationCodeStrategy(AuthConfig{
		ClientID:    "client",
		AuthURL:     server.URL + "/authorize",
		TokenURL:    server.URL + "/token",
		RedirectURL: "https://app.example.com/callback",
		UsePKCE:     true,
		TokenFile:   tokenFile,
	}, &NoopLogger{})

	_, state := s.CreateAuthorizationURL()

	t.Run("state mismatch rejected", func(t *testing.T) {
		err := s.FetchToken(context.Background(), "code-1", "wrong-state")

		var authErr *AuthenticationError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthenticationError, got %v", err)
		}
	})

	t.Run("exchange succeeds", func(t *testing.T) {
		if err := s.FetchToken(context.Background(), "code-1", state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if ts.lastForm.Get("grant_type") != "authorization_code" {
			t.Errorf("expected grant_type=authorization_code, got %s", ts.lastForm.Get("grant_type"))
		}
		if ts.lastForm.Get("code") != "code-1" {
			t.Errorf("expected code=code-1, got %s", ts.lastForm.Get("code"))
		}
		if ts.lastForm.Get("code_verifier") == "" {
			t.Error("expected a PKCE code_verifier in the exchange")
		}

		if !s.IsAuthenticated() {
			t.Error("expected authenticated after exchange")
		}

		if _, err := os.Stat(tokenFile); err != nil {
			t.Errorf("expected token file to be written: %v", err)
		}
	})
}

func TestAuthorizationCode_RefreshIfNeeded(t *testing.T) {
	t.Parallel()

	ts := &tokenServer{}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	s := newAuthorizationCodeStrategy(AuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      server.URL + "/authorize",
		TokenURL:     server.URL + "/token",
		RedirectURL:  "https://app.example.com/callback",
	}, &NoopLogger{})

	// Hold an expired token with a refresh token.
	s.mu.Lock()
	s.token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-old",
		Expiry:       time.Now().Add(-time.Minute),
	}
	s.mu.Unlock()

	refreshed, err := s.RefreshIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !refreshed {
		t.Fatal("expected a refresh for an expired token with refresh token")
	}

	if ts.lastForm.Get("grant_type") != "refresh_token" {
		t.Errorf("expected grant_type=refresh_token, got %s", ts.lastForm.Get("grant_type"))
	}
	if ts.lastForm.Get("refresh_token") != "refresh-old" {
		t.Errorf("expected refresh_token=refresh-old, got %s", ts.lastForm.Get("refresh_token"))
	}

	if got := s.AuthHeaders()["Authorization"]; got != "Bearer t1" {
		t.Errorf("expected the refreshed token to be used, got %s", got)
	}
}

func TestAuthorizationCode_LoadsPersistedToken(t *testing.T) {
	t.Parallel()

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	store := NewFileTokenStore(tokenFile, nil)
	if err := store.Save(&oauth2.Token{AccessToken: "persisted", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	s := newAuthorizationCodeStrategy(AuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      "https://auth.example.com/authorize",
		TokenURL:     "https://auth.example.com/token",
		RedirectURL:  "https://app.example.com/callback",
		TokenFile:    tokenFile,
	}, &NoopLogger{})

	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.AuthHeaders()["Authorization"]; got != "Bearer persisted" {
		t.Errorf("expected persisted token to be used, got %s", got)
	}
}
