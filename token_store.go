package connector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// TokenRecord is the persisted form of an OAuth2 credential. The absolute
// expiry instant is stored, not the relative expires_in, so a restarted
// process does not need to re-derive token age.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
}

func recordFromToken(tok *oauth2.Token) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiresAt = tok.Expiry.Unix()
	}
	return rec
}

func (r *TokenRecord) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiresAt != 0 {
		tok.Expiry = time.Unix(r.ExpiresAt, 0)
	}
	return tok
}

// FileTokenStore persists one TokenRecord as the sole content of a file,
// readable and writable by the owner only.
type FileTokenStore struct {
	path   string
	logger RequestLogger
}

// NewFileTokenStore creates a store for the given path. The file and its
// parent directories are created on the first Save.
func NewFileTokenStore(path string, logger RequestLogger) *FileTokenStore {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &FileTokenStore{path: path, logger: logger}
}

// Load reads the persisted token. It returns (nil, nil) when the file is
// absent, unreadable, or not valid JSON; a missing token is not an error,
// the caller just re-authenticates over the network.
func (s *FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debugf("token file %s unreadable: %v", s.path, err)
		}
		return nil, nil
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warnf("token file %s contains invalid JSON, ignoring: %v", s.path, err)
		return nil, nil
	}
	if rec.AccessToken == "" {
		return nil, nil
	}

	return rec.token(), nil
}

// Save writes the token, creating parent directories as needed and
// restricting the file to owner read/write (0600).
func (s *FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(recordFromToken(tok))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}

	// WriteFile only applies the mode on creation; enforce it on overwrite.
	return os.Chmod(s.path, 0o600)
}
