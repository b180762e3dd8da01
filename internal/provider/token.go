package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/filex"
)

// Token is a bearer credential for a REST backend. A zero Expiry means the
// token does not expire.
type Token struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

// Valid reports whether the token can authenticate a request at time now.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

// TokenStore persists one token per backend id as a JSON file under
// dir/tokens. The interactive consent flow that obtains tokens belongs to
// a collaborator; the store only keeps its result.
type TokenStore struct {
	mu  sync.Mutex
	dir string
}

func NewTokenStore(dataDir string) *TokenStore {
	return &TokenStore{dir: filepath.Join(dataDir, "tokens")}
}

func (s *TokenStore) path(backendID string) string {
	return filepath.Join(s.dir, backendID+".json")
}

// Load returns the stored token for backendID, or common.ErrorNotFound.
func (s *TokenStore) Load(backendID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(backendID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("token for %s: %w", backendID, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("read token for %s: %w", backendID, err)
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode token for %s: %w", backendID, err)
	}
	return &t, nil
}

// Save persists the token for backendID.
func (s *TokenStore) Save(backendID string, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := filex.WriteJSONAtomic(s.path(backendID), t); err != nil {
		return fmt.Errorf("save token for %s: %w", backendID, err)
	}
	return nil
}

// Clear removes the stored token for backendID. Clearing an absent token
// is a no-op.
func (s *TokenStore) Clear(backendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(backendID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear token for %s: %w", backendID, err)
	}
	return nil
}

// TokenPrompt obtains a fresh token interactively, e.g. the operator CLI
// pasting an OAuth access token. Providers constructed without a prompt
// cannot Authenticate and report false.
type TokenPrompt func(ctx context.Context, backendID string) (string, error)
