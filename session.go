package fastbreak

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
)

// ============================================================================
// Session Identity
// ============================================================================

// SessionStore persists the anonymous session token across client
// restarts within a browsing session. The token is the only identity the
// server ever sees.
type SessionStore interface {
	// Load returns the stored token, or "" if none exists yet.
	Load() (string, error)
	// Save stores the token.
	Save(token string) error
}

// newSessionToken generates a fresh high-entropy session identifier.
func newSessionToken() string {
	return uuid.NewString()
}

// loadOrCreateToken returns the stored token, generating and persisting a
// new one if the store is empty. The token is never rotated by the client.
func loadOrCreateToken(store SessionStore) (string, error) {
	token, err := store.Load()
	if err != nil {
		return "", fmt.Errorf("load session token: %w", err)
	}
	if token != "" {
		return token, nil
	}
	token = newSessionToken()
	if err := store.Save(token); err != nil {
		return "", fmt.Errorf("save session token: %w", err)
	}
	return token, nil
}

// ============================================================================
// Memory Store
// ============================================================================

// MemorySessionStore keeps the token in memory only. It is the default
// store for embedders that manage persistence themselves, and for tests.
type MemorySessionStore struct {
	mu    sync.Mutex
	token string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemorySessionStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// ============================================================================
// File Store
// ============================================================================

// sessionFile is the on-disk TOML shape of a persisted session.
type sessionFile struct {
	SessionToken string `toml:"session_token"`
	CreatedAt    string `toml:"created_at"`
}

// FileSessionStore persists the token as a TOML file, created with 0600
// permissions. A missing file is not an error; it means no session yet.
type FileSessionStore struct {
	path string
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

// DefaultSessionPath returns the session file location under the user's
// home directory (~/.fastbreak/session.toml), creating the directory if
// needed.
func DefaultSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".fastbreak")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create session directory: %w", err)
	}
	return filepath.Join(dir, "session.toml"), nil
}

func (s *FileSessionStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("cannot read session file: %w", err)
	}
	var sf sessionFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return "", fmt.Errorf("cannot parse session file: %w", err)
	}
	return sf.SessionToken, nil
}

func (s *FileSessionStore) Save(token string) error {
	sf := sessionFile{
		SessionToken: token,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := toml.Marshal(sf)
	if err != nil {
		return fmt.Errorf("cannot marshal session file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write session file: %w", err)
	}
	return nil
}
