package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// TokenStore is durable client storage. It holds exactly one value: the bearer token.
type TokenStore interface {
	// Load returns the stored token, or "" when none is stored.
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileTokenStore keeps the token in a single file readable only by the current user.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStore returns a store backed by path. The file is created on first Save.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Path is the backing file.
func (f *FileTokenStore) Path() string {
	return f.path
}

// Load implements TokenStore.
func (f *FileTokenStore) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bs, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		return "", nil
	case err != nil:
		return "", errors.Wrapf(err, "reading token file %s", f.path)
	}
	return strings.TrimSpace(string(bs)), nil
}

// Save implements TokenStore. The token is written to a temporary file and renamed into place
// so a crash never leaves a truncated token behind.
func (f *FileTokenStore) Save(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(err, "creating token directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".token-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary token file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close() //nolint:errcheck
		return errors.Wrap(err, "writing token")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close() //nolint:errcheck
		return errors.Wrap(err, "restricting token file permissions")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing token file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "installing token file")
}

// Clear implements TokenStore.
func (f *FileTokenStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing token file")
	}
	return nil
}

// MemoryTokenStore is a TokenStore that lives as long as the process.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryTokenStore returns a store preloaded with token ("" for empty).
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

// Load implements TokenStore.
func (m *MemoryTokenStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// Save implements TokenStore.
func (m *MemoryTokenStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear implements TokenStore.
func (m *MemoryTokenStore) Clear() error {
	return m.Save("")
}

// TokenExpired reports whether token is a JWT whose exp claim is not after now. Tokens that are
// not JWTs, or carry no exp claim, are opaque to the client and never considered expired here;
// the backend remains the authority on them.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.Time.After(now)
}
