package model

import "time"

// APIKeyID is the backend's identifier of an API key.
type APIKeyID int

// keyPrefixLen is how much of a secret stays visible once it has been shown.
const keyPrefixLen = 8

// APIKey is a programmatic credential. Key holds the full secret only in the response to its
// creation; every other copy is truncated.
type APIKey struct {
	ID         APIKeyID   `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// APIKeyCreate is the body of POST /api-keys/.
type APIKeyCreate struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TruncateKey returns the display form of a secret: a short prefix and an ellipsis.
func TruncateKey(key string) string {
	if len(key) <= keyPrefixLen {
		return key
	}
	return key[:keyPrefixLen] + "..."
}

// Truncated returns the key's display form.
func (k APIKey) Truncated() string {
	return TruncateKey(k.Key)
}

// Redacted returns a copy whose secret is replaced by its display form.
func (k APIKey) Redacted() APIKey {
	k.Key = k.Truncated()
	return k
}

// Expired reports whether the key has an expiry in the past.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
