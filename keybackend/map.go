// Package keybackend resolves API bearer tokens to key ids.
package keybackend

import (
	"crypto/sha256"
	"fmt"

	"github.com/sagarc03/sitehost"
)

// MapKeyStore resolves tokens from an in-memory map. Tokens are held as
// SHA-256 digests so a lookup never compares raw secrets.
type MapKeyStore struct {
	ids map[[sha256.Size]byte]string
}

// NewMapKeyStore creates a store from a token to key id mapping.
func NewMapKeyStore(tokens map[string]string) *MapKeyStore {
	ids := make(map[[sha256.Size]byte]string, len(tokens))
	for token, id := range tokens {
		ids[sha256.Sum256([]byte(token))] = id
	}
	return &MapKeyStore{ids: ids}
}

// Lookup returns the key id owning token, or an error wrapping
// sitehost.ErrUnauthorized.
func (s *MapKeyStore) Lookup(token string) (string, error) {
	id, found := s.ids[sha256.Sum256([]byte(token))]
	if !found || token == "" {
		return "", fmt.Errorf("api key not found: %w", sitehost.ErrUnauthorized)
	}
	return id, nil
}

// Len returns the number of known keys.
func (s *MapKeyStore) Len() int {
	return len(s.ids)
}
