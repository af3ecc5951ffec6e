// Package auth resolves API keys to the users they act for.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrInvalidKey is returned for unknown, inactive or malformed API keys.
var ErrInvalidKey = errors.New("invalid api key")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	UserID  uuid.UUID
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash. FindByHash
// returns an error wrapping ErrInvalidKey when no active key matches.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex-encoded HMAC-SHA256 of key under pepper. Only this
// hash is ever stored.
func HashKey(key string, pepper []byte) string {
	return hex.EncodeToString(mac(key, pepper))
}

func mac(key string, pepper []byte) []byte {
	h := hmac.New(sha256.New, pepper)
	h.Write([]byte(key))
	return h.Sum(nil)
}

// Authenticator validates raw API keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves key to its APIKeyInfo. Unknown keys yield
// ErrInvalidKey; storage failures are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	sum := mac(key, a.pepper)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return nil, ErrInvalidKey
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The row was found by hash; compare in constant time before trusting it.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrInvalidKey
	}
	if info.UserID == uuid.Nil {
		return nil, ErrInvalidKey
	}
	return info, nil
}
