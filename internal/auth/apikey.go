package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAPIKeyTooShort = errors.New("api key must be at least 32 characters")
	ErrAPIKeyMismatch = errors.New("invalid api key")
	ErrAPIKeyDisabled = errors.New("api key authentication is not configured")
)

const (
	MinAPIKeyLength = 32
	bcryptCost      = 12
)

// HashAPIKey creates a bcrypt hash of the key for configuration
func HashAPIKey(key string) (string, error) {
	if len(key) < MinAPIKeyLength {
		return "", ErrAPIKeyTooShort
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// HashToken creates a SHA-256 hash of a token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// CompareTokenHash compares a token with its hash
func CompareTokenHash(token, hash string) bool {
	tokenHash := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(tokenHash), []byte(hash)) == 1
}

// APIKeyVerifier checks service and admin keys against a bcrypt hash. After the
// first successful bcrypt comparison the key's SHA-256 is remembered so later
// requests skip the slow path.
type APIKeyVerifier struct {
	hash string

	mu       sync.RWMutex
	accepted string
}

func NewAPIKeyVerifier(hash string) *APIKeyVerifier {
	return &APIKeyVerifier{hash: hash}
}

// Configured reports whether a key hash was provided
func (v *APIKeyVerifier) Configured() bool {
	return v != nil && v.hash != ""
}

// Verify returns nil when key matches the configured hash
func (v *APIKeyVerifier) Verify(key string) error {
	if !v.Configured() {
		return ErrAPIKeyDisabled
	}
	if key == "" {
		return ErrAPIKeyMismatch
	}

	v.mu.RLock()
	accepted := v.accepted
	v.mu.RUnlock()
	if accepted != "" && CompareTokenHash(key, accepted) {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(key)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrAPIKeyMismatch
		}
		return err
	}

	v.mu.Lock()
	v.accepted = HashToken(key)
	v.mu.Unlock()
	return nil
}
