package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	apiKeySaltLength  = 16
	apiKeyLength      = 32
	apiKeyIterations  = 120000
	apiKeyTokenPrefix = "fsk_"
)

// ErrInvalidAPIKey is returned when a presented key matches no stored hash.
var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyManager verifies bearer keys for the management endpoints. Keys are
// stored as salted PBKDF2 hashes; the plaintext only exists at mint time.
type APIKeyManager struct {
	mu     sync.RWMutex
	hashes []string
}

// NewAPIKeyManager builds a manager from pre-hashed entries, typically
// loaded from configuration. Blank entries are dropped.
func NewAPIKeyManager(hashes []string) *APIKeyManager {
	manager := &APIKeyManager{}
	for _, hash := range hashes {
		if trimmed := strings.TrimSpace(hash); trimmed != "" {
			manager.hashes = append(manager.hashes, trimmed)
		}
	}
	return manager
}

// Enabled reports whether any key hashes are loaded. With none loaded the
// management endpoints run unauthenticated, which suits local development.
func (m *APIKeyManager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes) > 0
}

// Verify checks a presented key against every stored hash.
func (m *APIKeyManager) Verify(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidAPIKey
	}
	m.mu.RLock()
	hashes := m.hashes
	m.mu.RUnlock()
	for _, hash := range hashes {
		if err := verifyAPIKey(hash, key); err == nil {
			return nil
		}
	}
	return ErrInvalidAPIKey
}

// MintAPIKey generates a fresh key and its stored hash. The plaintext is
// shown once to the operator; only the hash is configured on the server.
func MintAPIKey() (string, string, error) {
	raw := make([]byte, apiKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	key := apiKeyTokenPrefix + hex.EncodeToString(raw)
	hash, err := HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey derives the stored form of a key.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("api key is required")
	}
	salt := make([]byte, apiKeySaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(key), salt, apiKeyIterations, apiKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", apiKeyIterations, encodedSalt, encodedKey), nil
}

func verifyAPIKey(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify api key: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify api key: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify api key: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify api key: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify api key: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}
