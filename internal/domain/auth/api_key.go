package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

// ErrInvalidKey is returned when an API key is missing or matches no configured key.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash format is not recognized.
var ErrUnknownHashType = errors.New("unknown hash type")

// Authenticator resolves raw API keys to principals.
// SHA-256 keys are found by lookup; Argon2id keys are tried in order.
type Authenticator struct {
	bySHA256 map[string]*APIKey
	argon    []*APIKey
}

// NewAuthenticator validates keys and indexes them for lookup.
func NewAuthenticator(keys []APIKey) (*Authenticator, error) {
	a := &Authenticator{bySHA256: make(map[string]*APIKey, len(keys))}
	for i := range keys {
		k := keys[i]
		if _, err := uuid.Parse(k.TenantID); err != nil {
			return nil, fmt.Errorf("api key %q: tenant id %q is not a uuid", k.Name, k.TenantID)
		}
		switch DetectHashType(k.KeyHash) {
		case "sha256":
			a.bySHA256[strings.ToLower(strings.TrimPrefix(k.KeyHash, "sha256:"))] = &k
		case "argon2id":
			a.argon = append(a.argon, &k)
		default:
			return nil, fmt.Errorf("api key %q: %w", k.Name, ErrUnknownHashType)
		}
	}
	return a, nil
}

// Authenticate returns the principal for rawKey or ErrInvalidKey.
func (a *Authenticator) Authenticate(rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	if k, ok := a.bySHA256[HashKey(rawKey)]; ok {
		return principalFor(k), nil
	}
	for _, k := range a.argon {
		match, err := VerifyKey(rawKey, k.KeyHash)
		if err != nil {
			continue
		}
		if match {
			return principalFor(k), nil
		}
	}
	return nil, ErrInvalidKey
}

// Len returns the number of configured keys.
func (a *Authenticator) Len() int {
	return len(a.bySHA256) + len(a.argon)
}

func principalFor(k *APIKey) *Principal {
	return &Principal{
		TenantID: k.TenantID,
		KeyName:  k.Name,
		Scopes:   append([]string(nil), k.Scopes...),
	}
}

// HashKey computes the SHA-256 hex hash of a raw API key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams follows the OWASP minimum recommendation.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id hashes a raw API key into PHC format.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// GenerateKey returns a new random key with the given prefix.
func GenerateKey(prefix string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// DetectHashType returns "argon2id", "sha256", or "unknown".
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey checks rawKey against a stored hash in any supported format.
// SHA-256 hashes are compared in constant time.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, storedHash)
	case "sha256":
		expected := strings.ToLower(strings.TrimPrefix(storedHash, "sha256:"))
		return subtle.ConstantTimeCompare([]byte(HashKey(rawKey)), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare recovers from panics in argon2id on crafted parameters.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
