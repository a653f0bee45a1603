package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "tenantgate/pkg/domain-errors"
)

// APIKeyPrefix marks tenant API keys on the wire so resolvers can recognize
// them without a store round trip.
const APIKeyPrefix = "tgk_"

// Generate creates a cryptographically secure random secret.
// Returns a base64-encoded string suitable for use as API keys, client secrets, etc.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateAPIKey creates a new tenant API key of the form "tgk_<id>_<secret>".
// The id part is stable and safe to store/log; the secret part is returned
// once and only its bcrypt hash should be persisted.
func GenerateAPIKey() (full, keyID, secret string, err error) {
	idBuf := make([]byte, 6)
	if _, err := rand.Read(idBuf); err != nil {
		return "", "", "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate key id")
	}
	keyID = APIKeyPrefix + hex.EncodeToString(idBuf)

	secret, err = Generate()
	if err != nil {
		return "", "", "", err
	}
	return keyID + "_" + secret, keyID, secret, nil
}

// SplitAPIKey separates a presented API key into its id and secret parts.
func SplitAPIKey(key string) (keyID, secret string, err error) {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return "", "", dErrors.New(dErrors.CodeInvalidInput, "malformed api key")
	}
	rest := key[len(APIKeyPrefix):]
	i := strings.IndexByte(rest, '_')
	if i <= 0 || i == len(rest)-1 {
		return "", "", dErrors.New(dErrors.CodeInvalidInput, "malformed api key")
	}
	return APIKeyPrefix + rest[:i], rest[i+1:], nil
}

// IsAPIKey reports whether a presented credential looks like a tenant API key.
func IsAPIKey(s string) bool {
	return strings.HasPrefix(s, APIKeyPrefix)
}

// Hash creates a bcrypt hash of the provided secret.
// Use this to securely store secrets for later verification.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeValidation, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "secret is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash secret")
	}
	return string(hashed), nil
}

// Verify checks if a plaintext secret matches a bcrypt hash.
// The comparison is constant-time with respect to the hash contents.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeInvalidCredentials, "invalid secret")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify secret")
	}
	return nil
}

// dummyHash is a real bcrypt digest at the same cost as hashes produced by
// Hash. Its only job is to make lookup misses cost a full comparison; the
// result is always discarded.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// VerifyDummy burns a bcrypt comparison against a fixed hash. Callers use it
// on credential-not-found paths so response timing does not reveal whether
// the identifier exists.
func VerifyDummy(secret string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
}
