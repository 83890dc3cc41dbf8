package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ErrInvalidHash reports a malformed encoded hash.
var ErrInvalidHash = errors.New("invalid argon2id hash format")

// HashKey returns an encoded argon2id hash of a caller secret, suitable for
// auth.caller_key_hash.
func HashKey(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret required")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyKey reports whether secret matches the encoded hash.
func VerifyKey(secret, encoded string) (bool, error) {
	if secret == "" || encoded == "" {
		return false, errors.New("secret and hash required")
	}

	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return false, ErrInvalidHash
	}

	var (
		memory  uint32
		passes  uint32
		threads uint8
	)
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &passes, &threads); err != nil {
		return false, fmt.Errorf("%w: parse params: %v", ErrInvalidHash, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("%w: decode salt: %v", ErrInvalidHash, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(expected) == 0 {
		return false, fmt.Errorf("%w: decode hash", ErrInvalidHash)
	}

	calculated := argon2.IDKey([]byte(secret), salt, passes, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(calculated, expected) == 1, nil
}
