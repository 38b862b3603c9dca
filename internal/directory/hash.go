package directory

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 = ~60ms per verification, slow enough to blunt brute force
	// without making login sluggish.
	bcryptCost  = 10
	bcryptLimit = 72
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("cannot hash an empty password")

// HashPassword generates a bcrypt hash for storage. Plaintext passwords
// are never persisted.
//
// Bcrypt has a 72-byte input limit; longer passwords are pre-hashed with
// SHA-256 so every byte still contributes to the digest.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// VerifyPassword checks plaintext against a stored hash, detecting the
// hash format:
//
//   - "$2..." is a bcrypt hash (newly provisioned accounts)
//   - "salt:hexdigest" is the historic clubhouse form, where the digest
//     is SHA-256 over salt then password
//
// Comparison is constant-time in both branches. Any malformed or empty
// stored hash verifies false; it never errors, since a verification
// failure and a storage problem look the same to a login flow.
func VerifyPassword(stored, password string) bool {
	if stored == "" || password == "" {
		return false
	}

	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(password)) == nil
	}

	salt, digest, found := strings.Cut(stored, ":")
	if !found {
		return false
	}

	return constantTimeHexEqual(legacyHex(salt, password), digest)
}

// bcryptInput prepares plaintext for bcrypt, pre-hashing inputs beyond
// bcrypt's 72-byte limit.
func bcryptInput(password string) []byte {
	if len(password) > bcryptLimit {
		sum := sha256.Sum256([]byte(password))

		return sum[:]
	}

	return []byte(password)
}

func legacyHex(salt, password string) string {
	hasher := sha256.New()
	hasher.Write([]byte(salt))
	hasher.Write([]byte(password))

	return hex.EncodeToString(hasher.Sum(nil))
}

func constantTimeHexEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(strings.ToLower(b))) == 1
}
