// Package authsvc implements password hashing, JWT issuance/validation,
// and admin bootstrap seeding (§4.L), grounded on the teacher's auth.go
// with bcrypt replaced by Argon2id and the JWT secret moved to a
// persisted file instead of an env-var/dev-fallback scheme.
package authsvc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

var specialChars = "!@#$%^&*_+-="

// ErrWeakPassword is returned by HashPassword when password fails the
// strength gate (§4.L: ≥8 chars, ≥1 upper, ≥1 lower, ≥1 special).
type ErrWeakPassword struct {
	Reason string
}

func (e *ErrWeakPassword) Error() string { return "authsvc: weak password: " + e.Reason }

func checkStrength(password string) error {
	if len(password) < 8 {
		return &ErrWeakPassword{Reason: "must be at least 8 characters"}
	}
	var hasUpper, hasLower, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		}
	}
	if !hasUpper {
		return &ErrWeakPassword{Reason: "must contain an uppercase letter"}
	}
	if !hasLower {
		return &ErrWeakPassword{Reason: "must contain a lowercase letter"}
	}
	if !hasSpecial {
		return &ErrWeakPassword{Reason: "must contain a special character from " + specialChars}
	}
	return nil
}

// HashPassword validates password strength and returns its Argon2id PHC
// string, suitable for storage in catalog.User.PasswordHash.
func HashPassword(password string) (string, error) {
	if err := checkStrength(password); err != nil {
		return "", err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("authsvc: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// CheckPassword reports whether password matches the Argon2id PHC string
// hash, in constant time.
func CheckPassword(password, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false
	}
	var mem uint32
	var time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &time, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, time, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
