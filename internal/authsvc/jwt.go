package authsvc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenExpiry = 7 * 24 * time.Hour

// Claims is the JWT claim set minted by Login (§4.L: sub, exp, iat, is_admin).
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// SecretStore manages the on-disk HS256 signing secret, generated once and
// reused across restarts.
type SecretStore struct {
	path string
}

func NewSecretStore(secretFile string) *SecretStore {
	return &SecretStore{path: secretFile}
}

// Load returns the persisted secret, generating and writing a new 32-byte
// random value on first boot. The parent directory is created with 0700,
// the secret file with 0600.
func (s *SecretStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("authsvc: read jwt secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("authsvc: generate jwt secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("authsvc: create secret dir: %w", err)
	}
	if err := os.WriteFile(s.path, secret, 0600); err != nil {
		return nil, fmt.Errorf("authsvc: write jwt secret: %w", err)
	}
	return secret, nil
}

// TokenIssuer mints and validates JWTs against a persisted secret.
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// Mint issues an HS256 token for username, expiring in 7 days.
func (t *TokenIssuer) Mint(username string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses and verifies tokenString, checking signature and
// expiry, and returns its claims.
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authsvc: unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("authsvc: invalid token")
	}
	return claims, nil
}
