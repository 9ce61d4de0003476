package authsvc

import (
	"path/filepath"
	"testing"
)

func TestSecretStorePersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "jwt.secret")
	store := NewSecretStore(path)

	first, err := store.Load()
	if err != nil {
		t.Fatalf("Load (first): %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("len(secret) = %d, want 32", len(first))
	}

	second, err := NewSecretStore(path).Load()
	if err != nil {
		t.Fatalf("Load (second): %v", err)
	}
	if string(first) != string(second) {
		t.Error("secret changed across loads, want persisted value reused")
	}
}

func TestTokenIssuerMintAndValidate(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"))

	token, err := issuer.Mint("alice", true)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", claims.Subject)
	}
	if !claims.IsAdmin {
		t.Error("IsAdmin = false, want true")
	}
	if claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time) != tokenExpiry {
		t.Errorf("expiry window = %v, want %v", claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time), tokenExpiry)
	}
}

func TestTokenIssuerValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer([]byte("secret-a")).Mint("bob", false)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := NewTokenIssuer([]byte("secret-b")).Validate(token); err == nil {
		t.Error("Validate with wrong secret = nil error, want signature error")
	}
}

func TestTokenIssuerValidateAcceptsFreshToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"))
	token, err := issuer.Mint("carol", false)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := issuer.Validate(token); err != nil {
		t.Fatalf("freshly minted token should validate: %v", err)
	}
}
