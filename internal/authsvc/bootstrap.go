package authsvc

import (
	"errors"
	"os"

	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

const adminUsername = "admin"

// SeedAdminUser creates or password-resets the admin user from
// SHERPA_ADMIN_PASSWORD on every boot, idempotently (§4.L, §3 admin
// bootstrap — supplemented from original_source's seed/admin_user.rs,
// which re-seeds on every boot rather than first-boot-only).
func SeedAdminUser(store *catalog.Store) error {
	password := os.Getenv("SHERPA_ADMIN_PASSWORD")
	if password == "" {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	existing, err := store.GetUser(adminUsername)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return err
	}
	if existing == nil {
		return store.CreateUser(&catalog.User{
			Username:     adminUsername,
			PasswordHash: hash,
			IsAdmin:      true,
		})
	}

	existing.PasswordHash = hash
	existing.IsAdmin = true
	return store.UpdateUser(existing)
}
