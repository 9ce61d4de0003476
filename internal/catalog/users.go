package catalog

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// CreateUser inserts a new user. Fails with *util.ConflictError if the
// username is already taken.
func (s *Store) CreateUser(u *User) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO users (username, password_hash, is_admin, ssh_keys, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, boolToInt(u.IsAdmin), strings.Join(u.SSHKeys, "\n"),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if isUniqueConstraintErr(err) {
		return util.NewConflictError("User", "username", u.Username)
	}
	return err
}

// GetUser fails with *util.ErrNotFound (via errors.Is) if username is absent.
func (s *Store) GetUser(username string) (*User, error) {
	row := s.db.QueryRow(
		`SELECT username, password_hash, is_admin, ssh_keys, created_at, updated_at FROM users WHERE username = ?`,
		username,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var isAdmin int
	var sshKeys, createdAt, updatedAt string
	if err := row.Scan(&u.Username, &u.PasswordHash, &isAdmin, &sshKeys, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	if sshKeys != "" {
		u.SSHKeys = strings.Split(sshKeys, "\n")
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &u, nil
}

// UpdateUser replaces password hash, admin flag, and SSH keys. Username is
// immutable — it is the primary key and is never part of the update set.
func (s *Store) UpdateUser(u *User) error {
	res, err := s.db.Exec(
		`UPDATE users SET password_hash = ?, is_admin = ?, ssh_keys = ?, updated_at = ? WHERE username = ?`,
		u.PasswordHash, boolToInt(u.IsAdmin), strings.Join(u.SSHKeys, "\n"),
		time.Now().UTC().Format(time.RFC3339), u.Username,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteUser fails with *util.DependencyError if the user still owns labs.
func (s *Store) DeleteUser(username string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM labs WHERE owner = ?`, username).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return util.NewDependencyError("User:"+username, "Lab", "one or more labs")
	}
	res, err := s.db.Exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListUsers returns every user, ordered by username.
func (s *Store) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(`SELECT username, password_hash, is_admin, ssh_keys, created_at, updated_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		var isAdmin int
		var sshKeys, createdAt, updatedAt string
		if err := rows.Scan(&u.Username, &u.PasswordHash, &isAdmin, &sshKeys, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		u.IsAdmin = isAdmin != 0
		if sshKeys != "" {
			u.SSHKeys = strings.Split(sshKeys, "\n")
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return util.ErrNotFound
	}
	return nil
}
