package catalog

import (
	"database/sql"
	"errors"
	"time"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// CreateLab inserts a new lab row. Fails with *util.ConflictError on a
// duplicate lab_id, duplicate (owner, name), or subnet collision.
func (s *Store) CreateLab(l *Lab) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO labs (lab_id, name, owner, loopback_network, management_network, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.LabID, l.Name, l.Owner, l.LoopbackNetwork, l.ManagementNetwork, now.Format(time.RFC3339),
	)
	if isUniqueConstraintErr(err) {
		return util.NewConflictError("Lab", "lab_id/name/subnet", l.LabID)
	}
	return err
}

func (s *Store) GetLab(labID string) (*Lab, error) {
	row := s.db.QueryRow(
		`SELECT lab_id, name, owner, loopback_network, management_network, created_at FROM labs WHERE lab_id = ?`,
		labID,
	)
	return scanLab(row)
}

func scanLab(row *sql.Row) (*Lab, error) {
	var l Lab
	var createdAt string
	if err := row.Scan(&l.LabID, &l.Name, &l.Owner, &l.LoopbackNetwork, &l.ManagementNetwork, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &l, nil
}

// UpdateLabName renames a lab. Owner, lab_id, and the allocated subnets are
// immutable (§3 invariant, §9 design note) and have no setter here.
func (s *Store) UpdateLabName(labID, newName string) error {
	res, err := s.db.Exec(`UPDATE labs SET name = ? WHERE lab_id = ?`, newName, labID)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return util.NewConflictError("Lab", "name", newName)
		}
		return err
	}
	return requireAffected(res)
}

// SafeDeleteLab fails with *util.InUseError if the lab still has nodes.
func (s *Store) SafeDeleteLab(labID string) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE lab_id = ?`, labID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return util.NewInUseError("Lab:" + labID)
	}
	res, err := s.db.Exec(`DELETE FROM labs WHERE lab_id = ?`, labID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// CascadeDeleteLab deletes a lab's links, then nodes, then the lab row
// itself — the explicit application-level topological delete the user-facing
// `destroy` RPC uses, independent of the schema's ON DELETE CASCADE (which
// `clean` falls back on for orphaned rows).
func (s *Store) CascadeDeleteLab(labID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM links WHERE lab_id = ?`, labID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM nodes WHERE lab_id = ?`, labID); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM labs WHERE lab_id = ?`, labID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ListLabs returns every lab, ordered by creation time.
func (s *Store) ListLabs() ([]*Lab, error) {
	rows, err := s.db.Query(`SELECT lab_id, name, owner, loopback_network, management_network, created_at FROM labs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLabRows(rows)
}

// ListLabsByOwner returns the labs owned by username.
func (s *Store) ListLabsByOwner(username string) ([]*Lab, error) {
	rows, err := s.db.Query(
		`SELECT lab_id, name, owner, loopback_network, management_network, created_at FROM labs WHERE owner = ? ORDER BY created_at`,
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLabRows(rows)
}

func scanLabRows(rows *sql.Rows) ([]*Lab, error) {
	var out []*Lab
	for rows.Next() {
		var l Lab
		var createdAt string
		if err := rows.Scan(&l.LabID, &l.Name, &l.Owner, &l.LoopbackNetwork, &l.ManagementNetwork, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// UsedSubnets returns the set of loopback and management /24s currently
// allocated, for internal/alloc.AllocateSubnet's `used` argument.
func (s *Store) UsedSubnets() (loopback, management map[string]bool, err error) {
	loopback = map[string]bool{}
	management = map[string]bool{}
	rows, err := s.db.Query(`SELECT loopback_network, management_network FROM labs`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lo, mg string
		if err := rows.Scan(&lo, &mg); err != nil {
			return nil, nil, err
		}
		loopback[lo] = true
		management[mg] = true
	}
	return loopback, management, rows.Err()
}
