package catalog

import (
	"database/sql"
	"errors"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// CreateNode inserts a new node. Fails with *util.ConflictError on a
// duplicate (lab_id, name) or (lab_id, node_index).
func (s *Store) CreateNode(n *Node) error {
	_, err := s.db.Exec(
		`INSERT INTO nodes (lab_id, name, node_index, image_id, mgmt_ipv4, state)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.LabID, n.Name, n.Index, n.ImageID, n.MgmtIPv4, string(n.State),
	)
	if isUniqueConstraintErr(err) {
		return util.NewConflictError("Node", "name/index", n.Name)
	}
	return err
}

func (s *Store) GetNode(labID, name string) (*Node, error) {
	row := s.db.QueryRow(
		`SELECT lab_id, name, node_index, image_id, mgmt_ipv4, state FROM nodes WHERE lab_id = ? AND name = ?`,
		labID, name,
	)
	return scanNode(row)
}

func scanNode(row *sql.Row) (*Node, error) {
	var n Node
	var state string
	if err := row.Scan(&n.LabID, &n.Name, &n.Index, &n.ImageID, &n.MgmtIPv4, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	n.State = NodeState(state)
	return &n, nil
}

// UpdateNodeState sets state and, optionally, the assigned management IP.
// lab_id is immutable — a node cannot be moved between labs (§3) — and has
// no setter.
func (s *Store) UpdateNodeState(labID, name string, state NodeState, mgmtIPv4 string) error {
	res, err := s.db.Exec(
		`UPDATE nodes SET state = ?, mgmt_ipv4 = ? WHERE lab_id = ? AND name = ?`,
		string(state), mgmtIPv4, labID, name,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// AttemptMoveLab always fails with *util.ImmutableFieldError: Node.lab is
// immutable after creation (§3). Present so callers that construct a node
// update from a full struct get a clear, typed error instead of silently
// ignoring a changed LabID.
func (s *Store) AttemptMoveLab(name, fromLab, toLab string) error {
	if fromLab == toLab {
		return nil
	}
	return util.NewImmutableFieldError("Node", "lab")
}

// SafeDeleteNode fails with *util.InUseError if the node is still an
// endpoint of a link.
func (s *Store) SafeDeleteNode(labID, name string) error {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM links WHERE lab_id = ? AND (node_a = ? OR node_b = ?)`,
		labID, name, name,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return util.NewInUseError("Node:" + name)
	}
	res, err := s.db.Exec(`DELETE FROM nodes WHERE lab_id = ? AND name = ?`, labID, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListNodesByLab returns a lab's nodes ordered by ascending node_index,
// matching §4.H phase 11's required processing order.
func (s *Store) ListNodesByLab(labID string) ([]*Node, error) {
	rows, err := s.db.Query(
		`SELECT lab_id, name, node_index, image_id, mgmt_ipv4, state FROM nodes WHERE lab_id = ? ORDER BY node_index`,
		labID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		var n Node
		var state string
		if err := rows.Scan(&n.LabID, &n.Name, &n.Index, &n.ImageID, &n.MgmtIPv4, &state); err != nil {
			return nil, err
		}
		n.State = NodeState(state)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// CountNodesByLab returns the number of nodes in labID.
func (s *Store) CountNodesByLab(labID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE lab_id = ?`, labID).Scan(&count)
	return count, err
}
