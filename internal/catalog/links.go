package catalog

import (
	"database/sql"
	"errors"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// CreateLink inserts a new link. Fails with *util.ConflictError on a
// duplicate link_index or on the (node_a, int_a, node_b, int_b) 4-tuple
// already existing within the lab (§3 Link uniqueness).
func (s *Store) CreateLink(l *Link) error {
	_, err := s.db.Exec(
		`INSERT INTO links (lab_id, link_index, kind, node_a, node_b, int_a, int_b, bridge_a, bridge_b, veth_a, veth_b)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.LabID, l.Index, string(l.Kind), l.NodeA, l.NodeB, l.IntA, l.IntB,
		l.BridgeA, l.BridgeB, l.VethA, l.VethB,
	)
	if isUniqueConstraintErr(err) {
		return util.NewConflictError("Link", "index/endpoints", l.NodeA+":"+l.IntA)
	}
	return err
}

// UpdateLinkNames sets the host-side names allocated during §4.H phase 5.
func (s *Store) UpdateLinkNames(labID string, index uint16, bridgeA, bridgeB, vethA, vethB string) error {
	res, err := s.db.Exec(
		`UPDATE links SET bridge_a = ?, bridge_b = ?, veth_a = ?, veth_b = ? WHERE lab_id = ? AND link_index = ?`,
		bridgeA, bridgeB, vethA, vethB, labID, index,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListLinksByLab returns a lab's links ordered by ascending link_index,
// matching §4.H phase 5's required processing order.
func (s *Store) ListLinksByLab(labID string) ([]*Link, error) {
	rows, err := s.db.Query(
		`SELECT lab_id, link_index, kind, node_a, node_b, int_a, int_b, bridge_a, bridge_b, veth_a, veth_b
		 FROM links WHERE lab_id = ? ORDER BY link_index`,
		labID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Link
	for rows.Next() {
		var l Link
		var kind string
		if err := rows.Scan(&l.LabID, &l.Index, &kind, &l.NodeA, &l.NodeB, &l.IntA, &l.IntB,
			&l.BridgeA, &l.BridgeB, &l.VethA, &l.VethB); err != nil {
			return nil, err
		}
		l.Kind = LinkKind(kind)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *Store) GetLink(labID string, index uint16) (*Link, error) {
	row := s.db.QueryRow(
		`SELECT lab_id, link_index, kind, node_a, node_b, int_a, int_b, bridge_a, bridge_b, veth_a, veth_b
		 FROM links WHERE lab_id = ? AND link_index = ?`,
		labID, index,
	)
	var l Link
	var kind string
	if err := row.Scan(&l.LabID, &l.Index, &kind, &l.NodeA, &l.NodeB, &l.IntA, &l.IntB,
		&l.BridgeA, &l.BridgeB, &l.VethA, &l.VethB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	l.Kind = LinkKind(kind)
	return &l, nil
}

// CountLinksByLab returns the number of links in labID, used by the
// topology validator's per-node interface-budget check (§4.R).
func (s *Store) CountLinksByLab(labID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM links WHERE lab_id = ?`, labID).Scan(&count)
	return count, err
}
