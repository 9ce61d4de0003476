package catalog

import "time"

// CreateLabWithRecords inserts a lab plus all of its nodes and links inside
// one transaction (§4.H phase 3), mirroring CascadeDeleteLab's multi-table
// tx shape for the inverse operation.
func (s *Store) CreateLabWithRecords(l *Lab, nodes []*Node, links []*Link) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(
		`INSERT INTO labs (lab_id, name, owner, loopback_network, management_network, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.LabID, l.Name, l.Owner, l.LoopbackNetwork, l.ManagementNetwork, now,
	); err != nil {
		return err
	}

	for _, n := range nodes {
		if _, err := tx.Exec(
			`INSERT INTO nodes (lab_id, name, node_index, image_id, mgmt_ipv4, state)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			n.LabID, n.Name, n.Index, n.ImageID, n.MgmtIPv4, string(n.State),
		); err != nil {
			return err
		}
	}

	for _, lk := range links {
		if _, err := tx.Exec(
			`INSERT INTO links (lab_id, link_index, kind, node_a, node_b, int_a, int_b, bridge_a, bridge_b, veth_a, veth_b)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			lk.LabID, lk.Index, string(lk.Kind), lk.NodeA, lk.NodeB, lk.IntA, lk.IntB, lk.BridgeA, lk.BridgeB, lk.VethA, lk.VethB,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
