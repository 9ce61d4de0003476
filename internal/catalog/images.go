package catalog

import (
	"database/sql"
	"errors"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

// CreateImage inserts a new catalog image. Fails with *util.ConflictError on
// a duplicate (model, kind, version). If img.IsDefault is set, any existing
// default for the same (model, kind) is cleared first, enforcing "at most
// one default per (model, kind)" (§3 invariant) inside the same transaction.
func (s *Store) CreateImage(img *NodeImage) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if img.IsDefault {
		if _, err := tx.Exec(
			`UPDATE node_images SET is_default = 0 WHERE model = ? AND kind = ?`,
			string(img.Model), string(img.Kind),
		); err != nil {
			return 0, err
		}
	}

	res, err := tx.Exec(
		`INSERT INTO node_images (
			model, version, kind, cpu_count, cpu_arch, cpu_model, memory_mb, bios, machine_type,
			disk_bus, cdrom_bus, interface_prefix, interface_count, first_interface_index,
			dedicated_management, management_interface, reserved_interface_count, is_default,
			container_repo, ztp_method
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(img.Model), img.Version, string(img.Kind), img.CPUCount, img.CPUArch, img.CPUModel,
		img.MemoryMB, img.BIOS, img.MachineType, img.DiskBus, img.CDROMBus, img.InterfacePrefix,
		img.InterfaceCount, img.FirstInterfaceIndex, boolToInt(img.DedicatedManagement),
		img.ManagementInterface, img.ReservedInterfaceCount, boolToInt(img.IsDefault),
		img.ContainerRepo, img.ZTPMethod,
	)
	if isUniqueConstraintErr(err) {
		return 0, util.NewConflictError("NodeImage", "model/kind/version", string(img.Model)+"/"+string(img.Kind)+"/"+img.Version)
	}
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

const imageColumns = `id, model, version, kind, cpu_count, cpu_arch, cpu_model, memory_mb, bios, machine_type,
	disk_bus, cdrom_bus, interface_prefix, interface_count, first_interface_index,
	dedicated_management, management_interface, reserved_interface_count, is_default,
	container_repo, ztp_method`

func scanImage(scan func(...interface{}) error) (*NodeImage, error) {
	var img NodeImage
	var model, kind string
	var dedicated, isDefault int
	if err := scan(
		&img.ID, &model, &img.Version, &kind, &img.CPUCount, &img.CPUArch, &img.CPUModel,
		&img.MemoryMB, &img.BIOS, &img.MachineType, &img.DiskBus, &img.CDROMBus, &img.InterfacePrefix,
		&img.InterfaceCount, &img.FirstInterfaceIndex, &dedicated, &img.ManagementInterface,
		&img.ReservedInterfaceCount, &isDefault, &img.ContainerRepo, &img.ZTPMethod,
	); err != nil {
		return nil, err
	}
	img.Model = ifreg.Model(model)
	img.Kind = ImageKind(kind)
	img.DedicatedManagement = dedicated != 0
	img.IsDefault = isDefault != 0
	return &img, nil
}

func (s *Store) GetImageByID(id int64) (*NodeImage, error) {
	row := s.db.QueryRow(`SELECT `+imageColumns+` FROM node_images WHERE id = ?`, id)
	img, err := scanImage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.ErrNotFound
	}
	return img, err
}

// GetImageByVersion resolves an exact (model, kind, version).
func (s *Store) GetImageByVersion(model ifreg.Model, kind ImageKind, version string) (*NodeImage, error) {
	row := s.db.QueryRow(
		`SELECT `+imageColumns+` FROM node_images WHERE model = ? AND kind = ? AND version = ?`,
		string(model), string(kind), version,
	)
	img, err := scanImage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.ErrNotFound
	}
	return img, err
}

// GetDefaultImage resolves the (model, kind) pair's default version, used
// when a manifest omits an explicit version override (§4.R).
func (s *Store) GetDefaultImage(model ifreg.Model, kind ImageKind) (*NodeImage, error) {
	row := s.db.QueryRow(
		`SELECT `+imageColumns+` FROM node_images WHERE model = ? AND kind = ? AND is_default = 1`,
		string(model), string(kind),
	)
	img, err := scanImage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.ErrNotFound
	}
	return img, err
}

// ListImages optionally filters by model and/or kind; empty values match
// everything (§4.J image.list RPC).
func (s *Store) ListImages(model ifreg.Model, kind ImageKind) ([]*NodeImage, error) {
	query := `SELECT ` + imageColumns + ` FROM node_images WHERE 1=1`
	var args []interface{}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, string(model))
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY model, kind, version`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NodeImage
	for rows.Next() {
		img, err := scanImage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
