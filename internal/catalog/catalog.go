// Package catalog is Sherpa's persistent catalog store (§4.A / §3): typed
// CRUD over users, labs, nodes, links, and the node-image catalog, with
// uniqueness, immutability, and cascade-delete semantics enforced at the
// store layer rather than relying on schema constraints alone.
//
// Grounded on the teacher's pkg/newtlab/state.go SaveState/LoadState/
// ListLabs JSON-on-disk persistence idiom, generalized here to a relational
// store since Sherpa's data model has real foreign keys and uniqueness
// constraints across five entity types rather than one flat lab-state blob.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

// NodeState is the closed enum for Node.State (§3).
type NodeState string

const (
	NodeCreated  NodeState = "created"
	NodeStarting NodeState = "starting"
	NodeRunning  NodeState = "running"
	NodeStopped  NodeState = "stopped"
	NodeFailed   NodeState = "failed"
)

// LinkKind is the closed enum for Link.Kind (§3).
type LinkKind string

const (
	LinkP2PBridge LinkKind = "p2p_bridge"
	LinkP2PVeth   LinkKind = "p2p_veth"
	LinkP2PUDP    LinkKind = "p2p_udp"
)

// ImageKind is the closed enum for NodeImage.Kind (§3).
type ImageKind string

const (
	ImageVM        ImageKind = "virtual_machine"
	ImageContainer ImageKind = "container"
	ImageUnikernel ImageKind = "unikernel"
)

// User corresponds to §3 User.
type User struct {
	Username     string
	PasswordHash string
	IsAdmin      bool
	SSHKeys      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Lab corresponds to §3 Lab.
type Lab struct {
	LabID              string
	Name               string
	Owner              string
	LoopbackNetwork    string
	ManagementNetwork  string
	CreatedAt          time.Time
}

// Node corresponds to §3 Node.
type Node struct {
	Name      string
	Index     uint16
	ImageID   int64
	LabID     string
	MgmtIPv4  string
	State     NodeState
}

// Link corresponds to §3 Link.
type Link struct {
	Index   uint16
	Kind    LinkKind
	NodeA   string
	NodeB   string
	IntA    string
	IntB    string
	BridgeA string
	BridgeB string
	VethA   string
	VethB   string
	LabID   string
}

// NodeImage corresponds to §3 NodeImage.
type NodeImage struct {
	ID                      int64
	Model                   ifreg.Model
	Version                 string
	Kind                    ImageKind
	CPUCount                int
	CPUArch                 string
	CPUModel                string
	MemoryMB                int
	BIOS                    string
	MachineType             string
	DiskBus                 string
	CDROMBus                string
	InterfacePrefix         string
	InterfaceCount          int
	FirstInterfaceIndex     int
	DedicatedManagement     bool
	ManagementInterface     string
	ReservedInterfaceCount  int
	IsDefault               bool
	ContainerRepo           string
	ZTPMethod               string
}

// Store wraps the backing *sql.DB with Sherpa's typed catalog operations.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. modernc.org/sqlite is a pure-Go driver, keeping the server
// free of cgo in the same spirit as the teacher's own dependency choices.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; avoid lock contention storms
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	ssh_keys TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS labs (
	lab_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner TEXT NOT NULL REFERENCES users(username),
	loopback_network TEXT NOT NULL UNIQUE,
	management_network TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	UNIQUE(owner, name)
);

CREATE TABLE IF NOT EXISTS node_images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model TEXT NOT NULL,
	version TEXT NOT NULL,
	kind TEXT NOT NULL,
	cpu_count INTEGER NOT NULL DEFAULT 0,
	cpu_arch TEXT NOT NULL DEFAULT '',
	cpu_model TEXT NOT NULL DEFAULT '',
	memory_mb INTEGER NOT NULL DEFAULT 0,
	bios TEXT NOT NULL DEFAULT '',
	machine_type TEXT NOT NULL DEFAULT '',
	disk_bus TEXT NOT NULL DEFAULT '',
	cdrom_bus TEXT NOT NULL DEFAULT '',
	interface_prefix TEXT NOT NULL DEFAULT '',
	interface_count INTEGER NOT NULL DEFAULT 0,
	first_interface_index INTEGER NOT NULL DEFAULT 0,
	dedicated_management INTEGER NOT NULL DEFAULT 0,
	management_interface TEXT NOT NULL DEFAULT '',
	reserved_interface_count INTEGER NOT NULL DEFAULT 0,
	is_default INTEGER NOT NULL DEFAULT 0,
	container_repo TEXT NOT NULL DEFAULT '',
	ztp_method TEXT NOT NULL DEFAULT '',
	UNIQUE(model, kind, version)
);

CREATE TABLE IF NOT EXISTS nodes (
	lab_id TEXT NOT NULL REFERENCES labs(lab_id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	node_index INTEGER NOT NULL,
	image_id INTEGER NOT NULL REFERENCES node_images(id),
	mgmt_ipv4 TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'created',
	PRIMARY KEY (lab_id, name),
	UNIQUE(lab_id, node_index)
);

CREATE TABLE IF NOT EXISTS links (
	lab_id TEXT NOT NULL REFERENCES labs(lab_id) ON DELETE CASCADE,
	link_index INTEGER NOT NULL,
	kind TEXT NOT NULL,
	node_a TEXT NOT NULL,
	node_b TEXT NOT NULL,
	int_a TEXT NOT NULL,
	int_b TEXT NOT NULL,
	bridge_a TEXT NOT NULL DEFAULT '',
	bridge_b TEXT NOT NULL DEFAULT '',
	veth_a TEXT NOT NULL DEFAULT '',
	veth_b TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (lab_id, link_index),
	UNIQUE(lab_id, node_a, int_a, node_b, int_b)
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("catalog: migrate schema: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("catalog: enable foreign keys: %w", err)
	}
	return nil
}

// isUniqueConstraintErr heuristically detects a SQLite uniqueness violation
// without importing the driver's internal error type, matching the pattern
// every pure-Go sqlite driver exposes through the error string.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "UNIQUE constraint failed") || contains(msg, "constraint failed: UNIQUE")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
