// Package topology parses lab manifests and validates them against the
// image catalog and interface registry before any host resource is touched
// (§4.R). No resource is created here; every check is pure or read-only.
package topology

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

// Manifest is the parsed shape of a lab's TOML manifest (§6).
type Manifest struct {
	Name  string         `toml:"name"`
	Nodes []ManifestNode `toml:"nodes"`
	Links []ManifestLink `toml:"links"`
}

// ManifestNode is one `[[nodes]]` table.
type ManifestNode struct {
	Name                string `toml:"name"`
	Model               string `toml:"model"`
	Version             string `toml:"version"`
	CPUCount            int    `toml:"cpu_count"`
	MemoryMB            int    `toml:"memory"`
	ReservedInterfaces  int    `toml:"reserved_interfaces"`
}

// ManifestLink is one `[[links]]` table. Src/Dst use the "<node>::<iface>"
// shorthand from §6.
type ManifestLink struct {
	Src  string `toml:"src"`
	Dst  string `toml:"dst"`
	Kind string `toml:"kind"`
}

// Endpoint splits a "<node>::<iface>" shorthand string.
type Endpoint struct {
	Node      string
	Interface string
}

func parseEndpoint(s string) (Endpoint, error) {
	parts := strings.SplitN(s, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Endpoint{}, fmt.Errorf("topology: malformed endpoint %q, want \"<node>::<iface>\"", s)
	}
	return Endpoint{Node: parts[0], Interface: parts[1]}, nil
}

// ParseManifest unmarshals TOML manifest bytes and fills link-kind defaults
// ("p2p_bridge" when omitted, per §6).
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("topology: parse manifest: %w", err)
	}
	for i := range m.Links {
		if m.Links[i].Kind == "" {
			m.Links[i].Kind = string(catalog.LinkP2PBridge)
		}
	}
	return &m, nil
}

var nameGrammar = func(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// validModel reports whether name matches one of ifreg's known models.
func validModel(name string) bool {
	return ifreg.Model(name).IsValid()
}
