// Package alloc implements Sherpa's resource allocator: pure functions that
// derive lab IDs, subnets, MAC addresses, and bridge/veth names from catalog
// state. None of these functions perform I/O; the catalog store is the final
// arbiter of uniqueness (see internal/catalog).
//
// Grounded on the teacher's pkg/newtlab/node.go GenerateMAC (function shape
// kept, hash body replaced by the spec's OUI-table formula) and
// pkg/newtlab/link.go's deterministic port/name derivation.
package alloc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

// LabIDLength is the fixed length of a lab_id (§3 Lab).
const LabIDLength = 8

const labIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewLabID returns a fresh random 8-character lab_id candidate. Collisions
// are the catalog's responsibility; callers retry on conflict.
func NewLabID() (string, error) {
	buf := make([]byte, LabIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("alloc: generate lab_id: %w", err)
	}
	out := make([]byte, LabIDLength)
	for i, b := range buf {
		out[i] = labIDAlphabet[int(b)%len(labIDAlphabet)]
	}
	return string(out), nil
}

// ValidLabID reports whether s is a syntactically valid lab_id.
func ValidLabID(s string) bool {
	if len(s) != LabIDLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(labIDAlphabet+"-", r) {
			return false
		}
	}
	return true
}

// LoopbackSupernet and ManagementSupernet are the fixed host supernets named
// in §3: every lab's /24 is carved out of one of these.
var (
	LoopbackSupernet   = mustParseCIDR("127.127.0.0/16")
	ManagementSupernet = mustParseCIDR("172.31.0.0/16")
)

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// AllocateSubnet returns the lowest-numbered /24 inside supernet that is not
// already present in used and is not the all-zeros third octet (x.x.0.0/24
// is reserved, per §8's boundary-behavior test). used holds CIDR strings in
// canonical "a.b.c.0/24" form.
func AllocateSubnet(supernet *net.IPNet, used map[string]bool) (*net.IPNet, error) {
	base := supernet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("alloc: supernet %s is not IPv4", supernet)
	}
	ones, bits := supernet.Mask.Size()
	if bits != 32 || ones > 24 {
		return nil, fmt.Errorf("alloc: supernet %s cannot hold /24 subnets", supernet)
	}
	thirdOctetCount := 1 << uint(24-ones)
	baseVal := binary.BigEndian.Uint32(base)

	for i := 1; i < thirdOctetCount; i++ { // start at 1: skip x.x.0.0/24
		candidate := baseVal + uint32(i)<<8
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, candidate)
		cidr := fmt.Sprintf("%s/24", ip.Mask(net.CIDRMask(24, 32)).String())
		if used[cidr] {
			continue
		}
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		return subnet, nil
	}
	return nil, fmt.Errorf("alloc: no free /24 remaining in %s", supernet)
}

// HostIP returns the address offset bytes into subnet, e.g. offset=1 gives
// the first usable host address.
func HostIP(subnet *net.IPNet, offset int) (net.IP, error) {
	base := subnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("alloc: subnet %s is not IPv4", subnet)
	}
	val := binary.BigEndian.Uint32(base) + uint32(offset)
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, val)
	if !subnet.Contains(ip) {
		return nil, fmt.Errorf("alloc: offset %d overflows subnet %s", offset, subnet)
	}
	return ip, nil
}

// ouiTable assigns each model a locally-administered OUI (first 3 MAC
// octets); the teacher's single hard-coded QEMU OUI (52:54:00) becomes one
// row of a table keyed by model, per spec invariant 6.
var ouiTable = map[ifreg.Model][3]byte{
	ifreg.ModelAristaVEOS:   {0x52, 0x54, 0x00},
	ifreg.ModelAristaCEOS:   {0x02, 0x42, 0xac},
	ifreg.ModelArubaAOSCX:   {0x52, 0x54, 0x01},
	ifreg.ModelCumulusLinux: {0x02, 0x42, 0xc0},
	ifreg.ModelCiscoIOS:     {0x52, 0x54, 0x02},
	ifreg.ModelCiscoIOSXE:   {0x52, 0x54, 0x03},
	ifreg.ModelJuniperVEvo:  {0x52, 0x54, 0x04},
	ifreg.ModelLinuxHost:    {0x02, 0x42, 0x00},
}

// DefaultOUI is used for any model absent from ouiTable, so MACFor never
// panics on a registry addition that forgot to add an OUI row.
var DefaultOUI = [3]byte{0x52, 0x54, 0x0f}

func ouiFor(model ifreg.Model) [3]byte {
	if oui, ok := ouiTable[model]; ok {
		return oui
	}
	return DefaultOUI
}

// MACFor computes a node's MAC deterministically:
// OUI(model) || byte(lab_id) || hi(node_index) || lo(node_index),
// per §3 invariant 6 / §8's quantified property.
func MACFor(model ifreg.Model, labID string, nodeIndex uint16) (net.HardwareAddr, error) {
	if !ValidLabID(labID) {
		return nil, fmt.Errorf("alloc: invalid lab_id %q", labID)
	}
	oui := ouiFor(model)
	labByte := labIDByte(labID)
	mac := net.HardwareAddr{
		oui[0], oui[1], oui[2],
		labByte,
		byte(nodeIndex >> 8),
		byte(nodeIndex),
	}
	return mac, nil
}

// labIDByte folds an 8-char lab_id down to a single byte, stable across
// process restarts (no hashing salt, no time component).
func labIDByte(labID string) byte {
	var sum byte
	for i := 0; i < len(labID); i++ {
		sum = sum*31 + labID[i]
	}
	return sum
}

// Side selects which end of a link a name is generated
// for, matching §6's "a"/"b" naming convention.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// LabManagementBridge returns the per-lab management bridge name: brm<lab_id[0..5]>.
func LabManagementBridge(labID string) string {
	return "brm" + prefix(labID, 5)
}

// LabIsolatedBridge returns the per-lab isolated-bridge name: bri<lab_id[0..5]>.
func LabIsolatedBridge(labID string) string {
	return "bri" + prefix(labID, 5)
}

// LinkBridgeName returns the per-link bridge name: brl<lab_id[0..3]><link_index:03>.
func LinkBridgeName(labID string, linkIndex uint16) string {
	return fmt.Sprintf("brl%s%03d", prefix(labID, 3), linkIndex)
}

// VethName returns one side's veth endpoint name:
// vea<lab_id[0..3]><link_index:03> or veb<lab_id[0..3]><link_index:03>.
func VethName(labID string, linkIndex uint16, side Side) string {
	letter := "a"
	if side == SideB {
		letter = "b"
	}
	return fmt.Sprintf("ve%s%s%03d", letter, prefix(labID, 3), linkIndex)
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
