// Package netlinkadapter wraps bridge and veth lifecycle operations behind
// a small interface (§4.E), implemented against the real kernel netlink
// socket via github.com/vishvananda/netlink.
package netlinkadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// mtu and groupFwdMask are fixed per §4.E: 9600 on every bridge/veth side,
// and a forwarding mask that passes every reserved-multicast protocol
// except STP/LACP/pause frames.
const (
	mtu          = 9600
	groupFwdMask = "0xfff8"
)

// LinkNotFoundError and LinkExistsError are the adapter's two lookup
// failure modes; NetlinkError wraps any other kernel-call failure.
type LinkNotFoundError struct{ Name string }

func (e *LinkNotFoundError) Error() string { return fmt.Sprintf("netlink: link %q not found", e.Name) }

type LinkExistsError struct{ Name string }

func (e *LinkExistsError) Error() string { return fmt.Sprintf("netlink: link %q already exists", e.Name) }

type NetlinkError struct {
	Op    string
	Iface string
	Err   error
}

func (e *NetlinkError) Error() string {
	return fmt.Sprintf("netlink: %s %s: %v", e.Op, e.Iface, e.Err)
}

func (e *NetlinkError) Unwrap() error { return e.Err }

// Adapter is the interface the up/destroy pipelines depend on, satisfied by
// *Netlink. Kept as an interface so pipeline tests can substitute a fake.
type Adapter interface {
	CreateBridge(ctx context.Context, name, alias string) error
	CreateVethPair(ctx context.Context, nameA, nameB, aliasA, aliasB string) error
	Enslave(ctx context.Context, iface, bridge string) error
	DeleteInterface(ctx context.Context, name string) error
	FindByFuzzy(ctx context.Context, substring string) ([]string, error)
}

// Netlink is the real, kernel-backed Adapter.
type Netlink struct{}

func New() *Netlink { return &Netlink{} }

// CreateBridge creates a Linux bridge named name, sets its forwarding mask,
// MTU, alias, and brings it up. Fails with *LinkExistsError if name is
// already taken.
func (n *Netlink) CreateBridge(ctx context.Context, name, alias string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return &LinkExistsError{Name: name}
	}

	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{Name: name, MTU: mtu},
	}
	if err := netlink.LinkAdd(br); err != nil {
		return &NetlinkError{Op: "create_bridge", Iface: name, Err: err}
	}
	if err := setGroupFwdMask(name); err != nil {
		return &NetlinkError{Op: "create_bridge:group_fwd_mask", Iface: name, Err: err}
	}
	if alias != "" {
		if err := netlink.LinkSetAlias(br, alias); err != nil {
			return &NetlinkError{Op: "create_bridge:alias", Iface: name, Err: err}
		}
	}
	if err := netlink.LinkSetUp(br); err != nil {
		return &NetlinkError{Op: "create_bridge:up", Iface: name, Err: err}
	}
	return nil
}

// CreateVethPair creates a veth pair, brings both ends up with alias and
// MTU set. Fails with *LinkExistsError if either name is already taken.
func (n *Netlink) CreateVethPair(ctx context.Context, nameA, nameB, aliasA, aliasB string) error {
	for _, name := range []string{nameA, nameB} {
		if _, err := netlink.LinkByName(name); err == nil {
			return &LinkExistsError{Name: name}
		}
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: nameA, MTU: mtu},
		PeerName:  nameB,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return &NetlinkError{Op: "create_veth_pair", Iface: nameA, Err: err}
	}

	linkA, err := netlink.LinkByName(nameA)
	if err != nil {
		return &NetlinkError{Op: "create_veth_pair:lookup_a", Iface: nameA, Err: err}
	}
	linkB, err := netlink.LinkByName(nameB)
	if err != nil {
		return &NetlinkError{Op: "create_veth_pair:lookup_b", Iface: nameB, Err: err}
	}

	for _, side := range []struct {
		link  netlink.Link
		name  string
		alias string
	}{{linkA, nameA, aliasA}, {linkB, nameB, aliasB}} {
		if side.alias != "" {
			if err := netlink.LinkSetAlias(side.link, side.alias); err != nil {
				return &NetlinkError{Op: "create_veth_pair:alias", Iface: side.name, Err: err}
			}
		}
		if err := netlink.LinkSetMTU(side.link, mtu); err != nil {
			return &NetlinkError{Op: "create_veth_pair:mtu", Iface: side.name, Err: err}
		}
		if err := netlink.LinkSetUp(side.link); err != nil {
			return &NetlinkError{Op: "create_veth_pair:up", Iface: side.name, Err: err}
		}
	}
	return nil
}

// Enslave attaches iface to bridge.
func (n *Netlink) Enslave(ctx context.Context, iface, bridge string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return &LinkNotFoundError{Name: iface}
	}
	br, err := netlink.LinkByName(bridge)
	if err != nil {
		return &LinkNotFoundError{Name: bridge}
	}
	brLink, ok := br.(*netlink.Bridge)
	if !ok {
		return &NetlinkError{Op: "enslave", Iface: iface, Err: fmt.Errorf("%s is not a bridge", bridge)}
	}
	if err := netlink.LinkSetMaster(link, brLink); err != nil {
		return &NetlinkError{Op: "enslave", Iface: iface, Err: err}
	}
	return nil
}

// DeleteInterface removes name, whatever kind of link it is.
func (n *Netlink) DeleteInterface(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return &LinkNotFoundError{Name: name}
	}
	if err := netlink.LinkDel(link); err != nil {
		return &NetlinkError{Op: "delete_interface", Iface: name, Err: err}
	}
	return nil
}

// FindByFuzzy returns every interface name containing substring, used by
// the destroy pipeline's fuzzy-prefix cleanup (§4.I phase 5).
func (n *Netlink) FindByFuzzy(ctx context.Context, substring string) ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, &NetlinkError{Op: "find_by_fuzzy", Iface: substring, Err: err}
	}
	var out []string
	for _, l := range links {
		if strings.Contains(l.Attrs().Name, substring) {
			out = append(out, l.Attrs().Name)
		}
	}
	return out, nil
}

// setGroupFwdMask writes the bridge's group_fwd_mask sysfs attribute, which
// vishvananda/netlink does not expose as a typed LinkAttrs field.
func setGroupFwdMask(bridge string) error {
	path := filepath.Join("/sys/class/net", bridge, "bridge", "group_fwd_mask")
	return os.WriteFile(path, []byte(groupFwdMask), 0644)
}

// AsNotFound maps a netlinkadapter lookup failure to the catalog's shared
// NotFound sentinel, used when the pipeline reports a missing interface up
// through the generic error taxonomy (§7) instead of a netlink-specific type.
func AsNotFound(err error) error {
	if _, ok := err.(*LinkNotFoundError); ok {
		return util.ErrNotFound
	}
	return err
}
