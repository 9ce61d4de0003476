// Package hypervisor adapts Sherpa's domain/network/pool lifecycle needs
// (§4.F) onto real libvirt, via the pure-Go RPC client
// github.com/digitalocean/go-libvirt (no cgo) and typed XML construction
// with libvirt.org/go/libvirtxml.
package hypervisor

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// DefaultSocket is the standard system libvirtd socket path, matching
// "qemu:///system" in every libvirt-capable example in the pack.
const DefaultSocket = "/var/run/libvirt/libvirt-sock"

// Hypervisor wraps a connected *libvirt.Libvirt with Sherpa's lifecycle
// operations. The teacher's own QEMU-direct-process model
// (pkg/newtlab/qemu.go, which shells out to qemu-system-x86_64) is replaced
// here by libvirt's define/start/destroy domain contract.
type Hypervisor struct {
	conn net.Conn
	l    *libvirt.Libvirt
}

// Connect dials socketPath and performs the libvirt RPC handshake.
func Connect(socketPath string) (*Hypervisor, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: dial %s: %w", socketPath, err)
	}
	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hypervisor: connect: %w", err)
	}
	return &Hypervisor{conn: conn, l: l}, nil
}

func (h *Hypervisor) Close() error {
	h.l.Disconnect()
	return h.conn.Close()
}

// DefineDomain registers a domain from XML without starting it.
func (h *Hypervisor) DefineDomain(xmlDesc string) (libvirt.Domain, error) {
	return h.l.DomainDefineXML(xmlDesc)
}

func (h *Hypervisor) StartDomain(dom libvirt.Domain) error { return h.l.DomainCreate(dom) }

func (h *Hypervisor) ShutdownDomain(dom libvirt.Domain) error { return h.l.DomainShutdown(dom) }

func (h *Hypervisor) DestroyDomain(dom libvirt.Domain) error {
	return h.l.DomainDestroyFlags(dom, 0)
}

func (h *Hypervisor) UndefineDomain(dom libvirt.Domain) error {
	return h.l.DomainUndefine(dom)
}

// LookupDomain resolves a domain by its Sherpa-assigned name.
func (h *Hypervisor) LookupDomain(name string) (libvirt.Domain, error) {
	return h.l.DomainLookupByName(name)
}

// ListDomains returns every domain name, used by the destroy pipeline's
// lab_id-prefix sweep.
func (h *Hypervisor) ListDomains() ([]string, error) {
	domains, _, err := h.l.ConnectListAllDomains(-1, 0)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: list domains: %w", err)
	}
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = d.Name
	}
	return out, nil
}

// DefineNetwork registers a libvirt network from XML.
func (h *Hypervisor) DefineNetwork(xmlDesc string) (libvirt.Network, error) {
	return h.l.NetworkDefineXML(xmlDesc)
}

func (h *Hypervisor) StartNetwork(net libvirt.Network) error { return h.l.NetworkCreate(net) }

func (h *Hypervisor) DestroyNetwork(net libvirt.Network) error { return h.l.NetworkDestroy(net) }

func (h *Hypervisor) UndefineNetwork(net libvirt.Network) error { return h.l.NetworkUndefine(net) }

func (h *Hypervisor) LookupNetwork(name string) (libvirt.Network, error) {
	return h.l.NetworkLookupByName(name)
}

func (h *Hypervisor) ListNetworks() ([]string, error) {
	nets, _, err := h.l.ConnectListAllNetworks(-1, 0)
	if err != nil {
		return nil, fmt.Errorf("hypervisor: list networks: %w", err)
	}
	out := make([]string, len(nets))
	for i, n := range nets {
		out[i] = n.Name
	}
	return out, nil
}

// CreatePool defines and starts a directory-backed storage pool rooted at
// path, used for the per-lab disk-clone destination.
func (h *Hypervisor) CreatePool(name, path string) error {
	xmlDesc, err := (&libvirtxml.StoragePool{
		Type:   "dir",
		Name:   name,
		Target: &libvirtxml.StoragePoolTarget{Path: path},
	}).Marshal()
	if err != nil {
		return fmt.Errorf("hypervisor: marshal pool xml: %w", err)
	}
	pool, err := h.l.StoragePoolDefineXML(xmlDesc, 0)
	if err != nil {
		return fmt.Errorf("hypervisor: define pool %s: %w", name, err)
	}
	if err := h.l.StoragePoolCreate(pool, 0); err != nil {
		return fmt.Errorf("hypervisor: start pool %s: %w", name, err)
	}
	return nil
}

// CloneDisk clones src into dst as a qcow2 overlay backed by src, using the
// same qemu-img invocation the teacher's pkg/newtlab/disk.go CreateOverlay
// used for local disk cloning.
func CloneDisk(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "qemu-img", "create", "-f", "qcow2", "-b", src, "-F", "qcow2", dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hypervisor: clone disk %s -> %s: %w: %s", src, dst, err, out)
	}
	return nil
}
