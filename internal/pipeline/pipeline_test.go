package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/digitalocean/go-libvirt"

	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/containerengine"
)

var errFakeNetworkNotFound = errors.New("fake: network not found")

type fakeHypervisor struct {
	domains     map[string]bool
	networks    map[string]bool
	poolCreated []string
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{domains: map[string]bool{}, networks: map[string]bool{}}
}

func (f *fakeHypervisor) DefineDomain(xmlDesc string) (libvirt.Domain, error) {
	return libvirt.Domain{Name: "fake"}, nil
}
func (f *fakeHypervisor) StartDomain(dom libvirt.Domain) error {
	f.domains[dom.Name] = true
	return nil
}
func (f *fakeHypervisor) ShutdownDomain(dom libvirt.Domain) error { return nil }
func (f *fakeHypervisor) DestroyDomain(dom libvirt.Domain) error  { return nil }
func (f *fakeHypervisor) UndefineDomain(dom libvirt.Domain) error {
	delete(f.domains, dom.Name)
	return nil
}
func (f *fakeHypervisor) LookupDomain(name string) (libvirt.Domain, error) {
	return libvirt.Domain{Name: name}, nil
}
func (f *fakeHypervisor) ListDomains() ([]string, error) {
	var out []string
	for name := range f.domains {
		out = append(out, name)
	}
	return out, nil
}
func (f *fakeHypervisor) DefineNetwork(xmlDesc string) (libvirt.Network, error) {
	return libvirt.Network{Name: "fake-net"}, nil
}
func (f *fakeHypervisor) StartNetwork(net libvirt.Network) error {
	f.networks[net.Name] = true
	return nil
}
func (f *fakeHypervisor) DestroyNetwork(net libvirt.Network) error { return nil }
func (f *fakeHypervisor) UndefineNetwork(net libvirt.Network) error {
	delete(f.networks, net.Name)
	return nil
}
func (f *fakeHypervisor) LookupNetwork(name string) (libvirt.Network, error) {
	return libvirt.Network{Name: name}, nil
}
func (f *fakeHypervisor) ListNetworks() ([]string, error) {
	var out []string
	for name := range f.networks {
		out = append(out, name)
	}
	return out, nil
}
func (f *fakeHypervisor) CreatePool(name, path string) error {
	f.poolCreated = append(f.poolCreated, name)
	return nil
}

type fakeContainers struct {
	containers map[string]bool
	networks   map[string]bool
	runErr     error
}

func newFakeContainers() *fakeContainers {
	return &fakeContainers{containers: map[string]bool{}, networks: map[string]bool{}}
}

func (f *fakeContainers) RunContainer(ctx context.Context, spec containerengine.RunSpec) (string, []containerengine.AttachFailure, error) {
	if f.runErr != nil {
		return "", nil, f.runErr
	}
	f.containers[spec.Name] = true
	return spec.Name, nil, nil
}
func (f *fakeContainers) CreateBridgeNetwork(ctx context.Context, name, ipv4Prefix, bridgeName string) error {
	f.networks[name] = true
	return nil
}
func (f *fakeContainers) CreateMacvlanNetwork(ctx context.Context, name, parentBridge string) error {
	f.networks[name] = true
	return nil
}
func (f *fakeContainers) KillContainer(ctx context.Context, id string) error { return nil }
func (f *fakeContainers) RemoveContainer(ctx context.Context, id string, force bool) error {
	delete(f.containers, id)
	return nil
}
func (f *fakeContainers) PullImage(ctx context.Context, ref string) error         { return nil }
func (f *fakeContainers) ImageExists(ctx context.Context, ref string) (bool, error) {
	return true, nil
}
func (f *fakeContainers) ListByLabel(ctx context.Context, label, value string) ([]string, error) {
	var out []string
	for id := range f.containers {
		out = append(out, id)
	}
	return out, nil
}
func (f *fakeContainers) RemoveNetwork(ctx context.Context, name string) error {
	if !f.networks[name] {
		return errFakeNetworkNotFound
	}
	delete(f.networks, name)
	return nil
}

type fakeNetlink struct {
	interfaces []string
}

func (f *fakeNetlink) CreateBridge(ctx context.Context, name, alias string) error {
	f.interfaces = append(f.interfaces, name)
	return nil
}
func (f *fakeNetlink) CreateVethPair(ctx context.Context, nameA, nameB, aliasA, aliasB string) error {
	f.interfaces = append(f.interfaces, nameA, nameB)
	return nil
}
func (f *fakeNetlink) Enslave(ctx context.Context, iface, bridge string) error { return nil }
func (f *fakeNetlink) DeleteInterface(ctx context.Context, name string) error {
	out := f.interfaces[:0]
	for _, n := range f.interfaces {
		if n != name {
			out = append(out, n)
		}
	}
	f.interfaces = out
	return nil
}
func (f *fakeNetlink) FindByFuzzy(ctx context.Context, substring string) ([]string, error) {
	var out []string
	for _, n := range f.interfaces {
		out = append(out, n)
	}
	return out, nil
}

func testLayout(t *testing.T) config.Layout {
	t.Helper()
	return config.NewLayout(t.TempDir())
}

func testStore(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeHypervisor, *fakeContainers, *fakeNetlink, *catalog.Store) {
	t.Helper()
	hv := newFakeHypervisor()
	ce := newFakeContainers()
	nl := &fakeNetlink{}
	store := testStore(t)
	p := New(Deps{
		Catalog:     store,
		Layout:      testLayout(t),
		Netlink:     nl,
		Hypervisor:  hv,
		Containers:  ce,
		CloneDisk:   func(ctx context.Context, src, dst string) error { return nil },
		RouterImage: "sherpa/router:latest",
	})
	return p, hv, ce, nl, store
}

func TestDestroyRejectsNonOwner(t *testing.T) {
	p, _, _, _, store := newTestPipeline(t)
	if err := store.CreateLab(&catalog.Lab{
		LabID: "abcd1234", Name: "lab1", Owner: "alice",
		LoopbackNetwork: "127.127.0.0/24", ManagementNetwork: "172.31.0.0/24",
	}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}

	_, err := p.Destroy(context.Background(), "abcd1234", "bob", false)
	if err == nil {
		t.Fatal("Destroy: want error for non-owner, got nil")
	}
}

func TestDestroyOwnerSucceedsAndCascades(t *testing.T) {
	p, _, _, _, store := newTestPipeline(t)
	if err := store.CreateLab(&catalog.Lab{
		LabID: "abcd1234", Name: "lab1", Owner: "alice",
		LoopbackNetwork: "127.127.0.0/24", ManagementNetwork: "172.31.0.0/24",
	}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}

	summary, err := p.Destroy(context.Background(), "abcd1234", "alice", false)
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !summary.Success {
		t.Fatalf("Destroy summary not successful: %v", summary.Errors)
	}

	if _, err := store.GetLab("abcd1234"); err == nil {
		t.Fatal("GetLab: want error after destroy, lab row still present")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	p, _, _, _, store := newTestPipeline(t)
	if err := store.CreateLab(&catalog.Lab{
		LabID: "abcd1234", Name: "lab1", Owner: "alice",
		LoopbackNetwork: "127.127.0.0/24", ManagementNetwork: "172.31.0.0/24",
	}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}

	if _, err := p.Destroy(context.Background(), "abcd1234", "alice", false); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}

	summary, err := p.Destroy(context.Background(), "abcd1234", "alice", false)
	if err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if len(summary.Destroyed) != 0 || len(summary.Errors) != 0 {
		t.Fatalf("second Destroy: want empty destroyed/errors, got %+v", summary)
	}
	if !summary.LabDirectoryDeleted {
		t.Error("second Destroy: want LabDirectoryDeleted true")
	}
	if !summary.Success {
		t.Error("second Destroy: want Success true")
	}
}

func TestCleanSkipsOwnershipCheck(t *testing.T) {
	p, _, _, _, store := newTestPipeline(t)
	if err := store.CreateLab(&catalog.Lab{
		LabID: "ffff0000", Name: "lab2", Owner: "alice",
		LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24",
	}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}

	summary := p.Clean(context.Background(), "ffff0000")
	if !summary.Success {
		t.Fatalf("Clean summary not successful: %v", summary.Errors)
	}
}

func TestSweepOrphanedLabsIgnoresKnownLabs(t *testing.T) {
	p, _, _, _, store := newTestPipeline(t)
	if err := store.CreateLab(&catalog.Lab{
		LabID: "abcd1234", Name: "lab1", Owner: "alice",
		LoopbackNetwork: "127.127.0.0/24", ManagementNetwork: "172.31.0.0/24",
	}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	labDir := p.d.Layout.LabDir("abcd1234")
	if err := os.MkdirAll(labDir, 0755); err != nil {
		t.Fatal(err)
	}

	summary, err := p.SweepOrphanedLabs(context.Background())
	if err != nil {
		t.Fatalf("SweepOrphanedLabs: %v", err)
	}
	if len(summary.Destroyed) != 0 || len(summary.Failed) != 0 {
		t.Fatalf("expected known lab to be skipped by the sweep, got %+v", summary)
	}
	if _, err := os.Stat(labDir); err != nil {
		t.Errorf("known lab directory removed by sweep: %v", err)
	}
}
