package topology

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

type fakeContainers struct {
	present map[string]bool
}

func (f *fakeContainers) ImageExists(ctx context.Context, ref string) (bool, error) {
	return f.present[ref], nil
}

func newTestStoreWithVMImage(t *testing.T) (*catalog.Store, config.Layout) {
	t.Helper()
	dir := t.TempDir()
	s, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.CreateImage(&catalog.NodeImage{
		Model: ifreg.ModelAristaVEOS, Kind: catalog.ImageVM, Version: "4.30",
		IsDefault: true, InterfaceCount: 8, ReservedInterfaceCount: 0,
	}); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}

	layout := config.NewLayout(dir)
	diskPath := layout.ImageDiskPath(string(ifreg.ModelAristaVEOS), "4.30")
	if err := os.MkdirAll(filepath.Dir(diskPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(diskPath, []byte("fake-qcow2"), 0644); err != nil {
		t.Fatal(err)
	}
	return s, layout
}

func TestValidateMinimalTwoNodeLab(t *testing.T) {
	s, layout := newTestStoreWithVMImage(t)

	m := &Manifest{
		Name: "lab1",
		Nodes: []ManifestNode{
			{Name: "r1", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r2", Model: string(ifreg.ModelAristaVEOS)},
		},
		Links: []ManifestLink{
			{Src: "r1::Ethernet1", Dst: "r2::Ethernet1", Kind: "p2p_bridge"},
		},
	}

	resolved, err := Validate(context.Background(), m, s, layout, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(resolved.Nodes) != 2 || len(resolved.Links) != 1 {
		t.Fatalf("resolved = %+v", resolved)
	}
}

func TestValidateRejectsDuplicateNodeName(t *testing.T) {
	s, layout := newTestStoreWithVMImage(t)
	m := &Manifest{
		Nodes: []ManifestNode{
			{Name: "r1", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r1", Model: string(ifreg.ModelAristaVEOS)},
		},
	}
	if _, err := Validate(context.Background(), m, s, layout, nil); err == nil {
		t.Fatal("expected error for duplicate node name")
	}
}

func TestValidateRejectsDuplicateLinkEndpoint(t *testing.T) {
	s, layout := newTestStoreWithVMImage(t)
	m := &Manifest{
		Nodes: []ManifestNode{
			{Name: "r1", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r2", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r3", Model: string(ifreg.ModelAristaVEOS)},
		},
		Links: []ManifestLink{
			{Src: "r1::Ethernet1", Dst: "r2::Ethernet1", Kind: "p2p_bridge"},
			{Src: "r1::Ethernet1", Dst: "r3::Ethernet1", Kind: "p2p_bridge"},
		},
	}
	if _, err := Validate(context.Background(), m, s, layout, nil); err == nil {
		t.Fatal("expected error: interface r1::Ethernet1 used twice")
	}
}

func TestValidateRejectsInadmissibleInterface(t *testing.T) {
	s, layout := newTestStoreWithVMImage(t)
	m := &Manifest{
		Nodes: []ManifestNode{
			{Name: "r1", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r2", Model: string(ifreg.ModelAristaVEOS)},
		},
		Links: []ManifestLink{
			{Src: "r1::Management1", Dst: "r2::Ethernet1", Kind: "p2p_bridge"},
		},
	}
	if _, err := Validate(context.Background(), m, s, layout, nil); err == nil {
		t.Fatal("expected error: management interface is not admissible as a link endpoint")
	}
}

func TestValidateRejectsMissingVMDisk(t *testing.T) {
	s, layout := newTestStoreWithVMImage(t)
	if _, err := s.CreateImage(&catalog.NodeImage{
		Model: ifreg.ModelCiscoIOS, Kind: catalog.ImageVM, Version: "15.2", IsDefault: true,
	}); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	m := &Manifest{
		Nodes: []ManifestNode{{Name: "r1", Model: string(ifreg.ModelCiscoIOS)}},
	}
	if _, err := Validate(context.Background(), m, s, layout, nil); err == nil {
		t.Fatal("expected error for missing VM disk file")
	}
}

func TestValidateContainerImagePresenceCheck(t *testing.T) {
	s, layout := newTestStoreWithVMImage(t)
	if _, err := s.CreateImage(&catalog.NodeImage{
		Model: ifreg.ModelAristaCEOS, Kind: catalog.ImageContainer, Version: "4.30",
		IsDefault: true, ContainerRepo: "arista/ceos",
	}); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	m := &Manifest{
		Nodes: []ManifestNode{{Name: "c1", Model: string(ifreg.ModelAristaCEOS)}},
	}

	if _, err := Validate(context.Background(), m, s, layout, &fakeContainers{present: map[string]bool{}}); err == nil {
		t.Fatal("expected error: container image not present locally")
	}

	resolved, err := Validate(context.Background(), m, s, layout, &fakeContainers{present: map[string]bool{"arista/ceos:4.30": true}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(resolved.Nodes) != 1 {
		t.Fatalf("resolved.Nodes = %+v", resolved.Nodes)
	}
}

func TestValidateEnforcesInterfaceBudget(t *testing.T) {
	dir := t.TempDir()
	s, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	layout := config.NewLayout(dir)

	if _, err := s.CreateImage(&catalog.NodeImage{
		Model: ifreg.ModelAristaVEOS, Kind: catalog.ImageVM, Version: "4.30",
		IsDefault: true, InterfaceCount: 1, ReservedInterfaceCount: 0,
	}); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	diskPath := layout.ImageDiskPath(string(ifreg.ModelAristaVEOS), "4.30")
	if err := os.MkdirAll(filepath.Dir(diskPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(diskPath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := &Manifest{
		Nodes: []ManifestNode{
			{Name: "r1", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r2", Model: string(ifreg.ModelAristaVEOS)},
			{Name: "r3", Model: string(ifreg.ModelAristaVEOS)},
		},
		Links: []ManifestLink{
			{Src: "r1::Ethernet1", Dst: "r2::Ethernet1", Kind: "p2p_bridge"},
			{Src: "r1::Ethernet2", Dst: "r3::Ethernet1", Kind: "p2p_bridge"},
		},
	}
	if _, err := Validate(context.Background(), m, s, layout, nil); err == nil {
		t.Fatal("expected error: r1 exceeds its 1-interface budget with 2 links")
	}
}

func TestParseManifestDefaultsLinkKind(t *testing.T) {
	data := []byte(`
name = "lab1"

[[nodes]]
name = "r1"
model = "arista_veos"

[[links]]
src = "r1::Ethernet1"
dst = "r1::Ethernet2"
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Links) != 1 || m.Links[0].Kind != "p2p_bridge" {
		t.Fatalf("expected default kind p2p_bridge, got %+v", m.Links)
	}
}
