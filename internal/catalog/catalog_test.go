package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, username string) {
	t.Helper()
	if err := s.CreateUser(&User{Username: username, PasswordHash: "hash"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")

	got, err := s.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %s, want alice", got.Username)
	}
}

func TestCreateUserDuplicateConflict(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")

	err := s.CreateUser(&User{Username: "alice", PasswordHash: "other"})
	var conflict *util.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *util.ConflictError, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetUser("nobody")
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUserWithLabsFails(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	if err := s.CreateLab(&Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}

	err := s.DeleteUser("alice")
	var dep *util.DependencyError
	if !errors.As(err, &dep) {
		t.Fatalf("expected *util.DependencyError, got %v", err)
	}
}

func TestLabSubnetUniqueness(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	if err := s.CreateLab(&Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	err := s.CreateLab(&Lab{LabID: "efgh5678", Name: "l2", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.2.0/24"})
	var conflict *util.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *util.ConflictError on duplicate subnet, got %v", err)
	}
}

func TestSafeDeleteLabWithNodesFails(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	lab := &Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}
	if err := s.CreateLab(lab); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	imgID := mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.30", true)
	if err := s.CreateNode(&Node{LabID: lab.LabID, Name: "n1", Index: 0, ImageID: imgID}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	err := s.SafeDeleteLab(lab.LabID)
	var inUse *util.InUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("expected *util.InUseError, got %v", err)
	}

	if err := s.CascadeDeleteLab(lab.LabID); err != nil {
		t.Fatalf("CascadeDeleteLab: %v", err)
	}
	if _, err := s.GetLab(lab.LabID); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected lab gone after cascade delete, got %v", err)
	}
}

func TestNodeIndexUniquenessPerLab(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	lab := &Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}
	if err := s.CreateLab(lab); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	imgID := mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.30", true)
	if err := s.CreateNode(&Node{LabID: lab.LabID, Name: "n1", Index: 0, ImageID: imgID}); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	err := s.CreateNode(&Node{LabID: lab.LabID, Name: "n2", Index: 0, ImageID: imgID})
	var conflict *util.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *util.ConflictError on duplicate node_index, got %v", err)
	}
}

func TestListNodesByLabOrdered(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	lab := &Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}
	if err := s.CreateLab(lab); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	imgID := mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.30", true)
	for _, n := range []struct {
		name  string
		index uint16
	}{{"c", 2}, {"a", 0}, {"b", 1}} {
		if err := s.CreateNode(&Node{LabID: lab.LabID, Name: n.name, Index: n.index, ImageID: imgID}); err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	}

	nodes, err := s.ListNodesByLab(lab.LabID)
	if err != nil {
		t.Fatalf("ListNodesByLab: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, n := range nodes {
		if n.Name != want[i] {
			t.Errorf("ListNodesByLab[%d] = %s, want %s", i, n.Name, want[i])
		}
	}
}

func TestSafeDeleteNodeWithLinkFails(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	lab := &Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}
	if err := s.CreateLab(lab); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	imgID := mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.30", true)
	for _, n := range []string{"n1", "n2"} {
		if err := s.CreateNode(&Node{LabID: lab.LabID, Name: n, Index: 0, ImageID: imgID}); n == "n1" && err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
	}
	if err := s.CreateNode(&Node{LabID: lab.LabID, Name: "n2", Index: 1, ImageID: imgID}); err != nil {
		t.Fatalf("CreateNode n2: %v", err)
	}
	if err := s.CreateLink(&Link{LabID: lab.LabID, Index: 0, Kind: LinkP2PVeth, NodeA: "n1", NodeB: "n2", IntA: "eth1", IntB: "eth1"}); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	err := s.SafeDeleteNode(lab.LabID, "n1")
	var inUse *util.InUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("expected *util.InUseError, got %v", err)
	}
}

func TestLinkFourTupleUniqueness(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	lab := &Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}
	if err := s.CreateLab(lab); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	if err := s.CreateLink(&Link{LabID: lab.LabID, Index: 0, Kind: LinkP2PVeth, NodeA: "n1", NodeB: "n2", IntA: "eth1", IntB: "eth1"}); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	err := s.CreateLink(&Link{LabID: lab.LabID, Index: 1, Kind: LinkP2PVeth, NodeA: "n1", NodeB: "n2", IntA: "eth1", IntB: "eth1"})
	var conflict *util.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *util.ConflictError on duplicate 4-tuple, got %v", err)
	}
}

func TestListLinksByLabOrdered(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "alice")
	lab := &Lab{LabID: "abcd1234", Name: "l1", Owner: "alice", LoopbackNetwork: "127.127.1.0/24", ManagementNetwork: "172.31.1.0/24"}
	if err := s.CreateLab(lab); err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	for i := uint16(2); ; i-- {
		if err := s.CreateLink(&Link{LabID: lab.LabID, Index: i, Kind: LinkP2PVeth, NodeA: "n1", NodeB: "n2", IntA: "eth1", IntB: "eth" + string(rune('a'+i))}); err != nil {
			t.Fatalf("CreateLink(%d): %v", i, err)
		}
		if i == 0 {
			break
		}
	}

	links, err := s.ListLinksByLab(lab.LabID)
	if err != nil {
		t.Fatalf("ListLinksByLab: %v", err)
	}
	for i, l := range links {
		if l.Index != uint16(i) {
			t.Errorf("ListLinksByLab[%d].Index = %d, want %d", i, l.Index, i)
		}
	}
}

func mustCreateImage(t *testing.T, s *Store, model ifreg.Model, kind ImageKind, version string, isDefault bool) int64 {
	t.Helper()
	id, err := s.CreateImage(&NodeImage{Model: model, Kind: kind, Version: version, IsDefault: isDefault})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return id
}

func TestImageVersionUniqueness(t *testing.T) {
	s := openTestStore(t)
	mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.30", true)
	_, err := s.CreateImage(&NodeImage{Model: ifreg.ModelAristaCEOS, Kind: ImageContainer, Version: "4.30"})
	var conflict *util.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *util.ConflictError, got %v", err)
	}
}

func TestImageAtMostOneDefaultPerModelKind(t *testing.T) {
	s := openTestStore(t)
	id1 := mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.29", true)
	id2 := mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.30", true)

	img1, err := s.GetImageByID(id1)
	if err != nil {
		t.Fatalf("GetImageByID(1): %v", err)
	}
	if img1.IsDefault {
		t.Errorf("older image still marked default after newer default was created")
	}

	def, err := s.GetDefaultImage(ifreg.ModelAristaCEOS, ImageContainer)
	if err != nil {
		t.Fatalf("GetDefaultImage: %v", err)
	}
	if def.ID != id2 {
		t.Errorf("GetDefaultImage returned id %d, want %d", def.ID, id2)
	}
}

func TestListImagesFiltersByModelAndKind(t *testing.T) {
	s := openTestStore(t)
	mustCreateImage(t, s, ifreg.ModelAristaCEOS, ImageContainer, "4.29", true)
	mustCreateImage(t, s, ifreg.ModelAristaVEOS, ImageVM, "4.29", true)

	imgs, err := s.ListImages(ifreg.ModelAristaCEOS, "")
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(imgs) != 1 || imgs[0].Model != ifreg.ModelAristaCEOS {
		t.Errorf("ListImages(model filter) = %+v, want one AristaCEOS image", imgs)
	}
}
