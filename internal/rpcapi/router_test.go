package rpcapi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwks/sherpa-sub001/internal/authsvc"
	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/pipeline"
)

type fakeImporter struct {
	pulled string
	err    error
}

func (f *fakeImporter) PullImage(ctx context.Context, ref string) error {
	f.pulled = ref
	return f.err
}

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleImageImportVMDiskCopiesFile(t *testing.T) {
	store := openTestStore(t)
	root := t.TempDir()
	srcDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "veos.qcow2")
	if err := os.WriteFile(srcPath, []byte("fake-disk-contents"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &Router{Catalog: store, Layout: config.NewLayout(root)}
	params, _ := json.Marshal(map[string]interface{}{
		"model":   "arista_veos",
		"version": "4.32.0",
		"src":     srcPath,
		"latest":  true,
	})

	result, err := handleImageImport(context.Background(), r, &Session{Username: "admin", IsAdmin: true}, params)
	if err != nil {
		t.Fatalf("handleImageImport: %v", err)
	}

	m := result.(map[string]interface{})
	if m["kind"] != string(catalog.ImageVM) {
		t.Errorf("kind = %v, want %v", m["kind"], catalog.ImageVM)
	}

	dest := r.Layout.ImageDiskPath("arista_veos", "4.32.0")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected copied file at %s: %v", dest, err)
	}
	if string(data) != "fake-disk-contents" {
		t.Errorf("copied file contents = %q, want %q", data, "fake-disk-contents")
	}

	img, err := store.GetImageByVersion("arista_veos", catalog.ImageVM, "4.32.0")
	if err != nil {
		t.Fatalf("GetImageByVersion: %v", err)
	}
	if !img.IsDefault {
		t.Error("expected image to be marked default (latest=true)")
	}
}

func TestHandleImageImportContainerPullsImage(t *testing.T) {
	store := openTestStore(t)
	importer := &fakeImporter{}

	r := &Router{Catalog: store, Layout: config.NewLayout(t.TempDir()), Containers: importer}
	params, _ := json.Marshal(map[string]interface{}{
		"model":   "arista_ceos",
		"version": "4.32.0",
		"src":     "quay.io/arista/ceos:4.32.0",
	})

	result, err := handleImageImport(context.Background(), r, &Session{Username: "admin", IsAdmin: true}, params)
	if err != nil {
		t.Fatalf("handleImageImport: %v", err)
	}
	if importer.pulled != "quay.io/arista/ceos:4.32.0" {
		t.Errorf("PullImage called with %q, want %q", importer.pulled, "quay.io/arista/ceos:4.32.0")
	}

	m := result.(map[string]interface{})
	if m["kind"] != string(catalog.ImageContainer) {
		t.Errorf("kind = %v, want %v", m["kind"], catalog.ImageContainer)
	}
}

func TestDispatchDestroyOnMissingLabIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	tokens := authsvc.NewTokenIssuer([]byte("test-secret"))
	token, err := tokens.Mint("alice", false)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	r := NewRouter(store, pipeline.New(pipeline.Deps{Catalog: store}), tokens, config.Layout{}, nil)
	params, _ := json.Marshal(map[string]interface{}{"lab_id": "ghost0001"})

	resp := r.Dispatch(context.Background(), Request{ID: "1", Method: "destroy", Params: params}, token)
	if resp.Error != nil {
		t.Fatalf("Dispatch(destroy, missing lab) error = %+v, want nil", resp.Error)
	}

	summary, ok := resp.Result.(*pipeline.DestroySummary)
	if !ok {
		t.Fatalf("Dispatch(destroy, missing lab) result = %T, want *pipeline.DestroySummary", resp.Result)
	}
	if !summary.Success || !summary.LabDirectoryDeleted {
		t.Errorf("summary = %+v, want Success=true LabDirectoryDeleted=true", summary)
	}
	if len(summary.Destroyed) != 0 || len(summary.Errors) != 0 {
		t.Errorf("summary = %+v, want empty destroyed/errors", summary)
	}
}

func TestHandleImageImportUnknownModelRejected(t *testing.T) {
	store := openTestStore(t)
	r := &Router{Catalog: store, Layout: config.NewLayout(t.TempDir())}
	params, _ := json.Marshal(map[string]interface{}{
		"model":   "not_a_real_model",
		"version": "1.0",
		"src":     "/tmp/whatever.qcow2",
	})

	if _, err := handleImageImport(context.Background(), r, &Session{Username: "admin", IsAdmin: true}, params); err == nil {
		t.Error("expected error for unknown model, got nil")
	}
}
