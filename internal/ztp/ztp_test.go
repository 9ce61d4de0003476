package ztp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

func sampleInput() Input {
	return Input{
		LabID:      "abcd1234",
		LabName:    "lab1",
		ServerHost: "172.31.1.1",
		DNSServers: []string{"172.31.1.1"},
		DHCPFrom:   "172.31.1.10",
		DHCPTo:     "172.31.1.250",
		Nodes: []Record{
			{
				NodeName: "r1", Hostname: "r1", Model: ifreg.ModelAristaCEOS,
				MgmtIPv4: "172.31.1.2", MgmtMAC: "02:aa:bb:00:00:01",
				SSHKeys: []string{"ssh-ed25519 AAAA... admin"},
			},
			{
				NodeName: "r2", Hostname: "r2", Model: ifreg.ModelCiscoIOS,
				MgmtIPv4: "172.31.1.3", MgmtMAC: "02:aa:bb:00:00:02",
				SSHKeys: []string{"ssh-ed25519 BBBB... admin"},
			},
		},
	}
}

func TestGenerateIsByteDeterministic(t *testing.T) {
	root1 := t.TempDir()
	root2 := t.TempDir()
	in := sampleInput()

	if err := Generate(root1, in); err != nil {
		t.Fatalf("Generate(1): %v", err)
	}
	if err := Generate(root2, in); err != nil {
		t.Fatalf("Generate(2): %v", err)
	}

	for _, rel := range []string{
		filepath.Join("arista", "r1-startup-config"),
		filepath.Join("cisco", "r2-ios_config.txt"),
		filepath.Join("dnsmasq", "dnsmasq.conf"),
	} {
		b1, err := os.ReadFile(filepath.Join(root1, rel))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		b2, err := os.ReadFile(filepath.Join(root2, rel))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(b1) != string(b2) {
			t.Errorf("%s differs between identical runs", rel)
		}
	}
}

func TestGenerateCiscoPreHashesSSHKeyMD5(t *testing.T) {
	root := t.TempDir()
	if err := Generate(root, sampleInput()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "cisco", "r2-ios_config.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if contains := string(data); !containsStr(contains, "key-hash ssh-md5") {
		t.Errorf("cisco config missing MD5 pre-hashed key directive: %s", contains)
	}
	if containsStr(string(data), "ssh-ed25519") {
		t.Errorf("cisco config must not contain the raw SSH key text")
	}
}

func TestGenerateSkipsSharedScriptsWhenNoMatchingModel(t *testing.T) {
	root := t.TempDir()
	in := sampleInput() // no vEOS or Juniper nodes
	if err := Generate(root, in); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "arista", "veos-ztp.sh")); err == nil {
		t.Error("veos-ztp.sh should not be written when no vEOS node is present")
	}
}

func containsStr(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
