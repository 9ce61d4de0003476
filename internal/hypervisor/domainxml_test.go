package hypervisor

import "testing"

func TestBuildDomainXMLIncludesDisksAndInterfaces(t *testing.T) {
	spec := DomainSpec{
		Name:        "sherpa-abcd1234-r1",
		CPUCount:    2,
		CPUArch:     "x86_64",
		CPUModel:    "host",
		MemoryMB:    2048,
		MachineType: "q35",
		Disks: []DiskSpec{
			{Path: "/opt/sherpa/libvirt/images/abcd1234/r1.qcow2", Bus: "virtio", Device: "disk", Format: "qcow2"},
		},
		Interfaces: []InterfaceSpec{
			{Bridge: "brmabcd1", MAC: "02:aa:bb:00:00:01"},
		},
		TelnetPort: 20001,
	}

	xmlDesc, err := BuildDomainXML(spec)
	if err != nil {
		t.Fatalf("BuildDomainXML: %v", err)
	}
	if !containsStr(xmlDesc, "sherpa-abcd1234-r1") {
		t.Error("domain xml missing name")
	}
	if !containsStr(xmlDesc, "brmabcd1") {
		t.Error("domain xml missing bridge interface source")
	}
	if !containsStr(xmlDesc, "02:aa:bb:00:00:01") {
		t.Error("domain xml missing interface MAC")
	}
	if !containsStr(xmlDesc, "virtio") {
		t.Error("domain xml missing virtio disk bus")
	}
}

func TestBuildDomainXMLOmitsOptionalLoaderWhenNoBIOS(t *testing.T) {
	xmlDesc, err := BuildDomainXML(DomainSpec{Name: "n1", CPUCount: 1, MemoryMB: 512, CPUArch: "x86_64"})
	if err != nil {
		t.Fatalf("BuildDomainXML: %v", err)
	}
	if containsStr(xmlDesc, "<loader") {
		t.Error("domain xml should omit <loader> when BIOS is unset")
	}
}

func containsStr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}
