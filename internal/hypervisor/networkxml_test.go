package hypervisor

import "testing"

func TestBuildIsolatedNetworkXML(t *testing.T) {
	xmlDesc, err := BuildIsolatedNetworkXML("sherpa-abcd1234-loop", "briabcd1")
	if err != nil {
		t.Fatalf("BuildIsolatedNetworkXML: %v", err)
	}
	if !containsStr(xmlDesc, "briabcd1") {
		t.Error("isolated network xml missing bridge name")
	}
	if !containsStr(xmlDesc, `isolated="yes"`) {
		t.Error("isolated network xml missing isolated port attribute")
	}
}

func TestBuildNATNetworkXMLIncludesBootServerReservation(t *testing.T) {
	hosts := []DHCPHost{
		{MAC: "02:aa:bb:00:00:01", IP: "172.31.1.2", Hostname: "r1"},
	}
	xmlDesc, err := BuildNATNetworkXML(
		"sherpa-abcd1234-mgmt", "brmabcd1",
		"172.31.1.0/24", "172.31.1.1",
		"172.31.1.10", "172.31.1.250",
		"172.31.1.1", hosts,
	)
	if err != nil {
		t.Fatalf("BuildNATNetworkXML: %v", err)
	}
	if !containsStr(xmlDesc, bootServerMAC) {
		t.Error("NAT network xml missing fixed boot-server MAC reservation")
	}
	if !containsStr(xmlDesc, "02:aa:bb:00:00:01") {
		t.Error("NAT network xml missing per-node DHCP reservation")
	}
	if !containsStr(xmlDesc, "dhcp-option-force=67") {
		t.Error("NAT network xml missing dnsmasq bootfile option")
	}
}

func TestMaskFromBitsProduces24(t *testing.T) {
	ones, total := cidrMaskBits("172.31.1.0/24")
	if got := maskFromBits(ones, total); got != "255.255.255.0" {
		t.Errorf("maskFromBits(/24) = %s, want 255.255.255.0", got)
	}
}
