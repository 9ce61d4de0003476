package hypervisor

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// bootServerMAC is the fixed MAC reserved for the lab's boot/ZTP server on
// every NAT-with-DHCP management network, so ZTP scripts can hardcode the
// server's DHCP reservation without a lookup round-trip.
const bootServerMAC = "02:ff:ff:b0:07:01"

// mtu is the fixed MTU of every lab network and domain interface, matching
// the 9600 the netlink adapter sets on bridges and veths.
const mtu = 9600

// DHCPHost is one static DHCP reservation on the management network.
type DHCPHost struct {
	MAC      string
	IP       string
	Hostname string
}

// BuildIsolatedNetworkXML renders the loopback network: no forwarding, no
// DHCP, isolated ports, fixed MTU — used for inter-node loopback fabric
// that never needs to reach outside the lab.
func BuildIsolatedNetworkXML(name, bridgeName string) (string, error) {
	n := &libvirtxml.Network{
		Name:   name,
		Bridge: &libvirtxml.NetworkBridge{Name: bridgeName},
		MTU:    &libvirtxml.NetworkMTU{Size: mtu},
		Port:   &libvirtxml.NetworkPort{Isolated: "yes"},
	}
	return n.Marshal()
}

// BuildNATNetworkXML renders the lab management network: NAT forwarding,
// a DHCP pool, per-node static reservations, and a fixed reservation for
// the boot/ZTP server carrying dnsmasq option-67/150 extensions so nodes
// pick up their ZTP bootfile over DHCP.
func BuildNATNetworkXML(name, bridgeName, subnetCIDR, gatewayIP, dhcpFrom, dhcpTo, bootServerIP string, hosts []DHCPHost) (string, error) {
	ones, zeros := cidrMaskBits(subnetCIDR)
	netmask := maskFromBits(ones, zeros)

	dhcpHosts := []libvirtxml.NetworkDHCPHost{{
		MAC:  bootServerMAC,
		IP:   bootServerIP,
		Name: "sherpa-boot",
	}}
	for _, h := range hosts {
		dhcpHosts = append(dhcpHosts, libvirtxml.NetworkDHCPHost{
			MAC:  h.MAC,
			IP:   h.IP,
			Name: h.Hostname,
		})
	}

	n := &libvirtxml.Network{
		Name:    name,
		Forward: &libvirtxml.NetworkForward{Mode: "nat"},
		Bridge:  &libvirtxml.NetworkBridge{Name: bridgeName, STP: "off"},
		MTU:     &libvirtxml.NetworkMTU{Size: mtu},
		IPs: []libvirtxml.NetworkIP{{
			Address: gatewayIP,
			Netmask: netmask,
			DHCP: &libvirtxml.NetworkDHCP{
				Ranges: []libvirtxml.NetworkDHCPRange{{Start: dhcpFrom, End: dhcpTo}},
				Hosts:  dhcpHosts,
				Bootp:  &libvirtxml.NetworkBootp{File: "ztp-boot", Server: bootServerIP},
			},
		}},
		DnsmasqOptions: &libvirtxml.NetworkDnsmasqOptions{
			Option: []libvirtxml.NetworkDnsmasqOption{
				{Value: "dhcp-option-force=67,ztp-boot"},
				{Value: fmt.Sprintf("dhcp-option-force=150,%s", bootServerIP)},
			},
		},
	}
	return n.Marshal()
}

// cidrMaskBits and maskFromBits avoid importing net solely for a dotted
// netmask string; §6's subnets are always /24s allocated by internal/alloc,
// but the conversion is written generally rather than hardcoded to /24.
func cidrMaskBits(cidr string) (ones, total int) {
	for i := len(cidr) - 1; i >= 0; i-- {
		if cidr[i] == '/' {
			n := 0
			for _, c := range cidr[i+1:] {
				n = n*10 + int(c-'0')
			}
			return n, 32
		}
	}
	return 24, 32
}

func maskFromBits(ones, total int) string {
	bits := [4]byte{}
	for i := 0; i < total/8; i++ {
		remaining := ones - i*8
		switch {
		case remaining >= 8:
			bits[i] = 0xff
		case remaining <= 0:
			bits[i] = 0x00
		default:
			bits[i] = byte(0xff << (8 - remaining))
		}
	}
	return fmt.Sprintf("%d.%d.%d.%d", bits[0], bits[1], bits[2], bits[3])
}
