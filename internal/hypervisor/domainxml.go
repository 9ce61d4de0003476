package hypervisor

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// DiskSpec describes one disk attachment, taken from the resolved node
// image's DiskBus/CDROMBus fields.
type DiskSpec struct {
	Path   string
	Bus    string // "virtio", "sata", "ide"
	Device string // "disk" or "cdrom"
	Format string // "qcow2" or "raw"
}

// InterfaceSpec describes one network attachment: either a bridge
// connection (P2pBridge links, the management network) or a direct-veth
// peer (P2pVeth links, attached by the netlink adapter instead).
type InterfaceSpec struct {
	Bridge string
	MAC    string
}

// DomainSpec carries everything the Up pipeline's phase 11 (VM creation)
// resolves about a single node before it becomes libvirt domain XML.
type DomainSpec struct {
	Name        string
	CPUCount    int
	CPUArch     string
	CPUModel    string
	MemoryMB    int
	BIOS        string
	MachineType string
	Disks       []DiskSpec
	Interfaces  []InterfaceSpec
	TelnetPort  int
	Ignition    string // optional qemu:commandline -fw_cfg opt/com.coreos/config
}

// BuildDomainXML renders a KVM/QEMU domain description from spec using
// libvirtxml's typed structs, replacing hand-built XML templates.
func BuildDomainXML(spec DomainSpec) (string, error) {
	dom := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{Value: spec.CPUCount},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{Type: "hvm", Arch: spec.CPUArch, Machine: spec.MachineType},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode:  "host-passthrough",
			Model: &libvirtxml.DomainCPUModel{Value: spec.CPUModel},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices:    &libvirtxml.DomainDeviceList{},
	}

	if spec.BIOS != "" {
		dom.OS.Loader = &libvirtxml.DomainLoader{Path: spec.BIOS, Readonly: "yes", Type: "pflash"}
	}

	for i, d := range spec.Disks {
		dom.Devices.Disks = append(dom.Devices.Disks, libvirtxml.DomainDisk{
			Device: d.Device,
			Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: d.Format},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: d.Path},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: fmt.Sprintf("%s%c", busPrefix(d.Bus), 'a'+byte(i)),
				Bus: d.Bus,
			},
		})
	}

	for _, ifc := range spec.Interfaces {
		dom.Devices.Interfaces = append(dom.Devices.Interfaces, libvirtxml.DomainInterface{
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: ifc.Bridge},
			},
			MAC:   &libvirtxml.DomainInterfaceMAC{Address: ifc.MAC},
			Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
			MTU:   &libvirtxml.DomainInterfaceMTU{Size: mtu},
		})
	}

	if spec.TelnetPort != 0 {
		dom.Devices.Serials = []libvirtxml.DomainSerial{{
			Source: &libvirtxml.DomainChardevSource{
				TCP: &libvirtxml.DomainChardevSourceTCP{
					Mode:    "bind",
					Host:    "127.0.0.1",
					Service: fmt.Sprintf("%d", spec.TelnetPort),
					Protocol: &libvirtxml.DomainChardevProtocol{Type: "telnet"},
				},
			},
		}}
	}

	if spec.Ignition != "" {
		dom.QEMUCommandline = &libvirtxml.DomainQEMUCommandline{
			Args: []libvirtxml.DomainQEMUCommandlineArg{
				{Value: "-fw_cfg"},
				{Value: "name=opt/com.coreos/config,string=" + spec.Ignition},
			},
		}
	}

	return dom.Marshal()
}

func busPrefix(bus string) string {
	switch bus {
	case "virtio":
		return "vd"
	case "sata":
		return "sd"
	default:
		return "hd"
	}
}
