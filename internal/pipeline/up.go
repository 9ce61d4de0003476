package pipeline

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/ssh"

	"github.com/bwks/sherpa-sub001/internal/alloc"
	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/containerengine"
	"github.com/bwks/sherpa-sub001/internal/hypervisor"
	"github.com/bwks/sherpa-sub001/internal/ifreg"
	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/topology"
	"github.com/bwks/sherpa-sub001/internal/ztp"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

// UpRequest carries a validated manifest plus the identity requesting the
// lab, matching the "up" RPC's params (§4.J).
type UpRequest struct {
	LabID    string
	Owner    string
	Manifest *topology.Manifest
}

// Resume continues a lab whose catalog records already exist (phase 3
// already ran, e.g. the daemon restarted mid-build) by reconstructing the
// allocator state from the catalog rows instead of re-inserting them (the
// stored manifest is re-validated to resolve its images), then re-running
// phases 4-13. Phases are all idempotent or
// best-effort by construction, so repeating them is safe.
func (p *Pipeline) Resume(ctx context.Context, labID, owner string) (*UpResult, error) {
	lab, err := p.d.Catalog.GetLab(labID)
	if err != nil {
		return nil, fmtErr("resume: lookup", err)
	}
	if lab.Owner != owner {
		return nil, util.ErrAccessDenied
	}

	data, err := os.ReadFile(manifestPath(p.d.Layout.LabDir(labID)))
	if err != nil {
		return nil, fmtErr("resume: read manifest", err)
	}
	manifest, err := topology.ParseManifest(data)
	if err != nil {
		return nil, fmtErr("resume: parse manifest", err)
	}

	catNodes, err := p.d.Catalog.ListNodesByLab(labID)
	if err != nil {
		return nil, fmtErr("resume: list nodes", err)
	}
	catLinks, err := p.d.Catalog.ListLinksByLab(labID)
	if err != nil {
		return nil, fmtErr("resume: list links", err)
	}

	req := UpRequest{LabID: labID, Owner: owner, Manifest: manifest}
	st := &upState{
		lab:        lab,
		nodeIndex:  map[string]uint16{},
		nodeCatRow: map[string]*catalog.Node{},
		nodeMAC:    map[string]string{},
		nodeMgmt:   map[string]string{},
		diskPath:   map[string]string{},
		domain:     map[string]libvirtDomainRef{},
		linkCatRow: catLinks,
	}
	for _, n := range catNodes {
		st.nodeIndex[n.Name] = n.Index
		st.nodeCatRow[n.Name] = n
		st.nodeMgmt[n.Name] = n.MgmtIPv4
	}

	resolved, err := topology.Validate(ctx, manifest, p.d.Catalog, p.d.Layout, p.d.Containers)
	if err != nil {
		return nil, fmtErr("resume: validate", err)
	}
	st.resolved = resolved
	for _, rn := range resolved.Nodes {
		mac, err := alloc.MACFor(ifreg.Model(rn.Manifest.Model), labID, st.nodeIndex[rn.Manifest.Name])
		if err != nil {
			return nil, fmtErr("resume: recompute mac", err)
		}
		st.nodeMAC[rn.Manifest.Name] = mac.String()
	}

	result := &UpResult{LabID: labID}
	phases := []struct {
		phase progress.UpPhase
		run   func() error
	}{
		{progress.PhaseLabNetworkSetup, func() error { return p.phaseLabNetworkSetup(ctx, req, st) }},
		{progress.PhasePointToPointLinks, func() error { return p.phasePointToPointLinks(ctx, req, st) }},
		{progress.PhaseContainerLinkNetworks, func() error { return p.phaseContainerLinkNetworks(ctx, req, st) }},
		{progress.PhaseSharedBridgeCreation, func() error { return p.phaseSharedBridgeCreation(ctx, req, st) }},
		{progress.PhaseZTPGeneration, func() error { return p.phaseZTPGeneration(ctx, req, st) }},
		{progress.PhaseBootContainerCreation, func() error { return p.phaseBootContainerCreation(ctx, req, st) }},
		{progress.PhaseDiskCloning, func() error { return p.phaseDiskCloning(ctx, req, st) }},
		{progress.PhaseVMCreation, func() error { return p.phaseVMCreation(ctx, req, st) }},
		{progress.PhaseSSHConfigGeneration, func() error { return p.phaseSSHConfigGeneration(ctx, req, st, result) }},
		{progress.PhaseNodeReadinessCheck, func() error { return p.phaseNodeReadinessCheck(ctx, req, st, result) }},
	}
	for _, ph := range phases {
		p.status(ctx, labID, ph.phase, fmt.Sprintf("resuming phase %d/%d", ph.phase.Number(), progress.TotalPhases))
		if err := ph.run(); err != nil {
			if ph.phase.Critical() {
				return result, fmtErr(string(ph.phase), err)
			}
			util.WithLab(labID).WithField("phase", ph.phase).WithError(err).Warn("pipeline: non-critical phase failed")
		}
		result.PhasesCompleted = append(result.PhasesCompleted, string(ph.phase))
	}

	for name, idx := range st.nodeIndex {
		result.Nodes = append(result.Nodes, NodeResult{
			Name: name, Index: idx, MgmtIPv4: st.nodeMgmt[name], MAC: st.nodeMAC[name],
		})
	}
	sort.Slice(result.Nodes, func(i, j int) bool { return result.Nodes[i].Index < result.Nodes[j].Index })
	return result, nil
}

// NodeResult is the per-node outcome recorded in UpResult.
type NodeResult struct {
	Name     string
	Index    uint16
	MgmtIPv4 string
	MAC      string
	Ready    bool
}

// UpResult is the terminal result of a successful (or partially successful,
// for non-critical phases) up pipeline run.
type UpResult struct {
	LabID           string
	PhasesCompleted []string
	Nodes           []NodeResult
	SSHConfigPath   string
	SSHKeyPath      string
}

// upState threads everything phases 3 onward need between phases.
type upState struct {
	lab        *catalog.Lab
	resolved   *topology.Resolved
	nodeIndex  map[string]uint16
	nodeCatRow map[string]*catalog.Node
	linkCatRow []*catalog.Link
	nodeMAC    map[string]string
	nodeMgmt   map[string]string
	diskPath   map[string]string
	domain     map[string]libvirtDomainRef

	sshKeyPath string
}

type libvirtDomainRef struct {
	name string
}

// Up runs the 13-phase pipeline for req, emitting progress.Status events as
// it goes. A critical-phase failure aborts and returns the error; the
// caller is responsible for invoking Destroy against the partially-built
// lab per §4.H's cancellation/failure clause.
func (p *Pipeline) Up(ctx context.Context, req UpRequest) (*UpResult, error) {
	st := &upState{
		nodeIndex:  map[string]uint16{},
		nodeCatRow: map[string]*catalog.Node{},
		nodeMAC:    map[string]string{},
		nodeMgmt:   map[string]string{},
		diskPath:   map[string]string{},
		domain:     map[string]libvirtDomainRef{},
	}
	result := &UpResult{LabID: req.LabID}

	phases := []struct {
		phase progress.UpPhase
		run   func() error
	}{
		{progress.PhaseSetup, func() error { return p.phaseSetup(ctx, req, st) }},
		{progress.PhaseManifestValidation, func() error { return p.phaseValidate(ctx, req, st) }},
		{progress.PhaseDatabaseRecords, func() error { return p.phaseDatabaseRecords(ctx, req, st) }},
		{progress.PhaseLabNetworkSetup, func() error { return p.phaseLabNetworkSetup(ctx, req, st) }},
		{progress.PhasePointToPointLinks, func() error { return p.phasePointToPointLinks(ctx, req, st) }},
		{progress.PhaseContainerLinkNetworks, func() error { return p.phaseContainerLinkNetworks(ctx, req, st) }},
		{progress.PhaseSharedBridgeCreation, func() error { return p.phaseSharedBridgeCreation(ctx, req, st) }},
		{progress.PhaseZTPGeneration, func() error { return p.phaseZTPGeneration(ctx, req, st) }},
		{progress.PhaseBootContainerCreation, func() error { return p.phaseBootContainerCreation(ctx, req, st) }},
		{progress.PhaseDiskCloning, func() error { return p.phaseDiskCloning(ctx, req, st) }},
		{progress.PhaseVMCreation, func() error { return p.phaseVMCreation(ctx, req, st) }},
		{progress.PhaseSSHConfigGeneration, func() error { return p.phaseSSHConfigGeneration(ctx, req, st, result) }},
		{progress.PhaseNodeReadinessCheck, func() error { return p.phaseNodeReadinessCheck(ctx, req, st, result) }},
	}

	for _, ph := range phases {
		p.status(ctx, req.LabID, ph.phase, fmt.Sprintf("starting phase %d/%d", ph.phase.Number(), progress.TotalPhases))
		if err := ph.run(); err != nil {
			if ph.phase.Critical() {
				return result, fmtErr(string(ph.phase), err)
			}
			util.WithLab(req.LabID).WithField("phase", ph.phase).WithError(err).Warn("pipeline: non-critical phase failed")
		}
		result.PhasesCompleted = append(result.PhasesCompleted, string(ph.phase))
	}

	for name, idx := range st.nodeIndex {
		result.Nodes = append(result.Nodes, NodeResult{
			Name: name, Index: idx, MgmtIPv4: st.nodeMgmt[name], MAC: st.nodeMAC[name],
		})
	}
	sort.Slice(result.Nodes, func(i, j int) bool { return result.Nodes[i].Index < result.Nodes[j].Index })

	p.status(ctx, req.LabID, progress.PhaseNodeReadinessCheck, "up pipeline complete")
	return result, nil
}

// LabInfo is the persisted artifact written at phase 3 (database records),
// once the lab's subnets are allocated (§4.O labs/<id>/lab-info.toml).
// Nothing in the daemon reads it back.
type LabInfo struct {
	LabID             string `toml:"lab_id"`
	Name              string `toml:"name"`
	Owner             string `toml:"owner"`
	LoopbackNetwork   string `toml:"loopback_network"`
	ManagementNetwork string `toml:"management_network"`
}

func (p *Pipeline) phaseSetup(ctx context.Context, req UpRequest, st *upState) error {
	labDir := p.d.Layout.LabDir(req.LabID)
	for _, sub := range []string{"", "ztp"} {
		if err := os.MkdirAll(filepath.Join(labDir, sub), 0755); err != nil {
			return err
		}
	}

	data, err := toml.Marshal(req.Manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath(labDir), data, 0644)
}

func manifestPath(labDir string) string { return filepath.Join(labDir, "manifest.toml") }

func (p *Pipeline) phaseValidate(ctx context.Context, req UpRequest, st *upState) error {
	resolved, err := topology.Validate(ctx, req.Manifest, p.d.Catalog, p.d.Layout, p.d.Containers)
	if err != nil {
		return err
	}
	st.resolved = resolved
	return nil
}

func (p *Pipeline) phaseDatabaseRecords(ctx context.Context, req UpRequest, st *upState) error {
	loopbackUsed, mgmtUsed, err := p.d.Catalog.UsedSubnets()
	if err != nil {
		return err
	}
	loopback, err := alloc.AllocateSubnet(alloc.LoopbackSupernet, loopbackUsed)
	if err != nil {
		return err
	}
	mgmt, err := alloc.AllocateSubnet(alloc.ManagementSupernet, mgmtUsed)
	if err != nil {
		return err
	}

	lab := &catalog.Lab{
		LabID:             req.LabID,
		Name:              req.Manifest.Name,
		Owner:             req.Owner,
		LoopbackNetwork:   loopback.String(),
		ManagementNetwork: mgmt.String(),
	}
	st.lab = lab

	nodes := sortedResolvedNodes(st.resolved.Nodes)
	var catNodes []*catalog.Node
	for i, rn := range nodes {
		idx := uint16(i)
		st.nodeIndex[rn.Manifest.Name] = idx

		mgmtIP, err := alloc.HostIP(mgmt, i+2)
		if err != nil {
			return err
		}
		mac, err := alloc.MACFor(ifreg.Model(rn.Manifest.Model), req.LabID, idx)
		if err != nil {
			return err
		}
		st.nodeMAC[rn.Manifest.Name] = mac.String()
		st.nodeMgmt[rn.Manifest.Name] = mgmtIP.String()

		n := &catalog.Node{
			Name: rn.Manifest.Name, Index: idx, ImageID: rn.Image.ID, LabID: req.LabID,
			MgmtIPv4: mgmtIP.String(), State: catalog.NodeCreated,
		}
		st.nodeCatRow[rn.Manifest.Name] = n
		catNodes = append(catNodes, n)
	}

	var catLinks []*catalog.Link
	for i, rl := range st.resolved.Links {
		idx := uint16(i)
		link := &catalog.Link{
			Index: idx, Kind: rl.Kind, LabID: req.LabID,
			NodeA: rl.A.Node, NodeB: rl.B.Node, IntA: rl.A.Interface, IntB: rl.B.Interface,
		}
		switch rl.Kind {
		case catalog.LinkP2PBridge:
			link.BridgeA = alloc.LinkBridgeName(req.LabID, idx)
			link.BridgeB = link.BridgeA
		case catalog.LinkP2PVeth:
			link.VethA = alloc.VethName(req.LabID, idx, alloc.SideA)
			link.VethB = alloc.VethName(req.LabID, idx, alloc.SideB)
		}
		catLinks = append(catLinks, link)
		st.linkCatRow = append(st.linkCatRow, link)
	}

	if err := p.d.Catalog.CreateLabWithRecords(lab, catNodes, catLinks); err != nil {
		return err
	}

	info := LabInfo{LabID: lab.LabID, Name: lab.Name, Owner: lab.Owner,
		LoopbackNetwork: lab.LoopbackNetwork, ManagementNetwork: lab.ManagementNetwork}
	data, err := toml.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(p.d.Layout.LabInfoFile(req.LabID), data, 0644)
}

func (p *Pipeline) phaseLabNetworkSetup(ctx context.Context, req UpRequest, st *upState) error {
	mgmtBridge := alloc.LabManagementBridge(req.LabID)
	_, mgmtNet, err := net.ParseCIDR(st.lab.ManagementNetwork)
	if err != nil {
		return err
	}
	gateway, err := alloc.HostIP(mgmtNet, 1)
	if err != nil {
		return err
	}
	dhcpFrom, err := alloc.HostIP(mgmtNet, 10)
	if err != nil {
		return err
	}
	dhcpTo, err := alloc.HostIP(mgmtNet, 250)
	if err != nil {
		return err
	}

	var hosts []hypervisor.DHCPHost
	for name, mac := range st.nodeMAC {
		hosts = append(hosts, hypervisor.DHCPHost{MAC: mac, IP: st.nodeMgmt[name], Hostname: name})
	}

	xmlDesc, err := hypervisor.BuildNATNetworkXML(
		"sherpa-"+req.LabID+"-mgmt", mgmtBridge,
		st.lab.ManagementNetwork, gateway.String(),
		dhcpFrom.String(), dhcpTo.String(), gateway.String(), hosts,
	)
	if err != nil {
		return err
	}
	netHandle, err := p.d.Hypervisor.DefineNetwork(xmlDesc)
	if err != nil {
		return err
	}
	if err := p.d.Hypervisor.StartNetwork(netHandle); err != nil {
		return err
	}

	isoBridge := alloc.LabIsolatedBridge(req.LabID)
	isoXML, err := hypervisor.BuildIsolatedNetworkXML("sherpa-"+req.LabID+"-loop", isoBridge)
	if err != nil {
		return err
	}
	isoHandle, err := p.d.Hypervisor.DefineNetwork(isoXML)
	if err != nil {
		return err
	}
	return p.d.Hypervisor.StartNetwork(isoHandle)
}

func (p *Pipeline) phasePointToPointLinks(ctx context.Context, req UpRequest, st *upState) error {
	for _, link := range st.linkCatRow {
		switch link.Kind {
		case catalog.LinkP2PBridge:
			if err := p.d.Netlink.CreateBridge(ctx, link.BridgeA, "sherpa-link"); err != nil {
				return err
			}
		case catalog.LinkP2PVeth:
			if err := p.d.Netlink.CreateVethPair(ctx, link.VethA, link.VethB, link.NodeA, link.NodeB); err != nil {
				return err
			}
		}
		if err := p.d.Catalog.UpdateLinkNames(req.LabID, link.Index, link.BridgeA, link.BridgeB, link.VethA, link.VethB); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) phaseContainerLinkNetworks(ctx context.Context, req UpRequest, st *upState) error {
	imageKindByNode := map[string]catalog.ImageKind{}
	for _, rn := range st.resolved.Nodes {
		imageKindByNode[rn.Manifest.Name] = rn.Image.Kind
	}

	var lastErr error
	for _, link := range st.linkCatRow {
		if link.Kind != catalog.LinkP2PBridge {
			continue
		}
		needsMacvlan := imageKindByNode[link.NodeA] == catalog.ImageContainer || imageKindByNode[link.NodeB] == catalog.ImageContainer
		if !needsMacvlan {
			continue
		}
		name := fmt.Sprintf("sherpa-%s-link%03d", req.LabID, link.Index)
		if err := p.d.Containers.CreateMacvlanNetwork(ctx, name, link.BridgeA); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (p *Pipeline) phaseSharedBridgeCreation(ctx context.Context, req UpRequest, st *upState) error {
	var lastErr error
	for _, rn := range st.resolved.Nodes {
		if rn.Manifest.ReservedInterfaces <= 0 {
			continue
		}
		idx := st.nodeIndex[rn.Manifest.Name]
		name := fmt.Sprintf("brr%s%03d", req.LabID[:3], idx)
		if err := p.d.Netlink.CreateBridge(ctx, name, "sherpa-reserved"); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (p *Pipeline) phaseZTPGeneration(ctx context.Context, req UpRequest, st *upState) error {
	_, mgmtNet, err := net.ParseCIDR(st.lab.ManagementNetwork)
	if err != nil {
		return err
	}
	gateway, err := alloc.HostIP(mgmtNet, 1)
	if err != nil {
		return err
	}
	dhcpFrom, err := alloc.HostIP(mgmtNet, 10)
	if err != nil {
		return err
	}
	dhcpTo, err := alloc.HostIP(mgmtNet, 250)
	if err != nil {
		return err
	}

	keyPath, pubKeyLine, err := p.generateLabSSHKey(req.LabID)
	if err != nil {
		return err
	}
	st.sshKeyPath = keyPath

	var records []ztp.Record
	for _, rn := range st.resolved.Nodes {
		name := rn.Manifest.Name
		records = append(records, ztp.Record{
			NodeName: name, Hostname: name, Model: ifreg.Model(rn.Manifest.Model),
			MgmtIPv4: st.nodeMgmt[name], MgmtMAC: st.nodeMAC[name],
			SSHKeys: []string{pubKeyLine},
		})
	}

	input := ztp.Input{
		LabID: req.LabID, LabName: req.Manifest.Name, ServerHost: gateway.String(),
		DNSServers: []string{gateway.String()}, DHCPFrom: dhcpFrom.String(), DHCPTo: dhcpTo.String(),
		Nodes: records,
	}
	return ztp.Generate(p.d.Layout.LabZTPDir(req.LabID), input)
}

func (p *Pipeline) phaseBootContainerCreation(ctx context.Context, req UpRequest, st *upState) error {
	mgmtBridge := alloc.LabManagementBridge(req.LabID)
	netName := fmt.Sprintf("sherpa-%s-router-net", req.LabID)
	if err := p.d.Containers.CreateMacvlanNetwork(ctx, netName, mgmtBridge); err != nil {
		return err
	}
	_, _, err := p.d.Containers.RunContainer(ctx, containerRouterSpec(req.LabID, p.d.RouterImage, p.d.Layout.LabZTPDir(req.LabID), netName))
	return err
}

func (p *Pipeline) phaseDiskCloning(ctx context.Context, req UpRequest, st *upState) error {
	poolDir := filepath.Join(p.d.Layout.LibvirtPoolDir(), req.LabID)
	if err := os.MkdirAll(poolDir, 0755); err != nil {
		return err
	}
	if err := p.d.Hypervisor.CreatePool("sherpa-"+req.LabID, poolDir); err != nil {
		util.WithLab(req.LabID).WithError(err).Debug("pipeline: create pool (may already exist)")
	}

	for _, rn := range st.resolved.Nodes {
		if rn.Image.Kind != catalog.ImageVM {
			continue
		}
		src := p.d.Layout.ImageDiskPath(string(rn.Image.Model), rn.Image.Version)
		dst := filepath.Join(poolDir, rn.Manifest.Name+".qcow2")
		if err := p.d.CloneDisk(ctx, src, dst); err != nil {
			return err
		}
		st.diskPath[rn.Manifest.Name] = dst
	}
	return nil
}

func (p *Pipeline) phaseVMCreation(ctx context.Context, req UpRequest, st *upState) error {
	var vmNodes []topology.ResolvedNode
	for _, rn := range st.resolved.Nodes {
		if rn.Image.Kind == catalog.ImageVM {
			vmNodes = append(vmNodes, rn)
		}
	}
	sort.Slice(vmNodes, func(i, j int) bool {
		return st.nodeIndex[vmNodes[i].Manifest.Name] < st.nodeIndex[vmNodes[j].Manifest.Name]
	})

	mgmtBridge := alloc.LabManagementBridge(req.LabID)
	linksByNode := map[string][]*catalog.Link{}
	for _, l := range st.linkCatRow {
		linksByNode[l.NodeA] = append(linksByNode[l.NodeA], l)
		linksByNode[l.NodeB] = append(linksByNode[l.NodeB], l)
	}

	domains := make([]libvirt.Domain, len(vmNodes))
	err := parallelForIndices(len(vmNodes), func(i int) error {
		rn := vmNodes[i]
		name := rn.Manifest.Name
		img := rn.Image

		interfaces := []hypervisor.InterfaceSpec{{Bridge: mgmtBridge, MAC: st.nodeMAC[name]}}
		for _, l := range linksByNode[name] {
			if l.BridgeA == "" {
				continue
			}
			interfaces = append(interfaces, hypervisor.InterfaceSpec{Bridge: l.BridgeA})
		}

		spec := hypervisor.DomainSpec{
			Name: "sherpa-" + req.LabID + "-" + name,
			CPUCount: maxInt(img.CPUCount, 1), CPUArch: orDefault(img.CPUArch, "x86_64"),
			CPUModel: img.CPUModel, MemoryMB: maxInt(img.MemoryMB, 512),
			BIOS: img.BIOS, MachineType: orDefault(img.MachineType, "q35"),
			Disks: []hypervisor.DiskSpec{{
				Path: st.diskPath[name], Bus: orDefault(img.DiskBus, "virtio"),
				Device: "disk", Format: "qcow2",
			}},
			Interfaces: interfaces,
			TelnetPort: 20000 + int(st.nodeIndex[name]),
		}

		xmlDesc, err := hypervisor.BuildDomainXML(spec)
		if err != nil {
			return err
		}
		dom, err := p.d.Hypervisor.DefineDomain(xmlDesc)
		if err != nil {
			return err
		}
		if err := p.d.Hypervisor.StartDomain(dom); err != nil {
			return err
		}
		domains[i] = dom
		st.domain[name] = libvirtDomainRef{name: spec.Name}
		return p.d.Catalog.UpdateNodeState(req.LabID, name, catalog.NodeRunning, st.nodeMgmt[name])
	})
	return err
}

// generateLabSSHKey creates the per-lab Ed25519 automation keypair, writes
// the private half to <lab_dir>/id_ed25519, and returns its path plus the
// public half as an authorized_keys line. The public line is installed into
// every node's ZTP boot config (phase 8) so the keypair the client config
// (phase 12) points at actually grants access, instead of being generated
// and discarded.
func (p *Pipeline) generateLabSSHKey(labID string) (keyPath, pubKeyLine string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	privBlock, err := ssh.MarshalPrivateKey(priv, labID)
	if err != nil {
		return "", "", err
	}
	keyPath = filepath.Join(p.d.Layout.LabDir(labID), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privBlock), 0600); err != nil {
		return "", "", err
	}
	pubSSH, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", "", err
	}
	pubKeyLine = strings.TrimRight(string(ssh.MarshalAuthorizedKey(pubSSH)), "\n") + " " + labID
	return keyPath, pubKeyLine, nil
}

func (p *Pipeline) phaseSSHConfigGeneration(ctx context.Context, req UpRequest, st *upState, result *UpResult) error {
	labDir := p.d.Layout.LabDir(req.LabID)

	var b strings.Builder
	for _, rn := range sortedResolvedNodes(st.resolved.Nodes) {
		name := rn.Manifest.Name
		fmt.Fprintf(&b, "Host %s\n  HostName %s\n  User admin\n  IdentityFile %s\n  StrictHostKeyChecking no\n\n",
			name, st.nodeMgmt[name], st.sshKeyPath)
	}
	configPath := filepath.Join(labDir, "ssh_config")
	if err := os.WriteFile(configPath, []byte(b.String()), 0644); err != nil {
		return err
	}
	result.SSHConfigPath = configPath
	result.SSHKeyPath = st.sshKeyPath
	return nil
}

func (p *Pipeline) phaseNodeReadinessCheck(ctx context.Context, req UpRequest, st *upState, result *UpResult) error {
	const (
		readinessTimeout = 600 * time.Second
		readinessSleep   = 10 * time.Second
	)
	anyReady := false
	for i := range result.Nodes {
		nr := &result.Nodes[i]
		deadline := time.Now().Add(readinessTimeout)
		for {
			conn, err := net.DialTimeout("tcp", nr.MgmtIPv4+":22", 3*time.Second)
			if err == nil {
				conn.Close()
				nr.Ready = true
				anyReady = true
				break
			}
			if time.Now().After(deadline) {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readinessSleep):
			}
		}
	}
	if !anyReady {
		return fmt.Errorf("pipeline: no node became reachable within %s", readinessTimeout)
	}
	return nil
}

// containerRouterSpec builds the RunSpec for the lab's boot/ZTP server
// container, which must come up before any VM-backed node is cloned or
// started (§4.H phase 9 precedes phases 10-13).
func containerRouterSpec(labID, image, ztpDir, networkName string) containerengine.RunSpec {
	return containerengine.RunSpec{
		Name:              "sherpa-" + labID + "-router",
		Image:             image,
		Volumes:           []string{ztpDir + ":/srv/ztp:ro"},
		ManagementNetwork: networkName,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
