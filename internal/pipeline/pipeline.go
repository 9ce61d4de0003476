// Package pipeline implements the up and destroy orchestrators (§4.H/I),
// composing the catalog, allocator, interface registry, ZTP generator,
// netlink adapter, hypervisor adapter, and container engine into the
// fixed phase sequences.
//
// Grounded on the teacher's pkg/newtlab/newtlab.go Lab.Deploy/Lab.Destroy:
// phase sequencing with an OnProgress-style callback (here, a
// progress.Broadcaster), and the parallelForNodes sync.WaitGroup
// fan-out/first-error pattern reused verbatim for phase 11.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/digitalocean/go-libvirt"

	"github.com/bwks/sherpa-sub001/internal/alloc"
	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/containerengine"
	"github.com/bwks/sherpa-sub001/internal/netlinkadapter"
	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/topology"
)

// HypervisorClient is the subset of *hypervisor.Hypervisor the pipeline
// depends on, kept as an interface so tests substitute a fake instead of
// dialing a real libvirtd socket.
type HypervisorClient interface {
	DefineDomain(xmlDesc string) (libvirt.Domain, error)
	StartDomain(dom libvirt.Domain) error
	ShutdownDomain(dom libvirt.Domain) error
	DestroyDomain(dom libvirt.Domain) error
	UndefineDomain(dom libvirt.Domain) error
	LookupDomain(name string) (libvirt.Domain, error)
	ListDomains() ([]string, error)
	DefineNetwork(xmlDesc string) (libvirt.Network, error)
	StartNetwork(net libvirt.Network) error
	DestroyNetwork(net libvirt.Network) error
	UndefineNetwork(net libvirt.Network) error
	LookupNetwork(name string) (libvirt.Network, error)
	ListNetworks() ([]string, error)
	CreatePool(name, path string) error
}

// DiskCloner is the disk-cloning half of the hypervisor package, kept
// separate since it is a free function (no connection needed) in
// internal/hypervisor.
type DiskCloner func(ctx context.Context, src, dst string) error

// ContainerEngine is the subset of *containerengine.Engine the pipeline
// depends on.
type ContainerEngine interface {
	RunContainer(ctx context.Context, spec containerengine.RunSpec) (string, []containerengine.AttachFailure, error)
	CreateBridgeNetwork(ctx context.Context, name, ipv4Prefix, bridgeName string) error
	CreateMacvlanNetwork(ctx context.Context, name, parentBridge string) error
	KillContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	ListByLabel(ctx context.Context, label, value string) ([]string, error)
	RemoveNetwork(ctx context.Context, name string) error
}

// Deps bundles every collaborator the pipeline needs. Tests construct one
// with fakes for Hypervisor, Containers, and Netlink.
type Deps struct {
	Catalog     *catalog.Store
	Layout      config.Layout
	Netlink     netlinkadapter.Adapter
	Hypervisor  HypervisorClient
	CloneDisk   DiskCloner
	Containers  ContainerEngine
	Broadcaster *progress.Broadcaster
	RouterImage string // image reference for the per-lab sherpa-router container
}

// Pipeline runs the up and destroy sequences for a given set of Deps.
type Pipeline struct {
	d Deps
}

func New(d Deps) *Pipeline { return &Pipeline{d: d} }

// status emits a Status event for phase to the broadcaster; it does nothing
// when no broadcaster is configured.
func (p *Pipeline) status(ctx context.Context, labID string, phase progress.UpPhase, message string) {
	if p.d.Broadcaster != nil {
		p.d.Broadcaster.PublishStatus(ctx, labID, progress.ForPhase(phase, message))
	}
}

// sortedResolvedNodes returns resolved.Nodes sorted by name, which is the
// order node_index is assigned in (§4.H phase 3 / §6 deterministic naming).
func sortedResolvedNodes(nodes []topology.ResolvedNode) []topology.ResolvedNode {
	out := make([]topology.ResolvedNode, len(nodes))
	copy(out, nodes)
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// parallelForIndices runs fn for each index in [0,n) concurrently, recording
// the first error without aborting other goroutines. Grounded on the
// teacher's parallelForNodes (pkg/newtlab/newtlab.go).
func parallelForIndices(n int, fn func(i int) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

func fmtErr(phase string, err error) error {
	return fmt.Errorf("pipeline: phase %s: %w", phase, err)
}
