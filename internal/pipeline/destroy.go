package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// ResourceError is one failed teardown step, reported with enough detail
// for an operator to triage which resource needs manual cleanup.
type ResourceError struct {
	ResourceType string `json:"resource_type"`
	ResourceName string `json:"resource_name"`
	Message      string `json:"message"`
}

// DestroySummary is the result of a destroy or clean run: every phase is
// best-effort, so callers get per-category outcomes rather than a single
// error (§4.I).
type DestroySummary struct {
	Destroyed           []string        `json:"destroyed"`
	Failed              []string        `json:"failed"`
	Errors              []ResourceError `json:"errors"`
	LabDirectoryDeleted bool            `json:"lab_directory_deleted"`
	Success             bool            `json:"success"`
}

func (s *DestroySummary) ok(label string) {
	s.Destroyed = append(s.Destroyed, label)
}

func (s *DestroySummary) fail(resourceType, resourceName string, err error) {
	s.Failed = append(s.Failed, resourceType+":"+resourceName)
	s.Errors = append(s.Errors, ResourceError{ResourceType: resourceType, ResourceName: resourceName, Message: err.Error()})
}

// finish stamps the derived fields once every phase has run.
func (s *DestroySummary) finish() *DestroySummary {
	s.Success = len(s.Errors) == 0
	for _, d := range s.Destroyed {
		if d == "lab-directory" {
			s.LabDirectoryDeleted = true
		}
	}
	return s
}

// Destroy tears down a lab's containers, VMs, networks, interfaces, catalog
// rows, and directory in that order, continuing past failures in any one
// category (§4.I). owner is used for the ownership check; admin callers
// should use Clean instead. Destroy is idempotent: a lab_id with no catalog
// row (already destroyed, or never existed) returns an empty success summary
// rather than an error, since there is nothing left to tear down.
func (p *Pipeline) Destroy(ctx context.Context, labID, owner string, isAdmin bool) (*DestroySummary, error) {
	lab, err := p.d.Catalog.GetLab(labID)
	if errors.Is(err, util.ErrNotFound) {
		return (&DestroySummary{LabDirectoryDeleted: true}).finish(), nil
	}
	if err != nil {
		return nil, fmtErr("destroy: lookup", err)
	}
	if !isAdmin && lab.Owner != owner {
		return nil, util.ErrAccessDenied
	}
	return p.destroyLab(ctx, labID), nil
}

// Clean is the admin-only variant: it skips the ownership check and
// tolerates a missing catalog row or lab-info.toml. It tears down labID
// only; sweeping the labs directory for orphaned directories left behind by
// a prior partial destroy is SweepOrphanedLabs.
func (p *Pipeline) Clean(ctx context.Context, labID string) *DestroySummary {
	return p.destroyLab(ctx, labID)
}

func (p *Pipeline) destroyLab(ctx context.Context, labID string) *DestroySummary {
	summary := &DestroySummary{}

	p.destroyContainers(ctx, labID, summary)
	p.destroyVMs(ctx, labID, summary)
	p.destroyDockerNetworks(ctx, labID, summary)
	p.destroyLibvirtNetworks(ctx, labID, summary)
	p.destroyInterfaces(ctx, labID, summary)
	p.destroyCatalogRows(labID, summary)
	p.destroyLabDirectory(labID, summary)

	return summary.finish()
}

func (p *Pipeline) destroyContainers(ctx context.Context, labID string, s *DestroySummary) {
	ids, err := p.d.Containers.ListByLabel(ctx, "sherpa.lab_id", labID)
	if err != nil {
		s.fail("container", labID, err)
		return
	}
	for _, id := range ids {
		if err := p.d.Containers.RemoveContainer(ctx, id, true); err != nil {
			s.fail("container", id, err)
			continue
		}
		s.ok("container:" + id)
	}
}

func (p *Pipeline) destroyVMs(ctx context.Context, labID string, s *DestroySummary) {
	names, err := p.d.Hypervisor.ListDomains()
	if err != nil {
		s.fail("vm", labID, err)
		return
	}
	prefix := "sherpa-" + labID + "-"
	poolDir := filepath.Join(p.d.Layout.LibvirtPoolDir(), labID)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		dom, err := p.d.Hypervisor.LookupDomain(name)
		if err != nil {
			s.fail("vm", name, err)
			continue
		}
		if err := p.d.Hypervisor.DestroyDomain(dom); err != nil {
			util.WithLab(labID).WithError(err).Debug("destroy: domain already stopped")
		}
		if err := p.d.Hypervisor.UndefineDomain(dom); err != nil {
			s.fail("vm", name, err)
			continue
		}
		s.ok("vm:" + name)
	}
	if err := os.RemoveAll(poolDir); err != nil {
		s.fail("vm-disk", labID, err)
	} else {
		s.ok("vm-disks")
	}
}

func (p *Pipeline) destroyDockerNetworks(ctx context.Context, labID string, s *DestroySummary) {
	prefix := "sherpa-" + labID + "-"
	for _, suffix := range []string{"router-net", "mgmt"} {
		name := prefix + suffix
		if err := p.d.Containers.RemoveNetwork(ctx, name); err != nil {
			util.WithLab(labID).WithField("network", name).WithError(err).Debug("destroy: network already removed")
			continue
		}
		s.ok("docker-network:" + name)
	}
}

func (p *Pipeline) destroyLibvirtNetworks(ctx context.Context, labID string, s *DestroySummary) {
	names, err := p.d.Hypervisor.ListNetworks()
	if err != nil {
		s.fail("libvirt-network", labID, err)
		return
	}
	prefix := "sherpa-" + labID + "-"
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		netHandle, err := p.d.Hypervisor.LookupNetwork(name)
		if err != nil {
			s.fail("libvirt-network", name, err)
			continue
		}
		if err := p.d.Hypervisor.DestroyNetwork(netHandle); err != nil {
			util.WithLab(labID).WithError(err).Debug("destroy: network already stopped")
		}
		if err := p.d.Hypervisor.UndefineNetwork(netHandle); err != nil {
			s.fail("libvirt-network", name, err)
			continue
		}
		s.ok("libvirt-network:" + name)
	}
}

func (p *Pipeline) destroyInterfaces(ctx context.Context, labID string, s *DestroySummary) {
	prefix := labID[:minInt(len(labID), 5)]
	names, err := p.d.Netlink.FindByFuzzy(ctx, prefix)
	if err != nil {
		s.fail("interface", labID, err)
		return
	}
	for _, name := range names {
		if err := p.d.Netlink.DeleteInterface(ctx, name); err != nil {
			s.fail("interface", name, err)
			continue
		}
		s.ok("interface:" + name)
	}
}

func (p *Pipeline) destroyCatalogRows(labID string, s *DestroySummary) {
	if err := p.d.Catalog.CascadeDeleteLab(labID); err != nil {
		if errors.Is(err, util.ErrNotFound) {
			util.WithLab(labID).Debug("destroy: catalog rows already removed")
			return
		}
		s.fail("catalog", labID, err)
		return
	}
	s.ok("catalog")
}

func (p *Pipeline) destroyLabDirectory(labID string, s *DestroySummary) {
	dir := p.d.Layout.LabDir(labID)
	if err := os.RemoveAll(dir); err != nil {
		s.fail("lab-directory", labID, err)
		return
	}
	s.ok("lab-directory")
}

// SweepOrphanedLabs scans the labs directory for directories with no
// matching catalog row, used by the clean RPC when invoked without a
// specific lab_id (§4.I Clean variant).
func (p *Pipeline) SweepOrphanedLabs(ctx context.Context) (*DestroySummary, error) {
	entries, err := os.ReadDir(p.d.Layout.LabsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return (&DestroySummary{}).finish(), nil
		}
		return nil, err
	}

	summary := &DestroySummary{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		labID := e.Name()
		if _, err := p.d.Catalog.GetLab(labID); err == nil {
			continue
		}
		sub := p.destroyLab(ctx, labID)
		summary.Destroyed = append(summary.Destroyed, sub.Destroyed...)
		summary.Failed = append(summary.Failed, sub.Failed...)
		summary.Errors = append(summary.Errors, sub.Errors...)
		if sub.LabDirectoryDeleted {
			summary.LabDirectoryDeleted = true
		}
	}
	return summary.finish(), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
