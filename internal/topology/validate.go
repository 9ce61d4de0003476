package topology

import (
	"context"
	"os"

	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/ifreg"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

// ContainerImageChecker reports whether a "repo:version" reference is
// present in the local container engine, satisfied by internal/containerengine.
type ContainerImageChecker interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
}

// ResolvedNode is a manifest node with its catalog image resolved.
type ResolvedNode struct {
	Manifest ManifestNode
	Image    *catalog.NodeImage
}

// ResolvedLink is a manifest link with its endpoints split out.
type ResolvedLink struct {
	Manifest ManifestLink
	A, B     Endpoint
	Kind     catalog.LinkKind
}

// Resolved is the validated, catalog-joined manifest the up pipeline's later
// phases consume.
type Resolved struct {
	Name  string
	Nodes []ResolvedNode
	Links []ResolvedLink
}

// Validate runs every §4.R pre-pipeline check against m. It performs no
// mutation: images, layout, and containers are read-only collaborators.
func Validate(ctx context.Context, m *Manifest, images *catalog.Store, layout config.Layout, containers ContainerImageChecker) (*Resolved, error) {
	v := &util.ValidationBuilder{}

	seenNames := map[string]bool{}
	nodeByName := map[string]ManifestNode{}
	for _, n := range m.Nodes {
		if !nameGrammar(n.Name) {
			v.AddErrorf("node %q: name must be 1-63 chars of [a-zA-Z0-9-]", n.Name)
			continue
		}
		if seenNames[n.Name] {
			v.AddErrorf("node %q: duplicate node name", n.Name)
			continue
		}
		seenNames[n.Name] = true
		nodeByName[n.Name] = n
	}

	resolved := &Resolved{Name: m.Name}
	linkCount := map[string]int{}

	for _, n := range m.Nodes {
		if !seenNames[n.Name] {
			continue // already reported as malformed/duplicate
		}
		if !validModel(n.Model) {
			v.AddErrorf("node %q: unknown model %q", n.Name, n.Model)
			continue
		}
		model := ifreg.Model(n.Model)
		kind, ok := ImageKindFor(model)
		if !ok {
			v.AddErrorf("node %q: model %q has no catalog image kind mapping", n.Name, n.Model)
			continue
		}

		var img *catalog.NodeImage
		var err error
		if n.Version != "" {
			img, err = images.GetImageByVersion(model, kind, n.Version)
		} else {
			img, err = images.GetDefaultImage(model, kind)
		}
		if err != nil {
			v.AddErrorf("node %q: no resolvable image for model %q version %q: %v", n.Name, n.Model, n.Version, err)
			continue
		}

		switch kind {
		case catalog.ImageVM:
			path := layout.ImageDiskPath(string(model), img.Version)
			if _, err := os.Stat(path); err != nil {
				v.AddErrorf("node %q: VM disk not found at %s", n.Name, path)
				continue
			}
		case catalog.ImageContainer:
			ref := img.ContainerRepo + ":" + img.Version
			if containers == nil {
				v.AddErrorf("node %q: no container engine available to check image %s", n.Name, ref)
				continue
			}
			present, err := containers.ImageExists(ctx, ref)
			if err != nil {
				v.AddErrorf("node %q: checking container image %s: %v", n.Name, ref, err)
				continue
			}
			if !present {
				v.AddErrorf("node %q: container image %s not present locally", n.Name, ref)
				continue
			}
		}

		resolved.Nodes = append(resolved.Nodes, ResolvedNode{Manifest: n, Image: img})
	}

	type epKey struct{ node, iface string }
	seenEndpoints := map[epKey]bool{}

	for _, l := range m.Links {
		a, errA := parseEndpoint(l.Src)
		b, errB := parseEndpoint(l.Dst)
		if errA != nil {
			v.AddError(errA.Error())
			continue
		}
		if errB != nil {
			v.AddError(errB.Error())
			continue
		}

		na, okA := nodeByName[a.Node]
		nb, okB := nodeByName[b.Node]
		if !okA {
			v.AddErrorf("link %s->%s: unknown node %q", l.Src, l.Dst, a.Node)
			continue
		}
		if !okB {
			v.AddErrorf("link %s->%s: unknown node %q", l.Src, l.Dst, b.Node)
			continue
		}

		if a.Node == b.Node && a.Interface == b.Interface {
			v.AddErrorf("link %s->%s: an interface cannot link to itself", l.Src, l.Dst)
			continue
		}

		modelA, modelB := ifreg.Model(na.Model), ifreg.Model(nb.Model)
		if !ifreg.IsAdmissible(modelA, a.Interface) {
			v.AddErrorf("link %s->%s: interface %q not admissible for model %q", l.Src, l.Dst, a.Interface, na.Model)
		}
		if !ifreg.IsAdmissible(modelB, b.Interface) {
			v.AddErrorf("link %s->%s: interface %q not admissible for model %q", l.Src, l.Dst, b.Interface, nb.Model)
		}

		keyA, keyB := epKey{a.Node, a.Interface}, epKey{b.Node, b.Interface}
		if seenEndpoints[keyA] {
			v.AddErrorf("link %s->%s: (%s, %s) already used by another link", l.Src, l.Dst, a.Node, a.Interface)
		}
		if seenEndpoints[keyB] {
			v.AddErrorf("link %s->%s: (%s, %s) already used by another link", l.Src, l.Dst, b.Node, b.Interface)
		}
		seenEndpoints[keyA] = true
		seenEndpoints[keyB] = true
		linkCount[a.Node]++
		linkCount[b.Node]++

		kind := catalog.LinkKind(l.Kind)
		switch kind {
		case catalog.LinkP2PBridge, catalog.LinkP2PVeth, catalog.LinkP2PUDP:
		default:
			v.AddErrorf("link %s->%s: unknown kind %q", l.Src, l.Dst, l.Kind)
			continue
		}

		resolved.Links = append(resolved.Links, ResolvedLink{Manifest: l, A: a, B: b, Kind: kind})
	}

	for _, rn := range resolved.Nodes {
		img := rn.Image
		budget := img.InterfaceCount - img.ReservedInterfaceCount - rn.Manifest.ReservedInterfaces
		if used := linkCount[rn.Manifest.Name]; used > budget {
			v.AddErrorf("node %q: %d links exceed interface budget of %d", rn.Manifest.Name, used, budget)
		}
	}

	if v.HasErrors() {
		return nil, v.Build()
	}
	return resolved, nil
}
