// Package containerengine adapts Sherpa's container/network/image lifecycle
// needs (§4.G) onto the Docker Engine API, grounded on the teacher's
// DockerProvider-style client wrapper.
package containerengine

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Engine wraps a Docker client with Sherpa's container/network operations.
type Engine struct {
	cli *client.Client
}

func New() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("containerengine: new client: %w", err)
	}
	return &Engine{cli: cli}, nil
}

func (e *Engine) Close() error { return e.cli.Close() }

// RunSpec describes one container-backed node, built by the Up pipeline from
// a resolved node image plus the management-network attachment and the
// ordered list of additional link attachments.
type RunSpec struct {
	Name                 string
	Image                string
	Env                  []string
	Volumes              []string // "hostpath:containerpath"
	Caps                 []string
	Privileged           bool
	Command              []string
	ManagementNetwork    string
	ManagementIPv4       string
	AdditionalNetworks   []string // attached, in this order, after start
}

// AttachFailure records one post-start network attachment that failed
// without aborting the run; the destroy pipeline's RemoveContainer is the
// canonical cleanup, per §4.G.
type AttachFailure struct {
	Network string
	Err     error
}

func (f *AttachFailure) Error() string {
	return fmt.Sprintf("containerengine: attach %s: %v", f.Network, f.Err)
}

func (f *AttachFailure) Unwrap() error { return f.Err }

// RunContainer creates a container attached to exactly the management
// network, starts it, then attaches every additional network in manifest
// order so interface ordering inside the container matches the link order.
// Attachment failures are collected and returned rather than aborting.
func (e *Engine) RunContainer(ctx context.Context, spec RunSpec) (containerID string, attachFailures []AttachFailure, err error) {
	mounts := make([]string, 0, len(spec.Volumes))
	mounts = append(mounts, spec.Volumes...)

	hostConfig := &container.HostConfig{
		Binds:      mounts,
		CapAdd:     spec.Caps,
		Privileged: spec.Privileged,
	}

	netConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{},
	}
	if spec.ManagementNetwork != "" {
		ep := &network.EndpointSettings{}
		if spec.ManagementIPv4 != "" {
			ep.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: spec.ManagementIPv4}
		}
		netConfig.EndpointsConfig[spec.ManagementNetwork] = ep
	}

	resp, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image: spec.Image,
			Env:   spec.Env,
			Cmd:   spec.Command,
		},
		hostConfig,
		netConfig,
		nil,
		spec.Name,
	)
	if err != nil {
		if client.IsErrNotFound(err) {
			if pullErr := e.PullImage(ctx, spec.Image); pullErr != nil {
				return "", nil, fmt.Errorf("containerengine: pull %s after create miss: %w", spec.Image, pullErr)
			}
			resp, err = e.cli.ContainerCreate(ctx,
				&container.Config{Image: spec.Image, Env: spec.Env, Cmd: spec.Command},
				hostConfig, netConfig, nil, spec.Name)
		}
		if err != nil {
			return "", nil, fmt.Errorf("containerengine: create %s: %w", spec.Name, err)
		}
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return resp.ID, nil, fmt.Errorf("containerengine: start %s: %w", spec.Name, err)
	}

	var failures []AttachFailure
	for _, netName := range spec.AdditionalNetworks {
		if err := e.cli.NetworkConnect(ctx, netName, resp.ID, &network.EndpointSettings{}); err != nil {
			failures = append(failures, AttachFailure{Network: netName, Err: err})
		}
	}

	return resp.ID, failures, nil
}

// CreateBridgeNetwork creates a Docker-managed L3 bridge network with a
// fixed IPAM pool, used for container-container links where Docker itself
// should route between endpoints.
func (e *Engine) CreateBridgeNetwork(ctx context.Context, name, ipv4Prefix, bridgeName string) error {
	_, err := e.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: ipv4Prefix}},
		},
		Options: map[string]string{
			"com.docker.network.bridge.name": bridgeName,
		},
	})
	if err != nil {
		return fmt.Errorf("containerengine: create bridge network %s: %w", name, err)
	}
	return nil
}

// CreateMacvlanNetwork creates an L2-only, no-IPAM macvlan network over an
// existing host bridge, used to patch a container interface directly into a
// VM-side link.
func (e *Engine) CreateMacvlanNetwork(ctx context.Context, name, parentBridge string) error {
	_, err := e.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver: "macvlan",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: "0.0.0.0/32"}},
		},
		Options: map[string]string{
			"parent": parentBridge,
		},
		Internal: false,
	})
	if err != nil {
		return fmt.Errorf("containerengine: create macvlan network %s: %w", name, err)
	}
	return nil
}

func (e *Engine) KillContainer(ctx context.Context, id string) error {
	if err := e.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
		return fmt.Errorf("containerengine: kill %s: %w", id, err)
	}
	return nil
}

func (e *Engine) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := e.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("containerengine: remove %s: %w", id, err)
	}
	return nil
}

func (e *Engine) PullImage(ctx context.Context, ref string) error {
	r, err := e.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("containerengine: pull %s: %w", ref, err)
	}
	defer r.Close()
	_, err = io.Copy(io.Discard, r)
	return err
}

// SaveImage exports ref as an uncompressed tar stream to w, used by the
// admin image-catalog tooling to snapshot a locally-built image.
func (e *Engine) SaveImage(ctx context.Context, ref string, w io.Writer) error {
	r, err := e.cli.ImageSave(ctx, []string{ref})
	if err != nil {
		return fmt.Errorf("containerengine: save %s: %w", ref, err)
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

// ImageExists satisfies internal/topology.ContainerImageChecker.
func (e *Engine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("containerengine: inspect image %s: %w", ref, err)
}

// ListByLabel returns container IDs carrying the given label=value pair,
// used by the destroy pipeline's lab-scoped sweep.
func (e *Engine) ListByLabel(ctx context.Context, label, value string) ([]string, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", label, value))
	containers, err := e.cli.ContainerList(ctx, types.ContainerListOptions{Filters: f, All: true})
	if err != nil {
		return nil, fmt.Errorf("containerengine: list by label %s=%s: %w", label, value, err)
	}
	ids := make([]string, len(containers))
	for i, c := range containers {
		ids[i] = c.ID
	}
	return ids, nil
}

func (e *Engine) RemoveNetwork(ctx context.Context, name string) error {
	if err := e.cli.NetworkRemove(ctx, name); err != nil {
		return fmt.Errorf("containerengine: remove network %s: %w", name, err)
	}
	return nil
}
