// Package ifreg is the interface registry: for every supported node model it
// holds the ordered vocabulary of interface names a device of that model
// admits, and converts between a name and its zero-based index.
package ifreg

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Model is a closed enumeration of device families Sherpa can provision.
// It is the single source of truth for "the superset of supported models" —
// the image catalog and the ZTP generator both range over this const block
// rather than declaring their own lists.
type Model string

const (
	ModelAristaVEOS    Model = "arista_veos"
	ModelAristaCEOS    Model = "arista_ceos"
	ModelArubaAOSCX    Model = "aruba_aoscx"
	ModelCumulusLinux  Model = "cumulus_linux"
	ModelCiscoIOS      Model = "cisco_ios"
	ModelCiscoIOSXE    Model = "cisco_iosxe"
	ModelJuniperVEvo   Model = "juniper_vevo"
	ModelLinuxHost     Model = "linux_host"
)

// IsValid reports whether m is a recognized model.
func (m Model) IsValid() bool {
	_, ok := registry[m]
	return ok
}

func (m Model) String() string { return string(m) }

// vocabulary describes one model's interface naming scheme: a management
// interface name (never eligible as a link endpoint) plus an ordered list of
// data-plane interface names, index 0 .. len-1.
type vocabulary struct {
	mgmt  string
	idata []string
}

var registry = map[Model]vocabulary{
	ModelAristaVEOS: {
		mgmt:  "Management1",
		idata: numbered("Ethernet%d", 1, 48),
	},
	ModelAristaCEOS: {
		mgmt:  "Management0",
		idata: numbered("eth%d", 1, 32),
	},
	ModelArubaAOSCX: {
		mgmt:  "mgmt",
		idata: numbered("1/1/%d", 1, 48),
	},
	ModelCumulusLinux: {
		mgmt:  "eth0",
		idata: numbered("swp%d", 1, 32),
	},
	ModelCiscoIOS: {
		mgmt:  "GigabitEthernet0/0",
		idata: numberedSlash("GigabitEthernet0/%d", 1, 16),
	},
	ModelCiscoIOSXE: {
		mgmt:  "GigabitEthernet1",
		idata: numbered("GigabitEthernet%d", 2, 16),
	},
	ModelJuniperVEvo: {
		mgmt:  "fxp0",
		idata: juniperPorts(16),
	},
	ModelLinuxHost: {
		mgmt:  "eth0",
		idata: numbered("eth%d", 1, 16),
	},
}

func numbered(format string, from, count int) []string {
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = fmt.Sprintf(format, from+i)
	}
	return out
}

func numberedSlash(format string, from, count int) []string {
	return numbered(format, from, count)
}

func juniperPorts(count int) []string {
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = fmt.Sprintf("ge-0/0/%d", i)
	}
	return out
}

// interfaceNameGrammar is the admissible shape for any interface name this
// registry deals with: an optional alphabetic prefix followed by one or more
// slash-separated numeric components (e.g. "Ethernet0", "1/1/48",
// "ge-0/0/3"). Confirmed against original_source's
// crates/shared/src/util/interface.rs and carried over from the teacher's
// own pkg/util/derive.go parseInterfaceRegexp.
var interfaceNameGrammar = regexp.MustCompile(`^(?:[A-Za-z][A-Za-z0-9_-]*)?[0-9]+(?:/[0-9]+)*$`)

// ErrUnknownInterface, ErrIndexOutOfRange and ErrUnknownModel are the
// registry's three failure modes; kept as its own typed errors rather than
// util's generic NotFound family because the registry is pure data with no
// catalog-style identity.
type ErrUnknownInterface struct {
	Model Model
	Name  string
}

func (e *ErrUnknownInterface) Error() string {
	return fmt.Sprintf("interface %q is not admissible for model %s", e.Name, e.Model)
}

type ErrIndexOutOfRange struct {
	Model Model
	Index int
}

func (e *ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("interface index %d is out of range for model %s", e.Index, e.Model)
}

type ErrUnknownModel struct {
	Model Model
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}

// ToIndex converts a data-plane interface name to its zero-based index for
// the given model. The management interface and unrecognized names both
// fail with ErrUnknownInterface.
func ToIndex(model Model, name string) (int, error) {
	v, ok := registry[model]
	if !ok {
		return 0, &ErrUnknownModel{Model: model}
	}
	for i, n := range v.idata {
		if n == name {
			return i, nil
		}
	}
	return 0, &ErrUnknownInterface{Model: model, Name: name}
}

// FromIndex is ToIndex's inverse.
func FromIndex(model Model, idx int) (string, error) {
	v, ok := registry[model]
	if !ok {
		return "", &ErrUnknownModel{Model: model}
	}
	if idx < 0 || idx >= len(v.idata) {
		return "", &ErrIndexOutOfRange{Model: model, Index: idx}
	}
	return v.idata[idx], nil
}

// AllInterfaces returns the model's full data-plane vocabulary, in index
// order. The returned slice is a copy; callers may not mutate the registry.
func AllInterfaces(model Model) ([]string, error) {
	v, ok := registry[model]
	if !ok {
		return nil, &ErrUnknownModel{Model: model}
	}
	out := make([]string, len(v.idata))
	copy(out, v.idata)
	return out, nil
}

// ManagementInterface returns the reserved management interface name for
// model, which is never a valid link endpoint.
func ManagementInterface(model Model) (string, error) {
	v, ok := registry[model]
	if !ok {
		return "", &ErrUnknownModel{Model: model}
	}
	return v.mgmt, nil
}

// IsAdmissible reports whether name is a valid, non-management interface for
// model — the check the topology validator (§4.R) uses on every link
// endpoint.
func IsAdmissible(model Model, name string) bool {
	if !interfaceNameGrammar.MatchString(name) {
		return false
	}
	v, ok := registry[model]
	if !ok {
		return false
	}
	if name == v.mgmt {
		return false
	}
	_, err := ToIndex(model, name)
	return err == nil
}

// ParseNumericSuffix extracts the trailing slash-separated numeric component
// sequence of an interface name, e.g. "1/1/48" -> []int{1,1,48}. It is used
// by image-catalog admissibility checks that only care about an interface's
// position, not its exact string form.
func ParseNumericSuffix(name string) ([]int, bool) {
	if !interfaceNameGrammar.MatchString(name) {
		return nil, false
	}
	idx := strings.IndexAny(name, "0123456789")
	if idx < 0 {
		return nil, false
	}
	parts := strings.Split(name[idx:], "/")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// AllModels returns every model known to the registry, used to range over
// "the correct superset of supported models" per the Open Question
// resolution recorded in DESIGN.md.
func AllModels() []Model {
	out := make([]Model, 0, len(registry))
	for m := range registry {
		out = append(out, m)
	}
	return out
}
