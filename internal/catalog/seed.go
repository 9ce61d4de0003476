package catalog

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bwks/sherpa-sub001/internal/ifreg"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

// SeedImage is one entry of the boot-time built-in image catalog seed
// (config/images.seed.yaml), distinct from the per-RPC TOML lab manifest.
type SeedImage struct {
	Model                  string `yaml:"model"`
	Version                string `yaml:"version"`
	Kind                   string `yaml:"kind"`
	CPUCount               int    `yaml:"cpu_count"`
	CPUArch                string `yaml:"cpu_arch"`
	CPUModel               string `yaml:"cpu_model"`
	MemoryMB               int    `yaml:"memory_mb"`
	BIOS                   string `yaml:"bios"`
	MachineType            string `yaml:"machine_type"`
	DiskBus                string `yaml:"disk_bus"`
	CDROMBus               string `yaml:"cdrom_bus"`
	InterfacePrefix        string `yaml:"interface_prefix"`
	InterfaceCount         int    `yaml:"interface_count"`
	FirstInterfaceIndex    int    `yaml:"first_interface_index"`
	DedicatedManagement    bool   `yaml:"dedicated_management"`
	ManagementInterface    string `yaml:"management_interface"`
	ReservedInterfaceCount int    `yaml:"reserved_interface_count"`
	IsDefault              bool   `yaml:"is_default"`
	ContainerRepo          string `yaml:"container_repo"`
	ZTPMethod              string `yaml:"ztp_method"`
}

// LoadSeedFile parses a images.seed.yaml document into its entries. A
// missing file is not an error: the seed is optional ambient bootstrap,
// not a requirement for the daemon to run.
func LoadSeedFile(path string) ([]SeedImage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc struct {
		Images []SeedImage `yaml:"images"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Images, nil
}

// ApplySeed upserts each seed entry that has no matching (model, kind,
// version) row yet. Existing rows — whether from a prior seed or an
// operator's own image.import — are left untouched, so re-running the seed
// on every boot never clobbers a locally customized image record.
func (s *Store) ApplySeed(images []SeedImage) (int, error) {
	applied := 0
	for _, si := range images {
		model := ifreg.Model(si.Model)
		kind := ImageKind(si.Kind)

		_, err := s.GetImageByVersion(model, kind, si.Version)
		if err == nil {
			continue
		}
		if !errors.Is(err, util.ErrNotFound) {
			return applied, err
		}

		img := &NodeImage{
			Model:                  model,
			Version:                si.Version,
			Kind:                   kind,
			CPUCount:               si.CPUCount,
			CPUArch:                si.CPUArch,
			CPUModel:               si.CPUModel,
			MemoryMB:               si.MemoryMB,
			BIOS:                   si.BIOS,
			MachineType:            si.MachineType,
			DiskBus:                si.DiskBus,
			CDROMBus:               si.CDROMBus,
			InterfacePrefix:        si.InterfacePrefix,
			InterfaceCount:         si.InterfaceCount,
			FirstInterfaceIndex:    si.FirstInterfaceIndex,
			DedicatedManagement:    si.DedicatedManagement,
			ManagementInterface:    si.ManagementInterface,
			ReservedInterfaceCount: si.ReservedInterfaceCount,
			IsDefault:              si.IsDefault,
			ContainerRepo:          si.ContainerRepo,
			ZTPMethod:              si.ZTPMethod,
		}
		if _, err := s.CreateImage(img); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
