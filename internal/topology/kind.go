package topology

import (
	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/ifreg"
)

// imageKindFor maps a model to the catalog image kind it is provisioned as.
// The manifest names only a model; the kind it resolves to in the catalog is
// fixed per model, not a manifest choice.
var imageKindFor = map[ifreg.Model]catalog.ImageKind{
	ifreg.ModelAristaVEOS:   catalog.ImageVM,
	ifreg.ModelAristaCEOS:   catalog.ImageContainer,
	ifreg.ModelArubaAOSCX:   catalog.ImageVM,
	ifreg.ModelCumulusLinux: catalog.ImageContainer,
	ifreg.ModelCiscoIOS:     catalog.ImageVM,
	ifreg.ModelCiscoIOSXE:   catalog.ImageVM,
	ifreg.ModelJuniperVEvo:  catalog.ImageVM,
	ifreg.ModelLinuxHost:    catalog.ImageContainer,
}

// ImageKindFor resolves model to its fixed catalog image kind, failing for
// an unrecognized model.
func ImageKindFor(model ifreg.Model) (catalog.ImageKind, bool) {
	k, ok := imageKindFor[model]
	return k, ok
}
