package atlas

import (
	"fmt"

	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// AllocationKind distinguishes allocations that share a layer from those that own it
type AllocationKind uint8

const (
	// AllocationPartial is a region carved out of a busy layer
	AllocationPartial AllocationKind = iota
	// AllocationFull covers an entire layer
	AllocationFull
)

var allocationKindMapping = map[AllocationKind]string{
	AllocationPartial: "Partial",
	AllocationFull:    "Full",
}

func (k AllocationKind) String() string {
	return allocationKindMapping[k]
}

// Allocation is a rectangle of texels reserved in a single layer of the atlas
type Allocation struct {
	kind   AllocationKind
	layer  int
	region metadata.Region
	handle metadata.BlockAllocationHandle
}

func (a Allocation) Kind() AllocationKind { return a.kind }

// Layer returns the index of the layer holding this allocation
func (a Allocation) Layer() int { return a.layer }

// Position returns the top left corner of the allocation within its layer. Full allocations
// are always at (0,0).
func (a Allocation) Position() (x, y int) { return a.region.X, a.region.Y }

// Size returns the dimensions of the allocation. Full allocations are always the size of a layer.
func (a Allocation) Size() (width, height int) { return a.region.Width, a.region.Height }

func (a Allocation) Region() metadata.Region { return a.region }

func (a Allocation) String() string {
	return fmt.Sprintf("%s(layer %d, %s)", a.kind, a.layer, a.region)
}
