package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestGuillotine indicates that the allocation request was sourced from metadata.GuillotineMetadata
	AllocationRequestGuillotine AllocationRequestType = iota
	// AllocationRequestShelf indicates that the allocation request was sourced from metadata.ShelfMetadata
	// and will be placed in a free span of an existing shelf
	AllocationRequestShelf
	// AllocationRequestNewShelf indicates that the allocation request was sourced from metadata.ShelfMetadata
	// and will open a new shelf below the existing ones
	AllocationRequestNewShelf
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestGuillotine: "Guillotine",
	AllocationRequestShelf:      "Shelf",
	AllocationRequestNewShelf:   "NewShelf",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from RegionMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to place a new region. It can be committed to the metadata with RegionMetadata.Alloc,
// after which BlockAllocationHandle identifies the allocated region.
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Region is the exact rectangle the allocation will occupy
	Region Region
	// Type identifies the sort of allocation this request represents (and can be used
	// to identify the RegionMetadata implementation used to generate this request).
	Type AllocationRequestType

	// AlgorithmData is arbitrary data used by the RegionMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}
