package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/atlas/memutils"
)

// RegionMetadata manages the free and allocated space of a single square layer. It hands out
// non-overlapping rectangles, allowing them to be requested and freed, as well as enumerated and
// queried.
type RegionMetadata interface {
	// Init must be called before the RegionMetadata is used. It gives the implementation an opportunity
	// to ensure that metadata structures are prepared for allocations, as well as informs the implementation
	// of the edge length in texels of the square layer it will be managing, via the size parameter.
	Init(size int)
	// Size retrieves the edge length that the layer was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive, depending
	// on the implementation. When the implementation is functioning correctly, it should not be possible
	// for this method to return an error, but this may assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of regions currently live in the implementation. This number
	// should generally be the number of successful allocations minus the number of successful frees.
	AllocationCount() int
	// FreeRegionsCount returns the number of distinct free rectangles tracked by the implementation.
	FreeRegionsCount() int
	// SumFreeArea returns the number of texels that can still be handed out.
	SumFreeArea() int
	// MayHaveFreeRegion should return a heuristic indicating whether the layer could possibly hold a new
	// region of the provided dimensions. It must be fast and must not produce false negatives. False
	// positives are ok.
	MayHaveFreeRegion(width, height int) bool

	// IsEmpty will return true if this layer has no live regions
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocated and free region in
	// the layer. Depending on implementation, this can be slow and should generally not
	// be done except for diagnostic purposes.
	VisitAllRegions(handleRegion func(handle BlockAllocationHandle, region Region, free bool) error) error
	// AllocationRegion accepts a BlockAllocationHandle that maps to a live allocation within the layer
	// and returns the rectangle it occupies.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation.
	AllocationRegion(allocHandle BlockAllocationHandle) (Region, error)

	// AddDetailedStatistics sums this layer's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this layer's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this layer
	BlockJsonData(json jwriter.ObjectState)

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place a region of the requested dimensions. That object can be passed to Alloc to commit the
	// allocation. The boolean return value is false when no free space can hold the region; an error is
	// only returned for invalid dimensions.
	CreateAllocationRequest(width, height int, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, creating the region within the layer. The implementation
	// must return an error if the request is no longer valid- i.e. the targeted free region no longer exists,
	// is not free, has moved, or is no longer large enough to hold the request.
	Alloc(request AllocationRequest) error

	// Free frees a region within the layer, causing it to become free space once again.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this layer.
	Free(allocHandle BlockAllocationHandle) error
}

// RegionMetadataBase is a simple struct that provides a few shared utilities for RegionMetadata
// implementations in the memutils module.
type RegionMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the layer based on the parameter size.
func (m *RegionMetadataBase) Init(size int) {
	memutils.DebugCheckPow2(size, "size")
	m.size = size
}

// Size returns the edge length of the layer in texels
func (m *RegionMetadataBase) Size() int { return m.size }

// PrintDetailedMapHeader populates a json object with the summary fields shared by every implementation
func (m *RegionMetadataBase) PrintDetailedMapHeader(json jwriter.ObjectState, algorithm string, unusedArea, allocationCount, unusedRegionCount int) {
	json.Name("Algorithm").String(algorithm)
	json.Name("Size").Int(m.size)
	json.Name("TotalArea").Int(m.size * m.size)
	json.Name("UnusedArea").Int(unusedArea)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRegions").Int(unusedRegionCount)
}
