package metadata

// AllocationStrategy exposes several options for choosing the location of a new region.
// If none is chosen, AllocationStrategyMinMemory is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the free region that leaves the least unused area behind,
	// possibly at the expense of allocation time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the first suitable free region that is found, possibly at the
	// expense of packing quality
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset selects the free region closest to the top left of the layer, scanning
	// row by row. This is the slowest strategy but keeps the layer tightly packed toward its origin.
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	if s == 0 {
		return "Default"
	}
	return allocationStrategyMapping[s]
}
