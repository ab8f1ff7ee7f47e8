package defrag

// Algorithm identifies which defragmentation algorithm will be used for defrag passes
type Algorithm uint32

const (
	// AlgorithmFast indicates that the defragmentation run should only move regions out of later layers
	// into earlier ones. It does not compact regions within a layer, but requires fewer passes to
	// complete a full run.
	AlgorithmFast Algorithm = iota + 1
	// AlgorithmFull indicates that the defragmentation run should use an algorithm that is somewhat slower
	// than AlgorithmFast but will also move regions toward the top left of their own layer, allowing
	// subsequent passes to compact regions across layers using the space that was just freed up.
	//
	// This is the default algorithm if none is specified.
	AlgorithmFull
)

var algorithmMapping = map[Algorithm]string{
	AlgorithmFast: "AlgorithmFast",
	AlgorithmFull: "AlgorithmFull",
}

func (a Algorithm) String() string {
	return algorithmMapping[a]
}

// Stats contains basic metrics for defragmentation over time
type Stats struct {
	// AreaMoved is the number of texels that have been successfully relocated
	AreaMoved int
	// AllocationsMoved is the number of successful relocations
	AllocationsMoved int
	// LayersFreed is the number of layers that were left empty as a consequence of relocating
	// regions out of them
	LayersFreed int
}

func (s *Stats) Add(stats Stats) {
	s.AreaMoved += stats.AreaMoved
	s.AllocationsMoved += stats.AllocationsMoved
	s.LayersFreed += stats.LayersFreed
}
