package atlas

import (
	"fmt"

	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// LayerState describes how a layer of the atlas is being used
type LayerState uint8

const (
	// LayerEmpty layers hold no allocations and no region allocator
	LayerEmpty LayerState = iota
	// LayerBusy layers hold one or more partial allocations managed by a region allocator
	LayerBusy
	// LayerFull layers are occupied by a single allocation covering the whole layer
	LayerFull
)

var layerStateMapping = map[LayerState]string{
	LayerEmpty: "Empty",
	LayerBusy:  "Busy",
	LayerFull:  "Full",
}

func (s LayerState) String() string {
	return layerStateMapping[s]
}

// Layer is one square slice of the atlas texture array. Layers are passed to backends during
// growth so they can tell which layers hold data worth preserving.
type Layer struct {
	state    LayerState
	metadata metadata.RegionMetadata

	// owner is the entry holding a full layer
	owner *Entry
}

func (l Layer) State() LayerState { return l.state }
func (l Layer) IsEmpty() bool     { return l.state == LayerEmpty }

// AllocationCount returns the number of live allocations placed in this layer
func (l Layer) AllocationCount() int {
	switch l.state {
	case LayerBusy:
		return l.metadata.AllocationCount()
	case LayerFull:
		return 1
	default:
		return 0
	}
}

func (l Layer) String() string {
	if l.state == LayerBusy {
		return fmt.Sprintf("Busy(%d allocations)", l.metadata.AllocationCount())
	}
	return l.state.String()
}

func (l Layer) addStatistics(stats *memutils.Statistics, size int) {
	switch l.state {
	case LayerBusy:
		l.metadata.AddStatistics(stats)
	case LayerFull:
		stats.LayerCount++
		stats.LayerArea += size * size
		stats.AllocationCount++
		stats.AllocationArea += size * size
	default:
		stats.LayerCount++
		stats.LayerArea += size * size
	}
}

func (l Layer) addDetailedStatistics(stats *memutils.DetailedStatistics, size int) {
	switch l.state {
	case LayerBusy:
		l.metadata.AddDetailedStatistics(stats)
	case LayerFull:
		stats.LayerCount++
		stats.LayerArea += size * size
		stats.AddAllocation(size * size)
	default:
		stats.LayerCount++
		stats.LayerArea += size * size
		stats.AddUnusedRegion(size * size)
	}
}
