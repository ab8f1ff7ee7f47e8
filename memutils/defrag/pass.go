package defrag

import "fmt"

// PassContext is an object used to track data for the current defragmentation
// pass across multiple relocations
type PassContext struct {
	// Algorithm is the defragmentation algorithm that should be used. If 0, AlgorithmFull is used.
	Algorithm Algorithm
	// MaxPassArea is the maximum number of texels to relocate in each pass. There is no guarantee that
	// this many texels will actually be relocated in any given pass, based on how easy it is to find additional
	// relocations to fit within the budget. If 0, there is no limit.
	MaxPassArea int
	// MaxPassAllocations is the maximum number of relocations to perform in each pass. There is no guarantee
	// that this many regions will actually be relocated in any given pass. Each relocation is a copy the
	// caller must perform before the pass completes, so this value can be used to bound the work done
	// per frame. If 0, there is no limit.
	MaxPassAllocations int
	// Stats contains statistics for the current pass, such as texels moved,
	// relocations performed, etc.
	Stats         Stats
	ignoredAllocs int
}

const defragMaxAllocsToIgnore = 16

// Reset prepares the context for a new pass
func (p *PassContext) Reset() {
	if p.Algorithm == 0 {
		p.Algorithm = AlgorithmFull
	}

	p.Stats = Stats{}
	p.ignoredAllocs = 0
}

// CheckCounters reports whether relocating a region of the provided area would fit in the
// remaining budget for this pass
func (p *PassContext) CheckCounters(area int) CounterStatus {
	// Ignore allocation if it will exceed max area for copy
	if p.MaxPassArea > 0 && p.Stats.AreaMoved+area > p.MaxPassArea {
		p.ignoredAllocs++
		if p.ignoredAllocs < defragMaxAllocsToIgnore {
			return CounterIgnore
		} else {
			return CounterEnd
		}
	} else {
		p.ignoredAllocs = 0
	}

	return CounterPass
}

// IncrementCounters records a relocation of the provided area and returns true if the pass
// has reached its budget
func (p *PassContext) IncrementCounters(area int) bool {
	p.Stats.AreaMoved += area
	p.Stats.AllocationsMoved++

	allocsReached := p.MaxPassAllocations > 0 && p.Stats.AllocationsMoved >= p.MaxPassAllocations
	areaReached := p.MaxPassArea > 0 && p.Stats.AreaMoved >= p.MaxPassArea

	// Early return when max found
	if allocsReached || areaReached {
		if p.Stats.AllocationsMoved != p.MaxPassAllocations && p.Stats.AreaMoved != p.MaxPassArea {
			panic(fmt.Sprintf("somehow passed maximum pass thresholds: area %d, allocs %d", p.Stats.AreaMoved, p.Stats.AllocationsMoved))
		}

		return true
	}

	return false
}
