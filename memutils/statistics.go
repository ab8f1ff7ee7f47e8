package memutils

import "math"

// Statistics is a cheap summary of how much of a set of layers is in use. Areas are
// measured in texels.
type Statistics struct {
	LayerCount      int
	AllocationCount int
	LayerArea       int
	AllocationArea  int
}

func (s *Statistics) Clear() {
	s.LayerCount = 0
	s.AllocationCount = 0
	s.LayerArea = 0
	s.AllocationArea = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.LayerCount += other.LayerCount
	s.AllocationCount += other.AllocationCount
	s.LayerArea += other.LayerArea
	s.AllocationArea += other.AllocationArea
}

// DetailedStatistics extends Statistics with the extremes of allocated and unused region areas.
// Call Clear before accumulating into a fresh value, the minimums start at math.MaxInt.
type DetailedStatistics struct {
	Statistics
	UnusedRegionCount   int
	AllocationAreaMin   int
	AllocationAreaMax   int
	UnusedRegionAreaMin int
	UnusedRegionAreaMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRegionCount = 0
	s.AllocationAreaMin = math.MaxInt
	s.AllocationAreaMax = 0
	s.UnusedRegionAreaMin = math.MaxInt
	s.UnusedRegionAreaMax = 0
}

func (s *DetailedStatistics) AddUnusedRegion(area int) {
	s.UnusedRegionCount++

	if area < s.UnusedRegionAreaMin {
		s.UnusedRegionAreaMin = area
	}

	if area > s.UnusedRegionAreaMax {
		s.UnusedRegionAreaMax = area
	}
}

func (s *DetailedStatistics) AddAllocation(area int) {
	s.AllocationCount++
	s.AllocationArea += area

	if area < s.AllocationAreaMin {
		s.AllocationAreaMin = area
	}

	if area > s.AllocationAreaMax {
		s.AllocationAreaMax = area
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRegionCount += other.UnusedRegionCount

	if other.UnusedRegionAreaMin < s.UnusedRegionAreaMin {
		s.UnusedRegionAreaMin = other.UnusedRegionAreaMin
	}

	if other.UnusedRegionAreaMax > s.UnusedRegionAreaMax {
		s.UnusedRegionAreaMax = other.UnusedRegionAreaMax
	}

	if other.AllocationAreaMin < s.AllocationAreaMin {
		s.AllocationAreaMin = other.AllocationAreaMin
	}

	if other.AllocationAreaMax > s.AllocationAreaMax {
		s.AllocationAreaMax = other.AllocationAreaMax
	}
}
