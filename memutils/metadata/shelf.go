package metadata

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/atlas/memutils"
	"golang.org/x/exp/slices"
)

var shelfItemAllocator = sync.Pool{
	New: func() any {
		return &shelfItem{}
	},
}

// shelfItem is a horizontal span of a shelf. Allocated items remember the height that was
// requested, free items always span the full shelf height.
type shelfItem struct {
	x      int
	width  int
	height int
	free   bool

	shelf *shelf
	prev  *shelfItem
	next  *shelfItem

	handle BlockAllocationHandle
}

type shelf struct {
	y      int
	height int
	first  *shelfItem
}

func (s *shelf) isEmpty() bool {
	return s.first.free && s.first.next == nil
}

// ShelfMetadata is a RegionMetadata implementation that stacks rows ("shelves") from the top of
// the layer downward. Regions are placed side by side in the shelf whose height matches theirs
// most closely. It packs images of similar height tightly and allocates quickly, but wastes the
// space between a short region and the top of its shelf.
type ShelfMetadata struct {
	RegionMetadataBase

	allocCount     int
	freeItemCount  int
	freeItemArea   int
	allocatedArea  int
	shelfTolerance int

	nextAllocationHandle BlockAllocationHandle
	handleKey            *swiss.Map[BlockAllocationHandle, *shelfItem]
	shelves              []*shelf
}

var _ RegionMetadata = &ShelfMetadata{}

// NewShelfMetadata creates a shelf allocator. Regions are only placed in existing shelves that are
// at most tolerancePercent taller than the region, unless no new shelf can be opened. A tolerance of
// 0 selects the default of 25%.
func NewShelfMetadata(tolerancePercent int) *ShelfMetadata {
	if tolerancePercent <= 0 {
		tolerancePercent = 25
	}

	return &ShelfMetadata{
		shelfTolerance: tolerancePercent,
	}
}

func (m *ShelfMetadata) allocateItem(s *shelf, x, width int) *shelfItem {
	item := shelfItemAllocator.Get().(*shelfItem)
	item.x = x
	item.width = width
	item.height = 0
	item.free = true
	item.shelf = s
	item.prev = nil
	item.next = nil
	item.handle = BlockAllocationHandle(atomic.AddUint64((*uint64)(&m.nextAllocationHandle), 1))
	m.handleKey.Put(item.handle, item)
	return item
}

func (m *ShelfMetadata) freeItem(item *shelfItem) {
	m.handleKey.Delete(item.handle)
	item.shelf = nil
	item.prev = nil
	item.next = nil
	shelfItemAllocator.Put(item)
}

func (m *ShelfMetadata) getItem(handle BlockAllocationHandle) (*shelfItem, error) {
	item, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.New("received a handle that was incompatible with this metadata")
	}
	return item, nil
}

func (m *ShelfMetadata) Init(size int) {
	m.RegionMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *shelfItem](42)
	m.shelves = nil
}

// bottom is the y coordinate of the first row below every shelf
func (m *ShelfMetadata) bottom() int {
	if len(m.shelves) == 0 {
		return 0
	}

	last := m.shelves[len(m.shelves)-1]
	return last.y + last.height
}

func (m *ShelfMetadata) AllocationCount() int { return m.allocCount }
func (m *ShelfMetadata) IsEmpty() bool        { return m.allocCount == 0 }

func (m *ShelfMetadata) FreeRegionsCount() int {
	if m.bottom() < m.size {
		return m.freeItemCount + 1
	}
	return m.freeItemCount
}

func (m *ShelfMetadata) SumFreeArea() int {
	return m.freeItemArea + (m.size-m.bottom())*m.size
}

func (m *ShelfMetadata) MayHaveFreeRegion(width, height int) bool {
	return width <= m.size && height <= m.size && width*height <= m.SumFreeArea()
}

func (m *ShelfMetadata) tolerates(s *shelf, height int) bool {
	return s.height >= height && s.height*100 <= height*(100+m.shelfTolerance)
}

// findSpan returns the first free item in the shelf at least width texels wide
func (m *ShelfMetadata) findSpan(s *shelf, width int) *shelfItem {
	for item := s.first; item != nil; item = item.next {
		if item.free && item.width >= width {
			return item
		}
	}

	return nil
}

func (m *ShelfMetadata) CreateAllocationRequest(width, height int, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if width < 1 || height < 1 {
		return false, allocRequest, errors.Errorf("invalid region size: %dx%d", width, height)
	}

	memutils.DebugValidate(m)

	if !m.MayHaveFreeRegion(width, height) {
		return false, allocRequest, nil
	}

	var found *shelfItem
	if strategy&AllocationStrategyMinOffset != 0 {
		// Shelves are ordered top to bottom, so the first fit is the lowest offset
		for _, s := range m.shelves {
			if s.height >= height {
				if found = m.findSpan(s, width); found != nil {
					break
				}
			}
		}
	} else {
		for _, s := range m.shelves {
			if !m.tolerates(s, height) {
				continue
			}

			item := m.findSpan(s, width)
			if item == nil {
				continue
			}

			if strategy&AllocationStrategyMinTime != 0 {
				found = item
				break
			}
			if found == nil || s.height < found.shelf.height {
				found = item
			}
		}
	}

	if found == nil && m.bottom()+height <= m.size {
		// The first span of the new shelf will take the next handle
		allocRequest.Type = AllocationRequestNewShelf
		allocRequest.BlockAllocationHandle = m.nextAllocationHandle + 1
		allocRequest.Region = Region{X: 0, Y: m.bottom(), Width: width, Height: height}
		return true, allocRequest, nil
	}

	if found == nil {
		// No room for a new shelf, settle for the shortest shelf that is tall enough
		for _, s := range m.shelves {
			if s.height < height || (found != nil && s.height >= found.shelf.height) {
				continue
			}

			if item := m.findSpan(s, width); item != nil {
				found = item
			}
		}
	}

	if found == nil {
		return false, allocRequest, nil
	}

	allocRequest.Type = AllocationRequestShelf
	allocRequest.BlockAllocationHandle = found.handle
	allocRequest.Region = Region{X: found.x, Y: found.shelf.y, Width: width, Height: height}
	return true, allocRequest, nil
}

func (m *ShelfMetadata) Alloc(request AllocationRequest) error {
	var item *shelfItem

	switch request.Type {
	case AllocationRequestNewShelf:
		if request.Region.Y != m.bottom() || request.Region.Bottom() > m.size {
			return errors.Errorf("allocation request %s cannot open a shelf at the bottom of the layer", request.Region)
		}
		if request.BlockAllocationHandle != m.nextAllocationHandle+1 {
			return errors.Errorf("allocation request for a new shelf at %s is stale", request.Region)
		}

		s := &shelf{y: request.Region.Y, height: request.Region.Height}
		s.first = m.allocateItem(s, 0, m.size)
		m.shelves = append(m.shelves, s)
		m.freeItemCount++
		m.freeItemArea += s.first.width * s.height
		item = s.first
	case AllocationRequestShelf:
		var err error
		item, err = m.getItem(request.BlockAllocationHandle)
		if err != nil {
			return err
		}
		if !item.free {
			return errors.Errorf("allocation request targets a span at (%d,%d), which is not free", item.x, item.shelf.y)
		}
		if item.x != request.Region.X || item.shelf.y != request.Region.Y {
			return errors.Errorf("allocation request position (%d,%d) does not match its span at (%d,%d)", request.Region.X, request.Region.Y, item.x, item.shelf.y)
		}
	default:
		return errors.New("allocation request was received by an incompatible metadata")
	}

	if item.width < request.Region.Width || item.shelf.height < request.Region.Height {
		return errors.Errorf("allocation request %s does not fit in its span", request.Region)
	}

	if item.width > request.Region.Width {
		rest := m.allocateItem(item.shelf, item.x+request.Region.Width, item.width-request.Region.Width)
		rest.prev = item
		rest.next = item.next
		if rest.next != nil {
			rest.next.prev = rest
		}
		item.next = rest
		item.width = request.Region.Width
		m.freeItemCount++
	}

	item.free = false
	item.height = request.Region.Height
	m.freeItemCount--
	m.freeItemArea -= item.width * item.shelf.height
	m.allocatedArea += item.width * item.height
	m.allocCount++

	return nil
}

func (m *ShelfMetadata) Free(allocHandle BlockAllocationHandle) error {
	item, err := m.getItem(allocHandle)
	if err != nil {
		return err
	}
	if item.free {
		return errors.New("region is already free")
	}

	m.allocCount--
	m.allocatedArea -= item.width * item.height
	m.freeItemArea += item.width * item.shelf.height
	m.freeItemCount++
	item.free = true
	item.height = 0

	if next := item.next; next != nil && next.free {
		m.mergeItem(item, next)
	}
	if prev := item.prev; prev != nil && prev.free {
		m.mergeItem(prev, item)
	}

	// Hand trailing empty shelves back to the unshelved space at the bottom
	for len(m.shelves) > 0 && m.shelves[len(m.shelves)-1].isEmpty() {
		last := m.shelves[len(m.shelves)-1]
		m.freeItemCount--
		m.freeItemArea -= last.first.width * last.height
		m.freeItem(last.first)
		m.shelves = slices.Delete(m.shelves, len(m.shelves)-1, len(m.shelves))
	}

	return nil
}

// mergeItem folds next into item. Both must be free neighbors in the same shelf.
func (m *ShelfMetadata) mergeItem(item, next *shelfItem) {
	if item.next != next || next.prev != item {
		panic(fmt.Sprintf("cannot merge separate spans at x=%d and x=%d", item.x, next.x))
	}

	item.width += next.width
	item.next = next.next
	if item.next != nil {
		item.next.prev = item
	}

	m.freeItemCount--
	m.freeItem(next)
}

func (m *ShelfMetadata) AllocationRegion(allocHandle BlockAllocationHandle) (Region, error) {
	item, err := m.getItem(allocHandle)
	if err != nil {
		return Region{}, err
	}
	if item.free {
		return Region{}, errors.New("region is not allocated")
	}

	return Region{X: item.x, Y: item.shelf.y, Width: item.width, Height: item.height}, nil
}

func (m *ShelfMetadata) Clear() {
	for _, s := range m.shelves {
		for item := s.first; item != nil; {
			next := item.next
			m.freeItem(item)
			item = next
		}
	}

	m.shelves = nil
	m.allocCount = 0
	m.freeItemCount = 0
	m.freeItemArea = 0
	m.allocatedArea = 0
}

func (m *ShelfMetadata) VisitAllRegions(handleRegion func(handle BlockAllocationHandle, region Region, free bool) error) error {
	for _, s := range m.shelves {
		for item := s.first; item != nil; item = item.next {
			region := Region{X: item.x, Y: s.y, Width: item.width, Height: item.height}
			if item.free {
				region.Height = s.height
			}

			err := handleRegion(item.handle, region, item.free)
			if err != nil {
				return err
			}
		}
	}

	if bottom := m.bottom(); bottom < m.size {
		return handleRegion(NoAllocation, Region{X: 0, Y: bottom, Width: m.size, Height: m.size - bottom}, true)
	}

	return nil
}

func (m *ShelfMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.LayerCount++
	stats.LayerArea += m.size * m.size

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, region Region, free bool) error {
		if free {
			stats.AddUnusedRegion(region.Area())
		} else {
			stats.AddAllocation(region.Area())
		}
		return nil
	})
}

func (m *ShelfMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.LayerCount++
	stats.AllocationCount += m.allocCount
	stats.LayerArea += m.size * m.size
	stats.AllocationArea += m.allocatedArea
}

func (m *ShelfMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.PrintDetailedMapHeader(json, "Shelf", m.SumFreeArea(), m.allocCount, m.FreeRegionsCount())
	json.Name("Shelves").Int(len(m.shelves))
}

func (m *ShelfMetadata) Validate() error {
	if m.handleKey == nil {
		return errors.New("metadata was used before Init")
	}

	var allocCount, freeItemCount, freeItemArea, allocatedArea int
	nextY := 0

	for shelfIndex, s := range m.shelves {
		if s.y != nextY {
			return errors.Errorf("shelf %d starts at y=%d, but the previous shelf ended at y=%d", shelfIndex, s.y, nextY)
		}
		if s.height < 1 {
			return errors.Errorf("shelf %d has invalid height %d", shelfIndex, s.height)
		}
		if s.first == nil || s.first.prev != nil {
			return errors.Errorf("shelf %d has an invalid first span", shelfIndex)
		}

		nextX := 0
		for item := s.first; item != nil; item = item.next {
			mapped, ok := m.handleKey.Get(item.handle)
			if !ok || mapped != item {
				return errors.Errorf("span at (%d,%d) is not reachable through its handle", item.x, s.y)
			}
			if item.shelf != s {
				return errors.Errorf("span at x=%d in shelf %d points to the wrong shelf", item.x, shelfIndex)
			}
			if item.x != nextX || item.width < 1 {
				return errors.Errorf("span at x=%d in shelf %d does not continue from x=%d", item.x, shelfIndex, nextX)
			}
			if item.next != nil && item.next.prev != item {
				return errors.Errorf("span at x=%d in shelf %d has a broken next reference", item.x, shelfIndex)
			}

			if item.free {
				if item.next != nil && item.next.free {
					return errors.Errorf("free spans at x=%d and x=%d in shelf %d were not merged", item.x, item.next.x, shelfIndex)
				}

				freeItemCount++
				freeItemArea += item.width * s.height
			} else {
				if item.height < 1 || item.height > s.height {
					return errors.Errorf("span at x=%d in shelf %d has height %d outside of its shelf", item.x, shelfIndex, item.height)
				}

				allocCount++
				allocatedArea += item.width * item.height
			}

			nextX = item.x + item.width
		}

		if nextX != m.size {
			return errors.Errorf("shelf %d spans ended at x=%d instead of %d", shelfIndex, nextX, m.size)
		}

		nextY = s.y + s.height
	}

	if nextY > m.size {
		return errors.Errorf("shelves extend to y=%d, past the layer size of %d", nextY, m.size)
	}
	if len(m.shelves) > 0 && m.shelves[len(m.shelves)-1].isEmpty() {
		return errors.New("the last shelf is empty but was not released")
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the allocated spans only added up to %d", m.allocCount, allocCount)
	}
	if freeItemCount != m.freeItemCount {
		return errors.Errorf("the free span count of the metadata is %d, but there were %d free spans", m.freeItemCount, freeItemCount)
	}
	if freeItemArea != m.freeItemArea {
		return errors.Errorf("the free span area of the metadata is %d, but the free spans added up to %d", m.freeItemArea, freeItemArea)
	}
	if allocatedArea != m.allocatedArea {
		return errors.Errorf("the allocated area of the metadata is %d, but the allocated spans added up to %d", m.allocatedArea, allocatedArea)
	}

	return nil
}
