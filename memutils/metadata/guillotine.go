package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/atlas/memutils"
)

var guillotineNodeAllocator = sync.Pool{
	New: func() any {
		return &guillotineNode{}
	},
}

type guillotineNodeState uint8

const (
	guillotineNodeFree guillotineNodeState = iota
	guillotineNodeAllocated
	guillotineNodeSplit
)

// guillotineNode is a node in the cut tree. Leaves are either free or allocated; split nodes
// own exactly two children that tile the node's region.
type guillotineNode struct {
	region Region
	state  guillotineNodeState

	parent *guillotineNode
	first  *guillotineNode
	second *guillotineNode

	prevFree *guillotineNode
	nextFree *guillotineNode

	handle BlockAllocationHandle
}

// GuillotineMetadata is a RegionMetadata implementation that carves a layer with guillotine cuts.
// Each allocation is placed at the top left of a free rectangle and the leftover space is cut along
// the axis that keeps the larger remainder whole. Free rectangles are bucketed by the log2 of their
// shorter side so that lookups skip buckets that cannot possibly fit a request. Freeing a region
// collapses cuts whose two halves are both free, so a layer returns to a single free rectangle once
// every region has been freed.
type GuillotineMetadata struct {
	RegionMetadataBase

	allocCount   int
	freeCount    int
	freeArea     int
	isFreeBitmap uint64

	nextAllocationHandle BlockAllocationHandle
	handleKey            *swiss.Map[BlockAllocationHandle, *guillotineNode]
	freeList             []*guillotineNode
	root                 *guillotineNode
}

var _ RegionMetadata = &GuillotineMetadata{}

func NewGuillotineMetadata() *GuillotineMetadata {
	return &GuillotineMetadata{}
}

func (m *GuillotineMetadata) allocateNode(region Region, parent *guillotineNode) *guillotineNode {
	n := guillotineNodeAllocator.Get().(*guillotineNode)
	n.region = region
	n.state = guillotineNodeFree
	n.parent = parent
	n.first = nil
	n.second = nil
	n.prevFree = nil
	n.nextFree = nil
	n.handle = BlockAllocationHandle(atomic.AddUint64((*uint64)(&m.nextAllocationHandle), 1))
	m.handleKey.Put(n.handle, n)
	return n
}

func (m *GuillotineMetadata) freeNode(n *guillotineNode) {
	m.handleKey.Delete(n.handle)
	n.parent = nil
	n.first = nil
	n.second = nil
	guillotineNodeAllocator.Put(n)
}

func (m *GuillotineMetadata) getNode(handle BlockAllocationHandle) (*guillotineNode, error) {
	n, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.New("received a handle that was incompatible with this metadata")
	}
	return n, nil
}

func (m *GuillotineMetadata) Init(size int) {
	m.RegionMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *guillotineNode](42)
	m.freeList = make([]*guillotineNode, memutils.SizeClass(size)+1)

	m.root = m.allocateNode(Region{Width: size, Height: size}, nil)
	m.insertFreeNode(m.root)
}

func (m *GuillotineMetadata) AllocationCount() int  { return m.allocCount }
func (m *GuillotineMetadata) FreeRegionsCount() int { return m.freeCount }
func (m *GuillotineMetadata) SumFreeArea() int      { return m.freeArea }
func (m *GuillotineMetadata) IsEmpty() bool         { return m.allocCount == 0 }

func (m *GuillotineMetadata) MayHaveFreeRegion(width, height int) bool {
	if width > m.size || height > m.size || width*height > m.freeArea {
		return false
	}

	return m.isFreeBitmap&(math.MaxUint64<<memutils.SizeClass(min(width, height))) != 0
}

func (m *GuillotineMetadata) CreateAllocationRequest(width, height int, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if width < 1 || height < 1 {
		return false, allocRequest, errors.Errorf("invalid region size: %dx%d", width, height)
	}

	memutils.DebugValidate(m)

	if !m.MayHaveFreeRegion(width, height) {
		return false, allocRequest, nil
	}

	var found *guillotineNode
	if strategy&AllocationStrategyMinTime != 0 {
		found = m.findFirstFit(width, height)
	} else if strategy&AllocationStrategyMinOffset != 0 {
		found = m.findLowestFit(width, height)
	} else {
		found = m.findBestFit(width, height)
	}

	if found == nil {
		return false, allocRequest, nil
	}

	allocRequest.Type = AllocationRequestGuillotine
	allocRequest.BlockAllocationHandle = found.handle
	allocRequest.Region = Region{X: found.region.X, Y: found.region.Y, Width: width, Height: height}
	return true, allocRequest, nil
}

// candidateBuckets returns a bitmap of the non-empty free lists whose nodes could hold a region
// of the provided size
func (m *GuillotineMetadata) candidateBuckets(width, height int) uint64 {
	return m.isFreeBitmap & (math.MaxUint64 << memutils.SizeClass(min(width, height)))
}

func (m *GuillotineMetadata) findFirstFit(width, height int) *guillotineNode {
	for freeMap := m.candidateBuckets(width, height); freeMap != 0; freeMap &= freeMap - 1 {
		listIndex := bits.TrailingZeros64(freeMap)
		for n := m.freeList[listIndex]; n != nil; n = n.nextFree {
			if n.region.Width >= width && n.region.Height >= height {
				return n
			}
		}
	}

	return nil
}

// findBestFit returns the node leaving the least area behind, out of the smallest bucket that
// has any node able to hold the region
func (m *GuillotineMetadata) findBestFit(width, height int) *guillotineNode {
	var best *guillotineNode
	bestWaste, bestShortSide := math.MaxInt, math.MaxInt

	for freeMap := m.candidateBuckets(width, height); freeMap != 0; freeMap &= freeMap - 1 {
		listIndex := bits.TrailingZeros64(freeMap)
		for n := m.freeList[listIndex]; n != nil; n = n.nextFree {
			if n.region.Width < width || n.region.Height < height {
				continue
			}

			waste := n.region.Area() - width*height
			shortSide := min(n.region.Width-width, n.region.Height-height)
			if waste < bestWaste || (waste == bestWaste && shortSide < bestShortSide) {
				best = n
				bestWaste = waste
				bestShortSide = shortSide
			}
		}

		if best != nil {
			return best
		}
	}

	return nil
}

func (m *GuillotineMetadata) findLowestFit(width, height int) *guillotineNode {
	var best *guillotineNode

	for freeMap := m.candidateBuckets(width, height); freeMap != 0; freeMap &= freeMap - 1 {
		listIndex := bits.TrailingZeros64(freeMap)
		for n := m.freeList[listIndex]; n != nil; n = n.nextFree {
			if n.region.Width < width || n.region.Height < height {
				continue
			}

			if best == nil || n.region.Y < best.region.Y ||
				(n.region.Y == best.region.Y && n.region.X < best.region.X) {
				best = n
			}
		}
	}

	return best
}

func (m *GuillotineMetadata) Alloc(request AllocationRequest) error {
	if request.Type != AllocationRequestGuillotine {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	n, err := m.getNode(request.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if n.state != guillotineNodeFree {
		return errors.Errorf("allocation request targets region %s, which is not free", n.region)
	}
	if n.region.X != request.Region.X || n.region.Y != request.Region.Y {
		return errors.Errorf("allocation request position (%d,%d) does not match free region %s", request.Region.X, request.Region.Y, n.region)
	}
	if n.region.Width < request.Region.Width || n.region.Height < request.Region.Height {
		return errors.Errorf("allocation request %s does not fit in free region %s", request.Region, n.region)
	}

	m.removeFreeNode(n)
	allocated := m.split(n, request.Region.Width, request.Region.Height)
	allocated.state = guillotineNodeAllocated

	// The request handle follows the allocated leaf so the caller can free it
	if allocated != n {
		n.handle, allocated.handle = allocated.handle, n.handle
		m.handleKey.Put(n.handle, n)
		m.handleKey.Put(allocated.handle, allocated)
	}

	m.allocCount++
	return nil
}

// split cuts n down to a width x height leaf at its top left, inserting the leftover pieces into
// the free lists. The larger leftover keeps the full extent of n along its long axis.
func (m *GuillotineMetadata) split(n *guillotineNode, width, height int) *guillotineNode {
	leftoverWidth := n.region.Width - width
	leftoverHeight := n.region.Height - height

	used := n
	if leftoverWidth <= leftoverHeight {
		if leftoverHeight > 0 {
			used = m.cutHorizontal(used, height)
		}
		if leftoverWidth > 0 {
			used = m.cutVertical(used, width)
		}
	} else {
		if leftoverWidth > 0 {
			used = m.cutVertical(used, width)
		}
		if leftoverHeight > 0 {
			used = m.cutHorizontal(used, height)
		}
	}

	return used
}

func (m *GuillotineMetadata) cutHorizontal(n *guillotineNode, height int) *guillotineNode {
	r := n.region
	n.first = m.allocateNode(Region{X: r.X, Y: r.Y, Width: r.Width, Height: height}, n)
	n.second = m.allocateNode(Region{X: r.X, Y: r.Y + height, Width: r.Width, Height: r.Height - height}, n)
	n.state = guillotineNodeSplit

	m.insertFreeNode(n.second)
	return n.first
}

func (m *GuillotineMetadata) cutVertical(n *guillotineNode, width int) *guillotineNode {
	r := n.region
	n.first = m.allocateNode(Region{X: r.X, Y: r.Y, Width: width, Height: r.Height}, n)
	n.second = m.allocateNode(Region{X: r.X + width, Y: r.Y, Width: r.Width - width, Height: r.Height}, n)
	n.state = guillotineNodeSplit

	m.insertFreeNode(n.second)
	return n.first
}

func (m *GuillotineMetadata) Free(allocHandle BlockAllocationHandle) error {
	n, err := m.getNode(allocHandle)
	if err != nil {
		return err
	}
	if n.state != guillotineNodeAllocated {
		return errors.Errorf("region %s is not allocated", n.region)
	}

	m.allocCount--
	n.state = guillotineNodeFree

	// Collapse cuts upward while both halves are free
	for n.parent != nil {
		parent := n.parent
		sibling := parent.first
		if sibling == n {
			sibling = parent.second
		}

		if sibling.state != guillotineNodeFree {
			break
		}

		m.removeFreeNode(sibling)
		m.freeNode(parent.first)
		m.freeNode(parent.second)
		parent.first = nil
		parent.second = nil
		parent.state = guillotineNodeFree
		n = parent
	}

	m.insertFreeNode(n)
	return nil
}

func (m *GuillotineMetadata) AllocationRegion(allocHandle BlockAllocationHandle) (Region, error) {
	n, err := m.getNode(allocHandle)
	if err != nil {
		return Region{}, err
	}
	if n.state != guillotineNodeAllocated {
		return Region{}, errors.Errorf("region %s is not allocated", n.region)
	}

	return n.region, nil
}

func (m *GuillotineMetadata) insertFreeNode(n *guillotineNode) {
	if n.state != guillotineNodeFree {
		panic(fmt.Sprintf("attempted to insert region %s into the free list, but it is not free", n.region))
	}

	listIndex := memutils.SizeClass(min(n.region.Width, n.region.Height))
	if listIndex >= len(m.freeList) {
		panic(fmt.Sprintf("invalid free list index %d found for region %s", listIndex, n.region))
	}

	n.prevFree = nil
	n.nextFree = m.freeList[listIndex]
	m.freeList[listIndex] = n
	if n.nextFree != nil {
		n.nextFree.prevFree = n
	} else {
		m.isFreeBitmap |= 1 << listIndex
	}

	m.freeCount++
	m.freeArea += n.region.Area()
}

func (m *GuillotineMetadata) removeFreeNode(n *guillotineNode) {
	if n.state != guillotineNodeFree {
		panic(fmt.Sprintf("attempted to remove region %s from the free list, but it is not free", n.region))
	}

	if n.nextFree != nil {
		n.nextFree.prevFree = n.prevFree
	}
	if n.prevFree != nil {
		n.prevFree.nextFree = n.nextFree
	} else {
		listIndex := memutils.SizeClass(min(n.region.Width, n.region.Height))
		if m.freeList[listIndex] != n {
			panic(fmt.Sprintf("region %s was not in the free list at the expected location", n.region))
		}

		m.freeList[listIndex] = n.nextFree
		if n.nextFree == nil {
			m.isFreeBitmap &= ^(uint64(1) << listIndex)
		}
	}

	n.prevFree = nil
	n.nextFree = nil
	m.freeCount--
	m.freeArea -= n.region.Area()
}

func (m *GuillotineMetadata) Clear() {
	m.releaseTree(m.root)

	for i := range m.freeList {
		m.freeList[i] = nil
	}
	m.isFreeBitmap = 0
	m.allocCount = 0
	m.freeCount = 0
	m.freeArea = 0

	m.root = m.allocateNode(Region{Width: m.size, Height: m.size}, nil)
	m.insertFreeNode(m.root)
}

func (m *GuillotineMetadata) releaseTree(n *guillotineNode) {
	if n == nil {
		return
	}

	m.releaseTree(n.first)
	m.releaseTree(n.second)
	m.freeNode(n)
}

func (m *GuillotineMetadata) visitLeaves(n *guillotineNode, visit func(n *guillotineNode) error) error {
	if n.state != guillotineNodeSplit {
		return visit(n)
	}

	err := m.visitLeaves(n.first, visit)
	if err != nil {
		return err
	}

	return m.visitLeaves(n.second, visit)
}

func (m *GuillotineMetadata) VisitAllRegions(handleRegion func(handle BlockAllocationHandle, region Region, free bool) error) error {
	return m.visitLeaves(m.root, func(n *guillotineNode) error {
		return handleRegion(n.handle, n.region, n.state == guillotineNodeFree)
	})
}

func (m *GuillotineMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.LayerCount++
	stats.LayerArea += m.size * m.size

	_ = m.visitLeaves(m.root, func(n *guillotineNode) error {
		if n.state == guillotineNodeFree {
			stats.AddUnusedRegion(n.region.Area())
		} else {
			stats.AddAllocation(n.region.Area())
		}
		return nil
	})
}

func (m *GuillotineMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.LayerCount++
	stats.AllocationCount += m.allocCount
	stats.LayerArea += m.size * m.size
	stats.AllocationArea += m.size*m.size - m.freeArea
}

func (m *GuillotineMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.PrintDetailedMapHeader(json, "Guillotine", m.freeArea, m.allocCount, m.freeCount)
}

func (m *GuillotineMetadata) Validate() error {
	if m.root == nil {
		return errors.New("metadata was used before Init")
	}
	if m.root.region != (Region{Width: m.size, Height: m.size}) {
		return errors.Errorf("root region %s does not cover the full layer of size %d", m.root.region, m.size)
	}
	if m.root.parent != nil {
		return errors.New("root region has a parent")
	}

	var allocCount, freeCount, freeArea int
	err := m.validateNode(m.root, &allocCount, &freeCount, &freeArea)
	if err != nil {
		return err
	}

	// Check integrity of free lists
	freeListCount := 0
	for listIndex, n := range m.freeList {
		hasBit := m.isFreeBitmap&(uint64(1)<<listIndex) != 0
		if hasBit != (n != nil) {
			return errors.Errorf("free list %d does not match the free bitmap", listIndex)
		}

		var prev *guillotineNode
		for ; n != nil; n = n.nextFree {
			if n.state != guillotineNodeFree {
				return errors.Errorf("region %s is in the free list but is not free", n.region)
			}
			if n.prevFree != prev {
				return errors.Errorf("region %s has a broken previous free list reference", n.region)
			}
			if memutils.SizeClass(min(n.region.Width, n.region.Height)) != listIndex {
				return errors.Errorf("region %s is in free list %d but belongs elsewhere", n.region, listIndex)
			}

			freeListCount++
			prev = n
		}
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free leaves in the tree and the number of regions in the free list do not match! free list size: %d, free leaves: %d", freeListCount, freeCount)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the allocated leaves only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.freeCount {
		return errors.Errorf("the free region count of the metadata is %d, but there were %d free leaves", m.freeCount, freeCount)
	}

	if freeArea != m.freeArea {
		return errors.Errorf("the free area of the metadata is %d, but the free leaves added up to %d", m.freeArea, freeArea)
	}

	return nil
}

func (m *GuillotineMetadata) validateNode(n *guillotineNode, allocCount, freeCount, freeArea *int) error {
	mapped, ok := m.handleKey.Get(n.handle)
	if !ok || mapped != n {
		return errors.Errorf("region %s is not reachable through its handle", n.region)
	}

	if n.region.Width < 1 || n.region.Height < 1 {
		return errors.Errorf("region %s is degenerate", n.region)
	}

	switch n.state {
	case guillotineNodeFree, guillotineNodeAllocated:
		if n.first != nil || n.second != nil {
			return errors.Errorf("leaf region %s has children", n.region)
		}

		if n.state == guillotineNodeFree {
			*freeCount++
			*freeArea += n.region.Area()
		} else {
			*allocCount++
		}
		return nil
	case guillotineNodeSplit:
	default:
		return errors.Errorf("region %s has unknown state %d", n.region, n.state)
	}

	if n.first == nil || n.second == nil {
		return errors.Errorf("split region %s is missing a child", n.region)
	}
	if n.first.parent != n || n.second.parent != n {
		return errors.Errorf("split region %s has children with broken parent references", n.region)
	}
	if n.first.state == guillotineNodeFree && n.second.state == guillotineNodeFree {
		return errors.Errorf("split region %s has two free children that were not merged", n.region)
	}

	first, second := n.first.region, n.second.region
	if first.X != n.region.X || first.Y != n.region.Y {
		return errors.Errorf("split region %s does not start with its first child %s", n.region, first)
	}

	horizontal := first.Width == n.region.Width && second.Width == n.region.Width &&
		second.X == n.region.X && second.Y == first.Bottom() && second.Bottom() == n.region.Bottom()
	vertical := first.Height == n.region.Height && second.Height == n.region.Height &&
		second.Y == n.region.Y && second.X == first.Right() && second.Right() == n.region.Right()
	if !horizontal && !vertical {
		return errors.Errorf("children %s and %s do not tile split region %s", first, second, n.region)
	}

	err := m.validateNode(n.first, allocCount, freeCount, freeArea)
	if err != nil {
		return err
	}

	return m.validateNode(n.second, allocCount, freeCount, freeArea)
}
