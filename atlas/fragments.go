package atlas

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// fragmentKey identifies a partial allocation by its layer and its handle in that layer's metadata
type fragmentKey struct {
	layer  int
	handle metadata.BlockAllocationHandle
}

// fragmentRef points back at the entry fragment that owns an allocation
type fragmentRef struct {
	entry *Entry
	index int
}

func newFragmentMap() *swiss.Map[fragmentKey, fragmentRef] {
	return swiss.NewMap[fragmentKey, fragmentRef](42)
}

func keyFor(allocation Allocation) fragmentKey {
	return fragmentKey{layer: allocation.layer, handle: allocation.handle}
}

// registerEntry records the owner of every allocation in entry. Partial allocations are tracked
// by handle so defragmentation can relocate them, and full layers remember their entry.
func (a *Atlas[T, B]) registerEntry(entry *Entry) {
	for fragmentIndex, fragment := range entry.fragments {
		switch fragment.Allocation.kind {
		case AllocationPartial:
			a.fragments.Put(keyFor(fragment.Allocation), fragmentRef{entry: entry, index: fragmentIndex})
		case AllocationFull:
			a.layers[fragment.Allocation.layer].owner = entry
		}
	}
}

// ownsFragment reports whether the allocation of entry's fragment is still held by entry. Metadata
// handles are reused once a region is freed or its layer is emptied, so a removed entry may point
// at space that now belongs to someone else.
func (a *Atlas[T, B]) ownsFragment(entry *Entry, fragmentIndex int) bool {
	allocation := entry.fragments[fragmentIndex].Allocation
	if allocation.layer < 0 || allocation.layer >= len(a.layers) {
		return false
	}

	switch allocation.kind {
	case AllocationPartial:
		ref, ok := a.fragments.Get(keyFor(allocation))
		return ok && ref.entry == entry && ref.index == fragmentIndex
	case AllocationFull:
		layer := a.layers[allocation.layer]
		return layer.state == LayerFull && layer.owner == entry
	default:
		return false
	}
}
