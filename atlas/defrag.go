package atlas

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/defrag"
	"github.com/vkngwrapper/atlas/memutils/metadata"
	"golang.org/x/exp/slog"
)

// DefragmentationMove is a single relocation collected by Atlas.BeginDefragmentationPass. Before the
// pass is completed, the texels in Src must be copied to Dst, or Operation must be changed to
// defrag.MoveIgnore.
type DefragmentationMove struct {
	// Entry is the entry that owns the relocated region
	Entry *Entry
	// Fragment is the index of the relocated region in Entry.Fragments
	Fragment int
	// Src is the region's current location
	Src Allocation
	// Dst is the region's new location. It is reserved until the pass completes.
	Dst Allocation

	Operation defrag.MoveOperation
}

// CopyFunc is called by Atlas.Defragment once per pass with the relocations collected for that pass
type CopyFunc[B any] func(backend B, moves []DefragmentationMove) error

type relocateFunc func(src Allocation) (Allocation, bool)

// BeginDefragmentationPass collects a pass worth of relocations that pack partial regions into
// earlier layers and, for defrag.AlgorithmFull, toward the top left of their layer. Destination
// regions are reserved immediately. Full layers are never relocated.
//
// Between BeginDefragmentationPass and EndDefragmentationPass the caller must copy the texels of every
// move and must not call EntryFor or Remove.
func (a *Atlas[T, B]) BeginDefragmentationPass(pass *defrag.PassContext) []DefragmentationMove {
	pass.Reset()

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Atlas::BeginDefragmentationPass",
		slog.String("algorithm", pass.Algorithm.String()),
		slog.Int("layer.count", len(a.layers)),
	)

	var moves []DefragmentationMove
	if len(a.layers) > 1 {
		switch pass.Algorithm {
		case defrag.AlgorithmFast:
			moves = a.walkFragments(pass, a.allocInEarlierLayer)
		case defrag.AlgorithmFull:
			moves = a.walkFragments(pass, a.defragFullRelocate)
		default:
			panic(fmt.Sprintf("attempted to defragment with unknown algorithm: %s", pass.Algorithm.String()))
		}
	} else if len(a.layers) == 1 && pass.Algorithm != defrag.AlgorithmFast {
		moves = a.walkFragments(pass, a.allocIfLowerPosition)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Collected moves", slog.Int("count", len(moves)))
	return moves
}

// EndDefragmentationPass completes the relocations collected by BeginDefragmentationPass. Moves left as
// defrag.MoveCopy release their source region and update their entry, while moves marked
// defrag.MoveIgnore release their destination region. It returns true when the pass relocated
// nothing, which means the defragmentation run is complete.
func (a *Atlas[T, B]) EndDefragmentationPass(pass *defrag.PassContext, moves []DefragmentationMove) bool {
	for _, move := range moves {
		fragment := &move.Entry.fragments[move.Fragment]
		if fragment.Allocation != move.Src {
			panic(fmt.Sprintf("entry fragment %d is at %s, but the move was collected from %s", move.Fragment, fragment.Allocation, move.Src))
		}

		switch move.Operation {
		case defrag.MoveIgnore:
			pass.Stats.AreaMoved -= move.Src.region.Area()
			pass.Stats.AllocationsMoved--
			a.deallocate(move.Dst)

		case defrag.MoveCopy:
			srcLayer := &a.layers[move.Src.layer]
			wasBusy := srcLayer.state == LayerBusy

			a.fragments.Delete(keyFor(move.Src))
			a.deallocate(move.Src)

			fragment.Allocation = move.Dst
			a.fragments.Put(keyFor(move.Dst), fragmentRef{entry: move.Entry, index: move.Fragment})

			if wasBusy && srcLayer.state == LayerEmpty {
				pass.Stats.LayersFreed++
			}

		default:
			panic(fmt.Sprintf("unknown move operation: %s", move.Operation.String()))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Atlas::EndDefragmentationPass",
		slog.Int("allocations.moved", pass.Stats.AllocationsMoved),
		slog.Int("area.moved", pass.Stats.AreaMoved),
		slog.Int("layers.freed", pass.Stats.LayersFreed),
	)

	memutils.DebugValidate(a)
	return pass.Stats.AllocationsMoved == 0
}

// Defragment runs defragmentation passes until a pass relocates nothing. copyFunc is called once per
// pass and must copy the texels of every move. If copyFunc fails, every move in that pass is ignored
// and the error is returned along with the statistics of the passes that completed.
func (a *Atlas[T, B]) Defragment(pass *defrag.PassContext, copyFunc CopyFunc[B]) (defrag.Stats, error) {
	var total defrag.Stats

	for {
		moves := a.BeginDefragmentationPass(pass)

		if len(moves) > 0 {
			err := copyFunc(a.backend, moves)
			if err != nil {
				for moveIndex := range moves {
					moves[moveIndex].Operation = defrag.MoveIgnore
				}
				a.EndDefragmentationPass(pass, moves)
				return total, errors.Wrap(err, "failed to copy regions during defragmentation")
			}
		}

		done := a.EndDefragmentationPass(pass, moves)
		total.Add(pass.Stats)
		if done {
			return total, nil
		}
	}
}

// walkFragments visits the partial regions of every busy layer, last layer first, and collects a move
// for each region relocate finds a new place for
func (a *Atlas[T, B]) walkFragments(pass *defrag.PassContext, relocate relocateFunc) []DefragmentationMove {
	var moves []DefragmentationMove

	for layerIndex := len(a.layers) - 1; layerIndex >= 0; layerIndex-- {
		layer := a.layers[layerIndex]
		if layer.state != LayerBusy {
			continue
		}

		// Destinations reserved earlier in this pass are not registered yet, so they are skipped
		var candidates []fragmentRef
		_ = layer.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, region metadata.Region, free bool) error {
			if free {
				return nil
			}

			ref, ok := a.fragments.Get(fragmentKey{layer: layerIndex, handle: handle})
			if ok {
				candidates = append(candidates, ref)
			}
			return nil
		})

		for _, ref := range candidates {
			src := ref.entry.fragments[ref.index].Allocation
			area := src.region.Area()

			counter := pass.CheckCounters(area)
			switch counter {
			case defrag.CounterIgnore:
				continue
			case defrag.CounterEnd:
				return moves
			case defrag.CounterPass:
				break
			default:
				panic(fmt.Sprintf("unexpected defrag counter status: %s", counter.String()))
			}

			dst, ok := relocate(src)
			if !ok {
				continue
			}

			moves = append(moves, DefragmentationMove{
				Entry:    ref.entry,
				Fragment: ref.index,
				Src:      src,
				Dst:      dst,
			})

			// Have we crossed our threshold for this pass?
			if pass.IncrementCounters(area) {
				return moves
			}
		}
	}

	return moves
}

func (a *Atlas[T, B]) defragFullRelocate(src Allocation) (Allocation, bool) {
	dst, ok := a.allocInEarlierLayer(src)
	if ok {
		return dst, true
	}

	// If no room found then realloc within layer for lower position
	return a.allocIfLowerPosition(src)
}

func (a *Atlas[T, B]) allocInEarlierLayer(src Allocation) (Allocation, bool) {
	width, height := src.Size()

	for layerIndex := 0; layerIndex < src.layer; layerIndex++ {
		layer := a.layers[layerIndex]
		if layer.state != LayerBusy || !layer.metadata.MayHaveFreeRegion(width, height) {
			continue
		}

		dst, ok, err := a.allocFromMetadata(layer.metadata, layerIndex, width, height)
		if err != nil {
			panic(fmt.Sprintf("unexpected error while allocating: %+v", err))
		} else if ok {
			return dst, true
		}
	}

	return Allocation{}, false
}

func (a *Atlas[T, B]) allocIfLowerPosition(src Allocation) (Allocation, bool) {
	if src.region.X == 0 && src.region.Y == 0 {
		return Allocation{}, false
	}

	md := a.layers[src.layer].metadata
	width, height := src.Size()
	if !md.MayHaveFreeRegion(width, height) {
		return Allocation{}, false
	}

	ok, request, err := md.CreateAllocationRequest(width, height, metadata.AllocationStrategyMinOffset)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when populating allocation request for defrag: %+v", err))
	}

	if !ok || !positionBefore(request.Region, src.region) {
		return Allocation{}, false
	}

	err = md.Alloc(request)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when committing allocation request for defrag: %+v", err))
	}

	return Allocation{
		kind:   AllocationPartial,
		layer:  src.layer,
		region: request.Region,
		handle: request.BlockAllocationHandle,
	}, true
}

// positionBefore orders regions top to bottom, then left to right
func positionBefore(region, other metadata.Region) bool {
	if region.Y != other.Y {
		return region.Y < other.Y
	}
	return region.X < other.X
}
