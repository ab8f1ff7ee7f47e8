package atlas

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/memutils/metadata"
	"golang.org/x/exp/slog"
)

func (a *Atlas[T, B]) allocate(width, height int) (*Entry, bool, error) {
	if width > a.size || height > a.size {
		return a.allocateFragmented(width, height)
	}

	allocation, ok, err := a.allocateContiguous(width, height)
	if err != nil || !ok {
		return nil, ok, err
	}

	return &Entry{
		kind:      EntryContiguous,
		width:     width,
		height:    height,
		fragments: []Fragment{{Allocation: allocation}},
	}, true, nil
}

// allocateFragmented tiles the image row-major into layer-sized blocks. If any block cannot be
// placed, the blocks placed so far are released.
func (a *Atlas[T, B]) allocateFragmented(width, height int) (entry *Entry, ok bool, err error) {
	columns := (width + a.size - 1) / a.size
	rows := (height + a.size - 1) / a.size
	fragments := make([]Fragment, 0, columns*rows)

	defer func() {
		if err != nil || !ok {
			for fragmentIndex := len(fragments) - 1; fragmentIndex >= 0; fragmentIndex-- {
				a.deallocate(fragments[fragmentIndex].Allocation)
			}
		}
	}()

	for y := 0; y < height; y += a.size {
		fragmentHeight := min(height-y, a.size)

		for x := 0; x < width; x += a.size {
			fragmentWidth := min(width-x, a.size)

			var allocation Allocation
			allocation, ok, err = a.allocateContiguous(fragmentWidth, fragmentHeight)
			if err != nil || !ok {
				return nil, ok, err
			}

			fragments = append(fragments, Fragment{X: x, Y: y, Allocation: allocation})
		}
	}

	return &Entry{
		kind:      EntryFragmented,
		width:     width,
		height:    height,
		fragments: fragments,
	}, true, nil
}

func (a *Atlas[T, B]) allocateContiguous(width, height int) (Allocation, bool, error) {
	if width == a.size && height == a.size {
		return a.allocateFull()
	}

	return a.allocatePartial(width, height)
}

func (a *Atlas[T, B]) allocateFull() (Allocation, bool, error) {
	full := metadata.Region{Width: a.size, Height: a.size}

	for layerIndex := range a.layers {
		if a.layers[layerIndex].state == LayerEmpty {
			a.layers[layerIndex].state = LayerFull
			a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Filled empty layer", slog.Int("layer", layerIndex))
			return Allocation{kind: AllocationFull, layer: layerIndex, region: full, handle: metadata.NoAllocation}, true, nil
		}
	}

	if !a.canAppendLayer() {
		return Allocation{}, false, nil
	}

	a.layers = append(a.layers, Layer{state: LayerFull})
	layerIndex := len(a.layers) - 1
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Filled new layer", slog.Int("layer", layerIndex))
	return Allocation{kind: AllocationFull, layer: layerIndex, region: full, handle: metadata.NoAllocation}, true, nil
}

func (a *Atlas[T, B]) allocatePartial(width, height int) (Allocation, bool, error) {
	for layerIndex := range a.layers {
		layer := &a.layers[layerIndex]

		switch layer.state {
		case LayerEmpty:
			md := a.createMetadata()
			allocation, ok, err := a.allocFromMetadata(md, layerIndex, width, height)
			if err != nil {
				return Allocation{}, false, err
			} else if ok {
				layer.state = LayerBusy
				layer.metadata = md
				a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from empty layer", slog.Int("layer", layerIndex))
				return allocation, true, nil
			}
		case LayerBusy:
			if !layer.metadata.MayHaveFreeRegion(width, height) {
				continue
			}

			allocation, ok, err := a.allocFromMetadata(layer.metadata, layerIndex, width, height)
			if err != nil {
				return Allocation{}, false, err
			} else if ok {
				a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing layer", slog.Int("layer", layerIndex))
				return allocation, true, nil
			}
		}
	}

	if !a.canAppendLayer() {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Layer limit reached", slog.Int("layer.count", len(a.layers)))
		return Allocation{}, false, nil
	}

	layerIndex := len(a.layers)
	md := a.createMetadata()
	allocation, ok, err := a.allocFromMetadata(md, layerIndex, width, height)
	if err != nil {
		return Allocation{}, false, err
	} else if !ok {
		panic(fmt.Sprintf("a new layer of size %d could not hold a %dx%d region", a.size, width, height))
	}

	a.layers = append(a.layers, Layer{state: LayerBusy, metadata: md})
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from new layer", slog.Int("layer", layerIndex))
	return allocation, true, nil
}

func (a *Atlas[T, B]) allocFromMetadata(md metadata.RegionMetadata, layerIndex, width, height int) (Allocation, bool, error) {
	ok, request, err := md.CreateAllocationRequest(width, height, a.options.Strategy)
	if err != nil || !ok {
		return Allocation{}, false, err
	}

	err = md.Alloc(request)
	if err != nil {
		return Allocation{}, false, errors.Wrapf(err, "failed to commit region %s in layer %d", request.Region, layerIndex)
	}

	return Allocation{
		kind:   AllocationPartial,
		layer:  layerIndex,
		region: request.Region,
		handle: request.BlockAllocationHandle,
	}, true, nil
}

func (a *Atlas[T, B]) createMetadata() metadata.RegionMetadata {
	if a.spareMetadata != nil {
		md := a.spareMetadata
		a.spareMetadata = nil
		md.Clear()
		return md
	}

	var md metadata.RegionMetadata

	switch a.options.Algorithm {
	case AlgorithmGuillotine:
		md = metadata.NewGuillotineMetadata()
	case AlgorithmShelf:
		md = metadata.NewShelfMetadata(a.options.ShelfTolerance)
	default:
		panic(fmt.Sprintf("unknown atlas algorithm: %s", a.options.Algorithm.String()))
	}

	md.Init(a.size)
	return md
}

func (a *Atlas[T, B]) canAppendLayer() bool {
	return a.options.MaxLayerCount == 0 || len(a.layers) < a.options.MaxLayerCount
}

func (a *Atlas[T, B]) deallocate(allocation Allocation) {
	if allocation.layer < 0 || allocation.layer >= len(a.layers) {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "    Ignored allocation outside of the atlas",
			slog.Int("layer", allocation.layer),
			slog.Int("layer.count", len(a.layers)),
		)
		return
	}

	layer := &a.layers[allocation.layer]

	switch allocation.kind {
	case AllocationFull:
		layer.state = LayerEmpty
		layer.metadata = nil
		layer.owner = nil
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Emptied full layer", slog.Int("layer", allocation.layer))
	case AllocationPartial:
		if layer.state != LayerBusy {
			a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Ignored region in a layer that is not busy",
				slog.Int("layer", allocation.layer),
				slog.String("state", layer.state.String()),
			)
			return
		}

		err := layer.metadata.Free(allocation.handle)
		if err != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelWarn, "    Failed to free region",
				slog.Int("layer", allocation.layer),
				slog.String("region", allocation.region.String()),
				slog.Any("error", err),
			)
			return
		}

		if layer.metadata.IsEmpty() {
			a.spareMetadata = layer.metadata
			layer.state = LayerEmpty
			layer.metadata = nil
			a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Demoted busy layer to empty", slog.Int("layer", allocation.layer))
		}
	}
}

// truncateLayers drops the layers appended since the atlas had count layers. Those layers were
// never reported to the backend and must be empty again.
func (a *Atlas[T, B]) truncateLayers(count int) {
	for layerIndex := count; layerIndex < len(a.layers); layerIndex++ {
		if a.layers[layerIndex].state != LayerEmpty {
			panic(fmt.Sprintf("attempted to drop layer %d, but it is %s", layerIndex, a.layers[layerIndex].String()))
		}
		a.layers[layerIndex] = Layer{}
	}

	a.layers = a.layers[:count]
}
