package atlas

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Atlas packs many images into the layers of a single array texture owned by a Backend. Layers
// are only ever appended, so a layer index handed out in an Allocation stays valid for the life of
// the atlas.
//
// Atlas is not safe for concurrent use.
type Atlas[T any, B Backend[T]] struct {
	logger  *slog.Logger
	backend B
	options CreateOptions
	size    int

	layers    []Layer
	fragments *swiss.Map[fragmentKey, fragmentRef]

	// spareMetadata is the region allocator of the most recently emptied layer, kept to be
	// cleared and reused by the next layer that becomes busy
	spareMetadata metadata.RegionMetadata
}

// New creates an Atlas around a backend that already holds options.InitialLayerCount layers
func New[T any, B Backend[T]](logger *slog.Logger, backend B, options CreateOptions) (*Atlas[T, B], error) {
	resolved, err := options.resolve()
	if err != nil {
		return nil, errors.Wrap(err, "invalid atlas options")
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Atlas::New",
		slog.Int("layer.size", resolved.LayerSize),
		slog.Int("layer.count", resolved.InitialLayerCount),
		slog.String("algorithm", resolved.Algorithm.String()),
	)

	return &Atlas[T, B]{
		logger:    logger,
		backend:   backend,
		options:   resolved,
		size:      resolved.LayerSize,
		layers:    make([]Layer, resolved.InitialLayerCount),
		fragments: newFragmentMap(),
	}, nil
}

func (a *Atlas[T, B]) Backend() B             { return a.backend }
func (a *Atlas[T, B]) LayerCount() int        { return len(a.layers) }
func (a *Atlas[T, B]) LayerSize() int         { return a.size }
func (a *Atlas[T, B]) Options() CreateOptions { return a.options }

// Layers returns the current layers of the atlas. The returned slice must not be modified.
func (a *Atlas[T, B]) Layers() []Layer { return a.layers }

// View returns the texture renderers bind to sample from the atlas
func (a *Atlas[T, B]) View() T { return a.backend.Texture() }

// Texture is an alias for View
func (a *Atlas[T, B]) Texture() T { return a.backend.Texture() }

// EntryFor reserves space for a width x height image. Images exactly the size of a layer take a
// whole layer, images larger than a layer are split into layer-sized fragments, and everything else
// is packed into the first layer with room, appending a layer if none has any.
//
// After a successful allocation grow is called with the number of layers that were appended, which
// may be 0. If grow is nil no call is made. If grow fails, the allocation is released and the error
// is returned.
//
// When the image cannot be placed because the atlas reached options.MaxLayerCount, EntryFor returns
// false and leaves the atlas exactly as it was.
func (a *Atlas[T, B]) EntryFor(width, height int, grow GrowFunc[B]) (*Entry, bool, error) {
	if width < 1 || height < 1 {
		return nil, false, errors.Wrapf(memutils.InvalidSizeError, "invalid image size %dx%d", width, height)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Atlas::EntryFor",
		slog.Int("width", width),
		slog.Int("height", height),
	)

	knownLayers := len(a.layers)
	entry, ok, err := a.allocate(width, height)
	if err != nil || !ok {
		a.truncateLayers(knownLayers)
		return nil, false, err
	}

	newLayers := len(a.layers) - knownLayers
	if newLayers > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Appended layers",
			slog.Int("layer.count", len(a.layers)),
			slog.Int("amount", newLayers),
		)
	}

	a.registerEntry(entry)

	if grow != nil {
		err = grow(a.backend, a.layers, newLayers)
		if err != nil {
			a.Remove(entry)
			a.truncateLayers(knownLayers)
			return nil, false, errors.Wrapf(err, "failed to grow the atlas backend by %d layers", newLayers)
		}
	}

	memutils.DebugValidate(a)
	return entry, true, nil
}

// Remove releases the space held by an entry. Layers left without allocations become empty and
// can be reused by any later request. Removing an entry that was already removed does nothing,
// even if its space has since been handed to another entry.
func (a *Atlas[T, B]) Remove(entry *Entry) {
	if entry == nil {
		return
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Atlas::Remove",
		slog.String("kind", entry.kind.String()),
		slog.Int("fragments", len(entry.fragments)),
	)

	for fragmentIndex, fragment := range entry.fragments {
		if !a.ownsFragment(entry, fragmentIndex) {
			a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Ignored region the entry no longer owns",
				slog.String("allocation", fragment.Allocation.String()),
			)
			continue
		}

		if fragment.Allocation.kind == AllocationPartial {
			a.fragments.Delete(keyFor(fragment.Allocation))
		}
		a.deallocate(fragment.Allocation)
	}

	memutils.DebugValidate(a)
}

// Destroy logs every allocation that is still live and returns an error if there were any.
// The atlas must not be used afterward.
func (a *Atlas[T, B]) Destroy() error {
	unreleased := 0

	for layerIndex, layer := range a.layers {
		switch layer.state {
		case LayerFull:
			unreleased++
			a.logUnreleasedRegion(layerIndex, metadata.Region{Width: a.size, Height: a.size})
		case LayerBusy:
			err := layer.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, region metadata.Region, free bool) error {
				if !free {
					unreleased++
					a.logUnreleasedRegion(layerIndex, region)
				}
				return nil
			})
			if err != nil {
				a.logger.LogAttrs(context.Background(),
					slog.LevelError,
					"[UNRELEASED REGION] error while iterating unreleased regions",
					slog.Any("error", err))
			}
		}
	}

	if unreleased > 0 {
		return errors.Newf("%d allocations were not removed before the atlas was destroyed", unreleased)
	}

	a.layers = nil
	a.fragments = newFragmentMap()
	a.spareMetadata = nil
	return nil
}

func (a *Atlas[T, B]) logUnreleasedRegion(layer int, region metadata.Region) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED REGION] unremoved allocation",
		slog.Int("layer", layer),
		slog.Int("x", region.X),
		slog.Int("y", region.Y),
		slog.Int("width", region.Width),
		slog.Int("height", region.Height),
	)
}
