package atlas

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// AddStatistics sums a cheap summary of every layer into stats
func (a *Atlas[T, B]) AddStatistics(stats *memutils.Statistics) {
	for _, layer := range a.layers {
		layer.addStatistics(stats, a.size)
	}
}

// CalculateStatistics clears stats and fills it with a detailed summary of every layer. Empty
// layers count as one unused region and full layers as one allocation covering the layer.
func (a *Atlas[T, B]) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	for _, layer := range a.layers {
		layer.addDetailedStatistics(stats, a.size)
	}
}

// PrintDetailedMap writes a json description of every layer and region in the atlas
func (a *Atlas[T, B]) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("LayerSize").Int(a.size)
	objState.Name("Algorithm").String(a.options.Algorithm.String())

	var stats memutils.DetailedStatistics
	a.CalculateStatistics(&stats)
	totalObj := objState.Name("Total").Object()
	totalObj.Name("Layers").Int(stats.LayerCount)
	totalObj.Name("Allocations").Int(stats.AllocationCount)
	totalObj.Name("LayerArea").Int(stats.LayerArea)
	totalObj.Name("AllocationArea").Int(stats.AllocationArea)
	totalObj.End()

	layersArray := objState.Name("Layers").Array()
	defer layersArray.End()

	for layerIndex, layer := range a.layers {
		layerObj := layersArray.Object()

		layerObj.Name("Index").Int(layerIndex)
		layerObj.Name("State").String(layer.state.String())
		if layer.state == LayerBusy {
			layer.metadata.BlockJsonData(layerObj)
			a.printDetailedMapRegions(layer.metadata, layerObj)
		}

		layerObj.End()
	}
}

func (a *Atlas[T, B]) printDetailedMapRegions(md metadata.RegionMetadata, json jwriter.ObjectState) {
	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, region metadata.Region, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("X").Int(region.X)
			obj.Name("Y").Int(region.Y)
			obj.Name("Width").Int(region.Width)
			obj.Name("Height").Int(region.Height)
			obj.Name("Free").Bool(free)

			return nil
		})
}

// Validate checks that every layer's state agrees with its region allocator and that the
// region allocators are internally consistent
func (a *Atlas[T, B]) Validate() error {
	if a.options.MaxLayerCount > 0 && len(a.layers) > a.options.MaxLayerCount {
		return errors.Newf("the atlas has %d layers, but it is limited to %d", len(a.layers), a.options.MaxLayerCount)
	}

	partialCount := 0
	for layerIndex, layer := range a.layers {
		if (layer.state == LayerFull) != (layer.owner != nil) {
			return errors.Newf("layer %d is %s, but its owner is %p", layerIndex, layer.state, layer.owner)
		}

		switch layer.state {
		case LayerEmpty, LayerFull:
			if layer.metadata != nil {
				return errors.Newf("layer %d is %s but has a region allocator", layerIndex, layer.state)
			}
		case LayerBusy:
			if layer.metadata == nil {
				return errors.Newf("layer %d is busy but has no region allocator", layerIndex)
			}
			if layer.metadata.IsEmpty() {
				return errors.Newf("layer %d is busy but has no allocations", layerIndex)
			}
			if layer.metadata.Size() != a.size {
				return errors.Newf("layer %d has a region allocator of size %d, but the atlas uses layers of size %d", layerIndex, layer.metadata.Size(), a.size)
			}

			err := layer.metadata.Validate()
			if err != nil {
				return errors.Wrapf(err, "layer %d failed validation", layerIndex)
			}
			partialCount += layer.metadata.AllocationCount()
		default:
			return errors.Newf("layer %d has unknown state %d", layerIndex, layer.state)
		}
	}

	if a.fragments.Count() != partialCount {
		return errors.Newf("%d partial allocations are tracked, but the layers hold %d", a.fragments.Count(), partialCount)
	}

	var err error
	a.fragments.Iter(func(key fragmentKey, ref fragmentRef) bool {
		if keyFor(ref.entry.fragments[ref.index].Allocation) != key {
			err = errors.Newf("the allocation tracked at layer %d handle %d has moved to %s", key.layer, key.handle, ref.entry.fragments[ref.index].Allocation)
			return true
		}
		return false
	})

	return err
}
