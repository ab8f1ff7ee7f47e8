package atlas

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/metadata"
)

// Size is the default edge length, in texels, of every layer in an Atlas
const Size int = 2048

// Algorithm selects the region allocator used to pack partial allocations into a layer
type Algorithm uint32

const (
	// AlgorithmGuillotine packs layers with metadata.GuillotineMetadata. This is the default.
	AlgorithmGuillotine Algorithm = iota
	// AlgorithmShelf packs layers with metadata.ShelfMetadata, which is faster and works well
	// when most images share a handful of heights, such as glyphs.
	AlgorithmShelf
)

var algorithmMapping = map[Algorithm]string{
	AlgorithmGuillotine: "guillotine",
	AlgorithmShelf:      "shelf",
}

func (a Algorithm) String() string {
	name, ok := algorithmMapping[a]
	if !ok {
		return "unknown"
	}
	return name
}

// ParseAlgorithm returns the Algorithm whose String value is name
func ParseAlgorithm(name string) (Algorithm, error) {
	for algorithm, algorithmName := range algorithmMapping {
		if algorithmName == name {
			return algorithm, nil
		}
	}

	return 0, errors.Newf("unknown atlas algorithm: %q", name)
}

// CreateOptions contains optional settings when creating an Atlas. The zero value is a
// single-layer guillotine atlas with layers of Size texels that grows without limit.
type CreateOptions struct {
	// LayerSize is the edge length of every layer. It must be a power of two. If 0, Size is used.
	LayerSize int
	// InitialLayerCount is the number of empty layers the atlas starts with. The backend passed to New
	// must already hold this many layers. If 0, a single layer is used.
	InitialLayerCount int
	// MaxLayerCount is the largest number of layers the atlas may grow to. Requests that would need
	// more layers fail. If 0, the atlas grows without limit.
	MaxLayerCount int

	// Algorithm selects the region allocator used to pack partial allocations into a layer
	Algorithm Algorithm
	// Strategy is passed to the region allocator for every request
	Strategy metadata.AllocationStrategy
	// ShelfTolerance is how much taller, in percent, an existing shelf may be than an image placed in it
	// when Algorithm is AlgorithmShelf. If 0, 25% is used.
	ShelfTolerance int
}

func (o CreateOptions) resolve() (CreateOptions, error) {
	if o.LayerSize == 0 {
		o.LayerSize = Size
	}

	err := memutils.CheckPow2(o.LayerSize, "LayerSize")
	if err != nil {
		return o, err
	}

	if o.InitialLayerCount == 0 {
		o.InitialLayerCount = 1
	} else if o.InitialLayerCount < 0 {
		return o, errors.Newf("InitialLayerCount is %d, but it may not be negative", o.InitialLayerCount)
	}

	if o.MaxLayerCount < 0 {
		return o, errors.Newf("MaxLayerCount is %d, but it may not be negative", o.MaxLayerCount)
	} else if o.MaxLayerCount > 0 && o.MaxLayerCount < o.InitialLayerCount {
		return o, errors.Newf("MaxLayerCount is %d, but InitialLayerCount is %d", o.MaxLayerCount, o.InitialLayerCount)
	}

	if _, ok := algorithmMapping[o.Algorithm]; !ok {
		return o, errors.Newf("unknown atlas algorithm: %d", o.Algorithm)
	}

	if o.ShelfTolerance < 0 {
		return o, errors.Newf("ShelfTolerance is %d, but it may not be negative", o.ShelfTolerance)
	}

	return o, nil
}
