package software

import (
	"image"

	"github.com/gogpu/gputypes"
)

// Texture is an in-memory RGBA texture array. Descriptor describes the texture a GPU backend
// would create to hold the same layers, and is kept in sync as the array grows.
type Texture struct {
	Descriptor gputypes.TextureDescriptor
	Layers     []*image.RGBA
}

func newDescriptor(label string, size, layerCount int) gputypes.TextureDescriptor {
	return gputypes.TextureDescriptor{
		Label: label,
		Size: gputypes.Extent3D{
			Width:              uint32(size),
			Height:             uint32(size),
			DepthOrArrayLayers: uint32(layerCount),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding,
	}
}

// LayerCount returns the number of layers in the texture array
func (t *Texture) LayerCount() int { return len(t.Layers) }

// Layer returns a single layer of the texture array
func (t *Texture) Layer(index int) *image.RGBA { return t.Layers[index] }
