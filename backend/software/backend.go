package software

import (
	"context"
	"image"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/atlas"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/defrag"
	"golang.org/x/exp/slog"
	"golang.org/x/image/draw"
)

// RowAlignment is the byte alignment of each row in the staging buffer used by Upload, matching
// the row pitch GPU APIs require for buffer to texture copies
const RowAlignment uint = 256

const bytesPerPixel = 4

// CreateOptions contains optional settings when creating a Backend
type CreateOptions struct {
	// Label is copied into the texture descriptor
	Label string
	// LayerSize is the edge length of every layer. It must match the LayerSize of the atlas. If 0,
	// atlas.Size is used.
	LayerSize int
	// InitialLayerCount is the number of layers to create. It must match the InitialLayerCount of
	// the atlas. If 0, a single layer is created.
	InitialLayerCount int
}

// Backend stores atlas layers in system memory. It implements atlas.Backend, its Grow method can be
// passed to atlas.Atlas.EntryFor as the grow callback and its CopyRegions method can be passed to
// atlas.Atlas.Defragment.
type Backend struct {
	logger  *slog.Logger
	label   string
	size    int
	texture *Texture
	staging []byte
}

var _ atlas.Backend[*Texture] = &Backend{}
var _ atlas.GrowFunc[*Backend] = (*Backend).Grow
var _ atlas.CopyFunc[*Backend] = (*Backend).CopyRegions

// NewBackend creates a Backend holding options.InitialLayerCount blank layers
func NewBackend(logger *slog.Logger, options CreateOptions) (*Backend, error) {
	size := options.LayerSize
	if size == 0 {
		size = atlas.Size
	}

	err := memutils.CheckPow2(size, "LayerSize")
	if err != nil {
		return nil, errors.Wrap(err, "invalid backend options")
	}

	layerCount := options.InitialLayerCount
	if layerCount == 0 {
		layerCount = 1
	} else if layerCount < 0 {
		return nil, errors.Newf("InitialLayerCount is %d, but it may not be negative", layerCount)
	}

	backend := &Backend{
		logger: logger,
		label:  options.Label,
		size:   size,
		texture: &Texture{
			Descriptor: newDescriptor(options.Label, size, layerCount),
			Layers:     make([]*image.RGBA, 0, layerCount),
		},
	}

	for i := 0; i < layerCount; i++ {
		backend.texture.Layers = append(backend.texture.Layers, backend.newLayer())
	}

	return backend, nil
}

func (b *Backend) newLayer() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, b.size, b.size))
}

func (b *Backend) Texture() *Texture { return b.texture }

// Grow replaces the texture array with one holding len(layers) layers. Layers that existed before
// the growth are carried over unless the atlas reports them empty, in which case a blank layer
// takes their place.
func (b *Backend) Grow(layers []atlas.Layer, amount int) error {
	if amount == 0 {
		return nil
	}

	oldCount := len(layers) - amount
	if amount < 0 || oldCount > len(b.texture.Layers) {
		return errors.Newf("cannot grow from %d layers to %d, the texture array has %d layers",
			oldCount, len(layers), len(b.texture.Layers))
	}

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "Backend::Grow",
		slog.Int("layer.count", len(layers)),
		slog.Int("amount", amount),
	)

	grown := &Texture{
		Descriptor: newDescriptor(b.label, b.size, len(layers)),
		Layers:     make([]*image.RGBA, len(layers)),
	}

	copied := 0
	for layerIndex := range grown.Layers {
		grown.Layers[layerIndex] = b.newLayer()

		if layerIndex < oldCount && !layers[layerIndex].IsEmpty() {
			oldLayer := b.texture.Layers[layerIndex]
			draw.Draw(grown.Layers[layerIndex], oldLayer.Bounds(), oldLayer, image.Point{}, draw.Src)
			copied++
		}
	}

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Copied resident layers",
		slog.Int("count", copied),
	)

	b.texture = grown
	return nil
}

// Upload copies tightly packed RGBA pixel data for a width x height image into every region of
// entry. The pixels are first staged in a buffer with rows aligned to RowAlignment, the same
// layout a GPU backend would copy from.
func (b *Backend) Upload(width, height int, data []byte, entry *atlas.Entry) error {
	if entry == nil {
		return errors.New("cannot upload to a nil entry")
	}

	entryWidth, entryHeight := entry.Size()
	if entryWidth != width || entryHeight != height {
		return errors.Newf("cannot upload a %dx%d image to an entry of size %dx%d", width, height, entryWidth, entryHeight)
	}

	if len(data) != bytesPerPixel*width*height {
		return errors.Newf("image data for a %dx%d image should be %d bytes, but it is %d bytes",
			width, height, bytesPerPixel*width*height, len(data))
	}

	staging := b.stage(width, height, data)

	for _, fragment := range entry.Fragments() {
		allocation := fragment.Allocation
		if allocation.Layer() >= len(b.texture.Layers) {
			return errors.Newf("entry fragment at (%d,%d) is in layer %d, but the texture array has %d layers",
				fragment.X, fragment.Y, allocation.Layer(), len(b.texture.Layers))
		}

		x, y := allocation.Position()
		fragmentWidth, fragmentHeight := allocation.Size()
		target := image.Rect(x, y, x+fragmentWidth, y+fragmentHeight)
		draw.Draw(b.texture.Layers[allocation.Layer()], target, staging, image.Pt(fragment.X, fragment.Y), draw.Src)
	}

	return nil
}

// CopyRegions copies the texels of every defragmentation move left as defrag.MoveCopy from its
// source region to its destination region
func (b *Backend) CopyRegions(moves []atlas.DefragmentationMove) error {
	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "Backend::CopyRegions", slog.Int("count", len(moves)))

	for _, move := range moves {
		if move.Operation != defrag.MoveCopy {
			continue
		}

		if move.Src.Layer() >= len(b.texture.Layers) || move.Dst.Layer() >= len(b.texture.Layers) {
			return errors.Newf("cannot copy %s to %s, the texture array has %d layers", move.Src, move.Dst, len(b.texture.Layers))
		}
		srcRegion, dstRegion := move.Src.Region(), move.Dst.Region()
		if srcRegion.Width != dstRegion.Width || srcRegion.Height != dstRegion.Height {
			return errors.Newf("cannot copy %s to a region of a different size %s", move.Src, move.Dst)
		}

		target := image.Rect(dstRegion.X, dstRegion.Y, dstRegion.Right(), dstRegion.Bottom())
		draw.Draw(b.texture.Layers[move.Dst.Layer()], target, b.texture.Layers[move.Src.Layer()], image.Pt(srcRegion.X, srcRegion.Y), draw.Src)
	}

	return nil
}

// stage copies data into the staging buffer with padded rows and returns an image over it
func (b *Backend) stage(width, height int, data []byte) *image.RGBA {
	rowSize := bytesPerPixel * width
	paddedRowSize := memutils.AlignUp(rowSize, RowAlignment)

	stagingSize := paddedRowSize * height
	if cap(b.staging) < stagingSize {
		b.staging = make([]byte, stagingSize)
	}
	b.staging = b.staging[:stagingSize]

	for row := 0; row < height; row++ {
		copy(b.staging[row*paddedRowSize:row*paddedRowSize+rowSize], data[row*rowSize:(row+1)*rowSize])
	}

	return &image.RGBA{
		Pix:    b.staging,
		Stride: paddedRowSize,
		Rect:   image.Rect(0, 0, width, height),
	}
}
