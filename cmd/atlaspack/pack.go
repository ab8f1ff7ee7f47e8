package main

import (
	"image"
	"os"
	"path/filepath"
	"sort"

	// Decoders for the formats atlaspack accepts as input
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/atlas/atlas"
	"github.com/vkngwrapper/atlas/backend/software"
	"github.com/vkngwrapper/atlas/memutils"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	packOut       string
	packLayerSize int
	packMaxLayers int
	packAlgorithm string
	packFormat    string
)

func init() {
	cmd := newPackCmd()
	cmd.Flags().StringVarP(&packOut, "out", "o", "", "Directory to write atlas layers and layout to (required)")
	cmd.Flags().IntVar(&packLayerSize, "layer-size", atlas.Size, "Edge length of every atlas layer, a power of two")
	cmd.Flags().IntVar(&packMaxLayers, "max-layers", 0, "Largest number of layers to create, 0 for no limit")
	cmd.Flags().StringVar(&packAlgorithm, "algorithm", atlas.AlgorithmGuillotine.String(), "Region allocator: guillotine or shelf")
	cmd.Flags().StringVar(&packFormat, "format", "png", "Layer image format: png, bmp or tiff")
	_ = cmd.MarkFlagRequired("out")
	rootCmd.AddCommand(cmd)
}

func newPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <dir>",
		Short: "Pack a directory of images into an atlas",
		Long: `The pack command decodes every png, jpeg, gif, bmp, tiff and webp image in a
directory, packs them into an atlas and writes the layers and a layout.json file
describing where each image was placed. Files that are not images are skipped.

Example:
  atlaspack pack sprites --out build/atlas
  atlaspack pack glyphs --out build/glyphs --algorithm shelf --layer-size 1024
  atlaspack pack icons --out build/icons --max-layers 2 --format tiff`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(args)
		},
	}
	return cmd
}

// sourceImage is a decoded input image converted to tightly packed RGBA
type sourceImage struct {
	Name  string
	Image *image.RGBA
	Entry *atlas.Entry
}

func runPack(args []string) error {
	inputDir := args[0]

	algorithm, err := atlas.ParseAlgorithm(packAlgorithm)
	if err != nil {
		return err
	}

	encoder, err := layerEncoderFor(packFormat)
	if err != nil {
		return err
	}

	images, err := loadImages(inputDir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.Newf("no images found in %s", inputDir)
	}

	// Taller images first, which packs noticeably tighter for both allocators
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Image.Rect.Dy() > images[j].Image.Rect.Dy()
	})

	logger := newLogger()
	backend, err := software.NewBackend(logger, software.CreateOptions{
		Label:     filepath.Base(inputDir),
		LayerSize: packLayerSize,
	})
	if err != nil {
		return err
	}

	packer, err := atlas.New[*software.Texture](logger, backend, atlas.CreateOptions{
		LayerSize:     packLayerSize,
		MaxLayerCount: packMaxLayers,
		Algorithm:     algorithm,
	})
	if err != nil {
		return err
	}

	defer func() {
		for _, source := range images {
			packer.Remove(source.Entry)
		}
		_ = packer.Destroy()
	}()

	for _, source := range images {
		bounds := source.Image.Rect
		entry, ok, err := packer.EntryFor(bounds.Dx(), bounds.Dy(), (*software.Backend).Grow)
		if err != nil {
			return errors.Wrapf(err, "failed to place %s", source.Name)
		}
		if !ok {
			return errors.Newf("%s (%dx%d) does not fit, the atlas is limited to %d layers",
				source.Name, bounds.Dx(), bounds.Dy(), packer.Options().MaxLayerCount)
		}
		source.Entry = entry

		err = backend.Upload(bounds.Dx(), bounds.Dy(), source.Image.Pix, entry)
		if err != nil {
			return errors.Wrapf(err, "failed to upload %s", source.Name)
		}

		printVerbose("Placed %s (%dx%d) in %d fragment(s)\n", source.Name, bounds.Dx(), bounds.Dy(), len(entry.Fragments()))
	}

	err = os.MkdirAll(packOut, 0o755)
	if err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	layerFiles, err := writeLayers(packOut, backend.Texture(), encoder)
	if err != nil {
		return err
	}

	err = writeLayout(filepath.Join(packOut, layoutFileName), packer, images, layerFiles)
	if err != nil {
		return err
	}

	var stats memutils.DetailedStatistics
	packer.CalculateStatistics(&stats)
	printInfo("Packed %d images into %d layers of %dx%d (%.1f%% used)\n",
		len(images), packer.LayerCount(), packer.LayerSize(), packer.LayerSize(),
		100*float64(stats.AllocationArea)/float64(stats.LayerArea))

	return nil
}

// loadImages decodes every image in dir, in name order
func loadImages(dir string) ([]*sourceImage, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input directory")
	}

	var images []*sourceImage
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}

		decoded, err := decodeImage(filepath.Join(dir, dirEntry.Name()))
		if errors.Is(err, image.ErrFormat) {
			printVerbose("Skipping %s: not an image\n", dirEntry.Name())
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", dirEntry.Name())
		}

		images = append(images, &sourceImage{Name: dirEntry.Name(), Image: decoded})
	}

	return images, nil
}

func decodeImage(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	bounds := decoded.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Rect, decoded, bounds.Min, draw.Src)

	return rgba, nil
}
