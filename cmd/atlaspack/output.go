package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/atlas/atlas"
	"github.com/vkngwrapper/atlas/backend/software"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

const layoutFileName = "layout.json"

type layerEncoder struct {
	Extension string
	Encode    func(w io.Writer, img image.Image) error
}

var layerEncoders = map[string]layerEncoder{
	"png":  {Extension: "png", Encode: png.Encode},
	"bmp":  {Extension: "bmp", Encode: bmp.Encode},
	"tiff": {Extension: "tiff", Encode: encodeTIFF},
}

func encodeTIFF(w io.Writer, img image.Image) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

func layerEncoderFor(format string) (layerEncoder, error) {
	encoder, ok := layerEncoders[format]
	if !ok {
		return layerEncoder{}, errors.Newf("unknown layer format: %q", format)
	}
	return encoder, nil
}

// writeLayers encodes every layer of texture into dir and returns the file names in layer order
func writeLayers(dir string, texture *software.Texture, encoder layerEncoder) ([]string, error) {
	fileNames := make([]string, 0, texture.LayerCount())

	for layerIndex, layer := range texture.Layers {
		fileName := fmt.Sprintf("layer-%03d.%s", layerIndex, encoder.Extension)

		err := writeLayer(filepath.Join(dir, fileName), layer, encoder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to write layer %d", layerIndex)
		}

		printVerbose("Wrote %s\n", fileName)
		fileNames = append(fileNames, fileName)
	}

	return fileNames, nil
}

func writeLayer(path string, layer image.Image, encoder layerEncoder) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	err = encoder.Encode(file, layer)
	if err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}

// writeLayout writes a json file listing the layer files and the fragments of every packed
// image, followed by the detailed map of the atlas
func writeLayout(path string, packer *atlas.Atlas[*software.Texture, *software.Backend], images []*sourceImage, layerFiles []string) error {
	writer := jwriter.NewWriter()

	objState := writer.Object()
	objState.Name("LayerSize").Int(packer.LayerSize())

	layersArray := objState.Name("Layers").Array()
	for _, fileName := range layerFiles {
		layersArray.String(fileName)
	}
	layersArray.End()

	imagesArray := objState.Name("Images").Array()
	for _, source := range images {
		writeImageLayout(imagesArray.Object(), source)
	}
	imagesArray.End()

	packer.PrintDetailedMap(objState.Name("Map"))
	objState.End()

	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "failed to build layout")
	}

	return errors.Wrap(os.WriteFile(path, writer.Bytes(), 0o644), "failed to write layout")
}

func writeImageLayout(imageObj jwriter.ObjectState, source *sourceImage) {
	defer imageObj.End()

	width, height := source.Entry.Size()
	imageObj.Name("Name").String(source.Name)
	imageObj.Name("Width").Int(width)
	imageObj.Name("Height").Int(height)
	imageObj.Name("Kind").String(source.Entry.Kind().String())

	fragmentsArray := imageObj.Name("Fragments").Array()
	defer fragmentsArray.End()

	for _, fragment := range source.Entry.Fragments() {
		fragmentObj := fragmentsArray.Object()

		x, y := fragment.Allocation.Position()
		fragmentWidth, fragmentHeight := fragment.Allocation.Size()
		fragmentObj.Name("SourceX").Int(fragment.X)
		fragmentObj.Name("SourceY").Int(fragment.Y)
		fragmentObj.Name("Layer").Int(fragment.Allocation.Layer())
		fragmentObj.Name("X").Int(x)
		fragmentObj.Name("Y").Int(y)
		fragmentObj.Name("Width").Int(fragmentWidth)
		fragmentObj.Name("Height").Int(fragmentHeight)

		fragmentObj.End()
	}
}
