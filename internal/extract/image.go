package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"

	"github.com/filedock/filedock/internal/models"
)

// previewMaxDim bounds the longest edge of generated preview images.
const previewMaxDim = 256

// Image decodes raster images and emits a downscaled PNG preview derivative.
// There is no text payload; the summary document for an image carries
// metadata only.
type Image struct{}

func (Image) Name() string { return "image" }

func (Image) Extract(ctx context.Context, data []byte, declaredMIME string) (*Payload, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	preview, err := encodePNG(scaleDown(img, previewMaxDim))
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	return &Payload{
		RefinedMIME: "image/" + format,
		Metadata: map[string]string{
			"width":  strconv.Itoa(bounds.Dx()),
			"height": strconv.Itoa(bounds.Dy()),
			"format": format,
		},
		Blobs: []Blob{{
			Kind:        models.KindPreviewImage,
			ContentType: "image/png",
			Data:        preview,
		}},
	}, nil
}

// scaleDown shrinks img so its longest edge is at most maxDim, using
// nearest-neighbor sampling. Previews are thumbnails; fidelity does not
// matter enough to pull in an interpolation library.
func scaleDown(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		sy := bounds.Min.Y + y*h/nh
		for x := 0; x < nw; x++ {
			sx := bounds.Min.X + x*w/nw
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
