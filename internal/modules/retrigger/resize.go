package retrigger

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const resizeStep = 16

// resizeImage scales the image to fit a square of 16*size pixels, keeping
// the aspect ratio and never enlarging it. The result is PNG encoded.
func resizeImage(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = 1
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	limit := resizeStep * size
	width, height := bounds.Dx(), bounds.Dy()
	if width > limit || height > limit {
		if width >= height {
			height = max(1, height*limit/width)
			width = limit
		} else {
			width = max(1, width*limit/height)
			height = limit
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
