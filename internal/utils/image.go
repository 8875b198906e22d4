package utils

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	_ "image/gif"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

var ErrUnsupportedImage = errors.New("unsupported image format")

// ResizeToFit decodes an image and scales it down so neither side exceeds
// maxDimension. Smaller images are returned unchanged.
func ResizeToFit(r io.Reader, maxDimension uint) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, ErrUnsupportedImage
	}

	bounds := img.Bounds()
	width := uint(bounds.Dx())
	height := uint(bounds.Dy())

	if width <= maxDimension && height <= maxDimension {
		return img, nil
	}

	// resize keeps the aspect ratio when one side is zero
	if width >= height {
		return resize.Resize(maxDimension, 0, img, resize.Lanczos3), nil
	}
	return resize.Resize(0, maxDimension, img, resize.Lanczos3), nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func IsValidImageFormat(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	return Contains(AllowedImageTypes, ext)
}
