// Package transcode re-encodes raster images: decode whatever format the
// source is in, scale it down, and emit JPEG at a target quality.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable reports that the input bytes are not an image in any
// registered format.
var ErrUndecodable = errors.New("image data could not be decoded")

// Result is a finished JPEG re-encode.
type Result struct {
	Data   []byte
	Width  int
	Height int
	// ColorSpace is the PDF color space matching the encoded JPEG,
	// DeviceGray or DeviceRGB.
	ColorSpace string
}

// Transcode decodes data, scales both dimensions by scale, and re-encodes
// as JPEG at the given quality. Scale and quality are fractions in (0, 1].
// Target dimensions are rounded to the nearest pixel with a floor of 1.
func Transcode(data []byte, scale, quality float64) (Result, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return FromImage(img, scale, quality)
}

// FromImage scales and JPEG-encodes an already decoded image.
func FromImage(img image.Image, scale, quality float64) (Result, error) {
	if scale <= 0 || scale > 1 {
		return Result{}, fmt.Errorf("scale %v out of range (0, 1]", scale)
	}
	if quality <= 0 || quality > 1 {
		return Result{}, fmt.Errorf("quality %v out of range (0, 1]", quality)
	}
	img = Resize(img, scale)
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return Result{}, err
	}
	b := img.Bounds()
	cs := "DeviceRGB"
	if isGray(img) {
		cs = "DeviceGray"
	}
	return Result{Data: data, Width: b.Dx(), Height: b.Dy(), ColorSpace: cs}, nil
}

// Resize scales both dimensions by scale. A scale of 1 returns the image
// untouched. Grayscale sources stay grayscale so the JPEG encoder emits a
// single-channel image.
func Resize(img image.Image, scale float64) image.Image {
	if scale == 1 {
		return img
	}
	b := img.Bounds()
	w := scaledDim(b.Dx(), scale)
	h := scaledDim(b.Dy(), scale)
	var dst draw.Image
	if isGray(img) {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	// CatmullRom is slower but noticeably sharper; reserve the cheap kernel
	// for aggressive downscales where detail is lost anyway.
	var interp draw.Interpolator = draw.CatmullRom
	if scale < 0.5 {
		interp = draw.ApproxBiLinear
	}
	interp.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

func scaledDim(d int, scale float64) int {
	out := int(math.Round(float64(d) * scale))
	if out < 1 {
		out = 1
	}
	return out
}

// EncodeJPEG writes img as baseline JPEG. Quality is a fraction in (0, 1]
// mapped onto the encoder's 1..100 range.
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
