package transcode

import (
	"fmt"
	"image"
)

// FromSamples reconstructs an image from raw PDF sample data in one of the
// device color spaces at 8 bits per component. Other encodings return
// ErrUndecodable and the caller keeps the original stream.
func FromSamples(data []byte, width, height, bpc int, colorSpace string) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: empty dimensions", ErrUndecodable)
	}
	if bpc == 0 {
		bpc = 8
	}
	if bpc != 8 {
		return nil, fmt.Errorf("%w: %d bits per component", ErrUndecodable, bpc)
	}
	switch colorSpace {
	case "DeviceGray", "CalGray":
		if len(data) < width*height {
			return nil, fmt.Errorf("%w: truncated gray samples", ErrUndecodable)
		}
		return &image.Gray{
			Pix:    data,
			Stride: width,
			Rect:   image.Rect(0, 0, width, height),
		}, nil
	case "DeviceRGB", "CalRGB":
		if len(data) < width*height*3 {
			return nil, fmt.Errorf("%w: truncated rgb samples", ErrUndecodable)
		}
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		i := 0
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				off := (y*width + x) * 4
				img.Pix[off] = data[i]
				img.Pix[off+1] = data[i+1]
				img.Pix[off+2] = data[i+2]
				img.Pix[off+3] = 255
				i += 3
			}
		}
		return img, nil
	case "DeviceCMYK":
		if len(data) < width*height*4 {
			return nil, fmt.Errorf("%w: truncated cmyk samples", ErrUndecodable)
		}
		img := image.NewCMYK(image.Rect(0, 0, width, height))
		copy(img.Pix, data)
		return img, nil
	}
	return nil, fmt.Errorf("%w: color space %s", ErrUndecodable, colorSpace)
}
