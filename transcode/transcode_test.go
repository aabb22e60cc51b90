package transcode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 5), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestTranscodeScalesDimensions(t *testing.T) {
	src := encodePNG(t, testImage(200, 100))

	res, err := Transcode(src, 0.6, 0.4)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if res.Width != 120 || res.Height != 60 {
		t.Errorf("got %dx%d, want 120x60", res.Width, res.Height)
	}
	img, err := jpeg.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output is not valid JPEG: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 60 {
		t.Errorf("decoded bounds %v", img.Bounds())
	}
}

func TestTranscodeTinyImageFloorsAtOnePixel(t *testing.T) {
	src := encodePNG(t, testImage(2, 2))
	res, err := Transcode(src, 0.1, 0.5)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if res.Width != 1 || res.Height != 1 {
		t.Errorf("got %dx%d, want 1x1", res.Width, res.Height)
	}
}

// Both interpolator paths must copy pixels rather than composite them, so
// a solid color survives resampling exactly.
func TestResizeKeepsSolidColor(t *testing.T) {
	want := color.NRGBA{R: 200, G: 40, B: 90, A: 255}
	src := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = want.R, want.G, want.B, want.A
	}
	for _, scale := range []float64{0.6, 0.3} {
		out := Resize(src, scale)
		b := out.Bounds()
		if b.Dx() != int(100*scale) || b.Dy() != int(100*scale) {
			t.Fatalf("scale %v: bounds %v", scale, b)
		}
		r, g, bl, a := out.At(b.Dx()/2, b.Dy()/2).RGBA()
		got := color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8)}
		if got != want {
			t.Errorf("scale %v: center pixel = %v, want %v", scale, got, want)
		}
	}
}

func TestTranscodeRejectsGarbage(t *testing.T) {
	_, err := Transcode([]byte("definitely not an image"), 0.5, 0.5)
	if !errors.Is(err, ErrUndecodable) {
		t.Fatalf("want ErrUndecodable, got %v", err)
	}
}

func TestTranscodeValidatesParameters(t *testing.T) {
	src := encodePNG(t, testImage(4, 4))
	if _, err := Transcode(src, 0, 0.5); err == nil {
		t.Error("zero scale must be rejected")
	}
	if _, err := Transcode(src, 0.5, 1.5); err == nil {
		t.Error("quality above 1 must be rejected")
	}
}

func TestFromSamplesGray(t *testing.T) {
	samples := make([]byte, 4*3)
	for i := range samples {
		samples[i] = byte(i * 20)
	}
	img, err := FromSamples(samples, 4, 3, 8, "DeviceGray")
	if err != nil {
		t.Fatalf("FromSamples: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("got %T, want *image.Gray", img)
	}
	if gray.GrayAt(2, 1).Y != samples[1*4+2] {
		t.Error("sample order mangled")
	}
}

func TestFromSamplesRGB(t *testing.T) {
	samples := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 10, 20, 30,
	}
	img, err := FromSamples(samples, 2, 2, 8, "DeviceRGB")
	if err != nil {
		t.Fatalf("FromSamples: %v", err)
	}
	r, g, b, a := img.At(1, 0).RGBA()
	if r != 0 || g>>8 != 255 || b != 0 || a>>8 != 255 {
		t.Errorf("pixel (1,0) = %d,%d,%d,%d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestFromSamplesUnsupported(t *testing.T) {
	if _, err := FromSamples([]byte{0}, 1, 1, 1, "DeviceGray"); !errors.Is(err, ErrUndecodable) {
		t.Errorf("1 bpc should be unsupported, got %v", err)
	}
	if _, err := FromSamples([]byte{0, 0, 0}, 1, 1, 8, "Indexed"); !errors.Is(err, ErrUndecodable) {
		t.Errorf("indexed color should be unsupported, got %v", err)
	}
	if _, err := FromSamples([]byte{0}, 2, 2, 8, "DeviceGray"); !errors.Is(err, ErrUndecodable) {
		t.Errorf("truncated samples should be rejected, got %v", err)
	}
}
