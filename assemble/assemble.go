// Package assemble builds a PDF from an ordered list of images: one page
// per image, each page sized to the image's native pixel dimensions at one
// point per pixel.
package assemble

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/observability"
	"github.com/weslee-bat/pdfpress/writer"
)

// ErrUnsupportedFormat reports an item whose bytes are not an image in any
// registered format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Item is one entry of the ordered input list.
type Item struct {
	// Name identifies the item in error messages, typically a filename.
	Name string
	Data []byte
}

type Config struct {
	Logger observability.Logger
}

// Assemble produces the PDF bytes. Page order follows item order exactly.
// Any undecodable item aborts the whole assembly.
func Assemble(ctx context.Context, items []Item, cfg Config) ([]byte, error) {
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	if len(items) == 0 {
		return nil, errors.New("no images to assemble")
	}

	doc := raw.NewDocument()
	next := 1
	alloc := func(obj raw.Object) raw.Ref {
		ref := raw.ObjectRef{Num: next}
		next++
		doc.Assign(ref, obj)
		return raw.RefTo(ref.Num, ref.Gen)
	}

	catalogRef := alloc(nil)
	pagesRef := alloc(nil)

	var kids []raw.Object
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		xobj, w, h, err := imageXObject(item)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", item.Name, err)
		}
		imgRef := alloc(xobj)

		content := fmt.Sprintf("q %d 0 0 %d 0 0 cm /Im0 Do Q", w, h)
		contentRef := alloc(raw.NewStream(raw.NewDict(), []byte(content)))

		xobjects := raw.NewDict()
		xobjects.Set("Im0", imgRef)
		resources := raw.NewDict()
		resources.Set("XObject", xobjects)

		page := raw.NewDict()
		page.Set("Type", raw.NameOf("Page"))
		page.Set("Parent", pagesRef)
		page.Set("MediaBox", raw.NewArray(
			raw.Integer(0), raw.Integer(0), raw.Integer(int64(w)), raw.Integer(int64(h))))
		page.Set("Resources", resources)
		page.Set("Contents", contentRef)
		kids = append(kids, alloc(page))

		log.Debug("page assembled",
			observability.Int("page", i+1),
			observability.String("item", item.Name),
			observability.Int("width", w),
			observability.Int("height", h))
	}

	pages := raw.NewDict()
	pages.Set("Type", raw.NameOf("Pages"))
	pages.Set("Kids", raw.NewArray(kids...))
	pages.Set("Count", raw.Integer(int64(len(kids))))
	doc.Assign(raw.ObjectRef{Num: pagesRef.R.Num}, pages)

	catalog := raw.NewDict()
	catalog.Set("Type", raw.NameOf("Catalog"))
	catalog.Set("Pages", pagesRef)
	doc.Assign(raw.ObjectRef{Num: catalogRef.R.Num}, catalog)

	doc.Trailer = raw.NewDict()
	doc.Trailer.Set("Root", catalogRef)
	doc.Version = "1.4"

	out, err := writer.New(writer.Config{Layout: writer.LayoutClassic, Logger: log}).Serialize(doc)
	if err != nil {
		return nil, err
	}
	log.Info("assembly finished",
		observability.Int(observability.MetricAssemblePages, len(items)),
		observability.Int("bytes", len(out)))
	return out, nil
}

// imageXObject converts one source image into an image XObject stream.
// JPEG input is embedded verbatim behind DCTDecode; everything else is
// decoded and stored as deflated raw samples, so no quality is lost.
func imageXObject(item Item) (*raw.Stream, int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(item.Data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	dict := raw.NewDict()
	dict.Set("Type", raw.NameOf("XObject"))
	dict.Set("Subtype", raw.NameOf("Image"))
	dict.Set("Width", raw.Integer(int64(cfg.Width)))
	dict.Set("Height", raw.Integer(int64(cfg.Height)))
	dict.Set("BitsPerComponent", raw.Integer(8))

	if format == "jpeg" {
		dict.Set("Filter", raw.NameOf("DCTDecode"))
		dict.Set("ColorSpace", raw.NameOf(jpegColorSpace(cfg.ColorModel)))
		return raw.NewStream(dict, item.Data), cfg.Width, cfg.Height, nil
	}

	img, _, err := image.Decode(bytes.NewReader(item.Data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	samples, colorSpace := rawSamples(img)
	deflated, err := deflate(samples)
	if err != nil {
		return nil, 0, 0, err
	}
	dict.Set("Filter", raw.NameOf("FlateDecode"))
	dict.Set("ColorSpace", raw.NameOf(colorSpace))
	return raw.NewStream(dict, deflated), cfg.Width, cfg.Height, nil
}

func jpegColorSpace(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "DeviceGray"
	case color.CMYKModel:
		return "DeviceCMYK"
	default:
		return "DeviceRGB"
	}
}

// rawSamples flattens the image into packed 8-bit components.
func rawSamples(img image.Image) ([]byte, string) {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		out := make([]byte, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			out = append(out, g.Pix[(y-b.Min.Y)*g.Stride:(y-b.Min.Y)*g.Stride+b.Dx()]...)
		}
		return out, "DeviceGray"
	}
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out, "DeviceRGB"
}

func deflate(data []byte) ([]byte, error) {
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
