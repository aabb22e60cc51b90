package optimize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/weslee-bat/pdfpress/filters"
	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/observability"
	"github.com/weslee-bat/pdfpress/transcode"
)

type SubstituteConfig struct {
	// Scale multiplies both pixel dimensions, in (0, 1].
	Scale float64
	// Quality is the JPEG quality fraction, in (0, 1].
	Quality float64
	// Workers caps the transcode pool. Zero means one worker per CPU.
	Workers int
	Limits  filters.Limits
	Logger  observability.Logger
}

// SubstituteImages re-encodes every image XObject and swaps in the result
// when it is strictly smaller than the original encoded stream. Images that
// cannot be decoded, or whose re-encode is not smaller, are left untouched.
// Returns the number of substitutions made.
func SubstituteImages(ctx context.Context, doc *raw.Document, cfg SubstituteConfig) (int, error) {
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}

	// Snapshot the targets up front: workers must never read the object map
	// while Assign writes to it.
	type target struct {
		ref raw.ObjectRef
		src *raw.Stream
	}
	var targets []target
	for _, ref := range doc.Refs() {
		obj, _ := doc.Object(ref)
		if raw.Classify(obj) == raw.KindImageStream {
			targets = append(targets, target{ref: ref, src: obj.(*raw.Stream)})
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(targets) {
		workers = len(targets)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return 0, err
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		swapped int
	)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			break
		}
		ref, src := t.ref, t.src
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			replacement, err := recodeImage(ctx, src, cfg)
			if err != nil {
				log.Debug("keeping original image",
					observability.Int("obj", ref.Num),
					observability.Error("err", err))
				return
			}
			if len(replacement.Data) >= len(src.Data) {
				log.Debug("re-encode not smaller, keeping original",
					observability.Int("obj", ref.Num),
					observability.Int("original", len(src.Data)),
					observability.Int("recoded", len(replacement.Data)))
				return
			}
			mu.Lock()
			doc.Assign(ref, replacement)
			swapped++
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			log.Warn("transcode pool rejected task", observability.Error("err", submitErr))
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return swapped, err
	}
	log.Info("image substitution finished",
		observability.Int("images", len(targets)),
		observability.Int(observability.MetricImagesRecoded, swapped))
	return swapped, nil
}

// recodeImage produces the candidate replacement stream for one image.
func recodeImage(ctx context.Context, src *raw.Stream, cfg SubstituteConfig) (*raw.Stream, error) {
	img, err := decodeImageStream(ctx, src, cfg.Limits)
	if err != nil {
		return nil, err
	}
	res, err := transcode.FromImage(img, cfg.Scale, cfg.Quality)
	if err != nil {
		return nil, err
	}

	dict := cloneDict(src.Dict)
	dict.Set("Filter", raw.NameOf(filters.NameDCT))
	dict.Delete("DecodeParms")
	dict.Delete("Decode")
	dict.Set("Width", raw.Integer(int64(res.Width)))
	dict.Set("Height", raw.Integer(int64(res.Height)))
	dict.Set("BitsPerComponent", raw.Integer(8))
	dict.Set("ColorSpace", raw.NameOf(res.ColorSpace))
	return raw.NewStream(dict, res.Data), nil
}

// decodeImageStream turns the stored image stream into a pixel image. A
// trailing DCTDecode filter means the payload is itself a JPEG; anything
// else is undone by the filter pipeline and reconstructed from raw samples.
func decodeImageStream(ctx context.Context, src *raw.Stream, limits filters.Limits) (image.Image, error) {
	if isMask, _ := src.Dict.Bool("ImageMask"); isMask {
		return nil, transcode.ErrUndecodable
	}
	names, params := filters.ExtractFilters(src.Dict)
	data := src.Data

	if n := len(names); n > 0 && names[n-1] == filters.NameDCT {
		if n > 1 {
			if len(params) > n-1 {
				params = params[:n-1]
			}
			var err error
			data, err = filters.Default(limits).Decode(ctx, data, names[:n-1], params)
			if err != nil {
				return nil, err
			}
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", transcode.ErrUndecodable, err)
		}
		return img, nil
	}

	if len(names) > 0 {
		var err error
		data, err = filters.Default(limits).Decode(ctx, data, names, params)
		if err != nil {
			return nil, err
		}
	}
	width, _ := src.Dict.Int("Width")
	height, _ := src.Dict.Int("Height")
	bpc, _ := src.Dict.Int("BitsPerComponent")
	return transcode.FromSamples(data, int(width), int(height), int(bpc), src.Dict.Name("ColorSpace"))
}

func cloneDict(d *raw.Dict) *raw.Dict {
	out := raw.NewDict()
	for k, v := range d.KV {
		out.Set(k, v)
	}
	return out
}
