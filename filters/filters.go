// Package filters implements the stream decode filters needed to recover
// raw stream payloads: Flate (with PNG/TIFF predictors), LZW, ASCIIHex,
// ASCII85 and RunLength.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/weslee-bat/pdfpress/ir/raw"
)

// ErrDecodeLimit reports that a decode run breached the configured output
// cap. Callers map it onto the resource-exhaustion taxonomy.
var ErrDecodeLimit = errors.New("decoded stream exceeds size limit")

// The DCT marker is never decoded here: image payloads stay encoded until
// the transcoder consumes them.
const (
	NameFlate     = "FlateDecode"
	NameLZW       = "LZWDecode"
	NameASCIIHex  = "ASCIIHexDecode"
	NameASCII85   = "ASCII85Decode"
	NameRunLength = "RunLengthDecode"
	NameDCT       = "DCTDecode"
	NameJPX       = "JPXDecode"
	NameJBIG2     = "JBIG2Decode"
	NameCCITT     = "CCITTFaxDecode"
)

// Decoder reverses one named stream filter.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.Dict) ([]byte, error)
}

type Limits struct {
	MaxDecodedSize int64
}

// Pipeline applies a filter chain in declaration order.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

func NewPipeline(limits Limits, decoders ...Decoder) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// Default returns a pipeline holding every decoder in this package.
func Default(limits Limits) *Pipeline {
	return NewPipeline(limits,
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
	)
}

// Supports reports whether every filter in the chain has a decoder.
func (p *Pipeline) Supports(filterNames []string) bool {
	for _, name := range filterNames {
		if _, ok := p.decoders[name]; !ok {
			return false
		}
	}
	return true
}

func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.Dict) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %s", name)
		}
		var param *raw.Dict
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecodedSize > 0 && int64(len(out)) > p.limits.MaxDecodedSize {
			return nil, ErrDecodeLimit
		}
		data = out
	}
	return data, nil
}

// ExtractFilters reads the Filter and DecodeParms entries of a stream
// dictionary, normalizing name-or-array forms.
func ExtractFilters(dict *raw.Dict) ([]string, []*raw.Dict) {
	var names []string
	filterObj, ok := dict.Get("Filter")
	if !ok {
		return nil, nil
	}
	switch f := filterObj.(type) {
	case raw.Name:
		names = append(names, f.Val)
	case *raw.Array:
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, n.Val)
			}
		}
	}
	var params []*raw.Dict
	if pObj, ok := dict.Get("DecodeParms"); ok {
		switch p := pObj.(type) {
		case *raw.Dict:
			params = append(params, p)
		case *raw.Array:
			for _, item := range p.Items {
				if d, ok := item.(*raw.Dict); ok {
					params = append(params, d)
				} else {
					params = append(params, nil)
				}
			}
		}
	}
	return names, params
}

type flateDecoder struct{}

func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return NameFlate }

func (flateDecoder) Decode(ctx context.Context, in []byte, params *raw.Dict) ([]byte, error) {
	out, err := inflate(in)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

// inflate tries zlib first (the format FlateDecode names) and falls back to
// raw deflate for producers that skip the zlib wrapper.
func inflate(in []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(in)); err == nil {
		defer zr.Close()
		var out bytes.Buffer
		if _, err := io.Copy(&out, zr); err == nil {
			return out.Bytes(), nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(in))
	defer fr.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, fr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

type lzwDecoder struct{}

func NewLZWDecoder() Decoder { return lzwDecoder{} }

func (lzwDecoder) Name() string { return NameLZW }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.Dict) ([]byte, error) {
	// PDF LZW always uses MSB-first codes; EarlyChange defaults to 1 but the
	// stdlib reader already matches that convention.
	r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return NameASCIIHex }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params *raw.Dict) ([]byte, error) {
	trimmed := compactWhitespace(in)
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if len(trimmed)%2 == 1 { // odd length pads with 0 per spec
		trimmed = append(trimmed, '0')
	}
	result := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(result, trimmed)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return NameASCII85 }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params *raw.Dict) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	trimmed = bytes.TrimSuffix(trimmed, []byte("~>"))
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

func (runLengthDecoder) Name() string { return NameRunLength }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.Dict) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		l := int(in[i])
		i++
		switch {
		case l == 128: // EOD
			return out.Bytes(), nil
		case l < 128:
			if i+l+1 > len(in) {
				return nil, errors.New("run length literal truncated")
			}
			out.Write(in[i : i+l+1])
			i += l + 1
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat truncated")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-l))
			i++
		}
	}
	return out.Bytes(), nil
}

func compactWhitespace(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for _, c := range in {
		switch c {
		case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		default:
			out = append(out, c)
		}
	}
	return out
}
