package filters

import (
	"errors"

	"github.com/weslee-bat/pdfpress/ir/raw"
)

// applyPredictor undoes the Predictor transform declared in DecodeParms.
// Predictor 2 is the TIFF horizontal differencer; 10..15 are the PNG row
// filters. Anything else passes through untouched.
func applyPredictor(data []byte, params *raw.Dict) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, ok := params.Int("Predictor")
	if !ok || predictor <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := params.Int("Colors"); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := params.Int("BitsPerComponent"); ok && v > 0 {
		bpc = v
	}
	columns := int64(1)
	if v, ok := params.Int("Columns"); ok && v > 0 {
		columns = v
	}
	bytesPerPixel := int((colors*bpc + 7) / 8)
	rowLen := int((colors*bpc*columns + 7) / 8)
	if rowLen <= 0 {
		return nil, errors.New("predictor row length is zero")
	}

	if predictor == 2 {
		if bpc != 8 {
			return nil, errors.New("tiff predictor requires 8 bits per component")
		}
		for r := 0; r+rowLen <= len(data); r += rowLen {
			row := data[r : r+rowLen]
			for i := bytesPerPixel; i < len(row); i++ {
				row[i] += row[i-bytesPerPixel]
			}
		}
		return data, nil
	}

	// PNG predictors carry a filter tag byte per row.
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, errors.New("png predictor data not row aligned")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		tag := data[r*stride]
		row := append([]byte(nil), data[r*stride+1:(r+1)*stride]...)
		switch tag {
		case 0: // None
		case 1: // Sub
			for i := bytesPerPixel; i < len(row); i++ {
				row[i] += row[i-bytesPerPixel]
			}
		case 2: // Up
			for i := range row {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := range row {
				var left byte
				if i >= bytesPerPixel {
					left = row[i-bytesPerPixel]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range row {
				var left, upLeft byte
				if i >= bytesPerPixel {
					left = row[i-bytesPerPixel]
					upLeft = prev[i-bytesPerPixel]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, errors.New("unknown png predictor filter tag")
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
