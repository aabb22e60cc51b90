// Package pdfpress shrinks PDF files by re-encoding their raster images and
// stripping non-rendering metadata, and assembles PDFs from ordered image
// lists. This file is the convenience surface; the subpackages expose the
// full pipeline for callers that need more control.
package pdfpress

import (
	"context"

	"github.com/weslee-bat/pdfpress/assemble"
	"github.com/weslee-bat/pdfpress/compress"
)

// Level re-exports the compression presets.
type Level = compress.Level

const (
	LevelLow    = compress.LevelLow
	LevelMedium = compress.LevelMedium
	LevelHigh   = compress.LevelHigh
)

// Compress runs a single compression job over input with default settings.
func Compress(ctx context.Context, input []byte, level Level) (compress.Result, error) {
	return compress.New(compress.DefaultConfig()).NewJob().Run(ctx, input, level)
}

// AssembleImages builds a PDF with one page per image, sized to each
// image's native dimensions, in list order.
func AssembleImages(ctx context.Context, items []assemble.Item) ([]byte, error) {
	return assemble.Assemble(ctx, items, assemble.Config{})
}
