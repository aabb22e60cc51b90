package compress

import "github.com/weslee-bat/pdfpress/writer"

// Level selects the scale/quality trade-off and the output layout.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	}
	return "unknown"
}

type preset struct {
	scale   float64
	quality float64
	layout  writer.Layout
}

var presets = map[Level]preset{
	LevelLow:    {scale: 0.8, quality: 0.6, layout: writer.LayoutClassic},
	LevelMedium: {scale: 0.6, quality: 0.4, layout: writer.LayoutCompact},
	LevelHigh:   {scale: 0.4, quality: 0.25, layout: writer.LayoutCompact},
}

// Valid reports whether l names a defined preset.
func (l Level) Valid() bool {
	_, ok := presets[l]
	return ok
}
