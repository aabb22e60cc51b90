// Package compress orchestrates the full pipeline: load the object graph,
// prune metadata, substitute images, and serialize. Each run is bound to a
// Job that tracks the state machine and owns the output.
package compress

import (
	"context"
	"fmt"
	"time"

	"github.com/weslee-bat/pdfpress/observability"
	"github.com/weslee-bat/pdfpress/optimize"
	"github.com/weslee-bat/pdfpress/parser"
	"github.com/weslee-bat/pdfpress/writer"
)

type Config struct {
	Parser parser.Config
	// Workers caps parallel image transcodes per job.
	Workers int
	Logger  observability.Logger
	Tracer  observability.Tracer
}

func DefaultConfig() Config {
	return Config{
		Parser: parser.DefaultConfig(),
		Logger: observability.NopLogger{},
		Tracer: observability.NopTracer(),
	}
}

type Compressor struct {
	cfg Config
}

func New(cfg Config) *Compressor {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	cfg.Parser.Logger = cfg.Logger
	cfg.Parser.Tracer = cfg.Tracer
	return &Compressor{cfg: cfg}
}

// Result is the outcome of a completed job.
type Result struct {
	Output         []byte
	OriginalSize   int64
	CompressedSize int64
	ImagesRecoded  int
	Duration       time.Duration
}

// run executes the pipeline. No partial output ever escapes: the returned
// Result is fully populated or the error is non-nil.
func (c *Compressor) run(ctx context.Context, input []byte, level Level) (Result, error) {
	if !level.Valid() {
		return Result{}, &Error{Kind: FailureUnsupported, Err: fmt.Errorf("unknown level %d", level)}
	}
	p := presets[level]
	start := time.Now()
	log := c.cfg.Logger.With(observability.String("level", level.String()))

	ctx, span := c.cfg.Tracer.StartSpan(ctx, "compress.Run")
	defer span.Finish()

	doc, err := parser.New(c.cfg.Parser).Load(ctx, input)
	if err != nil {
		cerr := classifyLoadError(err)
		span.SetError(cerr)
		return Result{}, cerr
	}

	optimize.Prune(doc)

	recoded, err := optimize.SubstituteImages(ctx, doc, optimize.SubstituteConfig{
		Scale:   p.scale,
		Quality: p.quality,
		Workers: c.cfg.Workers,
		Limits:  c.cfg.Parser.Limits,
		Logger:  log,
	})
	if err != nil {
		// Only cancellation escapes SubstituteImages.
		return Result{}, err
	}

	output, err := writer.New(writer.Config{Layout: p.layout, Logger: log}).Serialize(doc)
	if err != nil {
		cerr := &Error{Kind: FailureSerialize, Err: err}
		span.SetError(cerr)
		return Result{}, cerr
	}

	res := Result{
		Output:         output,
		OriginalSize:   int64(len(input)),
		CompressedSize: int64(len(output)),
		ImagesRecoded:  recoded,
		Duration:       time.Since(start),
	}
	log.Info("compression finished",
		observability.Int64("original_bytes", res.OriginalSize),
		observability.Int64("compressed_bytes", res.CompressedSize),
		observability.Int("images_recoded", res.ImagesRecoded),
		observability.Int64(observability.MetricBytesSaved, res.OriginalSize-res.CompressedSize))
	return res, nil
}
