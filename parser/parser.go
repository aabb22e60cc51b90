// Package parser turns PDF bytes into a raw object graph. It resolves the
// cross-reference machinery, opens encrypted documents that accept the empty
// user password, and loads every reachable indirect object including object
// stream members.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/weslee-bat/pdfpress/filters"
	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/observability"
	"github.com/weslee-bat/pdfpress/recovery"
	"github.com/weslee-bat/pdfpress/scanner"
	"github.com/weslee-bat/pdfpress/security"
	"github.com/weslee-bat/pdfpress/xref"
)

// Sentinel failure classes. Callers classify with errors.Is.
var (
	// ErrEncrypted means the document requires a password we do not hold.
	ErrEncrypted = errors.New("document is password protected")
	// ErrMalformed means the file structure could not be understood even
	// after the repair scan.
	ErrMalformed = errors.New("document structure is malformed")
	// ErrUnsupported means the document uses a feature outside this
	// implementation, such as a custom security handler.
	ErrUnsupported = errors.New("document uses an unsupported feature")
	// ErrResourceExhausted means a configured size limit was exceeded.
	ErrResourceExhausted = errors.New("document exceeds resource limits")
)

type Config struct {
	Scanner  scanner.Config
	Limits   filters.Limits
	Recovery recovery.Strategy
	Logger   observability.Logger
	Tracer   observability.Tracer

	// MaxFileSize caps the input size in bytes. Zero means no cap.
	MaxFileSize int64
	// MaxObjects caps the number of indirect objects. Zero means no cap.
	MaxObjects int
}

func DefaultConfig() Config {
	return Config{
		Scanner:  scanner.DefaultConfig(),
		Limits:   filters.Limits{MaxDecodedSize: 1 << 30},
		Recovery: recovery.NewLenient(),
		Logger:   observability.NopLogger{},
		Tracer:   observability.NopTracer(),
	}
}

type Parser struct {
	cfg Config
}

func New(cfg Config) *Parser {
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenient()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	return &Parser{cfg: cfg}
}

var headerRe = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

// Load parses the whole document into memory.
func (p *Parser) Load(ctx context.Context, data []byte) (*raw.Document, error) {
	ctx, span := p.cfg.Tracer.StartSpan(ctx, "parser.Load")
	defer span.Finish()

	if p.cfg.MaxFileSize > 0 && int64(len(data)) > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: file is %d bytes, limit %d", ErrResourceExhausted, len(data), p.cfg.MaxFileSize)
	}

	version := detectHeaderVersion(data)
	if version == "" {
		p.cfg.Logger.Warn("pdf header missing, relying on repair")
	}

	resolver := xref.NewResolver(xref.ResolverConfig{
		Scanner:  p.cfg.Scanner,
		Limits:   p.cfg.Limits,
		Recovery: p.cfg.Recovery,
	})
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	trailer := table.Trailer()
	if trailer == nil {
		return nil, fmt.Errorf("%w: no trailer", ErrMalformed)
	}

	ld := newLoader(data, table, p.cfg)
	if err := p.selectSecurity(ld, trailer); err != nil {
		return nil, err
	}

	nums := table.Objects()
	if p.cfg.MaxObjects > 0 && len(nums) > p.cfg.MaxObjects {
		return nil, fmt.Errorf("%w: %d objects, limit %d", ErrResourceExhausted, len(nums), p.cfg.MaxObjects)
	}

	doc := raw.NewDocument()
	doc.Version = version
	doc.Trailer = trailer
	doc.Encrypted = ld.handler.IsEncrypted()
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if num == ld.encryptNum {
			continue
		}
		obj, gen, err := ld.load(ctx, num)
		if err != nil {
			loc := recovery.Location{ObjectNum: num, Component: "parser"}
			if p.cfg.Recovery.OnError(err, loc) == recovery.ActionFail {
				return nil, fmt.Errorf("%w: object %d: %v", ErrMalformed, num, err)
			}
			p.cfg.Logger.Warn("skipping unreadable object",
				observability.Int("obj", num), observability.Error("err", err))
			continue
		}
		if isPlumbing(obj) {
			continue
		}
		doc.Assign(raw.ObjectRef{Num: num, Gen: gen}, obj)
	}

	// Decrypted content must not be written back behind an Encrypt dict.
	trailer.Delete("Encrypt")

	if err := ensureRoot(doc); err != nil {
		return nil, err
	}
	span.SetTag("objects", len(doc.Objects))
	p.cfg.Logger.Debug("document loaded",
		observability.Int("objects", len(doc.Objects)),
		observability.String("version", version))
	return doc, nil
}

// selectSecurity builds the security handler from the trailer's Encrypt
// entry and authenticates with the empty user password. Documents that do
// not accept it are reported as encrypted.
func (p *Parser) selectSecurity(ld *loader, trailer *raw.Dict) error {
	encObj, ok := trailer.Get("Encrypt")
	if !ok {
		return nil
	}
	var encDict *raw.Dict
	switch v := encObj.(type) {
	case raw.Ref:
		ld.encryptNum = v.R.Num
		loaded, _, err := ld.load(context.Background(), v.R.Num)
		if err != nil {
			return fmt.Errorf("%w: encrypt dictionary: %v", ErrMalformed, err)
		}
		d, ok := loaded.(*raw.Dict)
		if !ok {
			return fmt.Errorf("%w: encrypt entry is not a dictionary", ErrMalformed)
		}
		encDict = d
	case *raw.Dict:
		encDict = v
	default:
		return fmt.Errorf("%w: encrypt entry is not a dictionary", ErrMalformed)
	}
	h, err := security.NewHandler(encDict, trailer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := h.AuthenticateEmpty(); err != nil {
		return fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	ld.handler = h
	p.cfg.Logger.Debug("opened encrypted document with empty user password")
	return nil
}

// ensureRoot repairs a trailer with no usable Root by scanning the loaded
// objects for the catalog.
func ensureRoot(doc *raw.Document) error {
	if _, ok := doc.Catalog(); ok {
		return nil
	}
	for _, ref := range doc.Refs() {
		obj, _ := doc.Object(ref)
		if d, ok := obj.(*raw.Dict); ok && d.Name("Type") == "Catalog" {
			doc.Trailer.Set("Root", raw.RefTo(ref.Num, ref.Gen))
			return nil
		}
	}
	return fmt.Errorf("%w: no document catalog", ErrMalformed)
}

// isPlumbing reports file-structure streams that must not survive into the
// object graph; the writer regenerates them from scratch.
func isPlumbing(obj raw.Object) bool {
	s, ok := obj.(*raw.Stream)
	if !ok {
		return false
	}
	t := s.Dict.Name("Type")
	return t == "ObjStm" || t == "XRef"
}

func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return ""
	}
	if m := headerRe.FindSubmatch(head[idx:]); m != nil {
		return string(m[1])
	}
	return ""
}
