// Package xref locates indirect objects: classic cross-reference tables,
// cross-reference streams, hybrid files, and a whole-file repair scan for
// documents whose tables are broken.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/weslee-bat/pdfpress/filters"
	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/recovery"
	"github.com/weslee-bat/pdfpress/scanner"
)

type EntryType int

const (
	EntryFree EntryType = iota
	EntryInFile
	EntryInObjectStream
)

// Entry locates one object: either a byte offset in the file, or a slot in
// a compressed object stream.
type Entry struct {
	Type      EntryType
	Offset    int64
	Gen       int
	StreamNum int // object number of the holding ObjStm
	StreamIdx int // index within the ObjStm
}

// Table is the merged cross-reference map for a document.
type Table struct {
	entries map[int]Entry
	trailer *raw.Dict
}

func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Objects returns the known object numbers in ascending order, excluding
// free entries.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Type != EntryFree {
			out = append(out, num)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Trailer() *raw.Dict { return t.trailer }

type ResolverConfig struct {
	Scanner  scanner.Config
	Limits   filters.Limits
	Recovery recovery.Strategy
	// MaxSections caps the /Prev chain length to break reference cycles.
	MaxSections int
}

type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxSections == 0 {
		cfg.MaxSections = 64
	}
	return &Resolver{cfg: cfg}
}

// Resolve builds the merged table for the file. If the startxref anchor or
// any section is unreadable the resolver falls back to the repair scan.
func (r *Resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	table, err := r.resolveChained(ctx, data)
	if err == nil {
		return table, nil
	}
	repaired, repErr := Repair(ctx, data, r.cfg.Scanner)
	if repErr != nil {
		return nil, fmt.Errorf("xref resolve: %w (repair: %v)", err, repErr)
	}
	return repaired, nil
}

func (r *Resolver) resolveChained(ctx context.Context, data []byte) (*Table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	table := &Table{entries: make(map[int]Entry)}
	seen := make(map[int64]bool)
	for section := 0; offset >= 0; section++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if section >= r.cfg.MaxSections {
			return nil, errors.New("xref chain too long")
		}
		if offset >= int64(len(data)) || seen[offset] {
			return nil, fmt.Errorf("xref offset %d invalid", offset)
		}
		seen[offset] = true
		next, err := r.readSection(ctx, data, offset, table)
		if err != nil {
			return nil, err
		}
		offset = next
	}
	if table.trailer == nil {
		return nil, errors.New("no trailer found")
	}
	if len(table.entries) == 0 {
		return nil, errors.New("empty xref table")
	}
	return table, nil
}

// readSection parses one xref section (classic or stream) at offset and
// merges it into table. Returns the /Prev offset, or -1 when the chain
// ends. Newest sections are read first, so existing entries always win.
func (r *Resolver) readSection(ctx context.Context, data []byte, offset int64, table *Table) (int64, error) {
	rest := data[offset:]
	if bytes.HasPrefix(bytes.TrimLeft(rest, " \r\n\t"), []byte("xref")) {
		return r.readClassicSection(ctx, data, offset, table)
	}
	return r.readStreamSection(ctx, data, offset, table)
}

func (r *Resolver) readClassicSection(ctx context.Context, data []byte, offset int64, table *Table) (int64, error) {
	s := scanner.New(bytes.NewReader(data), r.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return 0, err
	}
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenKeyword || tok.Str != "xref" {
		return 0, errors.New("xref keyword not found at offset")
	}
	for {
		tok, err := s.Next()
		if err != nil {
			return 0, fmt.Errorf("xref subsection: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return 0, errors.New("invalid xref subsection header")
		}
		start := int(tok.Int)
		tok, err = s.Next()
		if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
			return 0, errors.New("invalid xref subsection count")
		}
		count := int(tok.Int)
		for i := 0; i < count; i++ {
			offTok, err := s.Next()
			if err != nil || offTok.Type != scanner.TokenNumber {
				return 0, errors.New("invalid xref entry offset")
			}
			genTok, err := s.Next()
			if err != nil || genTok.Type != scanner.TokenNumber {
				return 0, errors.New("invalid xref entry generation")
			}
			kindTok, err := s.Next()
			if err != nil || kindTok.Type != scanner.TokenKeyword {
				return 0, errors.New("invalid xref entry kind")
			}
			num := start + i
			if _, exists := table.entries[num]; exists {
				continue
			}
			switch kindTok.Str {
			case "n":
				table.entries[num] = Entry{Type: EntryInFile, Offset: offTok.Int, Gen: int(genTok.Int)}
			case "f":
				table.entries[num] = Entry{Type: EntryFree, Gen: int(genTok.Int)}
			default:
				return 0, errors.New("invalid xref entry kind " + kindTok.Str)
			}
		}
	}
	tr := raw.NewTokenReader(s)
	obj, err := raw.ParseObject(tr)
	if err != nil {
		return 0, fmt.Errorf("trailer: %w", err)
	}
	trailer, ok := obj.(*raw.Dict)
	if !ok {
		return 0, errors.New("trailer is not a dictionary")
	}
	if table.trailer == nil {
		table.trailer = trailer
	}
	// Hybrid files point at a parallel xref stream holding the compressed
	// objects the classic table cannot express.
	if xs, ok := trailer.Int("XRefStm"); ok {
		if _, err := r.readStreamSection(ctx, data, xs, table); err != nil {
			return 0, err
		}
	}
	if prev, ok := trailer.Int("Prev"); ok {
		return prev, nil
	}
	return -1, nil
}

func (r *Resolver) readStreamSection(ctx context.Context, data []byte, offset int64, table *Table) (int64, error) {
	stream, err := readStreamObjectAt(data, offset, r.cfg.Scanner)
	if err != nil {
		return 0, err
	}
	dict := stream.Dict
	if dict.Name("Type") != "XRef" {
		return 0, errors.New("object at xref offset is not an XRef stream")
	}
	names, params := filters.ExtractFilters(dict)
	payload := stream.Data
	if len(names) > 0 {
		pipeline := filters.Default(r.cfg.Limits)
		payload, err = pipeline.Decode(ctx, payload, names, params)
		if err != nil {
			return 0, fmt.Errorf("xref stream decode: %w", err)
		}
	}

	wObj, ok := dict.Get("W")
	if !ok {
		return 0, errors.New("xref stream missing W")
	}
	wArr, ok := wObj.(*raw.Array)
	if !ok || wArr.Len() < 3 {
		return 0, errors.New("xref stream W malformed")
	}
	widths := make([]int, wArr.Len())
	rowLen := 0
	for i, item := range wArr.Items {
		n, ok := item.(raw.Number)
		if !ok {
			return 0, errors.New("xref stream W malformed")
		}
		widths[i] = int(n.Int())
		rowLen += widths[i]
	}
	size, _ := dict.Int("Size")
	var index []int64
	if idxObj, ok := dict.Get("Index"); ok {
		arr, ok := idxObj.(*raw.Array)
		if !ok || arr.Len()%2 != 0 {
			return 0, errors.New("xref stream Index malformed")
		}
		for _, item := range arr.Items {
			n, ok := item.(raw.Number)
			if !ok {
				return 0, errors.New("xref stream Index malformed")
			}
			index = append(index, n.Int())
		}
	} else {
		index = []int64{0, size}
	}

	pos := 0
	readField := func(width int) int64 {
		var v int64
		for i := 0; i < width; i++ {
			v = v<<8 | int64(payload[pos])
			pos++
		}
		return v
	}
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(payload) {
				return 0, errors.New("xref stream data truncated")
			}
			// A zero-width first field defaults the entry type to 1.
			entryType := int64(1)
			if widths[0] > 0 {
				entryType = readField(widths[0])
			}
			f2 := readField(widths[1])
			f3 := readField(widths[2])
			for k := 3; k < len(widths); k++ {
				readField(widths[k])
			}
			num := int(start + j)
			if _, exists := table.entries[num]; exists {
				continue
			}
			switch entryType {
			case 0:
				table.entries[num] = Entry{Type: EntryFree, Gen: int(f3)}
			case 1:
				table.entries[num] = Entry{Type: EntryInFile, Offset: f2, Gen: int(f3)}
			case 2:
				table.entries[num] = Entry{Type: EntryInObjectStream, StreamNum: int(f2), StreamIdx: int(f3)}
			}
		}
	}

	if table.trailer == nil {
		table.trailer = dict
	}
	if prev, ok := dict.Int("Prev"); ok {
		return prev, nil
	}
	return -1, nil
}

// readStreamObjectAt parses "N G obj <<...>> stream ... endstream" at the
// given offset. Length must be direct in cross-reference streams.
func readStreamObjectAt(data []byte, offset int64, cfg scanner.Config) (*raw.Stream, error) {
	s := scanner.New(bytes.NewReader(data), cfg)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewTokenReader(s)
	if err := expectObjHeader(tr); err != nil {
		return nil, err
	}
	obj, err := raw.ParseObject(tr)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.Dict)
	if !ok {
		return nil, errors.New("expected stream dictionary")
	}
	if length, ok := dict.Int("Length"); ok {
		s.SetNextStreamLength(length)
	}
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenStream {
		return nil, errors.New("expected stream payload")
	}
	return &raw.Stream{Dict: dict, Data: tok.Bytes}, nil
}

func expectObjHeader(tr *raw.TokenReader) error {
	num, err := tr.Next()
	if err != nil || num.Type != scanner.TokenNumber {
		return errors.New("expected object number")
	}
	gen, err := tr.Next()
	if err != nil || gen.Type != scanner.TokenNumber {
		return errors.New("expected object generation")
	}
	kw, err := tr.Next()
	if err != nil || kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return errors.New("expected obj keyword")
	}
	return nil
}

// findStartXRef reads the startxref anchor near the end of the file.
func findStartXRef(data []byte) (int64, error) {
	tail := data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	rest := tail[idx+len("startxref"):]
	for _, line := range strings.FieldsFunc(string(rest), func(r rune) bool { return r == '\r' || r == '\n' || r == ' ' }) {
		if line == "" {
			continue
		}
		if line == "%%EOF" {
			break
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse startxref: %w", err)
		}
		return v, nil
	}
	return 0, errors.New("startxref value missing")
}
