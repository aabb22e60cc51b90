package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/weslee-bat/pdfpress/filters"
	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/scanner"
	"github.com/weslee-bat/pdfpress/security"
	"github.com/weslee-bat/pdfpress/xref"
)

// loader materializes indirect objects from their xref entries. Loaded
// objects are cached so object stream members and indirect Length targets
// are only parsed once.
type loader struct {
	data       []byte
	table      *xref.Table
	cfg        Config
	handler    security.Handler
	encryptNum int

	cache map[int]cached
	// decoded object stream payloads plus their member offset tables
	objstms map[int]*objStm
}

type cached struct {
	obj raw.Object
	gen int
}

type objStm struct {
	payload []byte
	first   int64
	// member object numbers in stream order
	nums    []int
	offsets []int64
}

func newLoader(data []byte, table *xref.Table, cfg Config) *loader {
	return &loader{
		data:       data,
		table:      table,
		cfg:        cfg,
		handler:    security.Passthrough(),
		encryptNum: -1,
		cache:      make(map[int]cached),
		objstms:    make(map[int]*objStm),
	}
}

func (l *loader) load(ctx context.Context, num int) (raw.Object, int, error) {
	if c, ok := l.cache[num]; ok {
		return c.obj, c.gen, nil
	}
	entry, ok := l.table.Lookup(num)
	if !ok || entry.Type == xref.EntryFree {
		return raw.Null{}, 0, nil
	}
	var (
		obj raw.Object
		err error
	)
	gen := entry.Gen
	switch entry.Type {
	case xref.EntryInFile:
		obj, err = l.loadAtOffset(num, entry.Offset, entry.Gen)
		if err == nil {
			obj, err = l.decryptObject(num, entry.Gen, obj)
		}
	case xref.EntryInObjectStream:
		gen = 0
		obj, err = l.loadFromObjectStream(ctx, num, entry.StreamNum, entry.StreamIdx)
	default:
		err = fmt.Errorf("object %d: unknown entry type", num)
	}
	if err != nil {
		return nil, 0, err
	}
	l.cache[num] = cached{obj: obj, gen: gen}
	return obj, gen, nil
}

// loadAtOffset parses "N G obj ... endobj" at a byte offset, including a
// trailing stream payload when the dictionary announces one.
func (l *loader) loadAtOffset(num int, offset int64, gen int) (raw.Object, error) {
	if offset < 0 || offset >= int64(len(l.data)) {
		return nil, fmt.Errorf("object %d: offset %d out of range", num, offset)
	}
	s := scanner.New(bytes.NewReader(l.data), l.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewTokenReader(s)
	hdrNum, err := readObjHeader(tr)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	if hdrNum != num {
		return nil, fmt.Errorf("object %d: header names object %d", num, hdrNum)
	}
	obj, err := raw.ParseObject(tr)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	dict, isDict := obj.(*raw.Dict)
	if !isDict {
		return obj, nil
	}
	tok, err := tr.Next()
	if err != nil {
		// endobj may be missing entirely at end of file
		return dict, nil
	}
	if tok.Type != scanner.TokenStream {
		tr.Unread(tok)
		return dict, nil
	}
	// The scanner found "stream" before the Length was known, so it scanned
	// for the endstream marker. When the dictionary disagrees, the declared
	// length wins: binary payloads can contain the marker bytes.
	payload := tok.Bytes
	declared := int64(-1)
	switch v, _ := dict.Get("Length"); lv := v.(type) {
	case raw.Number:
		declared = lv.Int()
	case raw.Ref:
		if n, err := l.loadLengthTarget(lv.R.Num); err == nil {
			declared = n
		}
	}
	if declared >= 0 && declared != int64(len(payload)) {
		rescanned, err := l.rescanStream(offset, num, declared)
		if err == nil {
			payload = rescanned
		}
	}
	dict.Set("Length", raw.Integer(int64(len(payload))))
	return &raw.Stream{Dict: dict, Data: payload}, nil
}

// loadLengthTarget reads the bare integer object an indirect /Length points
// at without recursing through load, which may be mid-way through this very
// object.
func (l *loader) loadLengthTarget(num int) (int64, error) {
	entry, ok := l.table.Lookup(num)
	if !ok || entry.Type != xref.EntryInFile {
		return -1, errors.New("length object not in file")
	}
	s := scanner.New(bytes.NewReader(l.data), l.cfg.Scanner)
	if err := s.SeekTo(entry.Offset); err != nil {
		return -1, err
	}
	tr := raw.NewTokenReader(s)
	if _, err := readObjHeader(tr); err != nil {
		return -1, err
	}
	obj, err := raw.ParseObject(tr)
	if err != nil {
		return -1, err
	}
	n, ok := obj.(raw.Number)
	if !ok {
		return -1, errors.New("length object is not a number")
	}
	return n.Int(), nil
}

func (l *loader) rescanStream(offset int64, num int, length int64) ([]byte, error) {
	s := scanner.New(bytes.NewReader(l.data), l.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewTokenReader(s)
	if _, err := readObjHeader(tr); err != nil {
		return nil, err
	}
	if _, err := raw.ParseObject(tr); err != nil {
		return nil, err
	}
	s.SetNextStreamLength(length)
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenStream {
		return nil, errors.New("expected stream payload")
	}
	return tok.Bytes, nil
}

// loadFromObjectStream extracts one member of a compressed object stream.
// Members are never individually encrypted; the holding stream already was.
func (l *loader) loadFromObjectStream(ctx context.Context, num, holderNum, idx int) (raw.Object, error) {
	st, ok := l.objstms[holderNum]
	if !ok {
		var err error
		st, err = l.openObjectStream(ctx, holderNum)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: %w", holderNum, err)
		}
		l.objstms[holderNum] = st
	}
	if idx < 0 || idx >= len(st.nums) {
		return nil, fmt.Errorf("object stream %d: index %d out of range", holderNum, idx)
	}
	if st.nums[idx] != num {
		return nil, fmt.Errorf("object stream %d: slot %d holds object %d, want %d", holderNum, idx, st.nums[idx], num)
	}
	pos := st.first + st.offsets[idx]
	if pos < 0 || pos > int64(len(st.payload)) {
		return nil, fmt.Errorf("object stream %d: member offset out of range", holderNum)
	}
	s := scanner.New(bytes.NewReader(st.payload), l.cfg.Scanner)
	if err := s.SeekTo(pos); err != nil {
		return nil, err
	}
	return raw.ParseObject(raw.NewTokenReader(s))
}

func (l *loader) openObjectStream(ctx context.Context, holderNum int) (*objStm, error) {
	obj, _, err := l.load(ctx, holderNum)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*raw.Stream)
	if !ok {
		return nil, errors.New("holder is not a stream")
	}
	if stream.Dict.Name("Type") != "ObjStm" {
		return nil, errors.New("holder is not an ObjStm")
	}
	names, params := filters.ExtractFilters(stream.Dict)
	payload := stream.Data
	if len(names) > 0 {
		payload, err = filters.Default(l.cfg.Limits).Decode(ctx, payload, names, params)
		if err != nil {
			return nil, err
		}
	}
	n, _ := stream.Dict.Int("N")
	first, _ := stream.Dict.Int("First")
	if first < 0 || first > int64(len(payload)) {
		return nil, errors.New("First exceeds payload")
	}
	st := &objStm{payload: payload, first: first}
	s := scanner.New(bytes.NewReader(payload), l.cfg.Scanner)
	for i := int64(0); i < n; i++ {
		numTok, err := s.Next()
		if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
			return nil, errors.New("malformed member table")
		}
		offTok, err := s.Next()
		if err != nil || offTok.Type != scanner.TokenNumber || !offTok.IsInt {
			return nil, errors.New("malformed member table")
		}
		st.nums = append(st.nums, int(numTok.Int))
		st.offsets = append(st.offsets, offTok.Int)
	}
	return st, nil
}

// decryptObject rewrites strings and stream payloads in place. Cross
// reference streams are never encrypted, and metadata streams follow the
// EncryptMetadata flag.
func (l *loader) decryptObject(num, gen int, obj raw.Object) (raw.Object, error) {
	if !l.handler.IsEncrypted() {
		return obj, nil
	}
	switch v := obj.(type) {
	case raw.String:
		plain, err := l.handler.Decrypt(num, gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.String{Bytes: plain, Hex: v.Hex}, nil
	case *raw.Array:
		for i, item := range v.Items {
			dec, err := l.decryptObject(num, gen, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
		return v, nil
	case *raw.Dict:
		for key, item := range v.KV {
			dec, err := l.decryptObject(num, gen, item)
			if err != nil {
				return nil, err
			}
			v.KV[key] = dec
		}
		return v, nil
	case *raw.Stream:
		if _, err := l.decryptObject(num, gen, v.Dict); err != nil {
			return nil, err
		}
		if !l.shouldDecryptStream(v.Dict) {
			return v, nil
		}
		class := security.DataClassStream
		if isMetadataStream(v.Dict) {
			class = security.DataClassMetadataStream
		}
		plain, err := l.handler.Decrypt(num, gen, v.Data, class)
		if err != nil {
			return nil, err
		}
		v.SetData(plain)
		return v, nil
	default:
		return obj, nil
	}
}

func (l *loader) shouldDecryptStream(dict *raw.Dict) bool {
	if dict.Name("Type") == "XRef" {
		return false
	}
	if isMetadataStream(dict) && !l.handler.EncryptMetadata() {
		return false
	}
	return true
}

func isMetadataStream(dict *raw.Dict) bool {
	return dict.Name("Type") == "Metadata"
}

func readObjHeader(tr *raw.TokenReader) (int, error) {
	numTok, err := tr.Next()
	if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
		return 0, errors.New("expected object number")
	}
	genTok, err := tr.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return 0, errors.New("expected object generation")
	}
	kw, err := tr.Next()
	if err != nil || kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
		return 0, errors.New("expected obj keyword")
	}
	return int(numTok.Int), nil
}
