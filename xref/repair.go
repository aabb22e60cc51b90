package xref

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/scanner"
)

// Repair reconstructs a table by scanning the whole file for
// "N G obj" headers and trailer dictionaries. The last definition of an
// object wins, matching incremental-update semantics.
func Repair(ctx context.Context, data []byte, cfg scanner.Config) (*Table, error) {
	s := scanner.New(bytes.NewReader(data), cfg)
	entries := make(map[int]Entry)
	var trailer *raw.Dict

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Damaged region: step past it and keep scanning.
			if seekErr := s.SeekTo(s.Position() + 1); seekErr != nil {
				break
			}
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			genTok, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return finishRepair(entries, trailer)
				}
				continue
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				continue
			}
			objTok, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return finishRepair(entries, trailer)
				}
				continue
			}
			if objTok.Type == scanner.TokenKeyword && objTok.Str == "obj" {
				entries[int(tok.Int)] = Entry{Type: EntryInFile, Offset: tok.Pos, Gen: int(genTok.Int)}
				continue
			}
			// genTok may itself start the next header ("1 2 0 obj" read as
			// "1 2"); rewind so it is reconsidered.
			if err := s.SeekTo(genTok.Pos); err != nil {
				return nil, err
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			tr := raw.NewTokenReader(s)
			obj, err := raw.ParseObject(tr)
			if err == nil {
				if dict, ok := obj.(*raw.Dict); ok {
					trailer = dict
				}
			}
		}
	}
	return finishRepair(entries, trailer)
}

func finishRepair(entries map[int]Entry, trailer *raw.Dict) (*Table, error) {
	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	if trailer == nil {
		// The parser can still locate the catalog by scanning object types.
		trailer = raw.NewDict()
		trailer.Set("Size", raw.Integer(int64(len(entries)+1)))
	}
	return &Table{entries: entries, trailer: trailer}, nil
}
