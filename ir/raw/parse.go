package raw

import (
	"errors"

	"github.com/weslee-bat/pdfpress/scanner"
)

// TokenReader buffers pushback over a scanner so object parsing can peek.
type TokenReader struct {
	S   *scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s *scanner.Scanner) *TokenReader { return &TokenReader{S: s} }

func (r *TokenReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.S.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// ParseObject builds one object from the token stream. The caller has
// already consumed any "N G obj" header; stream payloads are handled by the
// caller because they need a resolved Length.
func ParseObject(tr *TokenReader) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return Name{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return Number{I: tok.Int, IsInt: true}, nil
		}
		return Number{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return Bool{V: tok.Bool}, nil
	case scanner.TokenNull:
		return Null{}, nil
	case scanner.TokenString:
		return String{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return Ref{R: ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		return parseArray(tr)
	case scanner.TokenDict:
		return parseDict(tr)
	case scanner.TokenKeyword:
		return nil, errors.New("unexpected keyword " + tok.Str)
	}
	return nil, errors.New("unexpected token")
}

func parseArray(tr *TokenReader) (Object, error) {
	arr := &Array{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.Unread(tok)
		item, err := ParseObject(tr)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *TokenReader) (Object, error) {
	d := NewDict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword {
			if tok.Str == ">>" {
				return d, nil
			}
			// A stray endobj means the closing >> was lost; hand the keyword
			// back and let the caller decide.
			if tok.Str == "endobj" {
				tr.Unread(tok)
				return d, nil
			}
			return nil, errors.New("unexpected keyword in dict: " + tok.Str)
		}
		if tok.Type != scanner.TokenName {
			return nil, errors.New("expected name key in dict")
		}
		val, err := ParseObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}
