package scanner

import (
	"bytes"
	"io"
	"testing"
)

func scanAll(t *testing.T, input string) []Token {
	t.Helper()
	s := New(bytes.NewReader([]byte(input)), DefaultConfig())
	var toks []Token
	for {
		tok, err := s.Next()
		if err == io.EOF {
			return toks
		}
		if err != nil {
			t.Fatalf("Next: %v (after %d tokens)", err, len(toks))
		}
		toks = append(toks, tok)
	}
}

func TestScanBasicTokens(t *testing.T) {
	toks := scanAll(t, "<< /Type /Page /Count 3 /Ratio -1.5 /Open true /Missing null >>")
	want := []struct {
		typ TokenType
		str string
	}{
		{TokenDict, "<<"},
		{TokenName, "Type"}, {TokenName, "Page"},
		{TokenName, "Count"}, {TokenNumber, ""},
		{TokenName, "Ratio"}, {TokenNumber, ""},
		{TokenName, "Open"}, {TokenBoolean, ""},
		{TokenName, "Missing"}, {TokenNull, ""},
		{TokenKeyword, ">>"},
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Type != w.typ {
			t.Errorf("token %d type = %d, want %d", i, toks[i].Type, w.typ)
		}
		if w.str != "" && toks[i].Str != w.str {
			t.Errorf("token %d str = %q, want %q", i, toks[i].Str, w.str)
		}
	}
	if toks[4].Int != 3 || !toks[4].IsInt {
		t.Errorf("Count token = %+v", toks[4])
	}
	if toks[6].Float != -1.5 || toks[6].IsInt {
		t.Errorf("Ratio token = %+v", toks[6])
	}
	if toks[8].Bool != true {
		t.Errorf("Open token = %+v", toks[8])
	}
}

func TestScanIndirectReference(t *testing.T) {
	toks := scanAll(t, "/Parent 12 0 R /Count 2")
	if toks[1].Type != TokenRef || toks[1].Int != 12 || toks[1].Gen != 0 {
		t.Fatalf("ref token = %+v", toks[1])
	}
	// The two trailing numbers must not be mistaken for a ref.
	if toks[3].Type != TokenNumber || toks[3].Int != 2 {
		t.Fatalf("count token = %+v", toks[3])
	}
}

func TestScanNumberPairNotRef(t *testing.T) {
	toks := scanAll(t, "[0 0 612 792]")
	if len(toks) != 6 {
		t.Fatalf("got %d tokens: %+v", len(toks), toks)
	}
	wantInts := []int64{0, 0, 612, 792}
	for i, n := range wantInts {
		tok := toks[i+1]
		if tok.Type != TokenNumber || tok.Int != n {
			t.Errorf("token %d = %+v, want number %d", i+1, tok, n)
		}
	}
}

func TestScanLiteralStringEscapes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`(plain)`, "plain"},
		{`(par\(en\)s)`, "par(en)s"},
		{`(nested (inner) string)`, "nested (inner) string"},
		{`(tab\there)`, "tab\there"},
		{`(octal \101\102)`, "octal AB"},
		{`(short octal \7end)`, "short octal \aend"},
		{"(split \\\nline)", "split line"},
	}
	for _, tc := range cases {
		toks := scanAll(t, tc.in)
		if len(toks) != 1 || toks[0].Type != TokenString {
			t.Fatalf("%q: tokens %+v", tc.in, toks)
		}
		if string(toks[0].Bytes) != tc.want {
			t.Errorf("%q = %q, want %q", tc.in, toks[0].Bytes, tc.want)
		}
	}
}

func TestScanHexString(t *testing.T) {
	toks := scanAll(t, "<48 65 6C6C 6F> <414>")
	if string(toks[0].Bytes) != "Hello" {
		t.Errorf("hex string = %q, want Hello", toks[0].Bytes)
	}
	// Odd nibble count pads with zero.
	if !bytes.Equal(toks[1].Bytes, []byte{0x41, 0x40}) {
		t.Errorf("odd hex string = %x", toks[1].Bytes)
	}
}

func TestScanNameHexEscape(t *testing.T) {
	toks := scanAll(t, "/Name#20With#20Space /A#42")
	if toks[0].Str != "Name With Space" {
		t.Errorf("name = %q", toks[0].Str)
	}
	if toks[1].Str != "AB" {
		t.Errorf("name = %q", toks[1].Str)
	}
}

func TestScanSkipsComments(t *testing.T) {
	toks := scanAll(t, "% a comment\n42 % trailing\n/Name")
	if len(toks) != 2 {
		t.Fatalf("got %d tokens", len(toks))
	}
	if toks[0].Int != 42 || toks[1].Str != "Name" {
		t.Errorf("tokens = %+v", toks)
	}
}

func TestScanStreamWithLengthHint(t *testing.T) {
	payload := "binary endstream inside"
	input := "stream\n" + payload + "\nendstream endobj"
	s := New(bytes.NewReader([]byte(input)), DefaultConfig())
	s.SetNextStreamLength(int64(len(payload)))
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tok.Type != TokenStream || string(tok.Bytes) != payload {
		t.Fatalf("stream token = %+v", tok)
	}
	next, err := s.Next()
	if err != nil || next.Str != "endobj" {
		t.Fatalf("after stream: %+v, %v", next, err)
	}
}

func TestScanStreamWithoutHint(t *testing.T) {
	payload := "some data"
	input := "stream\r\n" + payload + "\nendstream"
	toks := scanAll(t, input)
	if len(toks) != 1 || toks[0].Type != TokenStream {
		t.Fatalf("tokens = %+v", toks)
	}
	if string(toks[0].Bytes) != payload {
		t.Errorf("payload = %q, want %q", toks[0].Bytes, payload)
	}
}

func TestScanPositionAndSeek(t *testing.T) {
	input := "ignored /Target"
	s := New(bytes.NewReader([]byte(input)), DefaultConfig())
	if err := s.SeekTo(8); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	tok, err := s.Next()
	if err != nil || tok.Str != "Target" {
		t.Fatalf("token = %+v, %v", tok, err)
	}
	if tok.Pos != 8 {
		t.Errorf("Pos = %d, want 8", tok.Pos)
	}
}

func TestScanStringLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStringLength = 4
	s := New(bytes.NewReader([]byte("(exceeds the limit)")), cfg)
	if _, err := s.Next(); err == nil {
		t.Fatal("over-limit string must error without a recovery strategy")
	}
}
