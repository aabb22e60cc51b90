package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/security"
)

// pdfBuilder assembles a classic-layout file with a correct xref table so
// tests can exercise real byte offsets.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
	maxNum  int
	trailer string
}

func newPDFBuilder() *pdfBuilder {
	b := &pdfBuilder{offsets: map[int]int{}}
	b.buf.WriteString("%PDF-1.4\n")
	return b
}

func (b *pdfBuilder) add(num int, body string) {
	b.offsets[num] = b.buf.Len()
	if num > b.maxNum {
		b.maxNum = num
	}
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *pdfBuilder) addStream(num int, dict string, data []byte) {
	b.offsets[num] = b.buf.Len()
	if num > b.maxNum {
		b.maxNum = num
	}
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nstream\n", num, dict)
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

func (b *pdfBuilder) bytes() []byte {
	xrefOff := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", b.maxNum+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= b.maxNum; i++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[i])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R %s >>\nstartxref\n%d\n%%%%EOF\n",
		b.maxNum+1, b.trailer, xrefOff)
	return b.buf.Bytes()
}

func buildSimplePDF(content []byte) []byte {
	b := newPDFBuilder()
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	b.addStream(4, "<< /Length 5 0 R >>", content)
	b.add(5, fmt.Sprintf("%d", len(content)))
	return b.bytes()
}

func TestLoadClassicDocument(t *testing.T) {
	content := []byte("BT /F1 12 Tf ET")
	data := buildSimplePDF(content)

	doc, err := New(DefaultConfig()).Load(context.Background(), data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Version != "1.4" {
		t.Errorf("version = %q, want 1.4", doc.Version)
	}
	if _, ok := doc.Catalog(); !ok {
		t.Fatal("catalog not found")
	}
	pages := doc.Pages()
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}

	obj, ok := doc.Object(raw.ObjectRef{Num: 4})
	if !ok {
		t.Fatal("content stream not loaded")
	}
	stream, ok := obj.(*raw.Stream)
	if !ok {
		t.Fatalf("object 4 is %T, want stream", obj)
	}
	if !bytes.Equal(stream.Data, content) {
		t.Errorf("stream data = %q, want %q", stream.Data, content)
	}
	if n, _ := stream.Dict.Int("Length"); n != int64(len(content)) {
		t.Errorf("indirect Length not resolved, got %d", n)
	}
}

func TestLoadRepairsBrokenStartXref(t *testing.T) {
	data := buildSimplePDF([]byte("BT ET"))
	broken := bytes.Replace(data, []byte("startxref"), []byte("startxrEF"), 1)

	doc, err := New(DefaultConfig()).Load(context.Background(), broken)
	if err != nil {
		t.Fatalf("Load after repair: %v", err)
	}
	if _, ok := doc.Catalog(); !ok {
		t.Fatal("repair did not recover the catalog")
	}
	if len(doc.Pages()) != 1 {
		t.Fatal("repair did not recover the page tree")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := New(DefaultConfig()).Load(context.Background(), []byte("not a pdf at all"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestLoadEnforcesFileSizeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 16
	_, err := New(cfg).Load(context.Background(), buildSimplePDF([]byte("BT ET")))
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("want ErrResourceExhausted, got %v", err)
	}
}

func buildEncryptedPDF(t *testing.T, userPwd []byte) []byte {
	t.Helper()
	fileID := []byte("0123456789abcdef")
	enc, fileKey, err := security.BuildStandardEncryption(userPwd, nil, -44, fileID)
	if err != nil {
		t.Fatalf("BuildStandardEncryption: %v", err)
	}
	oBytes, _ := enc.StringBytes("O")
	uBytes, _ := enc.StringBytes("U")

	content := []byte("BT ET")
	cipherText, err := security.RC4Apply(security.ObjectKey(fileKey, 4, 0, false), content)
	if err != nil {
		t.Fatalf("RC4Apply: %v", err)
	}

	b := newPDFBuilder()
	b.add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	b.addStream(4, fmt.Sprintf("<< /Length %d >>", len(cipherText)), cipherText)
	b.add(5, fmt.Sprintf(
		"<< /Filter /Standard /V 1 /R 2 /Length 40 /P -44 /O <%X> /U <%X> >>",
		oBytes, uBytes))
	b.trailer = fmt.Sprintf("/Encrypt 5 0 R /ID [<%X> <%X>]", fileID, fileID)
	return b.bytes()
}

func TestLoadEncryptedWithEmptyPassword(t *testing.T) {
	data := buildEncryptedPDF(t, nil)

	doc, err := New(DefaultConfig()).Load(context.Background(), data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !doc.Encrypted {
		t.Error("document should be flagged as originally encrypted")
	}
	if doc.Trailer.Has("Encrypt") {
		t.Error("Encrypt entry must be dropped after decryption")
	}
	obj, _ := doc.Object(raw.ObjectRef{Num: 4})
	stream, ok := obj.(*raw.Stream)
	if !ok {
		t.Fatalf("object 4 is %T, want stream", obj)
	}
	if !bytes.Equal(stream.Data, []byte("BT ET")) {
		t.Errorf("stream not decrypted: %q", stream.Data)
	}
}

func TestLoadPasswordProtectedFails(t *testing.T) {
	data := buildEncryptedPDF(t, []byte("secret"))
	_, err := New(DefaultConfig()).Load(context.Background(), data)
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("want ErrEncrypted, got %v", err)
	}
}
