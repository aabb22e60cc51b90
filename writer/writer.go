// Package writer serializes a raw document back to PDF bytes. Two layouts
// are supported: the classic table layout every reader understands, and a
// compact layout that packs non-stream objects into object streams behind a
// cross-reference stream.
//
// Output is deterministic: objects are written in ascending number order and
// dictionary keys are sorted.
package writer

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/weslee-bat/pdfpress/ir/raw"
	"github.com/weslee-bat/pdfpress/observability"
)

type Layout int

const (
	// LayoutClassic writes a plain xref table.
	LayoutClassic Layout = iota
	// LayoutCompact writes object streams and a cross-reference stream.
	LayoutCompact
)

func (l Layout) String() string {
	if l == LayoutCompact {
		return "compact"
	}
	return "classic"
}

type Config struct {
	Layout Layout
	Logger observability.Logger
}

type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Writer{cfg: cfg}
}

// Write serializes doc to out.
func (w *Writer) Write(doc *raw.Document, out io.Writer) error {
	data, err := w.Serialize(doc)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Serialize produces the complete file bytes.
func (w *Writer) Serialize(doc *raw.Document) ([]byte, error) {
	if _, ok := doc.Catalog(); !ok {
		return nil, fmt.Errorf("document has no catalog")
	}
	var data []byte
	var err error
	if w.cfg.Layout == LayoutCompact {
		data, err = w.serializeCompact(doc)
	} else {
		data, err = w.serializeClassic(doc)
	}
	if err != nil {
		return nil, err
	}
	w.cfg.Logger.Debug("document serialized",
		observability.String("layout", w.cfg.Layout.String()),
		observability.Int("bytes", len(data)))
	return data, nil
}

func (w *Writer) serializeClassic(doc *raw.Document) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, doc.Version, false)

	refs := doc.Refs()
	offsets := make(map[int]int64, len(refs))
	maxNum := 0
	for _, ref := range refs {
		obj, _ := doc.Object(ref)
		offsets[ref.Num] = int64(buf.Len())
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		writeObject(&buf, obj)
		buf.WriteString("\nendobj\n")
	}

	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		gens[ref.Num] = ref.Gen
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, gens[num])
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	buf.WriteString("trailer\n")
	writeObject(&buf, buildTrailer(doc, maxNum+1))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

// buildTrailer carries over only the entries that stay valid across a
// rewrite. Size is recomputed; Prev, XRefStm, and Encrypt never survive.
func buildTrailer(doc *raw.Document, size int) *raw.Dict {
	trailer := raw.NewDict()
	trailer.Set("Size", raw.Integer(int64(size)))
	if doc.Trailer != nil {
		for _, key := range []string{"Root", "Info", "ID"} {
			if v, ok := doc.Trailer.Get(key); ok {
				trailer.Set(key, v)
			}
		}
	}
	return trailer
}

func writeHeader(buf *bytes.Buffer, version string, compact bool) {
	if version == "" {
		version = "1.7"
	}
	if compact && version < "1.5" {
		// Object streams need at least PDF 1.5.
		version = "1.5"
	}
	fmt.Fprintf(buf, "%%PDF-%s\n", version)
	// Binary marker comment so transfer tools treat the file as binary.
	buf.WriteString("%\xe2\xe3\xcf\xd3\n")
}

func writeObject(buf *bytes.Buffer, obj raw.Object) {
	switch v := obj.(type) {
	case nil:
		buf.WriteString("null")
	case raw.Null:
		buf.WriteString("null")
	case raw.Bool:
		if v.V {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case raw.Number:
		if v.IsInt {
			buf.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.F, 'f', -1, 64))
		}
	case raw.Name:
		writeName(buf, v.Val)
	case raw.String:
		writeString(buf, v)
	case raw.Ref:
		fmt.Fprintf(buf, "%d %d R", v.R.Num, v.R.Gen)
	case *raw.Array:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeObject(buf, item)
		}
		buf.WriteByte(']')
	case *raw.Dict:
		writeDict(buf, v)
	case *raw.Stream:
		writeStream(buf, v)
	default:
		buf.WriteString("null")
	}
}

func writeDict(buf *bytes.Buffer, d *raw.Dict) {
	buf.WriteString("<<")
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeName(buf, k)
		buf.WriteByte(' ')
		writeObject(buf, d.KV[k])
	}
	buf.WriteString(">>")
}

func writeStream(buf *bytes.Buffer, s *raw.Stream) {
	dict := raw.NewDict()
	for k, v := range s.Dict.KV {
		dict.Set(k, v)
	}
	dict.Set("Length", raw.Integer(int64(len(s.Data))))
	writeDict(buf, dict)
	buf.WriteString("\nstream\n")
	buf.Write(s.Data)
	buf.WriteString("\nendstream")
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7f || isNameEscape(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func isNameEscape(c byte) bool {
	switch c {
	case '#', '/', '(', ')', '<', '>', '[', ']', '{', '}', '%':
		return true
	}
	return false
}

func writeString(buf *bytes.Buffer, s raw.String) {
	if s.Hex {
		buf.WriteByte('<')
		for _, b := range s.Bytes {
			fmt.Fprintf(buf, "%02X", b)
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, b := range s.Bytes {
		switch b {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(')')
}
