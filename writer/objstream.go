package writer

import (
	"bytes"
	"compress/zlib"
	"fmt"

	"github.com/weslee-bat/pdfpress/ir/raw"
)

// serializeCompact packs every non-stream object into a single object
// stream and indexes the file with a cross-reference stream. Stream objects
// and objects with a nonzero generation stay at the top level.
func (w *Writer) serializeCompact(doc *raw.Document) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, doc.Version, true)

	var packed, top []raw.ObjectRef
	maxNum := 0
	for _, ref := range doc.Refs() {
		obj, _ := doc.Object(ref)
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		if _, isStream := obj.(*raw.Stream); isStream || ref.Gen != 0 {
			top = append(top, ref)
		} else {
			packed = append(packed, ref)
		}
	}
	objStmNum := maxNum + 1
	xrefNum := maxNum + 2

	type loc struct {
		inStream bool
		offset   int64 // byte offset, or index within the object stream
		gen      int
	}
	locs := make(map[int]loc, len(packed)+len(top))

	for _, ref := range top {
		obj, _ := doc.Object(ref)
		locs[ref.Num] = loc{offset: int64(buf.Len()), gen: ref.Gen}
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		writeObject(&buf, obj)
		buf.WriteString("\nendobj\n")
	}

	if len(packed) > 0 {
		stm, err := buildObjectStream(doc, packed)
		if err != nil {
			return nil, err
		}
		for i, ref := range packed {
			locs[ref.Num] = loc{inStream: true, offset: int64(i)}
		}
		locs[objStmNum] = loc{offset: int64(buf.Len())}
		fmt.Fprintf(&buf, "%d 0 obj\n", objStmNum)
		writeObject(&buf, stm)
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := int64(buf.Len())
	size := xrefNum + 1

	// W = [1 4 2]: type byte, 4-byte offset or holder, 2-byte gen or index.
	var rows bytes.Buffer
	writeRow := func(t byte, f2 int64, f3 int) {
		rows.WriteByte(t)
		rows.Write([]byte{byte(f2 >> 24), byte(f2 >> 16), byte(f2 >> 8), byte(f2)})
		rows.Write([]byte{byte(f3 >> 8), byte(f3)})
	}
	writeRow(0, 0, 0xffff)
	for num := 1; num < size; num++ {
		switch l, ok := locs[num]; {
		case !ok && num == xrefNum:
			writeRow(1, xrefOffset, 0)
		case !ok:
			writeRow(0, 0, 0xffff)
		case l.inStream:
			writeRow(2, int64(objStmNum), int(l.offset))
		default:
			writeRow(1, l.offset, l.gen)
		}
	}
	compressedRows, err := deflate(rows.Bytes())
	if err != nil {
		return nil, err
	}

	xrefDict := buildTrailer(doc, size)
	xrefDict.Set("Type", raw.NameOf("XRef"))
	xrefDict.Set("Filter", raw.NameOf("FlateDecode"))
	xrefDict.Set("W", raw.NewArray(raw.Integer(1), raw.Integer(4), raw.Integer(2)))
	xrefDict.Set("Index", raw.NewArray(raw.Integer(0), raw.Integer(int64(size))))

	fmt.Fprintf(&buf, "%d 0 obj\n", xrefNum)
	writeStream(&buf, raw.NewStream(xrefDict, compressedRows))
	buf.WriteString("\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

// buildObjectStream serializes the packed objects into an ObjStm with a
// deflated payload.
func buildObjectStream(doc *raw.Document, refs []raw.ObjectRef) (*raw.Stream, error) {
	var header, body bytes.Buffer
	for _, ref := range refs {
		obj, _ := doc.Object(ref)
		fmt.Fprintf(&header, "%d %d ", ref.Num, body.Len())
		writeObject(&body, obj)
		body.WriteByte(' ')
	}
	first := header.Len()
	header.Write(body.Bytes())

	payload, err := deflate(header.Bytes())
	if err != nil {
		return nil, err
	}
	dict := raw.NewDict()
	dict.Set("Type", raw.NameOf("ObjStm"))
	dict.Set("N", raw.Integer(int64(len(refs))))
	dict.Set("First", raw.Integer(int64(first)))
	dict.Set("Filter", raw.NameOf("FlateDecode"))
	return raw.NewStream(dict, payload), nil
}

func deflate(data []byte) ([]byte, error) {
	var out bytes.Buffer
	zw, err := zlib.NewWriterLevel(&out, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
