package raw

import (
	"bytes"
	"testing"

	"github.com/weslee-bat/pdfpress/scanner"
)

func TestClassify(t *testing.T) {
	imgDict := NewDict()
	imgDict.Set("Subtype", NameOf("Image"))
	formDict := NewDict()
	formDict.Set("Subtype", NameOf("Form"))

	cases := []struct {
		obj  Object
		want Kind
	}{
		{nil, KindNull},
		{Null{}, KindNull},
		{Boolean(true), KindBool},
		{Integer(7), KindNumber},
		{Real(0.5), KindNumber},
		{Str([]byte("abc")), KindString},
		{NameOf("Type"), KindName},
		{NewArray(Integer(1)), KindArray},
		{NewDict(), KindDict},
		{NewStream(formDict, nil), KindStream},
		{NewStream(imgDict, nil), KindImageStream},
		{RefTo(3, 0), KindRef},
	}
	for _, tc := range cases {
		if got := Classify(tc.obj); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.obj, got, tc.want)
		}
	}
	// Subtype matching is exact and case sensitive.
	odd := NewDict()
	odd.Set("Subtype", NameOf("image"))
	if got := Classify(NewStream(odd, nil)); got != KindStream {
		t.Errorf("lowercase subtype classified as %v", got)
	}
}

func TestDictNilSafety(t *testing.T) {
	var d *Dict
	if _, ok := d.Get("Any"); ok {
		t.Error("nil dict Get must report missing")
	}
	if d.Has("Any") || d.Len() != 0 || d.Name("Any") != "" {
		t.Error("nil dict accessors must be inert")
	}
	d.Delete("Any") // must not panic
	if d.Dictionary("Any") != nil {
		t.Error("nil dict Dictionary must be nil")
	}
}

func TestDictTypedAccessors(t *testing.T) {
	d := NewDict()
	d.Set("N", Integer(42))
	d.Set("F", Real(1.5))
	d.Set("Name", NameOf("Catalog"))
	d.Set("S", Str([]byte("hi")))
	d.Set("B", Boolean(true))
	sub := NewDict()
	d.Set("Sub", sub)

	if v, ok := d.Int("N"); !ok || v != 42 {
		t.Errorf("Int(N) = %d, %v", v, ok)
	}
	if v, ok := d.Int("F"); !ok || v != 1 {
		t.Errorf("Int(F) = %d, %v", v, ok)
	}
	if _, ok := d.Int("Name"); ok {
		t.Error("Int over a name must fail")
	}
	if d.Name("Name") != "Catalog" {
		t.Errorf("Name = %q", d.Name("Name"))
	}
	if v, ok := d.StringBytes("S"); !ok || !bytes.Equal(v, []byte("hi")) {
		t.Errorf("StringBytes = %q, %v", v, ok)
	}
	if v, ok := d.Bool("B"); !ok || !v {
		t.Errorf("Bool = %v, %v", v, ok)
	}
	if d.Dictionary("Sub") != sub {
		t.Error("Dictionary must return the stored dict")
	}
}

func TestStreamLengthTracksData(t *testing.T) {
	s := NewStream(nil, []byte("12345"))
	if n, _ := s.Dict.Int("Length"); n != 5 {
		t.Errorf("Length = %d, want 5", n)
	}
	s.SetData([]byte("longer payload"))
	if n, _ := s.Dict.Int("Length"); n != 14 {
		t.Errorf("Length after SetData = %d, want 14", n)
	}
}

func TestDocumentResolve(t *testing.T) {
	doc := NewDocument()
	doc.Assign(ObjectRef{Num: 1}, RefTo(2, 0))
	doc.Assign(ObjectRef{Num: 2}, Integer(9))
	doc.Assign(ObjectRef{Num: 3}, RefTo(3, 0)) // self cycle
	if got := doc.Resolve(RefTo(1, 0)); got != Integer(9) {
		t.Errorf("Resolve chain = %v", got)
	}
	if got := doc.Resolve(RefTo(99, 0)); got != (Null{}) {
		t.Errorf("dangling ref = %v, want null", got)
	}
	if got := doc.Resolve(RefTo(3, 0)); got != (Null{}) {
		t.Errorf("cyclic ref = %v, want null", got)
	}
	if got := doc.Resolve(Integer(4)); got != Integer(4) {
		t.Errorf("direct value = %v", got)
	}
}

func TestDocumentRefsOrderAndWalk(t *testing.T) {
	doc := NewDocument()
	doc.Assign(ObjectRef{Num: 5}, Null{})
	doc.Assign(ObjectRef{Num: 1}, Null{})
	doc.Assign(ObjectRef{Num: 3}, Null{})
	refs := doc.Refs()
	for i := 1; i < len(refs); i++ {
		if refs[i-1].Num >= refs[i].Num {
			t.Fatalf("Refs not ascending: %v", refs)
		}
	}
	var visited int
	doc.Walk(func(ObjectRef, Object) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("Walk visited %d, want early stop at 2", visited)
	}
}

func buildPageTree() *Document {
	doc := NewDocument()
	page1 := NewDict()
	page1.Set("Type", NameOf("Page"))
	page2 := NewDict()
	// Missing Type but carrying Contents: still a leaf page.
	page2.Set("Contents", RefTo(9, 0))
	inner := NewDict()
	inner.Set("Type", NameOf("Pages"))
	inner.Set("Kids", NewArray(RefTo(4, 0)))
	pages := NewDict()
	pages.Set("Type", NameOf("Pages"))
	pages.Set("Kids", NewArray(RefTo(3, 0), RefTo(5, 0)))
	catalog := NewDict()
	catalog.Set("Type", NameOf("Catalog"))
	catalog.Set("Pages", RefTo(2, 0))

	doc.Assign(ObjectRef{Num: 1}, catalog)
	doc.Assign(ObjectRef{Num: 2}, pages)
	doc.Assign(ObjectRef{Num: 3}, page1)
	doc.Assign(ObjectRef{Num: 4}, page2)
	doc.Assign(ObjectRef{Num: 5}, inner)
	doc.Trailer = NewDict()
	doc.Trailer.Set("Root", RefTo(1, 0))
	return doc
}

func TestDocumentPages(t *testing.T) {
	doc := buildPageTree()
	pages := doc.Pages()
	if len(pages) != 2 {
		t.Fatalf("Pages = %d dicts, want 2", len(pages))
	}
	if pages[0].Name("Type") != "Page" {
		t.Errorf("first page Type = %q", pages[0].Name("Type"))
	}
	if !pages[1].Has("Contents") {
		t.Errorf("second page missing Contents")
	}
}

func TestDocumentPagesCycleGuard(t *testing.T) {
	doc := buildPageTree()
	// Point the inner node back at the root Pages node.
	inner, _ := doc.Object(ObjectRef{Num: 5})
	inner.(*Dict).Set("Kids", NewArray(RefTo(2, 0)))
	pages := doc.Pages()
	if len(pages) != 1 {
		t.Fatalf("cyclic tree produced %d pages, want 1", len(pages))
	}
}

func TestCatalogAndInfo(t *testing.T) {
	doc := buildPageTree()
	cat, ok := doc.Catalog()
	if !ok || cat.Name("Type") != "Catalog" {
		t.Fatalf("Catalog = %v, %v", cat, ok)
	}
	if _, ok := doc.Info(); ok {
		t.Error("Info must be absent")
	}
	info := NewDict()
	doc.Assign(ObjectRef{Num: 6}, info)
	doc.Trailer.Set("Info", RefTo(6, 0))
	got, ok := doc.Info()
	if !ok || got != info {
		t.Errorf("Info = %v, %v", got, ok)
	}
}

func reader(src string) *TokenReader {
	return NewTokenReader(scanner.New(bytes.NewReader([]byte(src)), scanner.DefaultConfig()))
}

func TestParseObjectDict(t *testing.T) {
	obj, err := ParseObject(reader("<< /Type /Page /MediaBox [0 0 612 792] /Parent 2 0 R >>"))
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	d, ok := obj.(*Dict)
	if !ok {
		t.Fatalf("got %T", obj)
	}
	if d.Name("Type") != "Page" {
		t.Errorf("Type = %q", d.Name("Type"))
	}
	box, _ := d.Get("MediaBox")
	arr, ok := box.(*Array)
	if !ok || arr.Len() != 4 {
		t.Fatalf("MediaBox = %v", box)
	}
	parent, _ := d.Get("Parent")
	if ref, ok := parent.(Ref); !ok || ref.R.Num != 2 {
		t.Errorf("Parent = %v", parent)
	}
}

func TestParseObjectNested(t *testing.T) {
	obj, err := ParseObject(reader("[ 1 [ 2 3 ] << /K (v) >> true null ]"))
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	arr := obj.(*Array)
	if arr.Len() != 5 {
		t.Fatalf("len = %d", arr.Len())
	}
	if inner, ok := arr.Items[1].(*Array); !ok || inner.Len() != 2 {
		t.Errorf("inner array = %v", arr.Items[1])
	}
	if d, ok := arr.Items[2].(*Dict); !ok || !d.Has("K") {
		t.Errorf("inner dict = %v", arr.Items[2])
	}
}

func TestParseObjectRecoversMissingDictClose(t *testing.T) {
	tr := reader("<< /Type /Catalog endobj")
	obj, err := ParseObject(tr)
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	d := obj.(*Dict)
	if d.Name("Type") != "Catalog" {
		t.Errorf("Type = %q", d.Name("Type"))
	}
	// The stray endobj is handed back for the caller.
	tok, err := tr.Next()
	if err != nil || tok.Str != "endobj" {
		t.Errorf("next token = %+v, %v", tok, err)
	}
}

func TestParseObjectRejectsStrayKeyword(t *testing.T) {
	if _, err := ParseObject(reader("endstream")); err == nil {
		t.Fatal("stray keyword must fail")
	}
}
