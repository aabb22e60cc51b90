package raw

import "sort"

// Document is the mutable graph of indirect objects parsed from one PDF.
// It is created fresh per compression job and never shared between jobs.
type Document struct {
	Objects   map[ObjectRef]Object
	Trailer   *Dict
	Version   string // header version, e.g. "1.7"
	Encrypted bool   // document declared an Encrypt dictionary
}

func NewDocument() *Document {
	return &Document{Objects: make(map[ObjectRef]Object)}
}

// Refs returns every reference in the graph in ascending object-number
// order. The slice is a snapshot: objects may be reassigned while iterating
// it without disturbing the visit order, and each reference appears exactly
// once.
func (d *Document) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// Walk visits every (reference, object) pair once, in Refs order, until fn
// returns false.
func (d *Document) Walk(fn func(ObjectRef, Object) bool) {
	for _, ref := range d.Refs() {
		if obj, ok := d.Objects[ref]; ok {
			if !fn(ref, obj) {
				return
			}
		}
	}
}

// Object returns the object stored at ref.
func (d *Document) Object(ref ObjectRef) (Object, bool) {
	obj, ok := d.Objects[ref]
	return obj, ok
}

// Assign replaces the object slot at ref. Identity is by reference: every
// other holder of the same ref observes the new value on its next resolve.
func (d *Document) Assign(ref ObjectRef, obj Object) {
	d.Objects[ref] = obj
}

// MaxObjectNum returns the highest allocated object number.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Resolve follows reference objects until a direct value is reached.
// Dangling references resolve to Null.
func (d *Document) Resolve(obj Object) Object {
	for depth := 0; depth < 64; depth++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj
		}
		next, ok := d.Objects[ref.R]
		if !ok {
			return Null{}
		}
		obj = next
	}
	return Null{}
}

// ResolveDict resolves obj and returns it as a dictionary. Streams resolve
// to their dictionaries.
func (d *Document) ResolveDict(obj Object) *Dict {
	switch v := d.Resolve(obj).(type) {
	case *Dict:
		return v
	case *Stream:
		return v.Dict
	}
	return nil
}

// Catalog returns the document's root dictionary.
func (d *Document) Catalog() (*Dict, bool) {
	if d.Trailer == nil {
		return nil, false
	}
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return nil, false
	}
	dict := d.ResolveDict(root)
	if dict == nil {
		return nil, false
	}
	return dict, true
}

// Info returns the trailer's Info dictionary, if any.
func (d *Document) Info() (*Dict, bool) {
	if d.Trailer == nil {
		return nil, false
	}
	info, ok := d.Trailer.Get("Info")
	if !ok {
		return nil, false
	}
	dict := d.ResolveDict(info)
	if dict == nil {
		return nil, false
	}
	return dict, true
}

// Pages returns the page dictionaries in visual order by walking the page
// tree from the catalog. Intermediate Pages nodes are not included.
func (d *Document) Pages() []*Dict {
	catalog, ok := d.Catalog()
	if !ok {
		return nil
	}
	pagesObj, ok := catalog.Get("Pages")
	if !ok {
		return nil
	}
	var out []*Dict
	seen := make(map[*Dict]bool)
	var walk func(node *Dict)
	walk = func(node *Dict) {
		if node == nil || seen[node] {
			return
		}
		seen[node] = true
		switch node.Name("Type") {
		case "Page":
			out = append(out, node)
			return
		}
		kids, ok := node.Get("Kids")
		if !ok {
			// A node without Kids and without Type /Pages is treated as a
			// leaf page; malformed files omit Type regularly.
			if node.Has("Contents") || node.Has("MediaBox") {
				out = append(out, node)
			}
			return
		}
		arr, ok := d.Resolve(kids).(*Array)
		if !ok {
			return
		}
		for _, kid := range arr.Items {
			walk(d.ResolveDict(kid))
		}
	}
	walk(d.ResolveDict(pagesObj))
	return out
}
