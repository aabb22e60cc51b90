// Package optimize shrinks a loaded document: it strips metadata that does
// not affect rendering and swaps raster images for smaller re-encodes.
package optimize

import (
	"github.com/weslee-bat/pdfpress/ir/raw"
)

// EpochDate is the fixed value written over every date field so output is
// reproducible.
const EpochDate = "D:19700101000000Z"

// Info fields whose text is blanked rather than removed, so viewers still
// see the keys they expect.
var infoTextFields = []string{
	"Title", "Author", "Subject", "Keywords", "Creator", "Producer",
}

var infoDateFields = []string{"CreationDate", "ModDate"}

// Catalog entries that only carry metadata or structure irrelevant to
// rendered output.
var catalogPruneKeys = []string{
	"Metadata", "StructTreeRoot", "PieceInfo", "OCProperties",
}

var pagePruneKeys = []string{"PieceInfo", "Metadata"}

// Prune clears identifying metadata in place. Running it twice is a no-op.
func Prune(doc *raw.Document) {
	if info, ok := doc.Info(); ok {
		for _, key := range infoTextFields {
			if info.Has(key) {
				info.Set(key, raw.Str(nil))
			}
		}
		for _, key := range infoDateFields {
			if info.Has(key) {
				info.Set(key, raw.Str([]byte(EpochDate)))
			}
		}
	}
	if catalog, ok := doc.Catalog(); ok {
		for _, key := range catalogPruneKeys {
			catalog.Delete(key)
		}
	}
	for _, page := range doc.Pages() {
		for _, key := range pagePruneKeys {
			page.Delete(key)
		}
	}
}
