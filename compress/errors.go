package compress

import (
	"errors"
	"fmt"

	"github.com/weslee-bat/pdfpress/filters"
	"github.com/weslee-bat/pdfpress/parser"
)

// FailureKind classifies why a job failed.
type FailureKind int

const (
	FailureEncrypted FailureKind = iota
	FailureMalformed
	FailureUnsupported
	FailureResourceExhausted
	FailureSerialize
)

func (k FailureKind) String() string {
	switch k {
	case FailureEncrypted:
		return "encrypted"
	case FailureMalformed:
		return "malformed"
	case FailureUnsupported:
		return "unsupported"
	case FailureResourceExhausted:
		return "resource_exhausted"
	case FailureSerialize:
		return "serialize"
	}
	return "unknown"
}

// Error is the typed failure a job records. UserMessage is safe to show
// directly; Err carries the underlying cause for logs.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compression failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the message shown to end users.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case FailureEncrypted:
		return "password protected, cannot compress"
	case FailureResourceExhausted:
		return "file too large for available memory, try a smaller file"
	default:
		return "failed to compress, try again"
	}
}

// classifyLoadError maps loader failures onto the taxonomy. Classification
// is structural: it never inspects error message text.
func classifyLoadError(err error) *Error {
	switch {
	case errors.Is(err, parser.ErrEncrypted):
		return &Error{Kind: FailureEncrypted, Err: err}
	case errors.Is(err, parser.ErrResourceExhausted), errors.Is(err, filters.ErrDecodeLimit):
		return &Error{Kind: FailureResourceExhausted, Err: err}
	case errors.Is(err, parser.ErrUnsupported):
		return &Error{Kind: FailureUnsupported, Err: err}
	default:
		return &Error{Kind: FailureMalformed, Err: err}
	}
}
