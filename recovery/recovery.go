// Package recovery decides how parsing components react to structural
// damage in the input file.
package recovery

import "fmt"

// Strategy is consulted whenever a component hits malformed input it could
// plausibly continue past.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pins an error to a byte offset and the component that raised it.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

// Strict fails on the first structural error.
type Strict struct{}

func NewStrict() *Strict { return &Strict{} }

func (*Strict) OnError(err error, location Location) Action { return ActionFail }

// Lenient patches over what it can and remembers everything it saw, so a
// caller can report recovered damage after the fact.
type Lenient struct {
	Errors []error
}

func NewLenient() *Lenient { return &Lenient{} }

func (l *Lenient) OnError(err error, location Location) Action {
	l.Errors = append(l.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	return ActionFix
}
