package recovery

import (
	"errors"
	"strings"
	"testing"
)

func TestStrictFailsImmediately(t *testing.T) {
	s := NewStrict()
	if got := s.OnError(errors.New("boom"), Location{}); got != ActionFail {
		t.Errorf("action = %v, want ActionFail", got)
	}
}

func TestLenientAccumulates(t *testing.T) {
	l := NewLenient()
	if got := l.OnError(errors.New("bad name"), Location{Component: "scanner:name", ByteOffset: 42}); got != ActionFix {
		t.Errorf("action = %v, want ActionFix", got)
	}
	l.OnError(errors.New("bad stream"), Location{Component: "scanner:stream", ByteOffset: 99})
	if len(l.Errors) != 2 {
		t.Fatalf("recorded %d errors, want 2", len(l.Errors))
	}
	msg := l.Errors[0].Error()
	if !strings.Contains(msg, "scanner:name") || !strings.Contains(msg, "42") {
		t.Errorf("error message %q lacks location detail", msg)
	}
}
