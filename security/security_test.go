package security

import (
	"bytes"
	"testing"

	"github.com/weslee-bat/pdfpress/ir/raw"
)

// buildRC4Encrypt produces a V1/R2 Standard encrypt dictionary and trailer
// for the given user password.
func buildRC4Encrypt(t *testing.T, userPwd []byte) (*raw.Dict, *raw.Dict, []byte) {
	t.Helper()
	fileID := []byte("0123456789abcdef")

	enc, fileKey, err := BuildStandardEncryption(userPwd, nil, -44, fileID)
	if err != nil {
		t.Fatalf("BuildStandardEncryption: %v", err)
	}

	trailer := raw.NewDict()
	ids := raw.NewArray()
	ids.Append(raw.Str(fileID), raw.Str(fileID))
	trailer.Set("ID", ids)
	return enc, trailer, fileKey
}

func TestAuthenticateEmptyPassword(t *testing.T) {
	enc, trailer, _ := buildRC4Encrypt(t, nil)
	h, err := NewHandler(enc, trailer)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if !h.IsEncrypted() {
		t.Fatal("handler should report encrypted")
	}
	if err := h.AuthenticateEmpty(); err != nil {
		t.Fatalf("empty password should authenticate: %v", err)
	}
}

func TestAuthenticateRejectsProtectedDocument(t *testing.T) {
	enc, trailer, _ := buildRC4Encrypt(t, []byte("secret"))
	h, err := NewHandler(enc, trailer)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if err := h.AuthenticateEmpty(); err != ErrPasswordRequired {
		t.Fatalf("want ErrPasswordRequired, got %v", err)
	}
}

func TestDecryptRoundTripRC4(t *testing.T) {
	enc, trailer, fileKey := buildRC4Encrypt(t, nil)
	h, err := NewHandler(enc, trailer)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if err := h.AuthenticateEmpty(); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	plain := []byte("stream payload bytes")
	objKey := objectKey(fileKey, 7, 0, false)
	cipherText := rc4Simple(objKey, plain)

	got, err := h.Decrypt(7, 0, cipherText, DataClassStream)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypt mismatch: got %q want %q", got, plain)
	}
}

func TestPassthroughHandler(t *testing.T) {
	h, err := NewHandler(nil, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if h.IsEncrypted() {
		t.Fatal("nil encrypt dict must yield unencrypted handler")
	}
	data := []byte{1, 2, 3}
	got, err := h.Decrypt(1, 0, data, DataClassString)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("passthrough must return data unchanged, got %v err %v", got, err)
	}
}

func TestUnsupportedHandlerRejected(t *testing.T) {
	enc := raw.NewDict()
	enc.Set("Filter", raw.NameOf("Custom"))
	if _, err := NewHandler(enc, raw.NewDict()); err == nil {
		t.Fatal("non-standard handler must be rejected")
	}
}
