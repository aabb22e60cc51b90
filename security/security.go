// Package security implements the Standard security handler far enough to
// decide, structurally, whether a document is readable without a user
// password, and to decrypt its strings and streams when it is.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/weslee-bat/pdfpress/ir/raw"
)

// ErrPasswordRequired reports that the empty user password did not
// authenticate: reading the document requires credentials we do not hold.
var ErrPasswordRequired = errors.New("document requires a user password")

// DataClass tells the handler what kind of payload it is decrypting.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Handler decrypts document data once authenticated.
type Handler interface {
	IsEncrypted() bool
	// AuthenticateEmpty tries the empty user password. A failure means the
	// document is locked for reading.
	AuthenticateEmpty() error
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	EncryptMetadata() bool
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
	algoAES256
)

// NewHandler builds a handler from the trailer's Encrypt dictionary. A nil
// encrypt dictionary yields the pass-through handler.
func NewHandler(encrypt *raw.Dict, trailer *raw.Dict) (Handler, error) {
	if encrypt == nil {
		return passthrough{}, nil
	}
	if f := encrypt.Name("Filter"); f != "" && f != "Standard" {
		return nil, fmt.Errorf("unsupported security handler %s", f)
	}
	v := int64(1)
	if n, ok := encrypt.Int("V"); ok && n > 0 {
		v = n
	}
	if v > 5 {
		return nil, fmt.Errorf("unsupported encryption version V=%d", v)
	}
	rev := int64(2)
	if n, ok := encrypt.Int("R"); ok {
		rev = n
	}
	if rev > 6 {
		return nil, fmt.Errorf("unsupported encryption revision R=%d", rev)
	}
	keyBits := 40
	if v >= 5 {
		keyBits = 256
	}
	if n, ok := encrypt.Int("Length"); ok && n > 0 {
		keyBits = int(n)
	}
	if keyBits%8 != 0 {
		return nil, errors.New("encryption key length must be a multiple of 8")
	}

	h := &standardHandler{
		v:       int(v),
		r:       int(rev),
		keyLen:  keyBits / 8,
		fileID:  fileIDFromTrailer(trailer),
		encMeta: true,
	}
	h.oEntry, _ = encrypt.StringBytes("O")
	h.uEntry, _ = encrypt.StringBytes("U")
	h.oe, _ = encrypt.StringBytes("OE")
	h.ue, _ = encrypt.StringBytes("UE")
	if p, ok := encrypt.Int("P"); ok {
		h.p = int32(p)
	}
	if em, ok := encrypt.Bool("EncryptMetadata"); ok {
		h.encMeta = em
	}

	base := algoRC4
	if v == 4 {
		base = algoAES
	} else if v >= 5 {
		base = algoAES256
	}
	cf, err := parseCryptFilters(encrypt, base)
	if err != nil {
		return nil, err
	}
	h.streamAlgo, err = resolveCryptFilter(encrypt, "StmF", base, cf)
	if err != nil {
		return nil, err
	}
	h.stringAlgo, err = resolveCryptFilter(encrypt, "StrF", base, cf)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type standardHandler struct {
	key        []byte
	v          int
	r          int
	keyLen     int
	oEntry     []byte
	uEntry     []byte
	oe         []byte
	ue         []byte
	p          int32
	fileID     []byte
	encMeta    bool
	authed     bool
	streamAlgo cryptAlgo
	stringAlgo cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.encMeta }

func (h *standardHandler) AuthenticateEmpty() error {
	if h.r >= 5 {
		key, ok, err := deriveAES256User(nil, h.uEntry, h.ue, h.fileID)
		if err != nil || !ok {
			return ErrPasswordRequired
		}
		h.key = key
		h.authed = true
		return nil
	}
	key := deriveKey(nil, h.oEntry, h.p, h.fileID, h.keyLen, h.r, h.encMeta)
	if !checkUserPassword(key, h.uEntry, h.fileID, h.r) {
		return ErrPasswordRequired
	}
	h.key = key
	h.authed = true
	return nil
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	if !h.authed {
		if err := h.AuthenticateEmpty(); err != nil {
			return nil, err
		}
	}
	algo := h.stringAlgo
	if class == DataClassStream || class == DataClassMetadataStream {
		algo = h.streamAlgo
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	if algo == algoAES256 {
		return aesCBCDecrypt(h.key, data)
	}
	key := objectKey(h.key, objNum, gen, algo == algoAES)
	if algo == algoAES {
		return aesCBCDecrypt(key, data)
	}
	return rc4Apply(key, data)
}

type passthrough struct{}

func (passthrough) IsEncrypted() bool        { return false }
func (passthrough) AuthenticateEmpty() error { return nil }
func (passthrough) EncryptMetadata() bool    { return false }
func (passthrough) Decrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}

// Passthrough returns the handler used for unencrypted documents.
func Passthrough() Handler { return passthrough{} }

// BuildStandardEncryption produces a V1/R2 Standard encrypt dictionary for
// the given passwords, along with the derived file key. Useful for
// constructing encrypted fixtures.
func BuildStandardEncryption(userPwd, ownerPwd []byte, perms int32, fileID []byte) (*raw.Dict, []byte, error) {
	ownerSum := md5.Sum(padPassword(ownerPwd))
	oEntry, err := rc4Apply(ownerSum[:5], padPassword(userPwd))
	if err != nil {
		return nil, nil, err
	}
	fileKey := deriveKey(userPwd, oEntry, perms, fileID, 5, 2, true)
	uEntry, err := rc4Apply(fileKey, passwordPadding)
	if err != nil {
		return nil, nil, err
	}
	dict := raw.NewDict()
	dict.Set("Filter", raw.NameOf("Standard"))
	dict.Set("V", raw.Integer(1))
	dict.Set("R", raw.Integer(2))
	dict.Set("Length", raw.Integer(40))
	dict.Set("P", raw.Integer(int64(perms)))
	dict.Set("O", raw.Str(oEntry))
	dict.Set("U", raw.Str(uEntry))
	return dict, fileKey, nil
}

// ObjectKey derives the per-object RC4/AES-128 key from the file key.
func ObjectKey(fileKey []byte, objNum, gen int, aesKey bool) []byte {
	return objectKey(fileKey, objNum, gen, aesKey)
}

// RC4Apply runs the RC4 stream cipher over data. Encryption and decryption
// are the same operation.
func RC4Apply(key, data []byte) ([]byte, error) { return rc4Apply(key, data) }

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding[:32-n])
	return padded
}

func deriveKey(pwd, owner []byte, pVal int32, fileID []byte, keyLen, r int, encMeta bool) []byte {
	if keyLen <= 0 {
		keyLen = 5
	}
	if keyLen > 16 {
		keyLen = 16
	}
	data := make([]byte, 0, 32+len(owner)+4+len(fileID)+4)
	data = append(data, padPassword(pwd)...)
	data = append(data, owner...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(pVal))
	data = append(data, pBuf[:]...)
	data = append(data, fileID...)
	if r >= 4 && !encMeta {
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	sum := md5.Sum(data)
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	return key[:keyLen]
}

func checkUserPassword(key, userEntry, fileID []byte, r int) bool {
	if len(userEntry) < 16 {
		return false
	}
	if r <= 2 {
		expect := rc4Simple(key, passwordPadding)
		return bytes.Equal(expect[:16], userEntry[:16])
	}
	h := md5.Sum(append(append([]byte{}, passwordPadding...), fileID...))
	val := rc4Simple(key, h[:])
	for i := 1; i <= 19; i++ {
		tmp := make([]byte, len(key))
		for j := range key {
			tmp[j] = key[j] ^ byte(i)
		}
		val = rc4Simple(tmp, val)
	}
	return bytes.Equal(val[:16], userEntry[:16])
}

func objectKey(fileKey []byte, objNum, gen int, useAES bool) []byte {
	key := append([]byte{}, fileKey...)
	key = append(key,
		byte(objNum), byte(objNum>>8), byte(objNum>>16),
		byte(gen), byte(gen>>8))
	if useAES {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	hash := md5.Sum(key)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return hash[:n]
}

// rev6Hash is the iterative hash for R=5/6 authentication (ISO 32000-2
// algorithm 2.B).
func rev6Hash(pwd, salt, extra []byte) []byte {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	sum := sha256.Sum256(append(append(append([]byte{}, pwd...), salt...), extra...))
	h := sum[:]
	for round := 0; ; round++ {
		block := make([]byte, 0, 64*(len(pwd)+len(h)+len(extra)))
		for i := 0; i < 64; i++ {
			block = append(block, pwd...)
			block = append(block, h...)
			block = append(block, extra...)
		}
		enc, err := aesCBCRaw(h[:16], h[16:32], block)
		if err != nil {
			return h
		}
		mod := 0
		for _, b := range enc[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			s := sha256.Sum256(enc)
			h = s[:]
		case 1:
			s := sha512.Sum384(enc)
			h = s[:]
		default:
			s := sha512.Sum512(enc)
			h = s[:]
		}
		if round >= 63 && int(enc[len(enc)-1]) <= round-32 {
			break
		}
	}
	return h[:32]
}

func deriveAES256User(pwd, uEntry, ue, fileID []byte) ([]byte, bool, error) {
	if len(uEntry) < 48 || len(ue) < 32 {
		return nil, false, errors.New("user entry too short")
	}
	validationSalt := uEntry[32:40]
	keySalt := uEntry[40:48]
	if !bytes.Equal(rev6Hash(pwd, validationSalt, nil)[:32], uEntry[:32]) {
		return nil, false, nil
	}
	keyHash := rev6Hash(pwd, keySalt, nil)
	zeroIV := make([]byte, aes.BlockSize)
	fileKey, err := aesCBCRawDecrypt(keyHash[:32], zeroIV, ue[:32])
	if err != nil {
		return nil, false, err
	}
	return fileKey, true, nil
}

func rc4Simple(key, data []byte) []byte {
	out, _ := rc4Apply(key, data)
	return out
}

func rc4Apply(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// aesCBCDecrypt handles the PDF convention of a leading IV block and PKCS#7
// padding.
func aesCBCDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext too short")
	}
	iv := data[:aes.BlockSize]
	ct := data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("aes ciphertext not block aligned")
	}
	out, err := aesCBCRawDecrypt(key, iv, ct)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

func aesCBCRaw(key, iv, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out, nil
}

func aesCBCRawDecrypt(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return out, nil
}

func parseCryptFilters(dict *raw.Dict, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo)
	cf := dict.Dictionary("CF")
	if cf == nil {
		return out, nil
	}
	for name, obj := range cf.KV {
		entry, ok := obj.(*raw.Dict)
		if !ok {
			return nil, errors.New("crypt filter entry must be a dictionary")
		}
		algo := base
		switch entry.Name("CFM") {
		case "":
		case "V2":
			algo = algoRC4
		case "AESV2":
			algo = algoAES
		case "AESV3":
			algo = algoAES256
		case "None":
			algo = algoNone
		default:
			return nil, fmt.Errorf("unsupported crypt filter method %s", entry.Name("CFM"))
		}
		out[name] = algo
	}
	return out, nil
}

func resolveCryptFilter(dict *raw.Dict, key string, base cryptAlgo, cf map[string]cryptAlgo) (cryptAlgo, error) {
	name := dict.Name(key)
	switch name {
	case "":
		return base, nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := cf[name]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("crypt filter %s not defined", name)
}

func fileIDFromTrailer(trailer *raw.Dict) []byte {
	if trailer == nil {
		return nil
	}
	idObj, ok := trailer.Get("ID")
	if !ok {
		return nil
	}
	arr, ok := idObj.(*raw.Array)
	if !ok || arr.Len() == 0 {
		return nil
	}
	if s, ok := arr.Items[0].(raw.String); ok {
		return s.Bytes
	}
	return nil
}
