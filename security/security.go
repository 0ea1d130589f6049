package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
)

type Permissions struct{ Print, Modify, Copy, ModifyAnnotations, FillForms, ExtractAccessible, Assemble, PrintHighQuality bool }

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	EncryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
}

type HandlerBuilder struct {
	encryptDict *raw.DictObj
	trailer     *raw.DictObj
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder {
	b.encryptDict = d
	return b
}
func (b *HandlerBuilder) WithTrailer(d *raw.DictObj) *HandlerBuilder { b.trailer = d; return b }
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder       { b.fileID = id; return b }

func unsupported(format string, args ...any) error {
	return &recovery.DecryptionError{Err: fmt.Errorf("%w: %s", recovery.ErrUnsupportedCipher, fmt.Sprintf(format, args...))}
}

// Build validates the encryption dictionary. The encryption dictionary must
// already be resolved; its strings are never encrypted.
func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encryptDict == nil {
		return noEncryptionHandler{}, nil
	}
	d := b.encryptDict
	if name, ok := d.Name("Filter"); ok && name != "Standard" {
		return nil, unsupported("security handler %s", name)
	}
	v, _ := d.Int("V")
	if v == 0 {
		v = 1
	}
	if v == 3 || v > 5 {
		return nil, unsupported("V=%d", v)
	}
	r, ok := d.Int("R")
	if !ok {
		r = 2
	}
	if r < 2 || r > 6 {
		return nil, unsupported("R=%d", r)
	}
	keyLen := 40
	if r >= 3 {
		if n, ok := d.Int("Length"); ok && n > 0 {
			keyLen = int(n)
		}
	}
	if r >= 5 {
		keyLen = 256
	}
	if keyLen%8 != 0 || keyLen < 40 || keyLen > 256 {
		return nil, unsupported("key length %d", keyLen)
	}
	owner, _ := stringBytes(d, "O")
	user, _ := stringBytes(d, "U")
	oe, _ := stringBytes(d, "OE")
	ue, _ := stringBytes(d, "UE")
	pVal, _ := d.Int("P")
	id := b.fileID
	if len(id) == 0 && b.trailer != nil {
		if arr, ok := b.trailer.KV["ID"].(*raw.ArrayObj); ok && arr.Len() > 0 {
			if s, ok := arr.Items[0].(raw.StringObj); ok {
				id = s.Bytes
			}
		}
	}
	encryptMeta := true
	if v, ok := d.Bool("EncryptMetadata"); ok {
		encryptMeta = v
	}

	baseAlgo := algoRC4
	if v >= 4 {
		baseAlgo = algoAES
	}
	cryptFilters, err := parseCryptFilters(d, baseAlgo)
	if err != nil {
		return nil, err
	}
	streamAlgo, err := resolveCryptFilter(d, "StmF", baseAlgo, cryptFilters, v)
	if err != nil {
		return nil, err
	}
	stringAlgo, err := resolveCryptFilter(d, "StrF", baseAlgo, cryptFilters, v)
	if err != nil {
		return nil, err
	}
	h := &standardHandler{
		v:            int(v),
		r:            int(r),
		keyBytes:     keyLen / 8,
		owner:        owner,
		user:         user,
		oe:           oe,
		ue:           ue,
		p:            int32(pVal),
		fileID:       id,
		encryptMeta:  encryptMeta,
		streamAlgo:   streamAlgo,
		stringAlgo:   stringAlgo,
		cryptFilters: cryptFilters,
	}
	return h, nil
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
)

type standardHandler struct {
	mu           sync.Mutex
	key          []byte
	v            int
	r            int
	keyBytes     int
	owner        []byte
	user         []byte
	oe           []byte
	ue           []byte
	p            int32
	fileID       []byte
	encryptMeta  bool
	authed       bool
	streamAlgo   cryptAlgo
	stringAlgo   cryptAlgo
	cryptFilters map[string]cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool { return true }
func (h *standardHandler) EncryptMetadata() bool {
	return h.encryptMeta
}

// Authenticate tries password as the user password, then as the owner
// password.
func (h *standardHandler) Authenticate(password string) error {
	pwd := []byte(password)
	var key []byte
	if h.r >= 5 {
		key = h.authenticateAES256(pwd)
	} else {
		key = h.authenticateUser(pwd)
		if key == nil {
			key = h.authenticateUser(h.recoverUserPassword(pwd))
		}
	}
	if key == nil {
		return &recovery.DecryptionError{Err: recovery.ErrInvalidPassword}
	}
	h.mu.Lock()
	h.key = key
	h.authed = true
	h.mu.Unlock()
	return nil
}

// fileKey returns the authenticated key, trying the empty user password on
// first use.
func (h *standardHandler) fileKey() ([]byte, error) {
	h.mu.Lock()
	key, authed := h.key, h.authed
	h.mu.Unlock()
	if authed {
		return key, nil
	}
	if err := h.Authenticate(""); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key, nil
}

func (h *standardHandler) authenticateUser(pwd []byte) []byte {
	key := deriveKey(pwd, h.owner, h.p, h.fileID, h.keyBytes, h.r, h.encryptMeta)
	if !bytes.Equal(computeU(key, h.fileID, h.r)[:16], prefix(h.user, 16)) {
		return nil
	}
	return key
}

// recoverUserPassword decrypts /O with a key derived from the owner
// password, yielding the padded user password.
func (h *standardHandler) recoverUserPassword(ownerPwd []byte) []byte {
	key := ownerKey(ownerPwd, h.keyBytes, h.r)
	out := append([]byte(nil), prefix(h.owner, 32)...)
	if h.r == 2 {
		return rc4Simple(key, out)
	}
	tmp := make([]byte, len(key))
	for i := 19; i >= 0; i-- {
		for j := range key {
			tmp[j] = key[j] ^ byte(i)
		}
		out = rc4Simple(tmp, out)
	}
	return out
}

func (h *standardHandler) DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	fileKey, err := h.fileKey()
	if err != nil {
		return nil, err
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	return decryptWithAlgo(fileKey, h.r, algo, objNum, gen, data)
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.DecryptWithFilter(objNum, gen, data, class, "")
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.EncryptWithFilter(objNum, gen, data, class, "")
}

func (h *standardHandler) EncryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	fileKey, err := h.fileKey()
	if err != nil {
		return nil, err
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(fileKey, objNum, gen, h.r, algo == algoAES)
	if algo == algoAES {
		return aesCrypt(key, data, true)
	}
	return rc4Simple(key, data), nil
}

func (h *standardHandler) pickAlgo(class DataClass) cryptAlgo {
	switch class {
	case DataClassString:
		return h.stringAlgo
	case DataClassMetadataStream:
		if !h.encryptMeta {
			return algoNone
		}
	}
	return h.streamAlgo
}

func (h *standardHandler) algoFor(class DataClass, filter string) (cryptAlgo, error) {
	if filter == "Identity" {
		return algoNone, nil
	}
	if filter == "" {
		return h.pickAlgo(class), nil
	}
	if algo, ok := h.cryptFilters[filter]; ok {
		return algo, nil
	}
	if filter == "Standard" {
		return h.pickAlgo(class), nil
	}
	return algoUnset, unsupported("crypt filter %s not defined", filter)
}

func decryptWithAlgo(fileKey []byte, r int, algo cryptAlgo, objNum, gen int, data []byte) ([]byte, error) {
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(fileKey, objNum, gen, r, algo == algoAES)
	if algo == algoAES {
		out, err := aesCrypt(key, data, false)
		if err != nil {
			return nil, &recovery.DecryptionError{Err: fmt.Errorf("object %d %d: %w", objNum, gen, err)}
		}
		return out, nil
	}
	return rc4Simple(key, data), nil
}

func (h *standardHandler) Permissions() Permissions { return permissionsFromFlags(h.p) }

func permissionsFromFlags(p int32) Permissions {
	return Permissions{
		Print:             p&0x4 != 0,
		Modify:            p&0x8 != 0,
		Copy:              p&0x10 != 0,
		ModifyAnnotations: p&0x20 != 0,
		FillForms:         p&0x100 != 0,
		ExtractAccessible: p&0x200 != 0,
		Assemble:          p&0x400 != 0,
		PrintHighQuality:  p&0x800 != 0,
	}
}

func (h *standardHandler) authenticateAES256(pwd []byte) []byte {
	pwd = truncatePassword(pwd)
	if len(h.user) >= 48 && len(h.ue) >= 32 {
		if bytes.Equal(hashR6(h.r, pwd, h.user[32:40], nil), h.user[:32]) {
			k := hashR6(h.r, pwd, h.user[40:48], nil)
			if key, err := aesCBCRaw(k, make([]byte, aes.BlockSize), h.ue[:32], false); err == nil {
				return key
			}
		}
	}
	if len(h.owner) >= 48 && len(h.oe) >= 32 && len(h.user) >= 48 {
		udata := h.user[:48]
		if bytes.Equal(hashR6(h.r, pwd, h.owner[32:40], udata), h.owner[:32]) {
			k := hashR6(h.r, pwd, h.owner[40:48], udata)
			if key, err := aesCBCRaw(k, make([]byte, aes.BlockSize), h.oe[:32], false); err == nil {
				return key
			}
		}
	}
	return nil
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool                  { return false }
func (noEncryptionHandler) Authenticate(password string) error { return nil }
func (noEncryptionHandler) DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) EncryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Permissions() Permissions {
	return permissionsFromFlags(-1)
}
func (noEncryptionHandler) EncryptMetadata() bool { return false }

// NoopHandler returns a reusable pass-through encryption handler.
func NoopHandler() Handler { return noEncryptionHandler{} }

// Helpers
var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

func truncatePassword(pwd []byte) []byte {
	if len(pwd) > 127 {
		return pwd[:127]
	}
	return pwd
}

func prefix(b []byte, n int) []byte {
	if len(b) < n {
		out := make([]byte, n)
		copy(out, b)
		return out
	}
	return b[:n]
}

// hashR6 computes the revision 5 (plain SHA-256) or revision 6 (iterated)
// password hash. udata is the 48-byte /U value for owner checks and nil for
// user checks.
func hashR6(r int, pwd, salt, udata []byte) []byte {
	h := sha256.New()
	h.Write(pwd)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if r < 6 {
		return k
	}
	var e []byte
	for i := 0; i < 64 || int(e[len(e)-1]) > i-32; i++ {
		seq := make([]byte, 0, len(pwd)+len(k)+len(udata))
		seq = append(seq, pwd...)
		seq = append(seq, k...)
		seq = append(seq, udata...)
		k1 := bytes.Repeat(seq, 64)
		e, _ = aesCBCRaw(k[:16], k[16:32], k1, true)
		var sum int
		for _, c := range e[:16] {
			sum += int(c)
		}
		switch sum % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
	}
	return k[:32]
}

// deriveKey is the revision 2-4 file key computation.
func deriveKey(pwd, owner []byte, pVal int32, fileID []byte, keyLenBytes int, r int, encryptMeta bool) []byte {
	if r == 2 || keyLenBytes <= 0 {
		keyLenBytes = 5
	}
	if keyLenBytes > 16 {
		keyLenBytes = 16
	}
	data := make([]byte, 0, 32+32+4+len(fileID)+4)
	data = append(data, padPassword(pwd)...)
	data = append(data, prefix(owner, 32)...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(pVal))
	data = append(data, pBuf[:]...)
	data = append(data, fileID...)
	if r >= 4 && !encryptMeta {
		data = append(data, 0xff, 0xff, 0xff, 0xff)
	}
	sum := md5.Sum(data)
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(sum[:keyLenBytes])
		}
	}
	return append([]byte(nil), sum[:keyLenBytes]...)
}

// computeU is the expected /U value for a file key. For revision 3 and later
// only the first 16 bytes are significant.
func computeU(key, fileID []byte, r int) []byte {
	if r == 2 {
		return rc4Simple(key, passwordPadding)
	}
	h := md5.New()
	h.Write(passwordPadding)
	h.Write(fileID)
	val := h.Sum(nil)
	tmp := make([]byte, len(key))
	for i := 0; i < 20; i++ {
		for j := range key {
			tmp[j] = key[j] ^ byte(i)
		}
		val = rc4Simple(tmp, val)
	}
	return append(val, make([]byte, 16)...)
}

func ownerKey(ownerPwd []byte, keyLenBytes, r int) []byte {
	if r == 2 || keyLenBytes <= 0 {
		keyLenBytes = 5
	}
	if keyLenBytes > 16 {
		keyLenBytes = 16
	}
	sum := md5.Sum(padPassword(ownerPwd))
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(sum[:])
		}
	}
	return append([]byte(nil), sum[:keyLenBytes]...)
}

func computeO(ownerPwd, userPwd []byte, keyLenBytes, r int) []byte {
	key := ownerKey(ownerPwd, keyLenBytes, r)
	out := rc4Simple(key, padPassword(userPwd))
	if r >= 3 {
		tmp := make([]byte, len(key))
		for i := 1; i <= 19; i++ {
			for j := range key {
				tmp[j] = key[j] ^ byte(i)
			}
			out = rc4Simple(tmp, out)
		}
	}
	return out
}

func parseCryptFilters(dict *raw.DictObj, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo)
	cfObj, ok := dict.Get("CF")
	if !ok {
		return out, nil
	}
	cfDict, ok := cfObj.(*raw.DictObj)
	if !ok {
		return nil, unsupported("CF must be a dictionary")
	}
	for name, obj := range cfDict.KV {
		entry, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, unsupported("crypt filter %s must be a dictionary", name)
		}
		algo := base
		if cfm, ok := entry.Name("CFM"); ok {
			switch cfm {
			case "V2":
				algo = algoRC4
			case "AESV2", "AESV3":
				algo = algoAES
			case "None":
				algo = algoNone
			default:
				return nil, unsupported("crypt filter method %s", cfm)
			}
		}
		out[name] = algo
	}
	return out, nil
}

func resolveCryptFilter(dict *raw.DictObj, key string, base cryptAlgo, filters map[string]cryptAlgo, v int64) (cryptAlgo, error) {
	if v < 4 {
		return base, nil
	}
	name, _ := dict.Name(key)
	if name == "" || name == "Identity" {
		// V4 without StmF/StrF means no encryption for that class
		return algoNone, nil
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	if name == "Standard" {
		return base, nil
	}
	return algoUnset, unsupported("crypt filter %s not defined", name)
}

// objectKey derives the per-object key. Revision 5 and later use the file
// key directly.
func objectKey(fileKey []byte, objNum, gen int, r int, useAES bool) []byte {
	if r >= 5 {
		return fileKey
	}
	key := make([]byte, 0, len(fileKey)+9)
	key = append(key, fileKey...)
	key = append(key, byte(objNum), byte(objNum>>8), byte(objNum>>16), byte(gen), byte(gen>>8))
	if useAES {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	hash := md5.Sum(key)
	return hash[:n]
}

func rc4Simple(key []byte, data []byte) []byte {
	out := make([]byte, len(data))
	c, err := rc4.NewCipher(key)
	if err != nil {
		return out
	}
	c.XORKeyStream(out, data)
	return out
}

// aesCrypt handles the IV-prefixed, PKCS#5-padded layout of encrypted
// strings and streams.
func aesCrypt(key []byte, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		iv := make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
		padLen := aes.BlockSize - len(data)%aes.BlockSize
		plain := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
		out := make([]byte, aes.BlockSize+len(plain))
		copy(out, iv)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)
		return out, nil
	}
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext too short")
	}
	iv := data[:aes.BlockSize]
	ct := data[aes.BlockSize:]
	// trailing partial block is dropped
	ct = ct[:len(ct)-len(ct)%aes.BlockSize]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

// aesCBCRaw runs CBC without padding; len(data) must be a block multiple.
func aesCBCRaw(key, iv, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("aes data not multiple of blocksize")
	}
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

func stringBytes(dict *raw.DictObj, key string) ([]byte, bool) {
	s, ok := dict.KV[key].(raw.StringObj)
	return s.Bytes, ok
}
