package security

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/redforks/nipdf/ir/raw"
)

// PermissionsValue builds the Standard security permissions flags for a document.
func PermissionsValue(p Permissions) int32 {
	val := int32(-4) // bits 1-2 must be 0
	if !p.Print {
		val &^= 1 << 2
	}
	if !p.Modify {
		val &^= 1 << 3
	}
	if !p.Copy {
		val &^= 1 << 4
	}
	if !p.ModifyAnnotations {
		val &^= 1 << 5
	}
	if !p.FillForms {
		val &^= 1 << 8
	}
	if !p.ExtractAccessible {
		val &^= 1 << 9
	}
	if !p.Assemble {
		val &^= 1 << 10
	}
	if !p.PrintHighQuality {
		val &^= 1 << 11
	}
	return val
}

// StandardEncryption describes an encryption dictionary to generate.
// Revision selects the cipher: 2 (RC4 40-bit), 3 (RC4 128-bit),
// 4 (AES-128) or 6 (AES-256).
type StandardEncryption struct {
	UserPassword    string
	OwnerPassword   string
	Permissions     Permissions
	FileID          []byte
	Revision        int
	EncryptMetadata bool
}

// Build returns the Encrypt dictionary and the file key. A handler built
// from the dictionary and authenticated with either password encrypts with
// the same key.
func (s StandardEncryption) Build() (*raw.DictObj, []byte, error) {
	ownerPwd := s.OwnerPassword
	if ownerPwd == "" {
		ownerPwd = s.UserPassword
	}
	pVal := PermissionsValue(s.Permissions)
	enc := raw.Dict()
	enc.Set("Filter", raw.NameLiteral("Standard"))
	enc.Set("P", raw.NumberInt(int64(pVal)))
	if !s.EncryptMetadata && s.Revision >= 4 {
		enc.Set("EncryptMetadata", raw.Bool(false))
	}

	switch s.Revision {
	case 2, 3, 4:
		keyBytes := 16
		if s.Revision == 2 {
			keyBytes = 5
		}
		o := computeO([]byte(ownerPwd), []byte(s.UserPassword), keyBytes, s.Revision)
		encryptMeta := s.EncryptMetadata || s.Revision < 4
		key := deriveKey([]byte(s.UserPassword), o, pVal, s.FileID, keyBytes, s.Revision, encryptMeta)
		u := computeU(key, s.FileID, s.Revision)
		v := map[int]int64{2: 1, 3: 2, 4: 4}[s.Revision]
		enc.Set("V", raw.NumberInt(v))
		enc.Set("R", raw.NumberInt(int64(s.Revision)))
		enc.Set("Length", raw.NumberInt(int64(keyBytes*8)))
		enc.Set("O", raw.Str(o))
		enc.Set("U", raw.Str(u))
		if s.Revision == 4 {
			setCryptFilter(enc, "AESV2", 16)
		}
		return enc, key, nil
	case 6:
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, err
		}
		u, ue, err := r6Entry([]byte(s.UserPassword), nil, key)
		if err != nil {
			return nil, nil, err
		}
		o, oe, err := r6Entry([]byte(ownerPwd), u, key)
		if err != nil {
			return nil, nil, err
		}
		perms := make([]byte, 16)
		binary.LittleEndian.PutUint32(perms, uint32(pVal))
		binary.LittleEndian.PutUint32(perms[4:], 0xffffffff)
		perms[8] = 'T'
		if !s.EncryptMetadata {
			perms[8] = 'F'
		}
		copy(perms[9:], "adb")
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, nil, err
		}
		block.Encrypt(perms, perms)
		enc.Set("V", raw.NumberInt(5))
		enc.Set("R", raw.NumberInt(6))
		enc.Set("Length", raw.NumberInt(256))
		enc.Set("O", raw.Str(o))
		enc.Set("U", raw.Str(u))
		enc.Set("OE", raw.Str(oe))
		enc.Set("UE", raw.Str(ue))
		enc.Set("Perms", raw.Str(perms))
		setCryptFilter(enc, "AESV3", 32)
		return enc, key, nil
	}
	return nil, nil, fmt.Errorf("unsupported revision %d", s.Revision)
}

// r6Entry computes a 48-byte /U or /O value and its wrapped file key.
// udata is nil for the user entry.
func r6Entry(pwd, udata, fileKey []byte) ([]byte, []byte, error) {
	pwd = truncatePassword(pwd)
	salts := make([]byte, 16)
	if _, err := rand.Read(salts); err != nil {
		return nil, nil, err
	}
	entry := append(hashR6(6, pwd, salts[:8], udata), salts...)
	wrapped, err := aesCBCRaw(hashR6(6, pwd, salts[8:], udata), make([]byte, aes.BlockSize), fileKey, true)
	if err != nil {
		return nil, nil, err
	}
	return entry, wrapped, nil
}

func setCryptFilter(enc *raw.DictObj, cfm string, length int64) {
	std := raw.Dict()
	std.Set("CFM", raw.NameLiteral(cfm))
	std.Set("AuthEvent", raw.NameLiteral("DocOpen"))
	std.Set("Length", raw.NumberInt(length))
	cf := raw.Dict()
	cf.Set("StdCF", std)
	enc.Set("CF", cf)
	enc.Set("StmF", raw.NameLiteral("StdCF"))
	enc.Set("StrF", raw.NameLiteral("StdCF"))
}

// BuildStandardEncryption constructs a revision 2 Encrypt dictionary and its file key.
func BuildStandardEncryption(userPwd, ownerPwd string, permissions Permissions, fileID []byte, encryptMetadata bool) (*raw.DictObj, []byte, error) {
	return StandardEncryption{
		UserPassword:    userPwd,
		OwnerPassword:   ownerPwd,
		Permissions:     permissions,
		FileID:          fileID,
		Revision:        2,
		EncryptMetadata: encryptMetadata,
	}.Build()
}
