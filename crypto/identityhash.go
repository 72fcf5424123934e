package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/opd-ai/shroud/errs"
)

// HashSize is the length of an identity hash in bytes.
const HashSize = 16

// IdentityHash is a short fingerprint of a public key encoding, used as
// an anonymous, stable user or relay reference instead of any PII. It is
// the truncated SHA-256 of the canonical key encoding.
type IdentityHash [HashSize]byte

// NewIdentityHash computes the identity hash of a public key encoding.
func NewIdentityHash(publicKeyEncoding []byte) IdentityHash {
	sum := sha256.Sum256(publicKeyEncoding)
	var h IdentityHash
	copy(h[:], sum[:HashSize])
	return h
}

// String returns the hexadecimal form of the hash.
func (h IdentityHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is unset.
func (h IdentityHash) IsZero() bool {
	return h == IdentityHash{}
}

// Distance calculates the XOR distance between two hashes, used for
// relay node table bucketing.
func (h IdentityHash) Distance(other IdentityHash) [HashSize]byte {
	var result [HashSize]byte
	for i := 0; i < HashSize; i++ {
		result[i] = h[i] ^ other[i]
	}
	return result
}

// ParseIdentityHash parses the hexadecimal form of an identity hash.
func ParseIdentityHash(s string) (IdentityHash, error) {
	if len(s) != HashSize*2 {
		return IdentityHash{}, fmt.Errorf("%w: identity hash must be %d hex characters", errs.ErrValidation, HashSize*2)
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return IdentityHash{}, fmt.Errorf("%w: identity hash is not valid hex", errs.ErrValidation)
	}
	var h IdentityHash
	copy(h[:], data)
	return h, nil
}
