package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
)

const (
	// symmetricKeySize is the AES-256 key size used for message payloads.
	symmetricKeySize = 32
	// gcmNonceSize is the standard GCM nonce size.
	gcmNonceSize = 12
)

// EncryptedEnvelope is the hybrid-encryption result for a single
// recipient: the payload ciphertext, the per-message symmetric key
// wrapped under the recipient's public key, and the GCM nonce.
type EncryptedEnvelope struct {
	Ciphertext []byte `json:"ciphertext"`
	WrappedKey []byte `json:"wrapped_key"`
	IV         []byte `json:"iv"`
}

// Seal encrypts plaintext for a single recipient. A fresh symmetric key
// and nonce are generated on every call, so sealing the same plaintext
// twice never yields the same ciphertext and a key is never shared
// between recipients.
func Seal(plaintext []byte, recipient *rsa.PublicKey) (*EncryptedEnvelope, error) {
	if err := limits.ValidateMessageSize(plaintext); err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, fmt.Errorf("%w: nil recipient key", errs.ErrCrypto)
	}

	key := make([]byte, symmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: symmetric key generation: %v", errs.ErrCrypto, err)
	}
	defer ZeroBytes(key)

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", errs.ErrCrypto, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %v", errs.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: GCM init: %v", errs.ErrCrypto, err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: key wrap: %v", errs.ErrCrypto, err)
	}

	return &EncryptedEnvelope{
		Ciphertext: ciphertext,
		WrappedKey: wrapped,
		IV:         nonce,
	}, nil
}

// Open unwraps the symmetric key and decrypts the payload. Any
// authentication failure is reported uniformly as ErrCrypto: a wrong key
// and a corrupted ciphertext are indistinguishable, and no partial
// plaintext is ever surfaced.
func Open(env *EncryptedEnvelope, priv *rsa.PrivateKey) ([]byte, error) {
	if env == nil || priv == nil {
		return nil, fmt.Errorf("%w: envelope open failed", errs.ErrCrypto)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.WrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope open failed", errs.ErrCrypto)
	}
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope open failed", errs.ErrCrypto)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope open failed", errs.ErrCrypto)
	}
	if len(env.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: envelope open failed", errs.ErrCrypto)
	}

	plaintext, err := gcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope open failed", errs.ErrCrypto)
	}

	return plaintext, nil
}
