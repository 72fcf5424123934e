package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/shroud/errs"
)

const (
	// PBKDF2Iterations is the password derivation work factor.
	PBKDF2Iterations = 100000

	// SaltSize is the random salt length for key derivation.
	SaltSize = 32
)

// EncryptedBlob is a password-wrapped secret: the AES-GCM ciphertext,
// the PBKDF2 salt, and the GCM nonce.
type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	Salt       []byte `json:"salt"`
	IV         []byte `json:"iv"`
}

// KeyVault wraps and unwraps private key material under a password. The
// core depends only on this contract; implementations may be software
// key derivation or a platform hardware-backed store.
type KeyVault interface {
	Wrap(privateKey []byte, password string) (*EncryptedBlob, error)
	Unwrap(blob *EncryptedBlob, password string) ([]byte, error)
}

// SoftwareVault implements KeyVault with PBKDF2-SHA256 key derivation
// and AES-256-GCM authenticated wrapping.
type SoftwareVault struct {
	iterations int
}

// NewSoftwareVault creates a vault with the default work factor.
func NewSoftwareVault() *SoftwareVault {
	return &SoftwareVault{iterations: PBKDF2Iterations}
}

// Wrap encrypts privateKey under a key derived from password with a
// fresh random salt and nonce.
func (v *SoftwareVault) Wrap(privateKey []byte, password string) (*EncryptedBlob, error) {
	if len(privateKey) == 0 {
		return nil, fmt.Errorf("%w: empty private key", errs.ErrCrypto)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: salt generation: %v", errs.ErrCrypto, err)
	}

	gcm, err := v.deriveCipher(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", errs.ErrCrypto, err)
	}

	return &EncryptedBlob{
		Ciphertext: gcm.Seal(nil, nonce, privateKey, nil),
		Salt:       salt,
		IV:         nonce,
	}, nil
}

// Unwrap decrypts a blob with the key derived from password. A wrong
// password and a corrupted blob fail identically with ErrCrypto.
func (v *SoftwareVault) Unwrap(blob *EncryptedBlob, password string) ([]byte, error) {
	if blob == nil {
		return nil, fmt.Errorf("%w: unwrap failed", errs.ErrCrypto)
	}

	gcm, err := v.deriveCipher(password, blob.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap failed", errs.ErrCrypto)
	}
	if len(blob.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: unwrap failed", errs.ErrCrypto)
	}

	plaintext, err := gcm.Open(nil, blob.IV, blob.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap failed", errs.ErrCrypto)
	}
	return plaintext, nil
}

// deriveCipher derives the wrapping key from the password and salt and
// returns an AEAD ready for use. The derived key is wiped before return.
func (v *SoftwareVault) deriveCipher(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, v.iterations, 32, sha256.New)
	defer ZeroBytes(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %v", errs.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: GCM init: %v", errs.ErrCrypto, err)
	}
	return gcm, nil
}
