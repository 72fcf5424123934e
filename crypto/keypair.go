package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/opd-ai/shroud/errs"
)

// KeyBits is the modulus size of identity key pairs.
const KeyBits = 2048

// KeyPair represents an RSA key pair used for envelope encryption and
// relay authentication.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a new random 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: key generation: %v", errs.ErrCrypto, err)
	}

	return &KeyPair{
		Public:  &priv.PublicKey,
		Private: priv,
	}, nil
}

// MarshalPublicKey encodes a public key as PKIX DER. The DER encoding is
// the canonical form hashed into the identity fingerprint.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: public key encoding: %v", errs.ErrCrypto, err)
	}
	return der, nil
}

// ParsePublicKey decodes a PKIX DER public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: public key parsing: %v", errs.ErrCrypto, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", errs.ErrCrypto)
	}
	return pub, nil
}

// MarshalPrivateKey encodes a private key as PKCS#8 DER. Callers are
// responsible for wiping the returned bytes after use.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: private key encoding: %v", errs.ErrCrypto, err)
	}
	return der, nil
}

// ParsePrivateKey decodes a PKCS#8 DER private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: private key parsing: %v", errs.ErrCrypto, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", errs.ErrCrypto)
	}
	return priv, nil
}
