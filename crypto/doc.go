// Package crypto implements the cryptographic primitives for the shroud
// core: identity key pairs, truncated public-key fingerprints, hybrid
// envelope encryption, and the password-derived key vault.
//
// Envelope encryption generates a fresh symmetric key and nonce for
// every message, encrypts the payload with AES-256-GCM, and wraps the
// symmetric key under the recipient's RSA public key with OAEP. A key is
// never reused across recipients or messages.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	env, err := crypto.Seal([]byte("hello"), keys.Public)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	plain, err := crypto.Open(env, keys.Private)
package crypto
