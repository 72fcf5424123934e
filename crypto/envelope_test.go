package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opd-ai/shroud/errs"
)

func TestSealOpenRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"Short message", []byte("hi")},
		{"Text message", []byte("the quick brown fox jumps over the lazy dog")},
		{"Binary payload", []byte{0x00, 0xff, 0x10, 0x80, 0x7f}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Seal(tc.plaintext, keys.Public)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			plain, err := Open(env, keys.Private)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(plain, tc.plaintext) {
				t.Errorf("round trip mismatch: got %v, want %v", plain, tc.plaintext)
			}
		})
	}
}

func TestSealFreshKeyPerCall(t *testing.T) {
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	plaintext := []byte("same message twice")
	env1, err := Seal(plaintext, keys.Public)
	if err != nil {
		t.Fatalf("first Seal failed: %v", err)
	}
	env2, err := Seal(plaintext, keys.Public)
	if err != nil {
		t.Fatalf("second Seal failed: %v", err)
	}

	if bytes.Equal(env1.Ciphertext, env2.Ciphertext) {
		t.Error("two Seal calls produced identical ciphertext")
	}
	if bytes.Equal(env1.WrappedKey, env2.WrappedKey) {
		t.Error("two Seal calls produced identical wrapped keys")
	}
	if bytes.Equal(env1.IV, env2.IV) {
		t.Error("two Seal calls produced identical nonces")
	}
}

func TestOpenUniformFailure(t *testing.T) {
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	otherKeys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	env, err := Seal([]byte("secret"), keys.Public)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	// Wrong private key.
	if _, err := Open(env, otherKeys.Private); !errors.Is(err, errs.ErrCrypto) {
		t.Errorf("Open with wrong key: got %v, want ErrCrypto", err)
	}

	// Corrupted ciphertext.
	corrupted := &EncryptedEnvelope{
		Ciphertext: append([]byte{}, env.Ciphertext...),
		WrappedKey: env.WrappedKey,
		IV:         env.IV,
	}
	corrupted.Ciphertext[0] ^= 0x01
	if _, err := Open(corrupted, keys.Private); !errors.Is(err, errs.ErrCrypto) {
		t.Errorf("Open with corrupted ciphertext: got %v, want ErrCrypto", err)
	}

	// Both failures must carry the same message so callers cannot
	// distinguish a wrong key from corruption.
	_, errWrongKey := Open(env, otherKeys.Private)
	_, errCorrupt := Open(corrupted, keys.Private)
	if errWrongKey.Error() != errCorrupt.Error() {
		t.Errorf("failure modes are distinguishable: %q vs %q", errWrongKey, errCorrupt)
	}
}

func TestSealRejectsEmptyPlaintext(t *testing.T) {
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if _, err := Seal(nil, keys.Public); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("Seal(nil) = %v, want ErrValidation", err)
	}
}

func TestPublicKeyEncodingRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	der, err := MarshalPublicKey(keys.Public)
	if err != nil {
		t.Fatalf("MarshalPublicKey failed: %v", err)
	}
	parsed, err := ParsePublicKey(der)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(keys.Public.N) != 0 || parsed.E != keys.Public.E {
		t.Error("parsed public key does not match original")
	}
}
