package crypto

import (
	"testing"
)

func TestNewIdentityHash(t *testing.T) {
	encoding := []byte("public key encoding")

	h1 := NewIdentityHash(encoding)
	h2 := NewIdentityHash(encoding)
	if h1 != h2 {
		t.Error("identity hash is not deterministic")
	}

	h3 := NewIdentityHash([]byte("different encoding"))
	if h1 == h3 {
		t.Error("different encodings produced identical hashes")
	}
}

func TestIdentityHashStringRoundTrip(t *testing.T) {
	h := NewIdentityHash([]byte("some key"))

	s := h.String()
	if len(s) != HashSize*2 {
		t.Errorf("string length = %d, want %d", len(s), HashSize*2)
	}

	parsed, err := ParseIdentityHash(s)
	if err != nil {
		t.Fatalf("ParseIdentityHash failed: %v", err)
	}
	if parsed != h {
		t.Error("parsed hash does not match original")
	}
}

func TestParseIdentityHashRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Too short", "abcd"},
		{"Too long", "00112233445566778899aabbccddeeff00"},
		{"Not hex", "zz112233445566778899aabbccddeeff"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseIdentityHash(tc.input); err == nil {
				t.Errorf("ParseIdentityHash(%q) succeeded, want error", tc.input)
			}
		})
	}
}

func TestIdentityHashDistance(t *testing.T) {
	a := NewIdentityHash([]byte("a"))
	b := NewIdentityHash([]byte("b"))

	if a.Distance(a) != ([HashSize]byte{}) {
		t.Error("distance to self is not zero")
	}
	if a.Distance(b) != b.Distance(a) {
		t.Error("distance is not symmetric")
	}
}
