package crypto

// ZeroBytes overwrites a byte slice with zeros. Best-effort scrubbing of
// key material; the compiler is not prevented from keeping copies.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
