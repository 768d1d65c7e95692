package random

import (
	"crypto/rand"
	"encoding/hex"
)

// Hex generates a random hex string of length n (n must be even).
func Hex(n int) string {
	b := make([]byte, n/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
