package signals

import (
	"crypto/rand"
	"io"
)

// DefaultIDLength is the length of generated signal identifiers.
const DefaultIDLength = 8

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// idMask covers 0..63; bytes that land on 62 or 63 are rejected so every
// symbol is equally likely.
const idMask = 0x3f

// idSource is swapped in tests.
var idSource io.Reader = rand.Reader

// NewID returns a random identifier of n symbols drawn from [A-Za-z0-9].
// A length of zero or less yields the empty string.
func NewID(n int) string {
	if n <= 0 {
		return ""
	}

	out := make([]byte, 0, n)
	// Rejection discards about 3% of bytes; over-read a little per batch.
	buf := make([]byte, n+n/8+8)
	for len(out) < n {
		if _, err := io.ReadFull(idSource, buf); err != nil {
			panic("signals: random source failed: " + err.Error())
		}
		for _, b := range buf {
			idx := int(b & idMask)
			if idx >= len(idAlphabet) {
				continue
			}
			out = append(out, idAlphabet[idx])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
