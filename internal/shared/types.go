package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier with the given prefix, used for
// locally originated messages that need a correlation id.
func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
