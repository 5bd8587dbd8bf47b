package common

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// NewErrorf formats an error, preserving any %w wrapping so callers
// can classify it with errors.Is.
func NewErrorf(format string, a ...interface{}) error {
	return fmt.Errorf(format, a...)
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()_+-=[]{}|;:,.<>?"

// RandomKey returns a random printable ASCII string, used for
// obfuscation shared keys.
func RandomKey(length int) string {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			panic(err)
		}
		out[i] = keyAlphabet[n.Int64()]
	}
	return string(out)
}
