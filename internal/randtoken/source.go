// Package randtoken generates unguessable correlation tokens for the
// authorization flow.
package randtoken

import (
	"crypto/rand"
	"math/big"
)

type Source struct{}

func (s Source) randString(n int) string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	ret := make([]byte, n)
	for i := range n {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

// State returns the CSRF state token bound to one authorization attempt.
func (s Source) State() string {
	return s.randString(64) // Entropy E = L * log2(63) = 64 * log2(63) = 382.6 bits
}
