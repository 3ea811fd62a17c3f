// Package idgen generates random identifiers for auctions, fund entries and
// generated custody accounts.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

func randomHex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix returns prefix followed by 24 random hex chars (e.g. "auc_", "fe_").
func WithPrefix(prefix string) string {
	return prefix + randomHex(12)
}

// Hex returns a random hex string of the given byte length.
func Hex(numBytes int) string {
	return randomHex(numBytes)
}

// Address returns a random, lower-case 0x-prefixed 20-byte account address.
// Used for custody accounts the caller did not supply.
func Address() string {
	return "0x" + randomHex(20)
}
