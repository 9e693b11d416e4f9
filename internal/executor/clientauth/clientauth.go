// Package clientauth implements the executor's client-side half of the
// double-salted password scheme: a SHA-256 pre-hash over the client
// salt, so the plaintext password never reaches the relayer.
package clientauth

import (
	"crypto/sha256"
	"encoding/hex"
)

const domainSeparator = ":dev-pm-agent:"

// PreHashPassword returns hex(SHA256(clientSalt || ":dev-pm-agent:" || password)),
// the value sent to the relayer as "password" by register-device.
func PreHashPassword(clientSalt, password string) string {
	sum := sha256.Sum256([]byte(clientSalt + domainSeparator + password))
	return hex.EncodeToString(sum[:])
}
