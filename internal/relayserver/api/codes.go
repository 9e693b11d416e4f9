package api

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// randomWordCode returns a short, human-typeable registration code like
// "7K9P-4RXT".
func randomWordCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("api: generate registration code: %w", err)
	}
	out := make([]byte, 9)
	for i, b := range buf {
		pos := i
		if i >= 4 {
			pos++
		}
		out[pos] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	out[4] = '-'
	return string(out), nil
}
