package app

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet drops 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MaxCodeLength bounds room codes for human entry.
const MaxCodeLength = 10

// GenerateCode returns a random room code of the given length.
func GenerateCode(length int) (string, error) {
	if length < 1 || length > MaxCodeLength {
		return "", fmt.Errorf("room code length %d out of range 1..%d", length, MaxCodeLength)
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	for i, b := range buf {
		// len(codeAlphabet) is 32, so masking keeps the draw uniform.
		buf[i] = codeAlphabet[b&31]
	}
	return string(buf), nil
}
