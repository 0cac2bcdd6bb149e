package id

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// Size is the number of random bytes in a session identifier (256 bits).
const Size = 32

// New generates a random 64-character hex ID using crypto/rand.
func New() (string, error) {
	b := make([]byte, Size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether s has the shape of an ID produced by New.
func Valid(s string) bool {
	if len(s) != Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
