package assignment

import (
	"crypto/rand"
	"math/big"
)

const (
	codeLen = 8
	// no 0/O, 1/I/L: codes are read aloud & copied from whiteboards
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// GenerateCode returns a random access code made of upper-case letters & digits.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, codeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
