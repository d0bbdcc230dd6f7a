package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var millionCodes = big.NewInt(1000000)

// NewNumericCode returns a uniformly random 6-digit code, zero-padded.
func NewNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, millionCodes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
