package security

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// RandomToken returns a hex-encoded cryptographically secure random
// string of n bytes, used for OAuth anti-forgery state values.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RandomDigits returns a numeric code of the given length, suitable for
// one-shot verification codes sent over a side channel.
func RandomDigits(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
