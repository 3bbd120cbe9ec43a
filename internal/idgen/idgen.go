// Package idgen generates the opaque identifiers used for tasks and alerts.
// IDs are random (monotone-unfriendly) base36 strings with a short prefix.
package idgen

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of the given length,
// zero-padded on the left and truncated to the least significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// randomBase36 returns length random base36 characters.
func randomBase36(length int) string {
	// 16 random bytes give far more entropy than 12 base36 digits need.
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable for id generation.
		panic("idgen: " + err.Error())
	}
	return EncodeBase36(buf, length)
}

// NewTaskID returns a fresh task identifier, e.g. "t-8fk2q1zd04mp".
func NewTaskID() string {
	return "t-" + randomBase36(12)
}

// NewAlertID returns a fresh alert identifier, e.g. "al-2q1zd04m".
func NewAlertID() string {
	return "al-" + randomBase36(8)
}
