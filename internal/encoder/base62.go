package encoder

import (
	"errors"
	"strings"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
const base = uint64(len(alphabet))

// MaxLength is the width of the largest uint64 in base62
const MaxLength = 11

var ErrInvalidChar = errors.New("invalid base62 character")

// Encode converts a number to a base62 string
func Encode(num uint64) string {
	if num == 0 {
		return string(alphabet[0])
	}

	var buf [MaxLength]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = alphabet[num%base]
		num /= base
	}

	return string(buf[i:])
}

// EncodePadded encodes num and left-pads it with the zero digit up to width
func EncodePadded(num uint64, width int) string {
	encoded := Encode(num)
	if len(encoded) >= width {
		return encoded
	}
	return strings.Repeat(string(alphabet[0]), width-len(encoded)) + encoded
}

// Decode converts a base62 string back to a number
func Decode(encoded string) (uint64, error) {
	var num uint64

	for i := 0; i < len(encoded); i++ {
		idx := strings.IndexByte(alphabet, encoded[i])
		if idx < 0 {
			return 0, ErrInvalidChar
		}
		num = num*base + uint64(idx)
	}

	return num, nil
}

// IsValid reports whether s is non-empty and only uses the base62 alphabet
func IsValid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
