package utils

import (
	"unicode/utf16"
)

// UTF16ToString decodes a UTF-16 string of explicit length. Decoding stops at
// the first NUL, if any. ok is false when s holds an unpaired surrogate.
func UTF16ToString(s []uint16) (str string, ok bool) {
	for i, c := range s {
		if c == 0 {
			s = s[:i]
			break
		}
	}
	for i := 0; i < len(s); i++ {
		r := rune(s[i])
		switch {
		case r >= 0xD800 && r <= 0xDBFF:
			if i+1 >= len(s) || s[i+1] < 0xDC00 || s[i+1] > 0xDFFF {
				return "", false
			}
			i++
		case r >= 0xDC00 && r <= 0xDFFF:
			return "", false
		}
	}
	return string(utf16.Decode(s)), true
}

// StringToUTF16 encodes s without a terminating NUL.
func StringToUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}
