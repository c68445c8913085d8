package wire

import (
	"fmt"
	"unicode/utf8"
)

// EnsureUTF8 is the server-side check: the payload is treated as UTF-8 and
// the call fails if any field is not valid (spec.md §4.2, §9 open question b:
// the server hard-fails rather than attempting a Latin-1 recovery).
func EnsureUTF8(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("wire: field %q is not valid UTF-8", field)
	}
	return nil
}

// NormalizeClientUTF8 is the client-side counterpart: if s is not already
// valid UTF-8, it is treated as Latin-1 and transcoded, so that the
// resulting bytes are valid UTF-8 before hashing or sending (spec.md §4.2).
func NormalizeClientUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return latin1ToUTF8(s)
}

// latin1ToUTF8 transcodes a string whose bytes are Latin-1 (ISO-8859-1) code
// points into proper UTF-8. Every byte 0x00-0xFF maps 1:1 onto the
// corresponding Unicode code point under Latin-1, so this is a pure
// byte-widening pass with no external dependency.
func latin1ToUTF8(s string) string {
	buf := make([]rune, 0, len(s))
	for i := 0; i < len(s); i++ {
		buf = append(buf, rune(s[i]))
	}
	return string(buf)
}
