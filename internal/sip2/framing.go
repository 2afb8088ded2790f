package sip2

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Framing selects how outbound text is put on the wire.
type Framing string

const (
	// FramingASCII folds outbound text to 7-bit ASCII.
	FramingASCII Framing = "ascii"
	// FramingBinary sends UTF-8 bytes unchanged.
	FramingBinary Framing = "binary"
)

// ParseFraming accepts "ascii" or "binary" (or "utf8"); empty means ascii.
func ParseFraming(raw string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ascii":
		return FramingASCII, nil
	case "binary", "utf8", "utf-8":
		return FramingBinary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFraming, raw)
	}
}

// Apply transforms outbound text for the framing mode.
func (f Framing) Apply(text string) string {
	if f != FramingASCII {
		return text
	}
	return ToASCII(text)
}

// ToASCII strips diacritics and replaces any remaining non-ASCII rune
// with '?'.
func ToASCII(text string) string {
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case unicode.Is(unicode.Mn, r):
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
