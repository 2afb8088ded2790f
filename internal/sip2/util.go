package sip2

import (
	"fmt"
	"time"
)

// DateLayout is the 18-character SIP2 date: YYYYMMDDZZZZHHMMSS with a
// four-space timezone gap for local time.
const DateLayout = "20060102    150405"

// Date formats t as a SIP2 transaction date.
func Date(t time.Time) string {
	return t.Format(DateLayout)
}

// DateNow returns the current local time as a SIP2 date.
func DateNow() string {
	return Date(time.Now())
}

// NumBool renders a bool as "1" / "0".
func NumBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// YN renders a bool as "Y" / "N".
func YN(v bool) string {
	if v {
		return "Y"
	}
	return "N"
}

// SpaceBool renders a bool as "Y" / " " for patron status flag positions.
func SpaceBool(v bool) string {
	if v {
		return "Y"
	}
	return " "
}

// Count renders n as a zero-padded 4-digit count, clamped to 9999.
func Count(n int) string {
	if n < 0 {
		n = 0
	}
	if n > 9999 {
		n = 9999
	}
	return fmt.Sprintf("%04d", n)
}
