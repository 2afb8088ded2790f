package sip2

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseLoginRequest(t *testing.T) {
	msg, err := Parse("9300CNsip-user|COsip-pass|CPbranch|\r")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Code() != CodeLogin {
		t.Fatalf("unexpected code: %q", msg.Code())
	}
	if len(msg.Fixed) != 2 || msg.FixedValue(0) != "0" || msg.FixedValue(1) != "0" {
		t.Fatalf("unexpected fixed fields: %+v", msg.Fixed)
	}
	if v, ok := msg.FieldValue(TagLoginUserID); !ok || v != "sip-user" {
		t.Fatalf("unexpected CN: %q ok=%v", v, ok)
	}
	if v, ok := msg.FieldValue(TagLoginPassword); !ok || v != "sip-pass" {
		t.Fatalf("unexpected CO: %q ok=%v", v, ok)
	}
	if msg.Seq != -1 {
		t.Fatalf("unexpected sequence: %d", msg.Seq)
	}
}

func TestEncodeOrdersFixedThenVariableFields(t *testing.T) {
	msg, err := FromValues(MFeePaidResp, []string{"1", "20240102    030405"}, [][2]string{
		{TagPatronID, "P123"},
		{TagInstitutionID, "example"},
	})
	if err != nil {
		t.Fatalf("from values: %v", err)
	}
	want := "38120240102    030405AAP123|AOexample|\r"
	if got := msg.Encode(FramingBinary); got != want {
		t.Fatalf("unexpected encoding:\n got=%q\nwant=%q", got, want)
	}
}

func TestFromValuesRejectsBadWidths(t *testing.T) {
	if _, err := FromValues(MLoginResp, []string{"10"}, nil); !errors.Is(err, ErrFixedFieldLength) {
		t.Fatalf("expected ErrFixedFieldLength, got %v", err)
	}
	if _, err := FromValues(MLoginResp, nil, nil); !errors.Is(err, ErrFixedFieldCount) {
		t.Fatalf("expected ErrFixedFieldCount, got %v", err)
	}
}

func TestParseShortFixedFields(t *testing.T) {
	if _, err := Parse("23001\r"); !errors.Is(err, ErrShortFixedFields) {
		t.Fatalf("expected ErrShortFixedFields, got %v", err)
	}
}

func TestParseUnknownCodeKeepsCode(t *testing.T) {
	msg, err := Parse("11YN20240102    030405AOexample|\r")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Code() != "11" {
		t.Fatalf("unexpected code: %q", msg.Code())
	}
	if _, known := LookupSpec(msg.Code()); known {
		t.Fatalf("checkout must not be a handled code")
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	msg, err := FromValues(MLoginResp, []string{"1"}, nil)
	if err != nil {
		t.Fatalf("from values: %v", err)
	}
	msg.Seq = 4
	wire := msg.Encode(FramingBinary)
	if !strings.HasPrefix(wire, "941AY4AZ") {
		t.Fatalf("unexpected error detection tail: %q", wire)
	}

	decoded, err := Parse(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decoded.Seq != 4 {
		t.Fatalf("unexpected seq: %d", decoded.Seq)
	}
	if decoded.FixedValue(0) != "1" {
		t.Fatalf("unexpected ok flag: %q", decoded.FixedValue(0))
	}
}

func TestChecksumKnownValue(t *testing.T) {
	text := "9300CNuser|AY1AZ"
	var sum int
	for _, c := range []byte(text) {
		sum += int(c)
	}
	want := hex16((-sum) & 0xFFFF)
	if got := Checksum(text); got != want {
		t.Fatalf("checksum got=%s want=%s", got, want)
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	if _, err := Parse("9300CNuser|AY1AZ0000\r"); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestASCIIFramingTransliterates(t *testing.T) {
	if got := ToASCII("Crème brûlée"); got != "Creme brulee" {
		t.Fatalf("unexpected transliteration: %q", got)
	}
	if got := ToASCII("東京"); got != "??" {
		t.Fatalf("unexpected replacement: %q", got)
	}
	if got := FramingBinary.Apply("Crème"); got != "Crème" {
		t.Fatalf("binary framing must not alter text: %q", got)
	}
}

func TestASCIIFramingChecksumCoversTransliteratedText(t *testing.T) {
	msg, err := FromValues(MItemInfoResp, []string{"03", "00", "01", "20240102    030405"}, [][2]string{
		{TagTitleID, "Les Misérables"},
	})
	if err != nil {
		t.Fatalf("from values: %v", err)
	}
	msg.Seq = 0
	wire := msg.Encode(FramingASCII)
	decoded, err := Parse(wire)
	if err != nil {
		t.Fatalf("parse ascii wire: %v", err)
	}
	if v, _ := decoded.FieldValue(TagTitleID); v != "Les Miserables" {
		t.Fatalf("unexpected title: %q", v)
	}
}

func TestParseFraming(t *testing.T) {
	for raw, want := range map[string]Framing{"": FramingASCII, "ASCII": FramingASCII, "utf8": FramingBinary, "binary": FramingBinary} {
		got, err := ParseFraming(raw)
		if err != nil || got != want {
			t.Fatalf("framing %q: got=%q err=%v", raw, got, err)
		}
	}
	if _, err := ParseFraming("ebcdic"); !errors.Is(err, ErrUnknownFraming) {
		t.Fatalf("expected ErrUnknownFraming, got %v", err)
	}
}

func TestDateLayoutWidth(t *testing.T) {
	d := Date(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))
	if len(d) != FFDate.Length {
		t.Fatalf("unexpected date width: %d (%q)", len(d), d)
	}
	if d != "20240102    030405" {
		t.Fatalf("unexpected date: %q", d)
	}
}

func TestCountClamps(t *testing.T) {
	if Count(-3) != "0000" || Count(42) != "0042" || Count(123456) != "9999" {
		t.Fatalf("unexpected counts: %s %s %s", Count(-3), Count(42), Count(123456))
	}
}

func hex16(v int) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 4)
	for i := 3; i >= 0; i-- {
		out[i] = digits[v&0xF]
		v >>= 4
	}
	return string(out)
}
