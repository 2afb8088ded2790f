package sip2

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	FieldDelimiter  = '|'
	RecordDelimiter = '\r'
)

// FixedField is one positional value paired with its spec.
type FixedField struct {
	Spec  *FixedFieldSpec
	Value string
}

// NewFixedField validates value against the spec width.
func NewFixedField(spec *FixedFieldSpec, value string) (FixedField, error) {
	if len(value) != spec.Length {
		return FixedField{}, fmt.Errorf("%w: %s want=%d got=%q", ErrFixedFieldLength, spec.Label, spec.Length, value)
	}
	return FixedField{Spec: spec, Value: value}, nil
}

// Field is one tagged variable-length value.
type Field struct {
	Tag   string
	Value string
}

// Message is one decoded or to-be-encoded SIP2 message.
type Message struct {
	Spec   *Spec
	Fixed  []FixedField
	Fields []Field

	// Seq is the AY error-detection sequence number; -1 when absent.
	Seq int
}

// NewMessage builds a message without error detection.
func NewMessage(spec *Spec, fixed []FixedField, fields []Field) *Message {
	return &Message{Spec: spec, Fixed: fixed, Fields: fields, Seq: -1}
}

// FromValues builds a message from raw fixed values in spec order and
// (tag, value) pairs.
func FromValues(spec *Spec, fixed []string, fields [][2]string) (*Message, error) {
	if len(fixed) != len(spec.Fields) {
		return nil, fmt.Errorf("%w: code=%s want=%d got=%d", ErrFixedFieldCount, spec.Code, len(spec.Fields), len(fixed))
	}
	msg := NewMessage(spec, make([]FixedField, 0, len(fixed)), make([]Field, 0, len(fields)))
	for i, v := range fixed {
		ff, err := NewFixedField(spec.Fields[i], v)
		if err != nil {
			return nil, err
		}
		msg.Fixed = append(msg.Fixed, ff)
	}
	for _, f := range fields {
		msg.AddField(f[0], f[1])
	}
	return msg, nil
}

// Code returns the message code.
func (m *Message) Code() Code {
	return m.Spec.Code
}

// FixedValue returns the value of the fixed field at idx, or "".
func (m *Message) FixedValue(idx int) string {
	if idx < 0 || idx >= len(m.Fixed) {
		return ""
	}
	return m.Fixed[idx].Value
}

// FieldValue returns the first value carried under tag.
func (m *Message) FieldValue(tag string) (string, bool) {
	for _, f := range m.Fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

func (m *Message) AddField(tag, value string) {
	m.Fields = append(m.Fields, Field{Tag: tag, Value: value})
}

// MaybeAddField adds the field only when value is non-nil.
func (m *Message) MaybeAddField(tag string, value *string) {
	if value != nil {
		m.AddField(tag, *value)
	}
}

// String renders the message without the record delimiter.
func (m *Message) String() string {
	return m.render(FramingBinary)
}

// Encode renders the full wire form for the framing mode, including the
// error-detection tail and the record delimiter.
func (m *Message) Encode(f Framing) string {
	return m.render(f) + string(RecordDelimiter)
}

func (m *Message) render(f Framing) string {
	var b strings.Builder
	b.WriteString(string(m.Spec.Code))
	for _, ff := range m.Fixed {
		b.WriteString(ff.Value)
	}
	for _, field := range m.Fields {
		b.WriteString(field.Tag)
		b.WriteString(field.Value)
		b.WriteByte(FieldDelimiter)
	}
	text := f.Apply(b.String())
	if m.Seq < 0 {
		return text
	}
	text += TagSequenceNumber + strconv.Itoa(m.Seq%10) + TagChecksum
	return text + Checksum(text)
}

// Parse decodes one wire message. The trailing record delimiter and any
// leading line feed are optional.
func Parse(raw string) (*Message, error) {
	text := strings.TrimLeft(raw, "\n")
	text = strings.TrimRight(text, "\r\n")
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) < 2 {
		return nil, ErrShortCode
	}

	seq := -1
	if body, s, sum, ok := splitErrorDetection(text); ok {
		if Checksum(body+TagSequenceNumber+s+TagChecksum) != strings.ToUpper(sum) {
			return nil, ErrChecksum
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence %q", ErrInvalidTag, s)
		}
		seq = n
		text = body
	}

	code := Code(text[:2])
	spec, known := LookupSpec(code)
	if !known {
		return &Message{Spec: unknownSpec(code), Seq: seq}, nil
	}

	msg := &Message{Spec: spec, Seq: seq}
	rest := text[2:]
	for _, ffs := range spec.Fields {
		if len(rest) < ffs.Length {
			return nil, fmt.Errorf("%w: code=%s field=%q", ErrShortFixedFields, code, ffs.Label)
		}
		msg.Fixed = append(msg.Fixed, FixedField{Spec: ffs, Value: rest[:ffs.Length]})
		rest = rest[ffs.Length:]
	}

	for _, part := range strings.Split(rest, string(FieldDelimiter)) {
		if part == "" {
			continue
		}
		if len(part) < 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, part)
		}
		msg.Fields = append(msg.Fields, Field{Tag: part[:2], Value: part[2:]})
	}
	return msg, nil
}

// splitErrorDetection peels a trailing AYnAZxxxx off text.
func splitErrorDetection(text string) (body, seq, sum string, ok bool) {
	// AY + 1 digit + AZ + 4 hex = 9 chars.
	const tailLen = 9
	if len(text) < 2+tailLen {
		return "", "", "", false
	}
	tail := text[len(text)-tailLen:]
	if tail[0:2] != TagSequenceNumber || tail[3:5] != TagChecksum {
		return "", "", "", false
	}
	if tail[2] < '0' || tail[2] > '9' {
		return "", "", "", false
	}
	if _, err := strconv.ParseUint(tail[5:], 16, 16); err != nil {
		return "", "", "", false
	}
	return text[:len(text)-tailLen], tail[2:3], tail[5:], true
}

// Checksum computes the SIP2 error-detection checksum over text, which
// must end with the AZ tag.
func Checksum(text string) string {
	var sum uint16
	for i := 0; i < len(text); i++ {
		sum += uint16(text[i])
	}
	return fmt.Sprintf("%04X", uint16(-int32(sum)))
}
