package sip2

import "errors"

var (
	ErrEmptyMessage     = errors.New("sip2: empty message")
	ErrShortCode        = errors.New("sip2: message code too short")
	ErrShortFixedFields = errors.New("sip2: fixed fields truncated")
	ErrFixedFieldLength = errors.New("sip2: fixed field value has wrong length")
	ErrFixedFieldCount  = errors.New("sip2: fixed field count mismatch")
	ErrInvalidTag       = errors.New("sip2: invalid field tag")
	ErrChecksum         = errors.New("sip2: checksum mismatch")
	ErrMessageTooLarge  = errors.New("sip2: message too large")
	ErrUnknownFraming   = errors.New("sip2: unknown framing mode")
)
