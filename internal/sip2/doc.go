// Package sip2 owns the SIP2 wire contract used by the gateway.
//
// Ownership boundary:
// - message and fixed-field specs for the handled subset of codes
// - text encode/decode with variable-field tags
// - AY/AZ error-detection checksums
// - framing mode (ascii transliteration vs raw utf-8)
// - a stream connection with bounded receive
//
// A message on the wire is:
//
//	CODE FIXED... TAGvalue| TAGvalue| [AYnAZxxxx] \r
//
// It is not a general SIP2 library; unknown codes decode into a message
// carrying only the code so callers can answer them.
package sip2
