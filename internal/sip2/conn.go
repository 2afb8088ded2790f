package sip2

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// DefaultMaxMessageBytes bounds one buffered inbound message.
const DefaultMaxMessageBytes = 64 * 1024

// ParseError marks a complete record that could not be decoded; the
// stream itself is still usable.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sip2: parse %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Conn is a SIP2 message stream over a net.Conn.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	pending []byte
	maxLen  int
	// discarding is set while skipping the tail of an oversize record.
	discarding bool

	mu      sync.Mutex
	framing Framing
}

// NewConn wraps an established stream.
func NewConn(conn net.Conn, framing Framing) *Conn {
	if framing == "" {
		framing = FramingASCII
	}
	return &Conn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		maxLen:  DefaultMaxMessageBytes,
		framing: framing,
	}
}

// Dial connects to a SIP2 server with binary framing.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewConn(c, FramingBinary), nil
}

func (c *Conn) SetFraming(f Framing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framing = f
}

func (c *Conn) Framing() Framing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framing
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Recv blocks until one message arrives.
func (c *Conn) Recv() (*Message, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return c.read()
}

// RecvWithTimeout waits up to timeout for one message. A timeout returns
// (nil, nil) and keeps any partially received bytes for the next call.
func (c *Conn) RecvWithTimeout(timeout time.Duration) (*Message, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	msg, err := c.read()
	if err != nil && isTimeout(err) {
		return nil, nil
	}
	return msg, err
}

func (c *Conn) read() (*Message, error) {
	for {
		chunk, err := c.reader.ReadSlice(RecordDelimiter)
		if c.discarding {
			if err == nil {
				c.discarding = false
				return nil, ErrMessageTooLarge
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return nil, err
		}
		if len(chunk) > 0 {
			c.pending = append(c.pending, chunk...)
		}
		if len(c.pending) > c.maxLen {
			c.pending = nil
			if err == nil {
				return nil, ErrMessageTooLarge
			}
			// One error per record: drop input through the next delimiter.
			c.discarding = true
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return nil, err
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, err
		}

		raw := string(c.pending)
		c.pending = c.pending[:0]
		msg, perr := Parse(raw)
		if errors.Is(perr, ErrEmptyMessage) {
			// Bare line terminators between records.
			continue
		}
		if perr != nil {
			return nil, &ParseError{Raw: raw, Err: perr}
		}
		return msg, nil
	}
}

// Send writes one message using the current framing mode.
func (c *Conn) Send(msg *Message) error {
	_, err := io.WriteString(c.conn, msg.Encode(c.Framing()))
	return err
}

// SendRecv writes req and blocks for the reply.
func (c *Conn) SendRecv(req *Message) (*Message, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.Recv()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
