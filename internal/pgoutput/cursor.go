// Package pgoutput decodes the tagged binary change-stream format emitted by
// logical decoding, one complete message buffer at a time. Decoding never
// panics and never returns an error across the package boundary: malformed or
// truncated input degrades to partial results, Unknown events or Error
// events, so one bad buffer cannot stall the stream.
package pgoutput

import (
	"bytes"
	"encoding/binary"
)

// Cursor wraps one message buffer with a read position. Every read is
// bounds-checked and reports success through a comma-ok result; a failed
// read leaves the position unchanged and never touches bytes past the end.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

func (c *Cursor) ReadUint8() (uint8, bool) {
	if c.Remaining() < 1 {
		return 0, false
	}
	v := c.buf[c.pos]
	c.pos++
	return v, true
}

func (c *Cursor) ReadUint16() (uint16, bool) {
	if c.Remaining() < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, true
}

func (c *Cursor) ReadUint32() (uint32, bool) {
	if c.Remaining() < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, true
}

func (c *Cursor) ReadUint64() (uint64, bool) {
	if c.Remaining() < 8 {
		return 0, false
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, true
}

// ReadCString reads up to the next NUL terminator and advances past it.
func (c *Cursor) ReadCString() (string, bool) {
	idx := bytes.IndexByte(c.buf[c.pos:], 0)
	if idx < 0 {
		return "", false
	}
	s := string(c.buf[c.pos : c.pos+idx])
	c.pos += idx + 1
	return s, true
}

// ReadBytes returns the next n bytes as a subslice of the underlying buffer.
// A negative n indicates caller misuse and reads nothing.
func (c *Cursor) ReadBytes(n int) ([]byte, bool) {
	if n < 0 || n > c.Remaining() {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) bool {
	if n < 0 || n > c.Remaining() {
		return false
	}
	c.pos += n
	return true
}

// Peek returns the next byte without advancing.
func (c *Cursor) Peek() (byte, bool) {
	if c.Remaining() < 1 {
		return 0, false
	}
	return c.buf[c.pos], true
}

// Rest consumes and returns every unread byte.
func (c *Cursor) Rest() []byte {
	b := c.buf[c.pos:]
	c.pos = len(c.buf)
	return b
}
