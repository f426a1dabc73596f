package pgoutput

import (
	"bytes"
	"testing"
)

func TestCursorSequentialReads(t *testing.T) {
	buf := []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
		'a', 'b', 'c', 0x00,
		0xAA, 0xBB,
	}
	c := NewCursor(buf)

	if v, ok := c.ReadUint8(); !ok || v != 0x01 {
		t.Fatalf("ReadUint8 = %#x, %v", v, ok)
	}
	if v, ok := c.ReadUint16(); !ok || v != 0x0203 {
		t.Fatalf("ReadUint16 = %#x, %v", v, ok)
	}
	if v, ok := c.ReadUint32(); !ok || v != 0x04050607 {
		t.Fatalf("ReadUint32 = %#x, %v", v, ok)
	}
	if v, ok := c.ReadUint64(); !ok || v != 0x08090A0B0C0D0E0F {
		t.Fatalf("ReadUint64 = %#x, %v", v, ok)
	}
	if s, ok := c.ReadCString(); !ok || s != "abc" {
		t.Fatalf("ReadCString = %q, %v", s, ok)
	}
	if b, ok := c.ReadBytes(2); !ok || !bytes.Equal(b, []byte{0xAA, 0xBB}) {
		t.Fatalf("ReadBytes = %x, %v", b, ok)
	}
	if c.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", c.Remaining())
	}
}

func TestCursorFailedReadKeepsPosition(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02})

	if _, ok := c.ReadUint32(); ok {
		t.Fatal("ReadUint32 succeeded with 2 bytes left")
	}
	if _, ok := c.ReadUint64(); ok {
		t.Fatal("ReadUint64 succeeded with 2 bytes left")
	}
	// The failed wide reads must not have consumed anything.
	if v, ok := c.ReadUint16(); !ok || v != 0x0102 {
		t.Fatalf("ReadUint16 after failures = %#x, %v", v, ok)
	}
}

func TestCursorReadCStringWithoutTerminator(t *testing.T) {
	c := NewCursor([]byte{'x', 'y'})
	if _, ok := c.ReadCString(); ok {
		t.Fatal("ReadCString succeeded without a NUL terminator")
	}
	if c.Remaining() != 2 {
		t.Fatalf("failed ReadCString moved the cursor: remaining = %d", c.Remaining())
	}
}

func TestCursorReadCStringEmpty(t *testing.T) {
	c := NewCursor([]byte{0x00, 'z'})
	s, ok := c.ReadCString()
	if !ok || s != "" {
		t.Fatalf("ReadCString = %q, %v", s, ok)
	}
	if v, ok := c.ReadUint8(); !ok || v != 'z' {
		t.Fatalf("byte after empty cstring = %q, %v", v, ok)
	}
}

func TestCursorReadBytesRejectsNegative(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03})
	if _, ok := c.ReadBytes(-1); ok {
		t.Fatal("ReadBytes(-1) succeeded")
	}
	if ok := c.Skip(-1); ok {
		t.Fatal("Skip(-1) succeeded")
	}
}

func TestCursorPeekDoesNotAdvance(t *testing.T) {
	c := NewCursor([]byte{0x42})
	if v, ok := c.Peek(); !ok || v != 0x42 {
		t.Fatalf("Peek = %#x, %v", v, ok)
	}
	if v, ok := c.ReadUint8(); !ok || v != 0x42 {
		t.Fatalf("ReadUint8 after Peek = %#x, %v", v, ok)
	}
	if _, ok := c.Peek(); ok {
		t.Fatal("Peek succeeded at end of buffer")
	}
}

func TestCursorRest(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03})
	c.Skip(1)
	if rest := c.Rest(); !bytes.Equal(rest, []byte{0x02, 0x03}) {
		t.Fatalf("Rest = %x", rest)
	}
	if c.Remaining() != 0 {
		t.Fatalf("Remaining after Rest = %d", c.Remaining())
	}
}
