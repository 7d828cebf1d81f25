package bridge

import (
	"bytes"
	"testing"
)

func TestOutputBuffer_AppendAndDrain(t *testing.T) {
	b := newOutputBuffer(1024)
	b.Append([]byte("hello "))
	b.Append([]byte("world"))

	got := b.Drain()
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("Drain() = %q", got)
	}
	if b.Len() != 0 {
		t.Errorf("Len after drain = %d", b.Len())
	}
	if b.Drain() != nil {
		t.Error("empty drain should return nil")
	}
}

func TestOutputBuffer_CopiesChunks(t *testing.T) {
	b := newOutputBuffer(1024)
	chunk := []byte("original")
	b.Append(chunk)
	copy(chunk, "XXXXXXXX") // caller reuses its read buffer

	if got := b.Drain(); !bytes.Equal(got, []byte("original")) {
		t.Errorf("Drain() = %q, buffer aliased the caller's slice", got)
	}
}

func TestOutputBuffer_EvictsFromHeadOnly(t *testing.T) {
	// Cap of 10 bytes; three 4-byte chunks exceed it, so the oldest chunk
	// is evicted and the remainder stays contiguous and in order.
	b := newOutputBuffer(10)
	b.Append([]byte("aaaa"))
	b.Append([]byte("bbbb"))
	b.Append([]byte("cccc"))

	got := b.Drain()
	if !bytes.Equal(got, []byte("bbbbcccc")) {
		t.Errorf("Drain() = %q, want suffix after head eviction", got)
	}
}

func TestOutputBuffer_UnderCapLosesNothing(t *testing.T) {
	b := newOutputBuffer(1 << 20)
	var want bytes.Buffer
	for i := 0; i < 1000; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 100)
		b.Append(chunk)
		want.Write(chunk)
	}
	if !bytes.Equal(b.Drain(), want.Bytes()) {
		t.Error("sub-cap stream was not preserved exactly")
	}
}

func TestOutputBuffer_OverCapKeepsContiguousSuffix(t *testing.T) {
	const cap = 1000
	b := newOutputBuffer(cap)
	var all bytes.Buffer
	for i := 0; i < 100; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 37)
		b.Append(chunk)
		all.Write(chunk)
	}

	got := b.Drain()
	if len(got) > cap {
		t.Fatalf("drained %d bytes, cap is %d", len(got), cap)
	}
	// Whatever survived must be exactly the tail of the full stream: only
	// a contiguous prefix may be dropped.
	if !bytes.HasSuffix(all.Bytes(), got) {
		t.Error("surviving bytes are not a contiguous suffix of the stream")
	}
}
