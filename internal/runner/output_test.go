package runner

import (
	"strings"
	"testing"
)

func TestOutputBufferEmpty(t *testing.T) {
	b := NewOutputBuffer(16)

	if got := b.String(); got != "" {
		t.Errorf("String() = %q, want empty", got)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
	if b.Truncated() {
		t.Error("empty buffer must not report truncation")
	}
}

func TestOutputBufferUnderCapacity(t *testing.T) {
	b := NewOutputBuffer(32)

	b.Write([]byte("hello "))
	b.Write([]byte("world"))

	if got := b.String(); got != "hello world" {
		t.Errorf("String() = %q, want %q", got, "hello world")
	}
	if b.Truncated() {
		t.Error("writes under capacity must not truncate")
	}
	if b.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", b.Dropped())
	}
}

func TestOutputBufferKeepsTailOnWrap(t *testing.T) {
	b := NewOutputBuffer(8)

	b.Write([]byte("01234567"))
	b.Write([]byte("AB"))

	if got := b.String(); got != "234567AB" {
		t.Errorf("String() = %q, want %q", got, "234567AB")
	}
	if !b.Truncated() {
		t.Error("wrapping write must report truncation")
	}
	if b.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", b.Dropped())
	}
	if b.Len() != 8 {
		t.Errorf("Len() = %d, want capacity", b.Len())
	}
}

func TestOutputBufferOversizedChunkKeepsItsTail(t *testing.T) {
	b := NewOutputBuffer(4)

	b.Write([]byte("abcdefgh"))

	if got := b.String(); got != "efgh" {
		t.Errorf("String() = %q, want %q", got, "efgh")
	}
	if b.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", b.Dropped())
	}
}

func TestOutputBufferTracebackSurvivesFlood(t *testing.T) {
	b := NewOutputBuffer(64)

	b.Write([]byte(strings.Repeat("spam\n", 1000)))
	trace := "Traceback:\nAssertionError"
	b.Write([]byte(trace))

	if got := b.String(); !strings.HasSuffix(got, trace) {
		t.Errorf("String() = %q, should end with the traceback", got)
	}
	if !b.Truncated() {
		t.Error("flooded buffer must report truncation")
	}
}

func TestOutputBufferDefaultCapacity(t *testing.T) {
	b := NewOutputBuffer(0)
	if b.Capacity() != defaultOutputCap {
		t.Errorf("Capacity() = %d, want %d", b.Capacity(), defaultOutputCap)
	}
}
