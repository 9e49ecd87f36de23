package qcli

import "testing"

func TestCircularBufferKeepsTail(t *testing.T) {
	cb := NewCircularBuffer(8)
	_, _ = cb.Write([]byte("abcde"))
	_, _ = cb.Write([]byte("fghij"))

	if got := cb.String(); got != "cdefghij" {
		t.Fatalf("String() = %q", got)
	}
	if cb.Dropped() != 2 {
		t.Fatalf("Dropped() = %d, want 2", cb.Dropped())
	}
}

func TestCircularBufferOversizedWrite(t *testing.T) {
	cb := NewCircularBuffer(4)
	_, _ = cb.Write([]byte("ab"))
	n, err := cb.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := cb.String(); got != "6789" {
		t.Fatalf("String() = %q", got)
	}
	if cb.Dropped() != 8 {
		t.Fatalf("Dropped() = %d, want 8", cb.Dropped())
	}
}

func TestCircularBufferExactFill(t *testing.T) {
	cb := NewCircularBuffer(4)
	_, _ = cb.Write([]byte("ab"))
	_, _ = cb.Write([]byte("cd"))
	_, _ = cb.Write(nil)

	if got := cb.String(); got != "abcd" {
		t.Fatalf("String() = %q", got)
	}
	if cb.Len() != 4 || cb.Dropped() != 0 {
		t.Fatalf("Len() = %d Dropped() = %d", cb.Len(), cb.Dropped())
	}
}
