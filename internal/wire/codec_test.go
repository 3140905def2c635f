package wire

import (
	"bytes"
	"testing"
)

// TestMallocRoundTrip exercises T5 and the concrete byte-count scenario
// from spec.md §8.3: encoding a Malloc record with a two-entry stack
// yields exactly 46 bytes and decodes back to the original values.
func TestMallocRoundTrip(t *testing.T) {
	var e Encoder
	e.Kind(RecordMalloc)
	e.U8(1) // appId
	e.U32(42)
	e.U64(0xdeadbeef)
	e.U64(128)
	e.U32(7)
	// Raw stack bytes as they appear on the wire (pre-decrement); the
	// scenario's expected decoded stack is [0xff, 0x1ff] after Decoder.Stack
	// subtracts one, so encode [0x100, 0x200] here.
	e.Stack([]uint64{0x100, 0x200})

	const want = 1 + 1 + 4 + 8 + 8 + 4 + (4 + 16)
	if got := len(e.Bytes()); got != want {
		t.Fatalf("encoded size = %d, want %d", got, want)
	}

	d := NewDecoder(e.Bytes())
	if k := d.Kind(); k != RecordMalloc {
		t.Fatalf("kind = %v, want Malloc", k)
	}
	if v := d.U8(); v != 1 {
		t.Fatalf("appId = %d, want 1", v)
	}
	if v := d.U32(); v != 42 {
		t.Fatalf("ts = %d, want 42", v)
	}
	if v := d.U64(); v != 0xdeadbeef {
		t.Fatalf("addr = %#x, want 0xdeadbeef", v)
	}
	if v := d.U64(); v != 128 {
		t.Fatalf("size = %d, want 128", v)
	}
	if v := d.U32(); v != 7 {
		t.Fatalf("tid = %d, want 7", v)
	}
	stack := d.Stack()
	wantStack := []uint64{0xff, 0x1ff}
	if len(stack) != len(wantStack) || stack[0] != wantStack[0] || stack[1] != wantStack[1] {
		t.Fatalf("stack = %v, want %v", stack, wantStack)
	}
	if d.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", d.Remaining())
	}
}

func TestStringEmptyEncodesZeroLength(t *testing.T) {
	var e Encoder
	e.String("")
	if !bytes.Equal(e.Bytes(), []byte{0, 0, 0, 0}) {
		t.Fatalf("empty string encoding = %v, want 4 zero bytes", e.Bytes())
	}
	d := NewDecoder(e.Bytes())
	if s := d.String(); s != "" {
		t.Fatalf("decoded = %q, want empty", s)
	}
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", "hello world", "/usr/lib/libc.so.6"}
	for _, c := range cases {
		var e Encoder
		e.String(c)
		got := NewDecoder(e.Bytes()).String()
		if got != c {
			t.Errorf("round trip %q -> %q", c, got)
		}
	}
}

func TestBlobRoundTrip(t *testing.T) {
	want := []byte{0xde, 0xad, 0xbe, 0xef, 0x00}
	var e Encoder
	e.Blob(want)
	got := NewDecoder(e.Bytes()).Blob()
	if !bytes.Equal(got, want) {
		t.Fatalf("blob round trip = %v, want %v", got, want)
	}
}

func TestDecoderShortReadPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != ErrShortRead {
			t.Fatalf("recovered %v, want ErrShortRead", r)
		}
	}()
	d := NewDecoder([]byte{1, 2})
	d.U32()
}

func TestMultiFieldRecordRoundTrip(t *testing.T) {
	var e Encoder
	e.Kind(RecordMmapTracked)
	e.U8(1)
	e.U64(0x1000)
	e.U64(4096)
	e.I32(3)
	e.I32(0x22)
	e.U32(99)
	e.Stack([]uint64{0x401000})

	d := NewDecoder(e.Bytes())
	if d.Kind() != RecordMmapTracked {
		t.Fatal("kind mismatch")
	}
	if d.U8() != 1 {
		t.Fatal("appId mismatch")
	}
	if d.U64() != 0x1000 {
		t.Fatal("addr mismatch")
	}
	if d.U64() != 4096 {
		t.Fatal("size mismatch")
	}
	if d.I32() != 3 {
		t.Fatal("prot mismatch")
	}
	if d.I32() != 0x22 {
		t.Fatal("flags mismatch")
	}
	if d.U32() != 99 {
		t.Fatal("tid mismatch")
	}
	stack := d.Stack()
	if len(stack) != 1 || stack[0] != 0x401000-1 {
		t.Fatalf("stack = %v", stack)
	}
}
