// Package argbuf is the shared argument buffer: a single staging area
// in the shared-RW region for blobs too large to ride on syscall
// registers.
//
// The length-header protocol enforces "at most one non-empty argbuf at
// a time" by panicking on protocol violations rather than returning an
// error — a caller that violates it has a bug, and the synchronous,
// single-threaded call model means the violation is always a
// programming error local to the current call chain.
package argbuf

import "fmt"

// Buffer is the shared argument staging area.
type Buffer struct {
	body []byte
	len  int
}

// New allocates a Buffer of the given capacity, already in the
// zero-length, zeroed-body state setup_argbuf leaves it in at boot.
func New(size int) *Buffer {
	return &Buffer{body: make([]byte, size)}
}

// Len returns the current length header.
func (b *Buffer) Len() int { return b.len }

// Cap returns the buffer's total capacity.
func (b *Buffer) Cap() int { return len(b.body) }

// Set copies data into the buffer and sets the length header.
// Panics if the header is not currently zero or if data overflows
// capacity — both are caller bugs (argbuf.rs's set_argbuf asserts the
// same).
func (b *Buffer) Set(data []byte) {
	if b.len != 0 {
		panic("argbuf: set called while a value is already staged")
	}
	if len(data) > len(b.body) {
		panic(fmt.Sprintf("argbuf: value of %d bytes exceeds capacity %d", len(data), len(b.body)))
	}
	copy(b.body, data)
	b.len = len(data)
}

// Get copies the staged value into dst, which must be exactly the
// staged length, then zeroes the body and resets the header to 0.
// Panics on an empty buffer or a length mismatch (argbuf.rs's
// get_argbuf asserts the same).
func (b *Buffer) Get(dst []byte) {
	if b.len == 0 {
		panic("argbuf: get called with nothing staged")
	}
	if len(dst) != b.len {
		panic(fmt.Sprintf("argbuf: get destination length %d does not match staged length %d", len(dst), b.len))
	}
	copy(dst, b.body[:b.len])
	for i := range b.body[:b.len] {
		b.body[i] = 0
	}
	b.len = 0
}
