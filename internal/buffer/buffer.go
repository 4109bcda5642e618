// Package buffer implements a growable FIFO byte buffer with read/write
// cursors and a reclaimable prependable region, suitable for per-connection
// socket I/O under edge- or level-triggered readiness.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// scratchSize is the stack-scratch region used for the second iovec of a
// scatter read, sized so a single readv(2) can drain a socket's receive
// buffer under edge-triggered readiness without a second syscall.
const scratchSize = 64 * 1024

// ErrRetrieveTooMuch is returned by Retrieve when n exceeds ReadableBytes.
var ErrRetrieveTooMuch = errors.New("buffer: retrieve exceeds readable bytes")

// Buffer is an ordered byte sequence with readPos <= writePos <= cap(buf).
// It is not safe for concurrent use; each connection owns its own buffers.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a Buffer with the given initial capacity.
func New(initSize int) *Buffer {
	if initSize <= 0 {
		initSize = 1024
	}
	return &Buffer{buf: make([]byte, initSize)}
}

// ReadableBytes returns the number of bytes available to Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the number of bytes available to Append without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writePos }

// PrependableBytes returns the size of the reclaimable region before readPos.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable region. The slice is stable until the next
// write-side mutation (Append, EnsureWritable, ReadFromFD).
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// Retrieve advances readPos by n, reclaiming those bytes as prependable space.
func (b *Buffer) Retrieve(n int) error {
	if n > b.ReadableBytes() {
		return ErrRetrieveTooMuch
	}
	b.readPos += n
	return nil
}

// RetrieveUntil advances readPos to the start of end, which must be a tail
// of Peek()'s slice (e.g. the rest after a parsed header line); the bytes of
// end itself stay readable.
func (b *Buffer) RetrieveUntil(end []byte) error {
	readable := b.Peek()
	if len(end) > len(readable) {
		return ErrRetrieveTooMuch
	}
	// end is expected to alias the tail of readable; compute offset by length.
	n := len(readable) - len(end)
	return b.Retrieve(n)
}

// RetrieveAll resets both cursors to 0 and zeroes the storage.
func (b *Buffer) RetrieveAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// TakeAllAsString returns the readable region as an owned string and resets
// the buffer, mirroring the original's RetrieveAllToStr.
func (b *Buffer) TakeAllAsString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append ensures writable space for len(data), copies it in, and advances
// writePos.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	n := copy(b.buf[b.writePos:], data)
	b.writePos += n
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// EnsureWritable guarantees WritableBytes() >= n, compacting the readable
// region to offset 0 first and only growing capacity if that isn't enough.
// Capacity never shrinks.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFromFD performs a scatter read: the current writable region plus a
// 64 KiB stack scratch, so a single syscall can drain the socket's receive
// buffer under edge-triggered mode. Overflow beyond the writable region is
// absorbed via Append. Returns the number of bytes read and any error
// (including unix.EAGAIN, which callers must check for explicitly).
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var scratch [scratchSize]byte
	writable := b.WritableBytes()

	n, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], scratch[:]})
	if err != nil {
		return 0, err
	}

	switch {
	case n <= writable:
		b.writePos += n
	default:
		b.writePos = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the readable region via a single-element writev and
// advances readPos by the number of bytes written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	readable := b.Peek()
	if len(readable) == 0 {
		return 0, nil
	}
	n, err := unix.Writev(fd, [][]byte{readable})
	if n > 0 {
		b.readPos += n
	}
	return n, err
}
