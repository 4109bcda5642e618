// Package httpconn implements the per-client HTTP connection object: it owns
// the two buffers, the peer address, the descriptor, and the keep-alive
// flag, and delegates parsing/serialization to internal/httpparse and file
// resolution to internal/resource. See spec §3/§4.F.
package httpconn

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/buffer"
	"github.com/reactord/reactord/internal/dbpool"
	"github.com/reactord/reactord/internal/httpparse"
	"github.com/reactord/reactord/internal/resource"
)

// State is the connection's lifecycle stage.
type State int

const (
	Idle State = iota
	Reading
	Processing
	Writing
	Closed
)

// UserCount is the process-wide count of live connections. It is mutated
// only by the reactor goroutine (New/Close), per §5's single-writer rule.
var userCount int64

// UserCount reports the current number of live connections.
func UserCount() int { return int(atomic.LoadInt64(&userCount)) }

const initialBufSize = 2048

// Conn is a single client's HTTP connection state.
type Conn struct {
	fd       int
	peerAddr string
	isET     bool

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	keepAlive bool
	state     State

	fileRegion *resource.Region
	fileOffset int

	requestsServed int
}

// New constructs a Conn for fd/addr, sets state Idle, clears buffers, and
// increments the process-wide user count.
func New(fd int, peerAddr string, isET bool) *Conn {
	atomic.AddInt64(&userCount, 1)
	return &Conn{
		fd:        fd,
		peerAddr:  peerAddr,
		isET:      isET,
		readBuf:   buffer.New(initialBufSize),
		writeBuf:  buffer.New(initialBufSize),
		keepAlive: false,
		state:     Idle,
	}
}

// Fd returns the underlying file descriptor.
func (c *Conn) Fd() int { return c.fd }

// PeerAddr returns the remote address string.
func (c *Conn) PeerAddr() string { return c.peerAddr }

// State returns the connection's current lifecycle stage.
func (c *Conn) State() State { return c.state }

// IsKeepAlive reports whether the most recently processed request asked to
// keep the connection open.
func (c *Conn) IsKeepAlive() bool { return c.keepAlive }

// RequestsServed reports how many complete requests Process has finished on
// this connection, for keep-alive pipelining observability (§3).
func (c *Conn) RequestsServed() int { return c.requestsServed }

// Read drains the socket into readBuf. Under level-triggered interest
// (isET == false) it makes exactly one readv(2) call, matching the original's
// single client->read() per OnRead_ invocation. Under edge-triggered
// interest it loops -- do { ... } while isET && err == nil -- making repeated
// readv(2) calls until the kernel returns EAGAIN or the peer's FIN (n == 0),
// since ET delivers exactly one readiness notification per state change and
// anything left undrained would never be signalled again (§4.F, §9 ET/LT
// coupling note).
//
// A non-EAGAIN error at any point is reported as a zero-byte read regardless
// of bytes already appended to readBuf, so the caller's n<=0 close check
// still fires even after a partial drain.
func (c *Conn) Read() (int, error) {
	c.state = Reading
	var total int
	for {
		n, err := c.readBuf.ReadFromFD(c.fd)
		total += n
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				if total > 0 {
					return total, nil
				}
				return n, err
			}
			return 0, err
		}
		if n == 0 {
			return total, nil
		}
		if !c.isET {
			return total, nil
		}
	}
}

// Process invokes the HTTP parser on the readable region of readBuf. If a
// complete request was recognized, a response is written into writeBuf
// (optionally alongside an mmapped file region) and Process returns true. If
// more input is needed, it returns false without mutating writeBuf.
func (c *Conn) Process(resolver *resource.Resolver, db *dbpool.Pool) (bool, error) {
	c.state = Processing
	out, err := httpparse.Process(c.readBuf, c.writeBuf, resolver, db)
	if err != nil {
		return false, err
	}
	if !out.Done {
		return false, nil
	}
	c.keepAlive = out.KeepAlive
	c.fileRegion = out.FileRegion
	c.fileOffset = 0
	c.requestsServed++
	return true, nil
}

// Write performs a writev of writeBuf plus any remaining file region,
// advancing offsets on partial writes. Under level-triggered interest it
// makes exactly one syscall per call. Under edge-triggered interest it loops
// -- do { ... } while isET && more left && err == nil -- issuing repeated
// writev(2) calls until the peer applies backpressure (EAGAIN), a write
// fails outright, or ToWriteBytes() reaches zero, mirroring the Read side's
// ET drain loop (§4.F, §9).
//
// The returned byte count accumulates across the loop; the returned error
// is whatever stopped the loop, so a caller checking err for EAGAIN still
// sees it even after a partial drain. Under edge-triggered interest a nil
// error means the response was fully written; under level-triggered
// interest a nil error follows any successful writev, even a partial one.
func (c *Conn) Write() (int, error) {
	c.state = Writing

	var total int
	for {
		bufs := make([][]byte, 0, 2)
		readable := c.writeBuf.Peek()
		if len(readable) > 0 {
			bufs = append(bufs, readable)
		}
		var fileRemaining []byte
		if c.fileRegion != nil && c.fileRegion.Data != nil {
			fileRemaining = c.fileRegion.Data[c.fileOffset:]
			if len(fileRemaining) > 0 {
				bufs = append(bufs, fileRemaining)
			}
		}
		if len(bufs) == 0 {
			return total, nil
		}

		n, err := unix.Writev(c.fd, bufs)
		if n <= 0 {
			if total > 0 {
				return total, err
			}
			return n, err
		}

		remaining := n
		if len(readable) > 0 {
			take := remaining
			if take > len(readable) {
				take = len(readable)
			}
			c.writeBuf.Retrieve(take)
			remaining -= take
		}
		if remaining > 0 {
			c.fileOffset += remaining
		}

		if c.fileRegion != nil && c.fileOffset >= len(c.fileRegion.Data) {
			c.fileRegion.Close()
			c.fileRegion = nil
			c.fileOffset = 0
		}

		total += n

		if err != nil {
			return total, err
		}
		if !c.isET {
			return total, nil
		}
	}
}

// ToWriteBytes reports the residual bytes across writeBuf and any file
// region still pending.
func (c *Conn) ToWriteBytes() int {
	n := c.writeBuf.ReadableBytes()
	if c.fileRegion != nil && c.fileRegion.Data != nil {
		n += len(c.fileRegion.Data) - c.fileOffset
	}
	return n
}

// Close unmaps any file region, decrements the process-wide user count, and
// closes the descriptor. It is idempotent; calling Close on an already-closed
// Conn is a no-op, matching SPEC_FULL.md §9's idempotent-close resolution.
func (c *Conn) Close() error {
	if c.state == Closed {
		return nil
	}
	c.state = Closed
	if c.fileRegion != nil {
		c.fileRegion.Close()
		c.fileRegion = nil
	}
	atomic.AddInt64(&userCount, -1)
	return unix.Close(c.fd)
}
