// Package poller is a thin wrapper over the kernel readiness-notification
// multiplexer (epoll on Linux): register/modify/remove a descriptor with an
// interest mask, wait with a timeout, and iterate ready events. Only the
// reactor goroutine may call into a Poller (see §5 of the specification).
package poller

// Mask is an interest/event bitmask. Values are platform-independent; the
// platform-specific implementation translates them to the kernel's native
// flags.
type Mask uint32

const (
	Read Mask = 1 << iota
	Write
	Edge
	Oneshot
	RDHup
	Err
	Hup
)

// Event describes one ready descriptor returned by Wait.
type Event struct {
	Fd   int
	Mask Mask
}

// Poller is satisfied by the platform-specific epoll implementation. Tests
// may substitute a fake.
type Poller interface {
	// Add registers fd with the given interest mask.
	Add(fd int, mask Mask) error
	// Modify changes fd's interest mask.
	Modify(fd int, mask Mask) error
	// Remove stops monitoring fd. It is not an error to remove an fd the
	// kernel has already dropped (e.g. because the peer closed).
	Remove(fd int) error
	// Wait blocks for readiness up to timeoutMs (-1 = forever, 0 = poll),
	// returning the ready events for this batch.
	Wait(timeoutMs int) ([]Event, error)
	// Close releases the underlying poll descriptor.
	Close() error
}
