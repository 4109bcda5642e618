//go:build linux

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxEvents bounds a single epoll_wait batch, matching the batching amortization
// rationale gaio documents for its own poller (see socket515-gaio/watcher.go).
const maxEvents = 1024

// epollPoller implements Poller over golang.org/x/sys/unix's epoll bindings.
type epollPoller struct {
	epfd int

	mu     sync.Mutex
	events [maxEvents]unix.EpollEvent
}

// New returns a Poller backed by epoll_create1.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func toEpollEvents(m Mask) uint32 {
	var ev uint32
	if m&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if m&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	if m&Edge != 0 {
		ev |= unix.EPOLLET
	}
	if m&Oneshot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	if m&RDHup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

func fromEpollEvents(ev uint32) Mask {
	var m Mask
	if ev&unix.EPOLLIN != 0 {
		m |= Read
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= Write
	}
	if ev&unix.EPOLLRDHUP != 0 {
		m |= RDHup
	}
	if ev&unix.EPOLLHUP != 0 {
		m |= Hup
	}
	if ev&unix.EPOLLERR != 0 {
		m |= Err
	}
	return m
}

func (p *epollPoller) Add(fd int, mask Mask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, mask Mask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		// Already gone from the kernel's interest list (peer closed, or
		// the reactor already closed this fd); not a failure for the
		// caller, which only wants the registration to not exist.
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeoutMs int) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := unix.EpollWait(p.epfd, p.events[:], timeoutMs)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = Event{
			Fd:   int(p.events[i].Fd),
			Mask: fromEpollEvents(p.events[i].Events),
		}
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
