package reactor

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/httpconn"
	"github.com/reactord/reactord/internal/poller"
)

// onRead runs on a worker goroutine (via workerpool), translating
// OnRead_/OnProcess in original_source/webserver.cpp: call conn.Read once
// (it drains the socket under edge-triggered interest); on EOF or a
// non-EAGAIN error ask the reactor to close the connection, otherwise (bytes
// read, or EAGAIN) hand off to onProcess.
func (s *Server) onRead(conn *httpconn.Conn) {
	n, err := conn.Read()
	if n <= 0 && !errors.Is(err, unix.EAGAIN) {
		s.requestClose(conn.Fd())
		return
	}
	s.onProcess(conn)
}

// onProcess mirrors OnProcess: parse what's buffered, and re-arm the
// connection's poller interest for write (a response is ready) or read
// (more data is needed) accordingly. Oneshot interest means this re-arm is
// mandatory on every path, not just the success path.
func (s *Server) onProcess(conn *httpconn.Conn) {
	done, err := conn.Process(s.resolver, s.db)
	if err != nil {
		s.requestClose(conn.Fd())
		return
	}
	if done {
		s.requestModify(conn.Fd(), s.connEvent|poller.Write)
		return
	}
	s.requestModify(conn.Fd(), s.connEvent|poller.Read)
}

// onWrite mirrors OnWrite_: write once, loop (via re-arm) on EAGAIN,
// pipeline straight into the next request on a flushed keep-alive
// connection, and otherwise close.
func (s *Server) onWrite(conn *httpconn.Conn) {
	_, err := conn.Write()

	if conn.ToWriteBytes() == 0 {
		if conn.IsKeepAlive() {
			s.onProcess(conn)
			return
		}
	} else if err != nil && errors.Is(err, unix.EAGAIN) {
		s.requestModify(conn.Fd(), s.connEvent|poller.Write)
		return
	}
	s.requestClose(conn.Fd())
}
