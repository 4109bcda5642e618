// Package reactor is the server core (spec §4.G): it binds the listener,
// owns the poller registration, the timer heap, and the connection table,
// and dispatches read/process/write work to the worker pool. It is grounded
// on original_source/webserver.cpp end-to-end, with the single dispatch
// loop translated from socket515-gaio/watcher.go's loop().
package reactor

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/dbpool"
	"github.com/reactord/reactord/internal/httpconn"
	"github.com/reactord/reactord/internal/logging"
	"github.com/reactord/reactord/internal/poller"
	"github.com/reactord/reactord/internal/resource"
	"github.com/reactord/reactord/internal/timerheap"
	"github.com/reactord/reactord/internal/workerpool"
)

const busyMessage = "Server busy!"

type modifyRequest struct {
	fd   int
	mask poller.Mask
}

// Server is a single-process, single-reactor-goroutine HTTP server. Only the
// goroutine running Run may touch the connection table, the timer heap, or
// call Add/Modify/Remove on the poller directly (§5); worker goroutines
// request those mutations through requestClose/requestModify, which wake the
// reactor via a self-pipe, mirroring the pendingCreate/pendingProcessing
// hand-off socket515-gaio/watcher.go uses to get worker-submitted work back
// onto its single loop goroutine.
type Server struct {
	cfg Config

	listenFd      int
	listenEvent   poller.Mask
	connEvent     poller.Mask
	isET          bool
	listenPort    int

	mux      poller.Poller
	timer    *timerheap.Heap
	pool     *workerpool.Pool
	db       *dbpool.Pool
	logger   *logging.Logger
	resolver *resource.Resolver

	conns map[int]*httpconn.Conn

	// busy marks fds with a task currently in flight on the worker pool;
	// deferredClose marks fds whose timer expired (or that errored out)
	// while busy, so the actual close waits for the in-flight task's
	// requestModify/requestClose instead of closing a descriptor a worker
	// goroutine might still be reading or writing (see SPEC_FULL.md §9).
	busy          map[int]bool
	deferredClose map[int]bool

	wakeR, wakeW *os.File

	pendingMu      sync.Mutex
	pendingCloses  []int
	pendingModify  []modifyRequest

	stopping int32
}

// New constructs a Server's collaborators (poller, timer heap, worker pool,
// optional DB pool, logger, resource resolver) but does not bind the
// listener yet; call Bind then Run.
func New(cfg Config) (*Server, error) {
	if cfg.ThreadNum <= 0 {
		cfg.ThreadNum = 1
	}
	if cfg.MaxFD <= 0 {
		cfg.MaxFD = 65536
	}
	if cfg.SrcDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("reactor: getwd: %w", err)
		}
		cfg.SrcDir = wd + "/resources/"
	}

	mux, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("reactor: poller.New: %w", err)
	}

	listenEvent, connEvent, isET := initEventMode(cfg.TrigMode)

	logger := logging.New(cfg.OpenLog, cfg.LogLevel, cfg.LogQueueSize)

	var db *dbpool.Pool
	if cfg.SQLHost != "" {
		poolSize := cfg.ConnPoolNum
		if poolSize <= 0 {
			poolSize = 1
		}
		db, err = dbpool.Open(cfg.SQLHost, cfg.SQLPort, cfg.SQLUser, cfg.SQLPwd, cfg.SQLDB, poolSize)
		if err != nil {
			logger.Errorf("dbpool open failed: %v", err)
			mux.Close()
			logger.Close()
			return nil, err
		}
	}

	rd, wr, err := os.Pipe()
	if err != nil {
		mux.Close()
		if db != nil {
			db.Close()
		}
		logger.Close()
		return nil, fmt.Errorf("reactor: pipe: %w", err)
	}
	if err := unix.SetNonblock(int(rd.Fd()), true); err != nil {
		return nil, fmt.Errorf("reactor: wake pipe nonblock: %w", err)
	}
	if err := mux.Add(int(rd.Fd()), poller.Read); err != nil {
		return nil, fmt.Errorf("reactor: register wake pipe: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		listenFd:    -1,
		listenEvent: listenEvent,
		connEvent:   connEvent,
		isET:        isET,
		mux:         mux,
		timer:       timerheap.New(nil),
		pool:        workerpool.New(cfg.ThreadNum),
		db:          db,
		logger:      logger,
		resolver:    resource.New(cfg.SrcDir),
		conns:       make(map[int]*httpconn.Conn),
		busy:        make(map[int]bool),
		deferredClose: make(map[int]bool),
		wakeR:       rd,
		wakeW:       wr,
	}

	logger.Infof("reactor init: port=%d trigMode=%d listenET=%v connET=%v threadNum=%d connPoolNum=%d",
		cfg.Port, cfg.TrigMode, listenEvent&poller.Edge != 0, isET, cfg.ThreadNum, cfg.ConnPoolNum)
	return s, nil
}

// Bind creates the listening socket with the original's SO_LINGER /
// SO_REUSEADDR / bind / listen(backlog 6) sequence, sets it non-blocking,
// and registers it with the poller.
func (s *Server) Bind() error {
	if s.cfg.Port != 0 && (s.cfg.Port > 65535 || s.cfg.Port < 1024) {
		return fmt.Errorf("reactor: port %d out of range", s.cfg.Port)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}

	linger := unix.Linger{}
	if s.cfg.OptLinger {
		linger.Onoff = 1
		linger.Linger = 1
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: SO_LINGER: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, 6); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: nonblock: %w", err)
	}
	if err := s.mux.Add(fd, s.listenEvent|poller.Read); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: register listener: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err == nil {
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			s.listenPort = in4.Port
		}
	}

	s.listenFd = fd
	s.logger.Infof("server listening on port %d", s.listenPort)
	return nil
}

// Port reports the bound listener's port, resolved after Bind (useful when
// Config.Port was 0 for an ephemeral assignment).
func (s *Server) Port() int { return s.listenPort }

// Stop requests the run loop to exit after its current iteration. It is
// safe to call from any goroutine, notably a signal handler.
func (s *Server) Stop() {
	atomic.StoreInt32(&s.stopping, 1)
	s.wakeW.Write([]byte{0})
}

func (s *Server) stopped() bool { return atomic.LoadInt32(&s.stopping) != 0 }

// Run drives the single dispatch loop until Stop is called or the poller
// returns a fatal error. It must be called after Bind.
func (s *Server) Run() error {
	if s.listenFd < 0 {
		return errors.New("reactor: Run called before Bind")
	}
	s.logger.Infof("server started")

	for !s.stopped() {
		timeoutMs := -1
		if s.cfg.TimeoutMS > 0 {
			timeoutMs = s.timer.NextTickMs()
		}

		events, err := s.mux.Wait(timeoutMs)
		if err != nil {
			s.logger.Errorf("mux.Wait: %v", err)
			return err
		}

		for _, ev := range events {
			switch {
			case ev.Fd == s.listenFd:
				s.dealListen()
			case ev.Fd == int(s.wakeR.Fd()):
				s.drainWake()
			case ev.Mask&(poller.RDHup|poller.Hup|poller.Err) != 0:
				s.closeOrDefer(ev.Fd)
			case ev.Mask&poller.Read != 0:
				s.dealRead(ev.Fd)
			case ev.Mask&poller.Write != 0:
				s.dealWrite(ev.Fd)
			default:
				s.logger.Errorf("unexpected event mask %v for fd %d", ev.Mask, ev.Fd)
			}
		}
	}
	return nil
}

// Close tears down every collaborator. Call after Run returns. The worker
// pool is drained before any remaining connection is closed, so no worker
// goroutine is still reading or writing a descriptor this closes out from
// under it.
func (s *Server) Close() error {
	if s.listenFd >= 0 {
		s.mux.Remove(s.listenFd)
		unix.Close(s.listenFd)
		s.listenFd = -1
	}
	s.pool.Close()
	for fd := range s.conns {
		s.closeConnLocal(fd)
	}
	if s.db != nil {
		s.db.Close()
	}
	s.mux.Remove(int(s.wakeR.Fd()))
	s.wakeR.Close()
	s.wakeW.Close()
	err := s.mux.Close()
	s.logger.Infof("server stopped")
	s.logger.Close()
	return err
}

func (s *Server) dealListen() {
	for {
		fd, _, err := unix.Accept(s.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				s.logger.Warnf("accept: %v", err)
			}
			return
		}

		if len(s.conns) >= s.cfg.MaxFD {
			unix.Write(fd, []byte(busyMessage))
			unix.Close(fd)
			s.logger.Warnf("clients full, rejected fd %d", fd)
			return
		}
		s.addClient(fd)

		if s.listenEvent&poller.Edge == 0 {
			return
		}
	}
}

func (s *Server) addClient(fd int) {
	if err := unix.SetNonblock(fd, true); err != nil {
		s.logger.Warnf("nonblock fd %d: %v", fd, err)
		unix.Close(fd)
		return
	}
	if err := s.mux.Add(fd, s.connEvent|poller.Read); err != nil {
		s.logger.Warnf("register fd %d: %v", fd, err)
		unix.Close(fd)
		return
	}

	conn := httpconn.New(fd, "", s.isET)
	s.conns[fd] = conn
	if s.cfg.TimeoutMS > 0 {
		s.timer.Add(fd, time.Duration(s.cfg.TimeoutMS)*time.Millisecond, s.onTimerExpire)
	}
	s.logger.Infof("client[%d] in", fd)
}

func (s *Server) onTimerExpire(id int) {
	s.closeOrDefer(id)
}

// closeOrDefer closes fd now unless a worker task is in flight for it, in
// which case the close waits for that task's own requestModify/requestClose
// to drain so a live goroutine never outlives the descriptor it's using.
func (s *Server) closeOrDefer(fd int) {
	if s.busy[fd] {
		s.deferredClose[fd] = true
		return
	}
	s.closeConnLocal(fd)
}

func (s *Server) extendTime(fd int) {
	if s.cfg.TimeoutMS > 0 {
		s.timer.Adjust(fd, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	}
}

func (s *Server) dealRead(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	s.extendTime(fd)
	s.busy[fd] = true
	s.pool.AddTask(func() { s.onRead(conn) })
}

func (s *Server) dealWrite(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	s.extendTime(fd)
	s.busy[fd] = true
	s.pool.AddTask(func() { s.onWrite(conn) })
}

func (s *Server) closeConnLocal(fd int) {
	conn, ok := s.conns[fd]
	if !ok {
		return
	}
	delete(s.conns, fd)
	delete(s.busy, fd)
	delete(s.deferredClose, fd)
	s.timer.Cancel(fd)
	s.mux.Remove(fd)
	conn.Close()
	s.logger.Infof("client[%d] quit", fd)
}

// requestClose lets a worker goroutine ask the reactor to close fd. It is
// safe for concurrent use by any number of worker goroutines.
func (s *Server) requestClose(fd int) {
	s.pendingMu.Lock()
	s.pendingCloses = append(s.pendingCloses, fd)
	s.pendingMu.Unlock()
	s.wakeW.Write([]byte{0})
}

// requestModify lets a worker goroutine ask the reactor to re-arm fd's
// poller interest once its task has finished reading/processing/writing.
func (s *Server) requestModify(fd int, mask poller.Mask) {
	s.pendingMu.Lock()
	s.pendingModify = append(s.pendingModify, modifyRequest{fd: fd, mask: mask})
	s.pendingMu.Unlock()
	s.wakeW.Write([]byte{0})
}

func (s *Server) drainWake() {
	var buf [256]byte
	for {
		_, err := unix.Read(int(s.wakeR.Fd()), buf[:])
		if err != nil {
			break
		}
	}

	s.pendingMu.Lock()
	modifies := s.pendingModify
	closes := s.pendingCloses
	s.pendingModify = nil
	s.pendingCloses = nil
	s.pendingMu.Unlock()

	for _, m := range modifies {
		delete(s.busy, m.fd)
		if _, ok := s.conns[m.fd]; !ok {
			continue
		}
		if s.deferredClose[m.fd] {
			s.closeConnLocal(m.fd)
			continue
		}
		if err := s.mux.Modify(m.fd, m.mask); err != nil {
			s.logger.Warnf("re-arm fd %d: %v", m.fd, err)
		}
	}
	for _, fd := range closes {
		delete(s.busy, fd)
		s.closeConnLocal(fd)
	}
}
