package reactor

import (
	"github.com/reactord/reactord/internal/logging"
	"github.com/reactord/reactord/internal/poller"
)

// Config mirrors original_source/webserver.cpp's WebServer constructor
// parameter list almost 1:1 (spec §4.G / §6).
type Config struct {
	// Port to bind. 0 asks the kernel for an ephemeral port, which Bind
	// then reports via Server.Port() -- useful for tests driving the
	// server over a real loopback socket without a fixed port. Any other
	// value below 1024 is rejected, matching the original's
	// unprivileged-port check.
	Port int

	// TrigMode selects edge/level-triggered interest for the listener and
	// per-connection sockets: 0 LT/LT, 1 LT/ET, 2 ET/LT, 3 ET/ET. Any
	// other value behaves like 3, matching the original's default case.
	TrigMode int

	// TimeoutMS is the idle-connection eviction window. <=0 disables
	// eviction (epoll_wait blocks indefinitely).
	TimeoutMS int

	// OptLinger enables SO_LINGER with a 1 second timeout so a close
	// flushes pending writes instead of resetting the connection.
	OptLinger bool

	// MaxFD bounds concurrent connections. Past this, new accepts get the
	// literal "Server busy!" response and are closed immediately.
	MaxFD int

	// SQLHost/SQLPort/SQLUser/SQLPwd/SQLDB/ConnPoolNum configure the DB
	// pool (internal/dbpool). SQLHost == "" disables the pool entirely;
	// /api/ endpoints then answer 503 instead of dialing a database.
	SQLHost     string
	SQLPort     int
	SQLUser     string
	SQLPwd      string
	SQLDB       string
	ConnPoolNum int

	// ThreadNum sizes the worker pool (internal/workerpool).
	ThreadNum int

	// SrcDir is the static resource root. Empty defaults to cwd +
	// "/resources/" per the original's srcDir_ construction.
	SrcDir string

	// OpenLog/LogLevel/LogQueueSize configure internal/logging.
	OpenLog      bool
	LogLevel     logging.Level
	LogQueueSize int
}

// DefaultConfig returns a Config with the same defaults the original
// binary's main() passes to WebServer's constructor, adapted to Go-idiomatic
// zero values where sensible.
func DefaultConfig() Config {
	return Config{
		Port:        1316,
		TrigMode:    3,
		TimeoutMS:   60000,
		OptLinger:   false,
		MaxFD:       65536,
		ConnPoolNum: 8,
		ThreadNum:   8,
		SrcDir:      "",
		OpenLog:     true,
		LogLevel:    logging.Info,
		LogQueueSize: 1024,
	}
}

// initEventMode translates trigMode into listener/connection interest masks
// and the derived isET flag, mirroring InitEventMode_ in
// original_source/webserver.cpp.
func initEventMode(trigMode int) (listenEvent, connEvent poller.Mask, isET bool) {
	listenEvent = poller.RDHup
	connEvent = poller.Oneshot | poller.RDHup
	switch trigMode {
	case 0:
	case 1:
		connEvent |= poller.Edge
	case 2:
		listenEvent |= poller.Edge
	case 3:
		listenEvent |= poller.Edge
		connEvent |= poller.Edge
	default:
		listenEvent |= poller.Edge
		connEvent |= poller.Edge
	}
	isET = connEvent&poller.Edge != 0
	return
}
