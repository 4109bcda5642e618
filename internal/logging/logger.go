// Package logging is the reactor's asynchronous, level-filtered log sink.
// A bounded channel of records ("the queue") is drained by a single
// goroutine into a zap.Logger, decoupling the reactor and worker goroutines
// from log formatting/IO cost. Disabled entirely when open_log is false.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the four LOG_* severities of the original implementation.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type record struct {
	level Level
	msg   string
	args  []interface{}
}

// Logger is an asynchronous, level-filtered sink. The zero value is not
// usable; construct with New.
type Logger struct {
	queue  chan record
	done   chan struct{}
	wg     sync.WaitGroup
	level  Level
	zap    *zap.SugaredLogger
	closed bool
	mu     sync.Mutex
}

// New builds a Logger. If open is false, logging calls are no-ops. level is
// the minimum severity that reaches the sink. queueSize bounds the async
// channel (<=0 means 1024); a record logged while the queue is full is
// dropped, so a logging call never blocks its caller.
func New(open bool, level Level, queueSize int) *Logger {
	if !open {
		return &Logger{closed: true}
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	zl, err := zcfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}

	l := &Logger{
		queue: make(chan record, queueSize),
		done:  make(chan struct{}),
		level: level,
		zap:   zl.Sugar(),
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for {
		select {
		case r, ok := <-l.queue:
			if !ok {
				return
			}
			l.emit(r)
		case <-l.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case r := <-l.queue:
					l.emit(r)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(r record) {
	switch r.level {
	case Debug:
		l.zap.Debugf(r.msg, r.args...)
	case Warn:
		l.zap.Warnf(r.msg, r.args...)
	case Error:
		l.zap.Errorf(r.msg, r.args...)
	default:
		l.zap.Infof(r.msg, r.args...)
	}
}

func (l *Logger) enqueue(level Level, msg string, args ...interface{}) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed || level < l.level {
		return
	}
	select {
	case l.queue <- record{level: level, msg: msg, args: args}:
	default:
		// Queue full: the sink is falling behind. Drop rather than block
		// the reactor or a worker, per the "asynchronous" contract.
	}
}

func (l *Logger) Debugf(msg string, args ...interface{}) { l.enqueue(Debug, msg, args...) }
func (l *Logger) Infof(msg string, args ...interface{})  { l.enqueue(Info, msg, args...) }
func (l *Logger) Warnf(msg string, args ...interface{})  { l.enqueue(Warn, msg, args...) }
func (l *Logger) Errorf(msg string, args ...interface{}) { l.enqueue(Error, msg, args...) }

// Close stops accepting new records, drains the queue, and waits for the
// background goroutine to exit.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.done == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.zap.Sync()
}
