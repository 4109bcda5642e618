// Command reactord runs the reactor HTTP server. Flags map 1:1 onto
// original_source/webserver.cpp's WebServer constructor parameters; signal
// handling follows the os/signal.Notify style used throughout the example
// pack's raw-epoll servers.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/reactord/reactord/internal/logging"
	"github.com/reactord/reactord/internal/reactor"
)

func main() {
	def := reactor.DefaultConfig()

	port := flag.Int("port", def.Port, "listen port (0 = ephemeral)")
	trigMode := flag.Int("trig-mode", def.TrigMode, "0=LT/LT 1=LT/ET 2=ET/LT 3=ET/ET")
	timeoutMS := flag.Int("timeout-ms", def.TimeoutMS, "idle connection timeout in ms, <=0 disables eviction")
	optLinger := flag.Bool("opt-linger", def.OptLinger, "enable SO_LINGER on close")
	maxFD := flag.Int("max-fd", def.MaxFD, "max concurrent connections")

	sqlHost := flag.String("sql-host", "", "MySQL host; empty disables the DB pool and /api/ endpoints")
	sqlPort := flag.Int("sql-port", 3306, "MySQL port")
	sqlUser := flag.String("sql-user", "", "MySQL user")
	sqlPwd := flag.String("sql-pwd", "", "MySQL password")
	sqlDB := flag.String("sql-db", "", "MySQL database name")
	connPoolNum := flag.Int("conn-pool-num", def.ConnPoolNum, "DB connection pool size")

	threadNum := flag.Int("thread-num", def.ThreadNum, "worker pool size")
	srcDir := flag.String("src-dir", "", "static resource root; empty defaults to cwd/resources/")

	openLog := flag.Bool("open-log", def.OpenLog, "enable async logging")
	logLevel := flag.Int("log-level", int(def.LogLevel), "0=debug 1=info 2=warn 3=error")
	logQueueSize := flag.Int("log-queue-size", def.LogQueueSize, "async log queue depth")

	flag.Parse()

	cfg := reactor.Config{
		Port:         *port,
		TrigMode:     *trigMode,
		TimeoutMS:    *timeoutMS,
		OptLinger:    *optLinger,
		MaxFD:        *maxFD,
		SQLHost:      *sqlHost,
		SQLPort:      *sqlPort,
		SQLUser:      *sqlUser,
		SQLPwd:       *sqlPwd,
		SQLDB:        *sqlDB,
		ConnPoolNum:  *connPoolNum,
		ThreadNum:    *threadNum,
		SrcDir:       *srcDir,
		OpenLog:      *openLog,
		LogLevel:     logging.Level(*logLevel),
		LogQueueSize: *logQueueSize,
	}

	srv, err := reactor.New(cfg)
	if err != nil {
		log.Fatalf("reactord: init: %v", err)
	}
	if err := srv.Bind(); err != nil {
		log.Fatalf("reactord: bind: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Println("reactord: shutting down...")
		srv.Stop()
	}()

	log.Printf("reactord: listening on port %d", srv.Port())
	if err := srv.Run(); err != nil {
		log.Printf("reactord: run: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("reactord: close: %v", err)
	}
}
