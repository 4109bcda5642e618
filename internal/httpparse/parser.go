// Package httpparse is the HTTP/1.1 request parser and response serializer
// the reactor core treats as an external collaborator (spec §1/§6). It reads
// directly from a *buffer.Buffer's readable region and writes a response
// into another *buffer.Buffer, so request/response bytes never leave the
// buffer ownership model described in §3/§5.
package httpparse

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reactord/reactord/internal/buffer"
	"github.com/reactord/reactord/internal/dbpool"
	"github.com/reactord/reactord/internal/resource"
)

var headerTerminator = []byte("\r\n\r\n")

// apiPrefix marks dynamic endpoints backed by the DB pool. Everything else
// is served as a static file via the Resolver. The authentication schema
// itself is explicitly out of scope (spec §1); this is the thin dynamic
// surface the spec's "small dynamic endpoints" describes.
const apiPrefix = "/api/"

// Request is the minimal parsed request the response stage needs.
type Request struct {
	Method     string
	Path       string
	Version    string
	KeepAlive  bool
	Host       string
}

// Outcome reports what Process did, mirroring the §6 Parser interface:
// process(read_buf) -> (done, response_written, keep_alive).
type Outcome struct {
	Done            bool // a complete request was recognized (success or error response)
	ResponseWritten bool
	KeepAlive       bool
	FileRegion      *resource.Region // optional; caller must Close once flushed
}

// Process attempts to parse one complete HTTP/1.1 request from req's
// readable region. If the header block isn't fully buffered yet, it returns
// Outcome{Done: false} and leaves both buffers untouched so the caller waits
// for more input; once more than maxRequestHeader bytes are buffered without
// a terminator, it instead consumes them and answers 400 with Done: true.
// On a complete request it consumes the request bytes, writes a full
// response (status line, headers, optional body) into resp, and returns
// Done: true with ResponseWritten reflecting whether resp actually gained
// bytes (it always does here, HEAD included, since HEAD still writes the
// status line and headers; the field exists for parity with the spec's
// interface).
func Process(req, resp *buffer.Buffer, resolver *resource.Resolver, db *dbpool.Pool) (Outcome, error) {
	readable := req.Peek()
	idx := bytes.Index(readable, headerTerminator)
	if idx < 0 {
		if len(readable) > maxRequestHeader {
			body := []byte("<html><body>400 Bad Request</body></html>")
			writeStatus(resp, 400, "Bad Request", nil, len(body), false, body)
			_ = req.Retrieve(len(readable))
			return Outcome{Done: true, ResponseWritten: true, KeepAlive: false}, nil
		}
		return Outcome{Done: false}, nil
	}

	headerBlock := readable[:idx]
	consumed := idx + len(headerTerminator)

	r, err := parseHeaderBlock(headerBlock)
	if err != nil {
		_ = req.Retrieve(consumed)
		body := []byte("<html><body>400 Bad Request</body></html>")
		writeStatus(resp, 400, "Bad Request", nil, len(body), false, body)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: false}, nil
	}
	_ = req.Retrieve(consumed)

	if r.Method != "GET" && r.Method != "HEAD" {
		body := []byte("<html><body>400 Bad Request</body></html>")
		writeStatus(resp, 400, "Bad Request", nil, len(body), r.KeepAlive, body)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}, nil
	}

	if strings.HasPrefix(r.Path, apiPrefix) {
		return serveAPI(resp, r, db), nil
	}
	return serveStatic(resp, r, resolver)
}

// maxRequestHeader bounds how much unterminated header data we'll buffer
// before rejecting the request as malformed, preventing an unbounded read
// buffer growth from a client that never sends \r\n\r\n.
const maxRequestHeader = 256 * 1024

func parseHeaderBlock(block []byte) (Request, error) {
	lines := bytes.Split(block, []byte("\r\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return Request{}, fmt.Errorf("httpparse: empty request line")
	}

	parts := strings.Fields(string(lines[0]))
	if len(parts) != 3 {
		return Request{}, fmt.Errorf("httpparse: malformed request line %q", lines[0])
	}

	r := Request{Method: parts[0], Path: parts[1], Version: parts[2], KeepAlive: parts[2] == "HTTP/1.1"}

	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		k, v, ok := strings.Cut(string(line), ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch strings.ToLower(k) {
		case "host":
			r.Host = v
		case "connection":
			switch strings.ToLower(v) {
			case "keep-alive":
				r.KeepAlive = true
			case "close":
				r.KeepAlive = false
			}
		}
	}
	return r, nil
}

func serveStatic(resp *buffer.Buffer, r Request, resolver *resource.Resolver) (Outcome, error) {
	region, err := resolver.Resolve(r.Path)
	switch err {
	case nil:
		headers := map[string]string{"Content-Type": region.ContentType}
		if r.Method == "HEAD" {
			writeStatus(resp, 200, "OK", headers, len(region.Data), r.KeepAlive, nil)
			region.Close()
			return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}, nil
		}
		writeStatus(resp, 200, "OK", headers, len(region.Data), r.KeepAlive, nil)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive, FileRegion: region}, nil
	case resource.ErrNotFound:
		body := []byte("<html><body>404 Not Found</body></html>")
		writeStatus(resp, 404, "Not Found", nil, len(body), r.KeepAlive, body)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}, nil
	case resource.ErrForbidden:
		body := []byte("<html><body>403 Forbidden</body></html>")
		writeStatus(resp, 403, "Forbidden", nil, len(body), r.KeepAlive, body)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}, nil
	default:
		writeStatus(resp, 500, "Internal Server Error", nil, 0, false, nil)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: false}, nil
	}
}

func serveAPI(resp *buffer.Buffer, r Request, db *dbpool.Pool) Outcome {
	if db == nil {
		body := []byte(`{"error":"no database configured"}`)
		writeStatus(resp, 503, "Service Unavailable", nil, len(body), r.KeepAlive, body)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	h, err := db.Acquire(ctx)
	if err != nil {
		body := []byte(`{"error":"pool exhausted"}`)
		writeStatus(resp, 503, "Service Unavailable", nil, len(body), r.KeepAlive, body)
		return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}
	}
	defer db.Release(h)

	if sqlDB, ok := h.(*sql.DB); ok {
		if err := sqlDB.PingContext(ctx); err != nil {
			body := []byte(`{"error":"db unreachable"}`)
			writeStatus(resp, 500, "Internal Server Error", nil, len(body), false, body)
			return Outcome{Done: true, ResponseWritten: true, KeepAlive: false}
		}
	}

	body := []byte(`{"ok":true}`)
	headers := map[string]string{"Content-Type": "application/json"}
	writeStatus(resp, 200, "OK", headers, len(body), r.KeepAlive, body)
	return Outcome{Done: true, ResponseWritten: true, KeepAlive: r.KeepAlive}
}

// writeStatus writes a status line, headers, Content-Length and Connection
// header, and (if non-nil) an inline body into resp. contentLength must
// match the eventual body size even when body is nil (e.g. a file region
// written separately by the caller via writev).
func writeStatus(resp *buffer.Buffer, code int, reason string, headers map[string]string, contentLength int, keepAlive bool, body []byte) {
	resp.AppendString("HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n")
	for k, v := range headers {
		resp.AppendString(k + ": " + v + "\r\n")
	}
	resp.AppendString("Content-Length: " + strconv.Itoa(contentLength) + "\r\n")
	if keepAlive {
		resp.AppendString("Connection: keep-alive\r\n\r\n")
	} else {
		resp.AppendString("Connection: close\r\n\r\n")
	}
	if len(body) != 0 {
		resp.Append(body)
	}
}
