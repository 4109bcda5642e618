// Package resource resolves a URL path to a memory-mapped region under the
// server's resource root (cwd/resources/, per spec §6), standing in for the
// "static file resolver" the core reactor treats as an external collaborator.
package resource

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNotFound is returned when the resolved path does not exist under Root.
var ErrNotFound = errors.New("resource: not found")

// ErrForbidden is returned for paths that escape Root (e.g. "..").
var ErrForbidden = errors.New("resource: forbidden")

// DefaultIndex is served for a request path of "/".
const DefaultIndex = "index.html"

// Resolver maps URL paths to files under Root.
type Resolver struct {
	Root string
}

// New returns a Resolver rooted at root (typically cwd + "/resources/").
func New(root string) *Resolver {
	return &Resolver{Root: root}
}

// Region is an mmapped file region. Callers must call Close once the bytes
// are no longer needed (e.g. once a response has been fully flushed, or the
// owning HTTP connection is closed — see SPEC_FULL.md §9 on retaining a
// mapping across reactor turns while write() is EAGAIN-ing).
type Region struct {
	Data        []byte
	ContentType string
}

// Close unmaps the region. Safe to call multiple times.
func (r *Region) Close() error {
	if r.Data == nil {
		return nil
	}
	err := unix.Munmap(r.Data)
	r.Data = nil
	return err
}

// Resolve maps urlPath (e.g. "/index.html" or "/") to a Region.
func (rs *Resolver) Resolve(urlPath string) (*Region, error) {
	if urlPath == "" || urlPath == "/" {
		urlPath = "/" + DefaultIndex
	}

	// Checked before Clean: Clean drops a rooted path's leading "..", which
	// would hide the traversal attempt.
	if strings.Contains(urlPath, "..") {
		return nil, ErrForbidden
	}
	clean := filepath.Clean(urlPath)

	full := filepath.Join(rs.Root, clean)
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, ErrForbidden
	}
	if fi.Size() == 0 {
		return &Region{Data: nil, ContentType: contentType(clean)}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Region{Data: data, ContentType: contentType(clean)}, nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".ico":
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}
