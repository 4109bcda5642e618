package httpconn

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/reactord/reactord/internal/resource"
)

func newResolver(t *testing.T) *resource.Resolver {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, resource.DefaultIndex), []byte("smoke-index"), 0o644); err != nil {
		t.Fatal(err)
	}
	return resource.New(dir)
}

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	return fds[0], fds[1]
}

func TestNewIncrementsUserCountCloseDecrements(t *testing.T) {
	before := UserCount()

	a, b := socketpair(t)
	defer unix.Close(b)

	c := New(a, "127.0.0.1:1", false)
	if UserCount() != before+1 {
		t.Fatalf("UserCount() = %d, want %d", UserCount(), before+1)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if UserCount() != before {
		t.Fatalf("UserCount() after Close = %d, want %d", UserCount(), before)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	c := New(a, "127.0.0.1:1", false)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}

func TestSmokeGetRoundTrip(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	c := New(a, "127.0.0.1:1", false)
	defer c.Close()

	if _, err := unix.Write(b, []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}

	resolver := newResolver(t)
	done, err := c.Process(resolver, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("Process() = false, want true")
	}

	for c.ToWriteBytes() > 0 {
		if _, err := c.Write(); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got := make([]byte, 4096)
	n, err := unix.Read(b, got)
	if err != nil {
		t.Fatal(err)
	}
	resp := string(got[:n])
	if !contains(resp, "200 OK") || !contains(resp, "smoke-index") {
		t.Fatalf("response = %q", resp)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
