package resource

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveIndexDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefaultIndex, "<html>hi</html>")

	rs := New(dir)
	reg, err := rs.Resolve("/")
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	if string(reg.Data) != "<html>hi</html>" {
		t.Fatalf("Data = %q", reg.Data)
	}
	if reg.ContentType != "text/html" {
		t.Fatalf("ContentType = %q", reg.ContentType)
	}
}

func TestResolveNotFound(t *testing.T) {
	rs := New(t.TempDir())
	if _, err := rs.Resolve("/missing.html"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	rs := New(t.TempDir())
	if _, err := rs.Resolve("/../../etc/passwd"); err != ErrForbidden {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestResolveRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	rs := New(dir)
	if _, err := rs.Resolve("/sub"); err != ErrForbidden {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestResolveEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.txt", "")
	rs := New(dir)
	reg, err := rs.Resolve("/empty.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	if len(reg.Data) != 0 {
		t.Fatalf("Data = %v, want empty", reg.Data)
	}
}
