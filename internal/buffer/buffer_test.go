package buffer

import (
	"bytes"
	"os"
	"testing"
)

func TestAppendRetrieveRoundTrip(t *testing.T) {
	b := New(8)
	var want bytes.Buffer
	var got bytes.Buffer

	chunks := []string{"hello ", "world", "!", "0123456789"}
	for _, c := range chunks {
		b.AppendString(c)
		want.WriteString(c)
	}

	for b.ReadableBytes() > 0 {
		n := b.ReadableBytes()
		if n > 3 {
			n = 3
		}
		got.Write(b.Peek()[:n])
		if err := b.Retrieve(n); err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
	}

	if got.String() != want.String() {
		t.Fatalf("round trip mismatch: got %q want %q", got.String(), want.String())
	}
}

func TestEnsureWritableGrows(t *testing.T) {
	b := New(4)
	b.EnsureWritable(100)
	if b.WritableBytes() < 100 {
		t.Fatalf("WritableBytes() = %d, want >= 100", b.WritableBytes())
	}
}

func TestEnsureWritableCompactsBeforeGrowing(t *testing.T) {
	b := New(16)
	b.AppendString("0123456789")
	if err := b.Retrieve(8); err != nil {
		t.Fatal(err)
	}
	capBefore := len(b.buf)
	// Only 2 bytes readable, 6 writable, 8 prependable: 8 more bytes fits
	// via compaction without growth.
	b.EnsureWritable(8)
	if len(b.buf) != capBefore {
		t.Fatalf("expected compaction to avoid growth, cap went from %d to %d", capBefore, len(b.buf))
	}
	if b.PrependableBytes() != 0 {
		t.Fatalf("PrependableBytes() = %d after compaction, want 0", b.PrependableBytes())
	}
}

func TestRetrieveAllResetsCursors(t *testing.T) {
	b := New(16)
	b.AppendString("abc")
	b.Retrieve(1)
	b.RetrieveAll()
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d, want 0", b.ReadableBytes())
	}
	if b.PrependableBytes() != 0 {
		t.Fatalf("PrependableBytes() = %d, want 0", b.PrependableBytes())
	}
}

func TestRetrieveTooMuch(t *testing.T) {
	b := New(16)
	b.AppendString("ab")
	if err := b.Retrieve(3); err != ErrRetrieveTooMuch {
		t.Fatalf("Retrieve(3) = %v, want ErrRetrieveTooMuch", err)
	}
}

func TestTakeAllAsString(t *testing.T) {
	b := New(16)
	b.AppendString("payload")
	s := b.TakeAllAsString()
	if s != "payload" {
		t.Fatalf("TakeAllAsString() = %q", s)
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("buffer not reset after TakeAllAsString")
	}
}

func TestReadFromFDScatterRead(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	payload := bytes.Repeat([]byte("x"), 5000)
	go func() {
		w.Write(payload)
		w.Close()
	}()

	b := New(1024) // smaller than payload, forces overflow into scratch
	writableBefore := b.WritableBytes()

	total := 0
	for total < len(payload) {
		n, err := b.ReadFromFD(int(r.Fd()))
		if err != nil {
			t.Fatalf("ReadFromFD: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}

	if b.ReadableBytes() != len(payload) {
		t.Fatalf("ReadableBytes() = %d, want %d", b.ReadableBytes(), len(payload))
	}
	if !bytes.Equal(b.Peek(), payload) {
		t.Fatalf("content mismatch after scatter read")
	}
	_ = writableBefore
}

func TestWriteToFD(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	b := New(16)
	b.AppendString("written-out")

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := r.Read(buf)
		done <- buf[:n]
	}()

	n, err := b.WriteToFD(int(w.Fd()))
	if err != nil {
		t.Fatalf("WriteToFD: %v", err)
	}
	if n != len("written-out") {
		t.Fatalf("WriteToFD() = %d, want %d", n, len("written-out"))
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d after full write, want 0", b.ReadableBytes())
	}

	got := <-done
	if string(got) != "written-out" {
		t.Fatalf("pipe received %q", got)
	}
}
