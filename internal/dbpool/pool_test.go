package dbpool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	id     int
	closed bool
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

func newFakePool(size int) (*Pool, []*fakeHandle) {
	handles := make([]*fakeHandle, size)
	generic := make([]Handle, size)
	for i := range handles {
		handles[i] = &fakeHandle{id: i}
		generic[i] = handles[i]
	}
	return OpenWithHandles(generic), handles
}

func TestAcquireReleaseIsIdentityOnMultiset(t *testing.T) {
	p, _ := newFakePool(3)

	ctx := context.Background()
	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	p.Release(h1)
	p.Release(h2)

	// After releasing both, three acquires should succeed without blocking.
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		p.Release(h)
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	p, _ := newFakePool(2)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := p.Acquire(ctx2); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire succeeded while pool was at capacity")
	case <-time.After(100 * time.Millisecond):
	}

	p.Release(h1)
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Acquire never unblocked after Release")
	}
	_ = h2
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p, _ := newFakePool(1)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(h)

	cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(cctx); err != ErrPoolExhausted {
		t.Fatalf("Acquire on cancelled ctx = %v, want ErrPoolExhausted", err)
	}
}

func TestAtMostSizeConcurrentAcquisitions(t *testing.T) {
	const size = 4
	p, _ := newFakePool(size)

	var mu sync.Mutex
	var active, maxActive int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			p.Release(h)
		}()
	}
	wg.Wait()

	if maxActive > size {
		t.Fatalf("maxActive = %d, want <= %d", maxActive, size)
	}
}

// TestOpenRegistersMySQLDriver drives the real Open path (not the
// OpenWithHandles fake) against an address nothing listens on. Without the
// go-sql-driver/mysql blank import, sql.Open itself fails immediately with
// "unknown driver \"mysql\""; with it registered, Open gets as far as a
// real (fast, local) dial failure during Ping instead.
func TestOpenRegistersMySQLDriver(t *testing.T) {
	_, err := Open("127.0.0.1", 1, "user", "pwd", "db", 1)
	if err == nil {
		t.Fatal("Open against an unreachable host unexpectedly succeeded")
	}
	if strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("Open() = %v, mysql driver not registered", err)
	}
}

func TestCloseDrainsAndClosesAllHandles(t *testing.T) {
	p, handles := newFakePool(3)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	for i, h := range handles {
		if !h.closed {
			t.Fatalf("handle %d not closed", i)
		}
	}
	if _, err := p.Acquire(context.Background()); err != ErrClosed {
		t.Fatalf("Acquire after Close = %v, want ErrClosed", err)
	}
}
