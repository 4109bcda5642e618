package logging

import "testing"

func TestDisabledLoggerIsNoop(t *testing.T) {
	l := New(false, Info, 16)
	// Must not panic or block even though the queue/zap logger are nil.
	l.Infof("hello %d", 1)
	l.Errorf("world")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestEnabledLoggerDrainsAndCloses(t *testing.T) {
	l := New(true, Debug, 16)
	for i := 0; i < 10; i++ {
		l.Infof("message %d", i)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	// Closing twice must be safe.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestLevelFiltering(t *testing.T) {
	l := New(true, Warn, 16)
	defer l.Close()
	// Below-threshold calls must not panic or deadlock the queue.
	l.Debugf("dropped")
	l.Infof("dropped")
	l.Warnf("kept")
	l.Errorf("kept")
}
