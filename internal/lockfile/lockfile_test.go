package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire_ExclusiveUntilRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "serve.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = Acquire(path)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second Acquire err=%v, want ErrAlreadyLocked", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.PID != os.Getpid() {
		t.Fatalf("held=%+v, want pid %d", held, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestAcquire_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Acquire("  "); err == nil {
		t.Fatalf("expected error")
	}
}
