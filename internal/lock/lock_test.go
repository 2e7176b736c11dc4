package lock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileLock_BasicLockUnlock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	l := New(lockPath)

	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("lock file was not created")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "test.lock"))
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock() on unlocked lock should be safe: %v", err)
	}
}

func TestFileLock_TryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	l1 := New(lockPath)
	l2 := New(lockPath)

	acquired, err := l1.TryLock()
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire lock")
	}
	defer l1.Unlock()

	acquired, err = l2.TryLock()
	if err != nil {
		t.Fatalf("second TryLock() failed: %v", err)
	}
	if acquired {
		t.Error("second TryLock() should not acquire a held lock")
	}
}

func TestFileLock_CreatesParentDir(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "nested", "dir", "test.lock")
	l := New(lockPath)
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer l.Unlock()
}

func TestWithLock_SerializesCounter(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(lockPath)
			_ = l.WithLock(func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 10 {
		t.Errorf("counter = %d, want 10", counter)
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	errBoom := os.ErrInvalid
	if err := New(lockPath).WithLock(func() error { return errBoom }); err != errBoom {
		t.Fatalf("WithLock() = %v, want %v", err, errBoom)
	}

	// The lock must be free again.
	acquired, err := New(lockPath).TryLock()
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}
	if !acquired {
		t.Error("lock still held after WithLock returned an error")
	}
}
