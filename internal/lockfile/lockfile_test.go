package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	file, err := os.Open(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Lock file was not created: %v", err)
	}
	defer file.Close()
	holder, err := readHolder(file)
	if err != nil {
		t.Fatalf("Failed to read holder: %v", err)
	}
	if holder.PID != os.Getpid() || holder.StartedAt.IsZero() {
		t.Errorf("unexpected holder %+v", holder)
	}
	if !holder.Running() {
		t.Error("expected own process to be reported running")
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()
	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts just like another process would.
	lock2, err := AcquireLock(dir)
	if err == nil {
		lock2.Release()
		t.Fatal("Expected second acquisition to fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("Expected holder pid %d, got %d", os.Getpid(), lockErr.Holder.PID)
	}
	if !errors.Is(err, syscall.EWOULDBLOCK) {
		t.Errorf("Expected EWOULDBLOCK cause, got %v", lockErr.Cause)
	}
	if !strings.Contains(err.Error(), "held by pid") {
		t.Errorf("Expected running holder in message, got %q", err.Error())
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("Expected lock file to be removed")
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	again.Release()
}

func TestLockErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		holder Holder
		want   string
	}{
		{"unknown holder", Holder{}, "another KakeruBot instance"},
		{"gone holder", Holder{PID: 1 << 30}, "is gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &LockError{LockPath: "/tmp/x/" + LockFileName, Holder: tt.holder}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestAcquireLockCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected state dir to exist: %v", err)
	}
}
