package health

import (
	"path/filepath"
	"testing"
)

func TestAcquireFlock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "ontoflowd.lock")

	f, err := AcquireFlock(lockPath)
	if err != nil {
		t.Fatalf("first lock should succeed: %v", err)
	}
	defer ReleaseFlock(f)

	if _, err := AcquireFlock(lockPath); err == nil {
		t.Fatal("second lock should fail")
	}
}

func TestReleaseFlock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "ontoflowd.lock")

	f, err := AcquireFlock(lockPath)
	if err != nil {
		t.Fatal(err)
	}
	ReleaseFlock(f)

	f2, err := AcquireFlock(lockPath)
	if err != nil {
		t.Fatalf("lock after release should succeed: %v", err)
	}
	ReleaseFlock(f2)
}
