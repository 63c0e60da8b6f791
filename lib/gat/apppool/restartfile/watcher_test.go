package restartfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()

	watcher, err := NewWatcher(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if !watcher.TakeDirty() {
		t.Error("a fresh watcher should start dirty")
	}
	if watcher.TakeDirty() {
		t.Error("TakeDirty should reset the flag")
	}

	if err = os.WriteFile(filepath.Join(dir, RestartFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !watcher.TakeDirty() {
		if time.Now().After(deadline) {
			t.Fatal("a write in the watched dir should set the flag")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
