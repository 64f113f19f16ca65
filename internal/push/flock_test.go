package push

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestFlock(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "pair.lock")
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Create a context with a timeout to prevent hangs
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Hold the lock from an external process for a moment
	cmd := exec.CommandContext(ctx, "flock", lockPath, "sleep", "0.2")
	err = cmd.Start()
	if err != nil {
		t.Skip()
		return
	}
	time.Sleep(100 * time.Millisecond)

	fl := Flock{f}
	if err = fl.Lock(); err == nil {
		t.Error(`err = fl.Lock(); err == nil`)
	} else {
		t.Log(err)
	}

	err = cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatal("test timed out waiting for external flock command")
	}
	if err != nil {
		t.Logf("external flock command exited with error: %v", err)
	}

	if err = fl.Lock(); err != nil {
		t.Fatal(err)
	}
	if err = fl.Unlock(); err != nil {
		t.Error(err)
	}
}
