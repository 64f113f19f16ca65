package push

import (
	"os"
	"syscall"
)

// Flock is a simple wrapper to use flock(2) on an open file.
// Lock does not block: acquiring a lock held elsewhere is an error.
type Flock struct {
	*os.File
}

// Lock acquires an exclusive advisory lock on the file.
func (l Flock) Lock() error {
	return syscall.Flock(int(l.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

// Unlock releases the lock.
func (l Flock) Unlock() error {
	return syscall.Flock(int(l.Fd()), syscall.LOCK_UN)
}
