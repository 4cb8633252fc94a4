//go:build unix

package store

import (
	"os"
	"syscall"
)

// lockExclusive takes a blocking exclusive advisory lock via flock(2).
// The lock is released on unlock or when the process exits.
func lockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
