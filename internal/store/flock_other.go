//go:build !unix

package store

import "os"

// Advisory locking is a no-op where flock(2) is unavailable; the rename
// in Save is still atomic there.
func lockExclusive(_ *os.File) error { return nil }

func unlock(_ *os.File) error { return nil }
