//go:build unix

package pkgproxy

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// errJournalBusy is returned when another process holds the journal lock.
var errJournalBusy = errors.New("journal is locked by another process")

// lockFile takes a non-blocking exclusive flock on f.
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return errJournalBusy
	}
	return err
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
