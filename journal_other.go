//go:build !unix

package pkgproxy

import "os"

// Advisory locking is only available on unix; elsewhere journals are not
// protected against a second writer.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
