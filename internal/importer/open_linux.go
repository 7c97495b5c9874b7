//go:build linux

package importer

import (
	"os"

	"golang.org/x/sys/unix"
)

// openCSV opens path and tells the kernel the whole file will be read once,
// front to back. The hints are best effort.
func openCSV(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_WILLNEED)
	return f, nil
}
