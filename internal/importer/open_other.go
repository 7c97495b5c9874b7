//go:build !linux

package importer

import "os"

func openCSV(path string) (*os.File, error) { return os.Open(path) }
