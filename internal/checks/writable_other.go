//go:build !unix

package checks

import "os"

// canWrite probes writability by creating and removing a temporary file.
func canWrite(path string) bool {
	f, err := os.CreateTemp(path, ".deployaudit-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
