//go:build unix

package checks

import "golang.org/x/sys/unix"

// canWrite asks the kernel whether the current process may write to path,
// honouring ownership, ACLs and read-only mounts.
func canWrite(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
