//go:build windows

package ops

import "os"

// openFileNoFollow opens an export file.
// O_NOFOLLOW is not available on Windows; ValidatePath rejects symlinks before this point.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
