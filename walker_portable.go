//go:build !unix

package filestream

// walker_portable.go selects the path-based backend on platforms without
// descriptor-relative opens (windows and friends). The traversal pipeline
// is identical; only the I/O primitives differ.

import "os"

// dirFDCapable reports compile-time availability of the descriptor backend.
const dirFDCapable = false

func openRootDir(root string, _ bool) (fsDir, error) {
	return openPathRootDir(root)
}

func borrowRootDir(*os.File) (fsDir, error) {
	return nil, ErrHandleWalkUnsupported
}

func isRaceErrno(error) bool {
	return false
}
