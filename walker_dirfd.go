//go:build unix

package filestream

// walker_dirfd.go implements the traversal backend contract (fsDir) with
// descriptor-relative syscalls on Unix platforms.
//
// Every open below the root goes through openat/fstatat against the parent
// directory's descriptor, so a path component renamed between enumeration
// and open cannot redirect the walk, and an entry whose type changed is
// caught by O_NOFOLLOW/O_DIRECTORY at open time instead of racing a
// re-resolved string path.

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// dirFDCapable reports compile-time availability of this backend.
const dirFDCapable = true

type fdDir struct {
	f        *os.File
	path     string
	borrowed bool
}

// openRootDir opens the walk root, preferring the descriptor backend unless
// it was disabled. The root itself is opened without O_NOFOLLOW so a root
// given as a symlink to a directory works; symlinks below the root are
// subject to the walker's symlink policy.
func openRootDir(root string, noDirFDs bool) (fsDir, error) {
	if noDirFDs {
		return openPathRootDir(root)
	}

	fd, err := openatRetry(unix.AT_FDCWD, root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: root, Err: err}
	}

	return &fdDir{f: os.NewFile(uintptr(fd), root), path: root}, nil
}

// borrowRootDir wraps an already-open directory handle. The handle stays
// owned by the caller; Close leaves it open.
func borrowRootDir(dir *os.File) (fsDir, error) {
	var st unix.Stat_t

	err := fstatRetry(int(dir.Fd()), &st)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: dir.Name(), Err: err}
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, &fs.PathError{Op: "open", Path: dir.Name(), Err: syscall.ENOTDIR}
	}

	return &fdDir{f: dir, path: dir.Name(), borrowed: true}, nil
}

func (d *fdDir) ReadDir(n int) ([]fs.DirEntry, error) {
	return d.f.ReadDir(n)
}

func (d *fdDir) OpenDir(name string, follow bool) (fsDir, error) {
	flags := unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC
	if !follow {
		flags |= unix.O_NOFOLLOW
	}

	fd, err := openatRetry(int(d.f.Fd()), name, flags)
	if err != nil {
		return nil, &fs.PathError{Op: "openat", Path: childPath(d.path, name), Err: err}
	}

	full := childPath(d.path, name)

	return &fdDir{f: os.NewFile(uintptr(fd), full), path: full}, nil
}

func (d *fdDir) OpenFile(name string, follow bool) (io.ReadCloser, error) {
	// O_NONBLOCK so a FIFO that raced into place cannot block the open;
	// it is meaningless for the regular files this is meant for.
	flags := unix.O_RDONLY | unix.O_CLOEXEC | unix.O_NONBLOCK
	if !follow {
		flags |= unix.O_NOFOLLOW
	}

	fd, err := openatRetry(int(d.f.Fd()), name, flags)
	if err != nil {
		return nil, &fs.PathError{Op: "openat", Path: childPath(d.path, name), Err: err}
	}

	var st unix.Stat_t

	err = fstatRetry(fd, &st)
	if err != nil {
		_ = syscall.Close(fd)

		return nil, &fs.PathError{Op: "stat", Path: childPath(d.path, name), Err: err}
	}

	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		_ = syscall.Close(fd)

		return nil, &fs.PathError{Op: "openat", Path: childPath(d.path, name), Err: errTypeChanged}
	}

	return os.NewFile(uintptr(fd), childPath(d.path, name)), nil
}

func (d *fdDir) Classify(name string, follow bool) (entryClass, error) {
	flags := unix.AT_SYMLINK_NOFOLLOW
	if follow {
		flags = 0
	}

	var st unix.Stat_t

	for {
		err := unix.Fstatat(int(d.f.Fd()), name, &st, flags)
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return classOther, &fs.PathError{Op: "fstatat", Path: childPath(d.path, name), Err: err}
		}

		break
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return classDir, nil
	case unix.S_IFREG:
		return classFile, nil
	case unix.S_IFLNK:
		return classSymlink, nil
	default:
		return classOther, nil
	}
}

func (d *fdDir) Path() string {
	return d.path
}

func (d *fdDir) Close() error {
	if d.borrowed {
		return nil
	}

	return d.f.Close()
}

// isRaceErrno reports errnos produced when an entry changed type under the
// O_NOFOLLOW/O_DIRECTORY discipline: a directory replaced by a file
// (ENOTDIR) or by a symlink (ELOOP).
func isRaceErrno(err error) bool {
	return errors.Is(err, unix.ENOTDIR) || errors.Is(err, unix.ELOOP)
}

func openatRetry(dirfd int, name string, flags int) (int, error) {
	for {
		fd, err := unix.Openat(dirfd, name, flags, 0)
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return -1, err
		}

		return fd, nil
	}
}

func fstatRetry(fd int, st *unix.Stat_t) error {
	for {
		err := unix.Fstat(fd, st)
		if err == unix.EINTR {
			continue
		}

		return err
	}
}

func childPath(dir, name string) string {
	return filepath.Join(dir, name)
}
