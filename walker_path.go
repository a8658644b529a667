package filestream

// walker_path.go implements the traversal backend contract (fsDir) with
// portable stdlib APIs only: os.Open, (*os.File).ReadDir, os.Lstat and
// path joins.
//
// It is the only backend on platforms without descriptor-relative opens and
// the forced backend under [WithoutDirFDs]. Observable behavior matches the
// descriptor backend; the difference is that each child open re-resolves the
// full path, so races with concurrent renames of ancestors are possible.
// Type-change races are still detected (by re-checking after open) and
// handled as vanished entries.

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type pathDir struct {
	f    *os.File
	path string
}

// openPathRootDir opens a root directory for path-based traversal. A root
// that is itself a symlink to a directory is followed; links below the root
// are subject to the walker's symlink policy.
func openPathRootDir(root string) (fsDir, error) {
	f, err := os.Open(root)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	if !fi.IsDir() {
		_ = f.Close()

		return nil, &fs.PathError{Op: "open", Path: root, Err: errTypeChanged}
	}

	return &pathDir{f: f, path: root}, nil
}

func (d *pathDir) ReadDir(n int) ([]fs.DirEntry, error) {
	return d.f.ReadDir(n)
}

func (d *pathDir) OpenDir(name string, follow bool) (fsDir, error) {
	full := filepath.Join(d.path, name)

	if !follow {
		fi, err := os.Lstat(full)
		if err != nil {
			return nil, err
		}

		if fi.Mode()&fs.ModeSymlink != 0 {
			return nil, &fs.PathError{Op: "open", Path: full, Err: errTypeChanged}
		}
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	if !fi.IsDir() {
		_ = f.Close()

		return nil, &fs.PathError{Op: "open", Path: full, Err: errTypeChanged}
	}

	return &pathDir{f: f, path: full}, nil
}

func (d *pathDir) OpenFile(name string, follow bool) (io.ReadCloser, error) {
	full := filepath.Join(d.path, name)

	fi, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}

	if fi.Mode()&fs.ModeSymlink != 0 {
		if !follow {
			return nil, &fs.PathError{Op: "open", Path: full, Err: errTypeChanged}
		}

		fi, err = os.Stat(full)
		if err != nil {
			return nil, err
		}
	}

	// Opening a FIFO would block; anything non-regular is a type change.
	if !fi.Mode().IsRegular() {
		return nil, &fs.PathError{Op: "open", Path: full, Err: errTypeChanged}
	}

	return os.Open(full)
}

func (d *pathDir) Classify(name string, follow bool) (entryClass, error) {
	full := filepath.Join(d.path, name)

	fi, err := os.Lstat(full)
	if err != nil {
		return classOther, err
	}

	if fi.Mode()&fs.ModeSymlink != 0 {
		if !follow {
			return classSymlink, nil
		}

		fi, err = os.Stat(full)
		if err != nil {
			return classOther, err
		}
	}

	return classifyMode(fi.Mode()), nil
}

func (d *pathDir) Path() string {
	return d.path
}

func (d *pathDir) Close() error {
	return d.f.Close()
}

func classifyMode(mode fs.FileMode) entryClass {
	switch {
	case mode.IsDir():
		return classDir
	case mode.IsRegular():
		return classFile
	case mode&fs.ModeSymlink != 0:
		return classSymlink
	default:
		return classOther
	}
}
