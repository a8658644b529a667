package filestream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// IOError is returned when a filesystem operation fails during a walk or
// while encoding.
type IOError struct {
	// Path is the slash-separated path relative to the walk root. The root
	// itself is reported as ".".
	Path string
	// Op is the operation that failed: "open", "readdir", "stat", "read",
	// or "close".
	Op string
	// Err is the underlying error.
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ErrClosed is returned by [Walker.Next] and [Encoder.NextChunk] after Close.
var ErrClosed = errors.New("already closed")

// ErrHandleWalkUnsupported is returned by [WalkHandle] when
// descriptor-relative traversal is unavailable: either the platform lacks
// it, or it was disabled with [WithoutDirFDs].
var ErrHandleWalkUnsupported = errors.New("walking an open directory handle requires descriptor-relative traversal")

// errTypeChanged marks an entry whose type changed between enumeration and
// open. Treated like a vanished entry: skipped, never surfaced.
var errTypeChanged = errors.New("entry type changed during walk")

// EntryKind distinguishes files from directory placeholder entries.
type EntryKind uint8

const (
	// EntryFile is a regular file (or, under [WithFollowSymlinks], a
	// symlink resolving to one).
	EntryFile EntryKind = iota

	// EntryDirectory is a directory entry. Directory entries carry no
	// content; they exist so consumers always observe every container of
	// a reported file.
	EntryDirectory
)

func (k EntryKind) String() string {
	if k == EntryDirectory {
		return "directory"
	}

	return "file"
}

// Entry is one filesystem node produced by a [Walker].
//
// Entries are transient: the borrowed parent-directory handle backing
// [Entry.Open] is owned by the walker and stays valid only until the walker
// advances past the containing directory. Open content before the next Next
// call; the [Encoder] does exactly that.
type Entry struct {
	// Kind is EntryFile or EntryDirectory.
	Kind EntryKind
	// AbsPath is the walk root joined with RelPath. It is absolute if and
	// only if the root path was.
	AbsPath string
	// RelPath is the slash-separated path relative to the walk root.
	// The root directory itself has RelPath ".".
	RelPath string
	// Name is the base name of the entry.
	Name string

	parent fsDir // borrowed from the walker; nil for directory entries
	follow bool
}

// Open opens the file for reading.
//
// Where the platform supports it, the open is performed relative to the
// already-open parent directory handle, so a concurrent rename of an
// ancestor cannot redirect it. The caller owns the returned handle.
//
// Open returns an error for directory entries.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.Kind != EntryFile {
		return nil, &IOError{Path: e.RelPath, Op: "open", Err: errors.New("not a file")}
	}

	if e.parent == nil {
		return os.Open(e.AbsPath)
	}

	return e.parent.OpenFile(e.Name, e.follow)
}

// walkReadDirBatch is the number of directory entries requested per readdir
// call. Batching keeps syscall counts low without holding a whole huge
// directory listing when only a prefix is ever consumed.
const walkReadDirBatch = 512

// fsDir is the traversal backend contract: an open directory that can
// enumerate itself and open its children.
//
// Two implementations exist: a descriptor-relative one (openat/fstatat,
// unix only, see walk_dirfd.go) and a portable path-based one. Which one a
// walker uses is decided once at construction; see [WithoutDirFDs].
type fsDir interface {
	// ReadDir returns the next batch of entries, io.EOF on exhaustion.
	ReadDir(n int) ([]fs.DirEntry, error)

	// OpenDir opens a child directory. Unless follow is set, a child that
	// is (or became) a symlink fails with ELOOP rather than being
	// resolved.
	OpenDir(name string, follow bool) (fsDir, error)

	// OpenFile opens a child file for reading, with the same symlink
	// discipline as OpenDir.
	OpenFile(name string, follow bool) (io.ReadCloser, error)

	// Classify resolves the type of a child entry without opening it.
	Classify(name string, follow bool) (entryClass, error)

	// Path returns the directory's path, for diagnostics and AbsPath.
	Path() string

	// Close releases the handle. Borrowed handles (a root passed to
	// [WalkHandle]) are left open.
	Close() error
}

// entryClass is the resolved type of a directory child.
type entryClass uint8

const (
	classOther entryClass = iota
	classFile
	classDir
	classSymlink
)

// Walker lazily enumerates matched entries under a root.
//
// A Walker is single-use and not safe for concurrent use: construct one per
// traversal.
type Walker struct {
	matcher Matcher
	follow  bool

	rootDir  fsDir
	rootPath string
	rootName string

	stack    []*walkFrame
	queue    []*Entry
	reported map[string]struct{}

	started bool
	closed  bool
	done    bool
}

// walkFrame is one level of the depth-first traversal stack: an open
// directory plus the enumeration cursor into it.
type walkFrame struct {
	dir     fsDir
	rel     string
	entries []fs.DirEntry
	idx     int
	eof     bool
}

// Walk opens root and returns a pull-based iterator over the entries
// selected by the configured match spec.
//
// The root directory itself is always the first entry, even when nothing
// inside it matches. Within one directory, entries come in native OS
// enumeration order; across directories, every ancestor of a reported entry
// is reported exactly once, before it.
//
// Spec and pattern errors are reported here, before any traversal I/O.
func Walk(root string, opts ...Option) (*Walker, error) {
	cfg := applyOptions(opts)

	m, err := cfg.matcher()
	if err != nil {
		return nil, err
	}

	root = filepath.Clean(root)

	dir, err := openRootDir(root, cfg.NoDirFDs)
	if err != nil {
		return nil, &IOError{Path: ".", Op: "open", Err: err}
	}

	return newWalker(dir, root, m, cfg.FollowSymlinks), nil
}

// WalkHandle walks an already-open directory instead of a path.
//
// This requires descriptor-relative traversal and therefore returns
// [ErrHandleWalkUnsupported] on platforms without it (and when it is
// disabled via [WithoutDirFDs]). The handle is borrowed: the walker never
// closes it, even on [Walker.Close].
func WalkHandle(dir *os.File, opts ...Option) (*Walker, error) {
	cfg := applyOptions(opts)

	m, err := cfg.matcher()
	if err != nil {
		return nil, err
	}

	if cfg.NoDirFDs {
		return nil, ErrHandleWalkUnsupported
	}

	root, err := borrowRootDir(dir)
	if err != nil {
		return nil, err
	}

	return newWalker(root, filepath.Clean(dir.Name()), m, cfg.FollowSymlinks), nil
}

func newWalker(root fsDir, rootPath string, m Matcher, follow bool) *Walker {
	return &Walker{
		matcher:  m,
		follow:   follow,
		rootDir:  root,
		rootPath: rootPath,
		rootName: filepath.Base(rootPath),
		reported: map[string]struct{}{},
	}
}

// DirFDSupported reports whether this platform performs traversal relative
// to open directory descriptors. When false, [WalkHandle] fails and [Walk]
// uses path-based traversal with identical observable behavior.
func DirFDSupported() bool {
	return dirFDCapable
}

// RootName returns the base name of the walk root, used as the logical
// top-level container name in encoded uploads.
func (w *Walker) RootName() string {
	return w.rootName
}

// Next returns the next matched entry.
//
// It returns io.EOF on exhaustion and [ErrClosed] after Close. Any other
// error reports a failed operation on one entry; the walk is not
// invalidated, and the caller chooses between continuing and closing.
func (w *Walker) Next() (*Entry, error) {
	if w.closed {
		return nil, ErrClosed
	}

	if len(w.queue) > 0 {
		return w.dequeue(), nil
	}

	if w.done {
		return nil, io.EOF
	}

	if !w.started {
		w.started = true
		w.stack = append(w.stack, &walkFrame{dir: w.rootDir, rel: "."})
		w.reported["."] = struct{}{}

		return &Entry{
			Kind:    EntryDirectory,
			AbsPath: w.rootPath,
			RelPath: ".",
			Name:    w.rootName,
		}, nil
	}

	for {
		if len(w.stack) == 0 {
			w.done = true

			return nil, io.EOF
		}

		top := w.stack[len(w.stack)-1]

		if top.idx >= len(top.entries) {
			if top.eof {
				w.popFrame()

				continue
			}

			entries, err := top.dir.ReadDir(walkReadDirBatch)
			top.entries, top.idx = entries, 0

			if err != nil {
				if !errors.Is(err, io.EOF) {
					return nil, &IOError{Path: top.rel, Op: "readdir", Err: err}
				}

				top.eof = true
			}

			if len(entries) == 0 {
				w.popFrame()

				continue
			}
		}

		de := top.entries[top.idx]
		top.idx++

		entry, err := w.examine(top, de)
		if err != nil {
			return nil, err
		}

		if entry != nil {
			return entry, nil
		}
	}
}

// Close releases every handle the walker opened, exactly once.
//
// Safe to call mid-walk and more than once. A root handle passed to
// [WalkHandle] is not closed.
func (w *Walker) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true
	w.queue = nil

	var firstErr error

	// The root frame exists only after the first Next call.
	if !w.started {
		w.stack = append(w.stack, &walkFrame{dir: w.rootDir, rel: "."})
	}

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		err := top.dir.Close()
		if err != nil && firstErr == nil {
			firstErr = &IOError{Path: top.rel, Op: "close", Err: err}
		}
	}

	return firstErr
}

// examine inspects one raw directory entry and turns it into a reported
// Entry (possibly preceded by backfilled ancestors), a silent skip (nil,
// nil), or an error.
func (w *Walker) examine(top *walkFrame, de fs.DirEntry) (*Entry, error) {
	name := de.Name()
	typ := de.Type()

	if typ&fs.ModeSymlink != 0 && !w.follow {
		return nil, nil
	}

	rel := childRel(top.rel, name)

	var class entryClass

	switch {
	case typ&fs.ModeSymlink != 0:
		// follow enabled: classify the target. Dangling links are skipped.
		c, err := top.dir.Classify(name, true)
		if err != nil {
			return nil, nil
		}

		class = c

	case typ.IsDir():
		class = classDir

	case typ&fs.ModeType == 0:
		// d_type can be unknown on some filesystems; a zero mode is not
		// proof of a regular file. Classification failures are treated as
		// the entry having vanished.
		c, err := top.dir.Classify(name, false)
		if err != nil {
			return nil, nil
		}

		class = c

	default:
		// FIFOs, sockets, devices.
		return nil, nil
	}

	switch class {
	case classDir:
		return w.examineDir(top, name, rel)

	case classFile:
		if !w.matcher.ShouldReport(rel, false) {
			return nil, nil
		}

		return w.emit(&Entry{
			Kind:    EntryFile,
			AbsPath: w.absPath(rel),
			RelPath: rel,
			Name:    name,
			parent:  top.dir,
			follow:  w.follow,
		}), nil

	default:
		return nil, nil
	}
}

func (w *Walker) examineDir(top *walkFrame, name, rel string) (*Entry, error) {
	descend := w.matcher.ShouldDescend(rel)
	report := w.matcher.ShouldReport(rel, true)

	if descend {
		child, err := top.dir.OpenDir(name, w.follow)

		switch {
		case err == nil:
			w.stack = append(w.stack, &walkFrame{dir: child, rel: rel})

		case vanished(err):
			// Lost a race with external mutation; nothing to report.
			return nil, nil

		default:
			return nil, &IOError{Path: rel, Op: "open", Err: err}
		}
	}

	if !report {
		return nil, nil
	}

	return w.emit(&Entry{
		Kind:    EntryDirectory,
		AbsPath: w.absPath(rel),
		RelPath: rel,
		Name:    name,
	}), nil
}

// emit queues e behind any of its not-yet-reported ancestor directories and
// returns the first queued entry, maintaining the invariant that every
// container between the root and a reported entry is reported exactly once,
// before it.
func (w *Walker) emit(e *Entry) *Entry {
	var ancestors []string

	for p := path.Dir(e.RelPath); p != "." && p != "/"; p = path.Dir(p) {
		if _, ok := w.reported[p]; ok {
			break
		}

		ancestors = append(ancestors, p)
	}

	// Collected nearest-first; queue root-most first.
	for i := len(ancestors) - 1; i >= 0; i-- {
		rel := ancestors[i]
		w.reported[rel] = struct{}{}
		w.queue = append(w.queue, &Entry{
			Kind:    EntryDirectory,
			AbsPath: w.absPath(rel),
			RelPath: rel,
			Name:    path.Base(rel),
		})
	}

	w.reported[e.RelPath] = struct{}{}
	w.queue = append(w.queue, e)

	return w.dequeue()
}

func (w *Walker) dequeue() *Entry {
	e := w.queue[0]
	w.queue = w.queue[1:]

	return e
}

func (w *Walker) popFrame() {
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	// Enumeration errors surface through Next; close failures on a
	// read-only handle carry no information worth aborting a walk for.
	_ = top.dir.Close()
}

func (w *Walker) absPath(rel string) string {
	if rel == "." {
		return w.rootPath
	}

	return filepath.Join(w.rootPath, filepath.FromSlash(rel))
}

func childRel(parent, name string) string {
	if parent == "." {
		return name
	}

	return parent + "/" + name
}

// vanished reports whether err indicates the entry disappeared (or changed
// type) between enumeration and open: the tolerated TOCTOU race.
func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, errTypeChanged) ||
		isRaceErrno(err)
}
