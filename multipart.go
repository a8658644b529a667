package filestream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// unixfsDirType is the content type of directory placeholder parts,
// understood by the daemon as "create this directory, no content".
const unixfsDirType = "application/x-directory"

const crlf = "\r\n"

// Part is one caller-supplied entry for [EncodeParts]: an already-open byte
// source and its logical name.
type Part struct {
	// Name is the logical path carried in the part's Content-Disposition.
	Name string
	// Abspath, when non-empty, is emitted as an Abspath header (used by
	// the daemon for filestore/no-copy semantics).
	Abspath string
	// Body is the part content. Ownership stays with the caller; the
	// encoder never closes it.
	Body io.Reader
}

// Encoder lazily produces a multipart/form-data body, one bounded chunk at
// a time.
//
// Nothing is read and no file is opened until the consumer asks for the
// chunk that needs it, so an Encoder over a huge tree costs one open file
// handle and one chunk buffer at any moment. Encoders are single-use and
// not safe for concurrent use.
type Encoder struct {
	src       partSource
	boundary  string
	rootName  string
	chunkSize int
	logger    *log.Logger

	// pending holds framing text (boundary lines, part headers, trailing
	// CRLFs) queued ahead of the next body byte; off is the drain cursor.
	pending []byte
	off     int

	// cur is the in-flight part body; owned by the encoder, closed as
	// soon as the body is fully streamed or on Close.
	cur     io.ReadCloser
	curName string

	buf     []byte // chunk buffer; every body read lands here directly
	readRem []byte // unconsumed tail of the last chunk, for Read

	done   bool // terminal boundary queued
	closed bool
}

// partSource feeds an Encoder one part at a time. next returns io.EOF on
// exhaustion. close releases anything the source owns (for a walker
// source, the walker itself).
type partSource interface {
	next() (*part, error)
	close() error
}

// part is one entry to frame: either a directory placeholder (no body), an
// already-open reader, or a file opened lazily via open.
type part struct {
	name    string
	abspath string
	isDir   bool
	body    io.Reader
	open    func() (io.ReadCloser, error)
}

// EncodeWalk encodes the entries produced by a [Walker].
//
// The encoder takes ownership of the walker: closing the encoder closes the
// walker, and walker errors surface from NextChunk. Logical part paths are
// the walk root's base name joined with each entry's relative path, so the
// daemon reconstructs the uploaded tree under a single top-level container.
func EncodeWalk(w *Walker, opts ...Option) *Encoder {
	return newEncoder(&walkSource{w: w}, w.RootName(), applyOptions(opts))
}

// EncodeDirectory walks root and encodes the matched entries in one step.
// Walk options and encoder options share the same list.
func EncodeDirectory(root string, opts ...Option) (*Encoder, error) {
	w, err := Walk(root, opts...)
	if err != nil {
		return nil, err
	}

	return EncodeWalk(w, opts...), nil
}

// EncodeFiles encodes a flat list of file paths. Each part is named by the
// file's base name; directories are rejected (use [EncodeDirectory]).
func EncodeFiles(paths []string, opts ...Option) *Encoder {
	name := "files"
	if len(paths) == 1 {
		name = filepath.Base(paths[0])
	}

	return newEncoder(&fileSource{paths: paths}, name, applyOptions(opts))
}

// EncodeParts encodes caller-supplied open byte sources. The caller keeps
// ownership of the readers.
func EncodeParts(parts []Part, opts ...Option) *Encoder {
	name := "files"
	if len(parts) == 1 {
		name = path.Base(parts[0].Name)
	}

	return newEncoder(&sliceSource{parts: parts}, name, applyOptions(opts))
}

// EncodeBytes encodes a single in-memory blob under the given logical name.
func EncodeBytes(name string, data []byte, opts ...Option) *Encoder {
	src := &sliceSource{parts: []Part{{Name: name, Body: bytes.NewReader(data)}}}

	return newEncoder(src, path.Base(name), applyOptions(opts))
}

func newEncoder(src partSource, rootName string, cfg options) *Encoder {
	return &Encoder{
		src:       src,
		boundary:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		rootName:  rootName,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger,
	}
}

// Boundary returns the multipart boundary token.
func (e *Encoder) Boundary() string {
	return e.boundary
}

// Headers returns the request headers to send alongside the body.
func (e *Encoder) Headers() map[string]string {
	return map[string]string{
		"Content-Disposition": fmt.Sprintf("form-data; filename=%q", percentEncode(e.rootName)),
		"Content-Type":        fmt.Sprintf("multipart/form-data; boundary=%q", e.boundary),
	}
}

// NextChunk returns the next chunk of the body.
//
// Every chunk is at most the configured chunk size. The returned slice
// aliases an internal buffer and is valid only until the next NextChunk or
// Read call. io.EOF follows the terminal boundary; [ErrClosed] follows
// Close. Walker and non-race I/O errors propagate, leaving the encoder
// usable for Close only.
func (e *Encoder) NextChunk() ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}

	if e.buf == nil {
		e.buf = make([]byte, e.chunkSize)
	}

	for {
		// Pack framing text of consecutive bodiless parts into full
		// chunks before emitting anything.
		for e.cur == nil && !e.done && len(e.pending)-e.off < e.chunkSize {
			err := e.advance()
			if err != nil {
				return nil, err
			}
		}

		if e.off < len(e.pending) {
			n := min(e.chunkSize, len(e.pending)-e.off)
			chunk := e.pending[e.off : e.off+n]
			e.off += n

			if e.off == len(e.pending) {
				e.pending, e.off = e.pending[:0], 0
			}

			return chunk, nil
		}

		if e.cur != nil {
			n, err := e.cur.Read(e.buf)
			if n > 0 {
				return e.buf[:n], nil
			}

			if err != nil && !errors.Is(err, io.EOF) {
				name := e.curName
				e.closeBody()

				return nil, &IOError{Path: name, Op: "read", Err: err}
			}

			// Body complete: release the handle before anything else.
			e.closeBody()
			e.pending = append(e.pending, crlf...)

			continue
		}

		return nil, io.EOF
	}
}

// Read implements io.Reader over the chunk stream, so an Encoder can be
// used directly as an HTTP request body.
func (e *Encoder) Read(p []byte) (int, error) {
	if len(e.readRem) == 0 {
		chunk, err := e.NextChunk()
		if err != nil {
			return 0, err
		}

		e.readRem = chunk
	}

	n := copy(p, e.readRem)
	e.readRem = e.readRem[n:]

	return n, nil
}

// Close releases the in-flight body handle and anything the part source
// owns (for [EncodeWalk], the walker). Safe after errors, mid-stream, and
// more than once.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}

	e.closed = true
	e.closeBody()

	return e.src.close()
}

func (e *Encoder) closeBody() {
	if e.cur == nil {
		return
	}

	// Read-only handle: a close failure carries nothing actionable.
	_ = e.cur.Close()
	e.cur = nil
	e.curName = ""
}

// advance pulls one part from the source and queues its framing, opening
// its body if it has one. A file that vanished since it was matched is
// logged and skipped.
func (e *Encoder) advance() error {
	p, err := e.src.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			e.pending = append(e.pending, "--"+e.boundary+"--"+crlf...)
			e.done = true

			return nil
		}

		return err
	}

	if p.isDir {
		e.appendPartHeader(p, unixfsDirType)
		e.pending = append(e.pending, crlf...)

		return nil
	}

	body := p.body
	if body == nil {
		rc, err := p.open()
		if err != nil {
			if vanished(err) {
				e.logger.Warn("skipping vanished file", "path", p.name, "err", err)

				return nil
			}

			return &IOError{Path: p.name, Op: "open", Err: err}
		}

		e.cur = rc
	} else {
		e.cur = io.NopCloser(body)
	}

	e.curName = p.name
	e.appendPartHeader(p, contentTypeFor(p.name))

	return nil
}

// appendPartHeader queues the boundary line and headers for one part,
// through the blank line separating headers from the body.
func (e *Encoder) appendPartHeader(p *part, contentType string) {
	e.pending = append(e.pending, "--"+e.boundary+crlf...)
	e.pending = append(e.pending,
		fmt.Sprintf("Content-Disposition: file; filename=%q%s", percentEncode(p.name), crlf)...)
	e.pending = append(e.pending, "Content-Type: "+contentType+crlf...)

	if p.abspath != "" {
		e.pending = append(e.pending, "Abspath: "+p.abspath+crlf...)
	}

	e.pending = append(e.pending, crlf...)
}

// contentTypeFor guesses a part's content type from its extension.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// percentEncode escapes a logical path for a filename parameter, keeping
// separators readable the way the daemon expects.
func percentEncode(name string) string {
	u := url.URL{Path: name}

	return u.EscapedPath()
}

// ============================================================================
// Part sources
// ============================================================================

type walkSource struct {
	w *Walker
}

func (s *walkSource) next() (*part, error) {
	entry, err := s.w.Next()
	if err != nil {
		return nil, err
	}

	p := &part{
		name:  logicalPath(s.w.RootName(), entry.RelPath),
		isDir: entry.Kind == EntryDirectory,
	}

	if filepath.IsAbs(entry.AbsPath) {
		p.abspath = entry.AbsPath
	}

	if !p.isDir {
		p.open = entry.Open
	}

	return p, nil
}

func (s *walkSource) close() error {
	return s.w.Close()
}

// logicalPath prefixes a walk-relative path with the root's base name, so
// every uploaded tree lives under one top-level container.
func logicalPath(rootName, rel string) string {
	if rel == "." {
		return rootName
	}

	return rootName + "/" + rel
}

type fileSource struct {
	paths []string
	idx   int
}

func (s *fileSource) next() (*part, error) {
	if s.idx >= len(s.paths) {
		return nil, io.EOF
	}

	fpath := filepath.Clean(s.paths[s.idx])
	s.idx++

	p := &part{
		name: filepath.Base(fpath),
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(fpath)
			if err != nil {
				return nil, err
			}

			fi, err := f.Stat()
			if err != nil {
				_ = f.Close()

				return nil, err
			}

			if fi.IsDir() {
				_ = f.Close()

				return nil, fmt.Errorf("%s is a directory; use EncodeDirectory", fpath)
			}

			return f, nil
		},
	}

	if filepath.IsAbs(fpath) {
		p.abspath = fpath
	}

	return p, nil
}

func (s *fileSource) close() error { return nil }

type sliceSource struct {
	parts []Part
	idx   int
}

func (s *sliceSource) next() (*part, error) {
	if s.idx >= len(s.parts) {
		return nil, io.EOF
	}

	src := s.parts[s.idx]
	s.idx++

	return &part{
		name:    src.Name,
		abspath: src.Abspath,
		body:    src.Body,
	}, nil
}

func (s *sliceSource) close() error { return nil }
