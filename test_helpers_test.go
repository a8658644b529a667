package filestream_test

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipfs-shipyard/go-filestream"
)

const (
	dirContentType = "application/x-directory"
	openOp         = "open"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()

	fullPath := filepath.Join(root, filepath.FromSlash(rel))
	parent := filepath.Dir(fullPath)

	err := os.MkdirAll(parent, 0o750)
	if err != nil {
		t.Fatalf("mkdir %s: %v", parent, err)
	}

	err = os.WriteFile(fullPath, data, 0o600)
	if err != nil {
		t.Fatalf("write %s: %v", fullPath, err)
	}
}

// makeFakeDir builds the canonical fixture tree:
//
//	fake_dir/fsdfgh
//	fake_dir/popoiopiu
//	fake_dir/test2/fssdf
//	fake_dir/test3/ppppp
func makeFakeDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "fake_dir")

	writeFile(t, dir, "fsdfgh", []byte("dsadsad\n"))
	writeFile(t, dir, "popoiopiu", []byte("oooofffff\n"))
	writeFile(t, dir, "test2/fssdf", []byte("dsdsdsadsadsad\n"))
	writeFile(t, dir, "test3/ppppp", []byte("dsadsad\n"))

	return dir
}

// walkPaths drains a walker and renders each entry as "d rel" or "f rel",
// in yield order.
func walkPaths(t *testing.T, w *filestream.Walker) []string {
	t.Helper()

	var out []string

	for {
		entry, err := w.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			t.Fatalf("next: %v", err)
		}

		kind := "f"
		if entry.Kind == filestream.EntryDirectory {
			kind = "d"
		}

		out = append(out, kind+" "+entry.RelPath)
	}

	return out
}

func walkAll(t *testing.T, root string, opts ...filestream.Option) []string {
	t.Helper()

	w, err := filestream.Walk(root, opts...)
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}

	defer func() {
		closeErr := w.Close()
		if closeErr != nil {
			t.Fatalf("close: %v", closeErr)
		}
	}()

	return walkPaths(t, w)
}

// drainEncoder reads every chunk, failing on chunks over the bound, and
// returns the assembled body.
func drainEncoder(t *testing.T, enc *filestream.Encoder, maxChunk int) []byte {
	t.Helper()

	var body []byte

	for {
		chunk, err := enc.NextChunk()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			t.Fatalf("next chunk: %v", err)
		}

		if len(chunk) == 0 {
			t.Fatal("encoder yielded an empty chunk")
		}

		if len(chunk) > maxChunk {
			t.Fatalf("chunk of %d bytes exceeds bound %d", len(chunk), maxChunk)
		}

		body = append(body, chunk...)
	}

	return body
}

type bodyPart struct {
	name        string
	contentType string
	abspath     string
	content     []byte
}

// parseBody decodes an assembled multipart body with the stdlib reader and
// returns its parts in body order, with percent-decoded names.
func parseBody(t *testing.T, body []byte, boundary string) []bodyPart {
	t.Helper()

	reader := multipart.NewReader(bytes.NewReader(body), boundary)

	var parts []bodyPart

	for {
		p, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			t.Fatalf("parse part: %v", err)
		}

		disp := p.Header.Get("Content-Disposition")

		_, params, err := mime.ParseMediaType(disp)
		if err != nil {
			t.Fatalf("parse disposition %q: %v", disp, err)
		}

		name, err := url.PathUnescape(params["filename"])
		if err != nil {
			t.Fatalf("decode filename %q: %v", params["filename"], err)
		}

		content, err := io.ReadAll(p)
		if err != nil {
			t.Fatalf("read part %s: %v", name, err)
		}

		parts = append(parts, bodyPart{
			name:        name,
			contentType: p.Header.Get("Content-Type"),
			abspath:     p.Header.Get("Abspath"),
			content:     content,
		})
	}

	return parts
}

func encodeAndParse(t *testing.T, enc *filestream.Encoder, maxChunk int) []bodyPart {
	t.Helper()

	body := drainEncoder(t, enc, maxChunk)

	return parseBody(t, body, enc.Boundary())
}

func equalStrings(t *testing.T, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
