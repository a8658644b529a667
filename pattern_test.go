package filestream_test

import (
	"errors"
	"testing"

	"github.com/ipfs-shipyard/go-filestream"
)

// ============================================================================
// CompileGlob error tests
// ============================================================================

func Test_CompileGlob_Rejects_Absolute_Patterns(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"/", "/etc/*", "/a/**"} {
		_, err := filestream.CompileGlob(pattern, true)
		if !errors.Is(err, filestream.ErrAbsolutePattern) {
			t.Fatalf("pattern %q: got %v, want ErrAbsolutePattern", pattern, err)
		}
	}
}

func Test_CompileGlob_Rejects_Parent_References(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"..", "../x", "a/../b", "a/.."} {
		_, err := filestream.CompileGlob(pattern, true)
		if !errors.Is(err, filestream.ErrParentReference) {
			t.Fatalf("pattern %q: got %v, want ErrParentReference", pattern, err)
		}
	}
}

func Test_CompileGlob_Rejects_DoubleStar_Mixed_Into_A_Label(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"a**", "**b", "a**b", "x/a**/y", "***"} {
		_, err := filestream.CompileGlob(pattern, true)
		if !errors.Is(err, filestream.ErrDoubleStarLabel) {
			t.Fatalf("pattern %q: got %v, want ErrDoubleStarLabel", pattern, err)
		}
	}
}

func Test_CompileGlob_Accepts_Bare_DoubleStar_Labels(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"**", "**/x", "a/**/b", "**/**"} {
		_, err := filestream.CompileGlob(pattern, true)
		if err != nil {
			t.Fatalf("pattern %q: unexpected error %v", pattern, err)
		}
	}
}

// ============================================================================
// Label translation tests (observed through a matcher)
// ============================================================================

// reportMatch compiles pattern and reports whether it matches path as a
// file entry, without non-recursive wrapping.
func reportMatch(t *testing.T, pattern, path string, periodSpecial bool) bool {
	t.Helper()

	pat, err := filestream.CompileGlob(pattern, periodSpecial)
	if err != nil {
		t.Fatalf("compile %q: %v", pattern, err)
	}

	return filestream.NewGlobMatcher(pat).ShouldReport(path, false)
}

func Test_Glob_Wildcards_Follow_Fnmatch_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*", "anything", true},
		{"*.txt", "notes.txt", true},
		{"*.txt", "notes.txtx", false},
		{"*.txt", "sub/notes.txt", false}, // "*" never crosses a separator
		{"no?es.txt", "notes.txt", true},
		{"no?es.txt", "notes2.txt", false},
		{"?", "ab", false},
		{"[nm]otes", "notes", true},
		{"[nm]otes", "motes", true},
		{"[nm]otes", "votes", false},
		{"[!nm]otes", "votes", true},
		{"[!nm]otes", "notes", false},
		{"[a-c]x", "bx", true},
		{"[a-c]x", "dx", false},
		{"file[", "file[", true}, // unterminated class is a literal bracket
		{"a+b", "a+b", true},     // regexp metacharacters are literal in globs
		{"a+b", "aab", false},
		{"a/*/c", "a/b/c", true},
		{"a/*/c", "a/b/b/c", false},
	}

	for _, tt := range tests {
		got := reportMatch(t, tt.pattern, tt.path, false)
		if got != tt.want {
			t.Errorf("pattern %q vs %q: got %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func Test_Glob_Empty_And_Dot_Labels_Are_Dropped(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"a//b", "./a/b", "a/./b"} {
		if !reportMatch(t, pattern, "a/b", false) {
			t.Errorf("pattern %q should match a/b", pattern)
		}
	}

	// Trailing slash still restricts to directories.
	pat, err := filestream.CompileGlob("a/b/", false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	m := filestream.NewGlobMatcher(pat)

	if m.ShouldReport("a/b", false) {
		t.Error("dir-only pattern matched a file")
	}

	if !m.ShouldReport("a/b", true) {
		t.Error("dir-only pattern did not match a directory")
	}
}

func Test_Glob_PeriodSpecial_Hides_DotFiles_From_Wildcards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		path    string
		special bool
		want    bool
	}{
		{"*", ".hidden", true, false},
		{"*", ".hidden", false, true},
		{"?bashrc", ".bashrc", true, false},
		{".*", ".hidden", true, true}, // literal leading dot in the pattern
		{".hidden", ".hidden", true, true},
		{"**", ".hidden", true, false},
		{"**", ".hidden", false, true},
		{"**", "a/.b/c", true, false}, // sentinel does not sweep dot labels
		{"**", "a/.b/c", false, true},
		{"*/.env", "sub/.env", true, true},
	}

	for _, tt := range tests {
		got := reportMatch(t, tt.pattern, tt.path, tt.special)
		if got != tt.want {
			t.Errorf("pattern %q vs %q (special=%v): got %v, want %v",
				tt.pattern, tt.path, tt.special, got, tt.want)
		}
	}
}
