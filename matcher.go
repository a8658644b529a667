package filestream

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadSpec is returned by [MatcherFromSpec] for values outside the
// supported spec surface.
var ErrBadSpec = errors.New("match spec must be a glob string, *regexp.Regexp, Matcher, or a list of these")

// Matcher decides which walked paths are pruned and which are reported.
//
// Paths are slash-separated and relative to the walk root; the root itself
// is never passed to a Matcher.
//
// Implementations must be safe for concurrent use if the values they are
// built from are.
type Matcher interface {
	// ShouldDescend reports whether the walker should enumerate the
	// directory at path. Returning false prunes the whole subtree.
	ShouldDescend(path string) bool

	// ShouldReport reports whether the entry at path should be yielded.
	ShouldReport(path string, isDir bool) bool
}

// MatchAll matches every path.
var MatchAll Matcher = matchAll{}

// MatchNone matches no path and descends nowhere.
var MatchNone Matcher = matchNone{}

type matchAll struct{}

func (matchAll) ShouldDescend(string) bool { return true }

func (matchAll) ShouldReport(string, bool) bool { return true }

type matchNone struct{}

func (matchNone) ShouldDescend(string) bool { return false }

func (matchNone) ShouldReport(string, bool) bool { return false }

// ============================================================================
// Glob matcher
// ============================================================================

type globMatcher struct {
	pat *GlobPattern
}

// NewGlobMatcher returns a Matcher for a compiled glob pattern.
func NewGlobMatcher(pat *GlobPattern) Matcher {
	return globMatcher{pat: pat}
}

// ShouldDescend walks the path's labels against the pattern positionally.
//
// A recursion sentinel means any depth may eventually match, so descent is
// always worthwhile from that point on. A path that exhausts all its labels
// while matching needs deeper entries to complete the pattern. A path longer
// than a fully non-recursive pattern can never contain a match below it.
func (m globMatcher) ShouldDescend(path string) bool {
	labels := splitPath(path)

	for i, pl := range m.pat.labels {
		if pl.recursive {
			return true
		}

		if i >= len(labels) {
			return true
		}

		if !pl.match(labels[i], m.pat.periodSpecial) {
			return false
		}
	}

	return false
}

func (m globMatcher) ShouldReport(path string, isDir bool) bool {
	if m.pat.dirOnly && !isDir {
		return false
	}

	return matchLabels(m.pat.labels, splitPath(path), m.pat.periodSpecial)
}

// matchLabels performs a recursive-descent match of pattern labels against
// path labels with classic "**" backtracking: each sentinel tries the rest
// of the pattern at every path position from the current one onward,
// short-circuiting at the first success.
//
// When periodSpecial is set, a sentinel refuses to swallow a label starting
// with "."; dot-files are never swept into a recursive match.
func matchLabels(pat []globLabel, path []string, periodSpecial bool) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}

	first := pat[0]

	if first.recursive {
		rest := pat[1:]

		for skip := 0; ; skip++ {
			if matchLabels(rest, path[skip:], periodSpecial) {
				return true
			}

			if skip >= len(path) {
				return false
			}

			if periodSpecial && strings.HasPrefix(path[skip], ".") {
				return false
			}
		}
	}

	if len(path) == 0 {
		return false
	}

	if !first.match(path[0], periodSpecial) {
		return false
	}

	return matchLabels(pat[1:], path[1:], periodSpecial)
}

// splitPath splits a slash-separated relative path into labels.
// The root path "." has no labels.
func splitPath(path string) []string {
	if path == "" || path == "." {
		return nil
	}

	return strings.Split(path, "/")
}

// ============================================================================
// Regex, composite, and no-recursion matchers
// ============================================================================

type regexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher returns a Matcher reporting every path the expression
// matches (unanchored search, like regexp.MatchString).
//
// A regular expression carries no per-label structure to prune on, so the
// matcher always descends.
func NewRegexMatcher(re *regexp.Regexp) Matcher {
	return regexMatcher{re: re}
}

func (m regexMatcher) ShouldDescend(string) bool { return true }

func (m regexMatcher) ShouldReport(path string, _ bool) bool {
	return m.re.MatchString(path)
}

type anyMatcher struct {
	children []Matcher
}

// Any returns the logical OR of the given matchers.
//
// An empty list is equivalent to [MatchNone]; a single matcher is returned
// unwrapped.
func Any(children ...Matcher) Matcher {
	switch len(children) {
	case 0:
		return MatchNone
	case 1:
		return children[0]
	}

	return anyMatcher{children: children}
}

func (m anyMatcher) ShouldDescend(path string) bool {
	for _, c := range m.children {
		if c.ShouldDescend(path) {
			return true
		}
	}

	return false
}

func (m anyMatcher) ShouldReport(path string, isDir bool) bool {
	for _, c := range m.children {
		if c.ShouldReport(path, isDir) {
			return true
		}
	}

	return false
}

type noRecursionMatcher struct {
	child Matcher
}

// NoRecursion wraps a matcher with non-recursive semantics: it never
// descends and reports only direct children of the root (paths without a
// separator) that the wrapped matcher reports.
func NoRecursion(child Matcher) Matcher {
	return noRecursionMatcher{child: child}
}

func (m noRecursionMatcher) ShouldDescend(string) bool { return false }

func (m noRecursionMatcher) ShouldReport(path string, isDir bool) bool {
	if strings.ContainsRune(path, '/') {
		return false
	}

	return m.child.ShouldReport(path, isDir)
}

// ============================================================================
// Spec dispatch
// ============================================================================

// MatcherFromSpec builds a Matcher from a caller-supplied match spec.
//
// Supported spec values:
//
//	nil             match everything
//	string          glob pattern (see [CompileGlob])
//	*regexp.Regexp  regex match on the relative path
//	Matcher         used as-is
//	[]string        OR over glob patterns
//	[]any           OR over specs of any supported kind
//
// periodSpecial applies to glob specs only. When recursive is false the
// resulting matcher is wrapped in [NoRecursion], restricting both descent
// and reporting to the root's direct children.
//
// Unsupported spec types and invalid glob patterns are construction-time
// errors; no I/O happens before they are reported.
func MatcherFromSpec(spec any, recursive, periodSpecial bool) (Matcher, error) {
	m, err := matcherFromSpec(spec, periodSpecial)
	if err != nil {
		return nil, err
	}

	if !recursive {
		m = NoRecursion(m)
	}

	return m, nil
}

func matcherFromSpec(spec any, periodSpecial bool) (Matcher, error) {
	switch s := spec.(type) {
	case nil:
		return MatchAll, nil

	case string:
		pat, err := CompileGlob(s, periodSpecial)
		if err != nil {
			return nil, err
		}

		return NewGlobMatcher(pat), nil

	case *regexp.Regexp:
		return NewRegexMatcher(s), nil

	case Matcher:
		return s, nil

	case []string:
		children := make([]Matcher, 0, len(s))

		for _, pattern := range s {
			child, err := matcherFromSpec(pattern, periodSpecial)
			if err != nil {
				return nil, err
			}

			children = append(children, child)
		}

		return Any(children...), nil

	case []any:
		children := make([]Matcher, 0, len(s))

		for _, sub := range s {
			child, err := matcherFromSpec(sub, periodSpecial)
			if err != nil {
				return nil, err
			}

			children = append(children, child)
		}

		return Any(children...), nil

	default:
		return nil, fmt.Errorf("%w (got %T)", ErrBadSpec, spec)
	}
}
