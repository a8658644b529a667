package filestream

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Pattern compile errors. All are detected at construction time, before any
// filesystem I/O happens.
var (
	// ErrAbsolutePattern is returned for patterns anchored at the
	// filesystem root. A walk only ever produces root-relative paths, so
	// such a pattern can never match.
	ErrAbsolutePattern = errors.New("absolute pattern never matches a relative walk")

	// ErrParentReference is returned for patterns containing a ".." label.
	ErrParentReference = errors.New("pattern with parent references never matches")

	// ErrDoubleStarLabel is returned when "**" is combined with other
	// characters in a single label (for example "a**" or "**b"). Only a
	// label consisting of exactly "**" is supported.
	ErrDoubleStarLabel = errors.New("unsupported: double-star combined with other characters in one label")
)

// GlobPattern is a glob compiled into a sequence of per-label predicates.
//
// Each "/"-separated component of the source pattern becomes one label:
// either a recursion sentinel (from "**", matching any number of path
// labels) or an anchored regular expression derived from the component's
// wildcards.
//
// A GlobPattern is immutable and safe for concurrent use.
type GlobPattern struct {
	labels []globLabel

	// dirOnly is set for patterns ending in "/": only directories match.
	dirOnly bool

	// periodSpecial excludes names with a leading dot from wildcard
	// matches and from being swept up by "**".
	periodSpecial bool
}

// globLabel is one compiled pattern component.
//
// recursive labels have no regexp; they are matched structurally by the
// matcher's backtracking walk.
type globLabel struct {
	recursive  bool
	re         *regexp.Regexp
	leadingDot bool // source label starts with a literal "."
}

// CompileGlob compiles a glob pattern into per-label predicates.
//
// The pattern is split on "/". Empty labels and "." labels are dropped.
// "*", "?" and "[...]" carry their usual shell meaning within one label and
// never match across separators. A label of exactly "**" matches any number
// of labels, including zero.
//
// When periodSpecial is true, wildcards do not match names starting with
// ".": a leading dot matches only a literal leading dot in the pattern.
//
// A pattern ending in "/" matches directories only.
//
// Returns [ErrAbsolutePattern], [ErrParentReference] or [ErrDoubleStarLabel]
// (wrapped with the offending pattern) for the documented unsupported forms.
func CompileGlob(pattern string, periodSpecial bool) (*GlobPattern, error) {
	if strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("compile %q: %w", pattern, ErrAbsolutePattern)
	}

	pat := &GlobPattern{
		dirOnly:       strings.HasSuffix(pattern, "/"),
		periodSpecial: periodSpecial,
	}

	for _, part := range strings.Split(pattern, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("compile %q: %w", pattern, ErrParentReference)
		case "**":
			pat.labels = append(pat.labels, globLabel{recursive: true})

			continue
		}

		if strings.Contains(part, "**") {
			return nil, fmt.Errorf("compile %q: %w", pattern, ErrDoubleStarLabel)
		}

		re, err := translateLabel(part)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}

		pat.labels = append(pat.labels, globLabel{
			re:         re,
			leadingDot: strings.HasPrefix(part, "."),
		})
	}

	return pat, nil
}

// String returns a normalized source form of the pattern, for diagnostics.
func (p *GlobPattern) String() string {
	parts := make([]string, 0, len(p.labels))
	for _, l := range p.labels {
		if l.recursive {
			parts = append(parts, "**")
		} else {
			parts = append(parts, l.re.String())
		}
	}

	return strings.Join(parts, "/")
}

// match reports whether the label accepts the given path component.
//
// The period-special rule is enforced here rather than in the regexp: RE2
// has no negative lookahead, so "name must not start with a dot unless the
// pattern label does" is carried as an explicit check with identical
// observable behavior.
func (l globLabel) match(name string, periodSpecial bool) bool {
	if periodSpecial && strings.HasPrefix(name, ".") && !l.leadingDot {
		return false
	}

	return l.re.MatchString(name)
}

// translateLabel converts one glob component (no separators, no "**") into
// an anchored regular expression, following fnmatch conventions:
//
//	*      any run of characters within the label
//	?      any single character
//	[seq]  character class; [!seq] negates; "]" first is literal
//
// An unterminated "[" is treated as a literal bracket.
func translateLabel(label string) (*regexp.Regexp, error) {
	var b strings.Builder

	b.WriteString(`\A`)

	for i := 0; i < len(label); {
		c := label[i]
		i++

		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i
			if j < len(label) && label[j] == '!' {
				j++
			}

			if j < len(label) && label[j] == ']' {
				j++
			}

			for j < len(label) && label[j] != ']' {
				j++
			}

			if j >= len(label) {
				// Unterminated class: literal bracket.
				b.WriteString(`\[`)

				continue
			}

			class := label[i:j]
			i = j + 1

			b.WriteByte('[')
			if strings.HasPrefix(class, "!") {
				b.WriteByte('^')
				class = class[1:]
			}
			b.WriteString(escapeClass(class))
			b.WriteByte(']')
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`\z`)

	return regexp.Compile(b.String())
}

// escapeClass escapes characters that are special inside a regexp character
// class while preserving ranges ("a-z") written by the caller.
func escapeClass(class string) string {
	var b strings.Builder

	for i := 0; i < len(class); i++ {
		switch class[i] {
		case '\\', '^', ']':
			b.WriteByte('\\')
		}

		b.WriteByte(class[i])
	}

	return b.String()
}
