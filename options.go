package filestream

import (
	"io"

	"github.com/charmbracelet/log"
)

// DefaultChunkSize is the chunk bound used when [WithChunkSize] is not set.
//
// 4 KiB keeps per-chunk overhead negligible while staying well below typical
// socket buffer sizes, so the HTTP layer can interleave sending chunks with
// reading daemon responses.
const DefaultChunkSize = 4096

// Option configures [Walk], [WalkHandle], and the Encode constructors.
// Options are applied in order.
type Option func(*options)

// WithMatchSpec sets the match spec deciding which entries are walked and
// reported. See [MatcherFromSpec] for the supported spec values.
//
// Invalid specs are reported by [Walk] before any I/O happens.
//
// If no spec and no matcher is set, everything matches.
func WithMatchSpec(spec any) Option {
	return func(o *options) {
		o.Spec = spec
	}
}

// WithMatcher sets a pre-built [Matcher] directly.
//
// Like any other spec, the matcher is wrapped in [NoRecursion] semantics
// unless [WithRecursive] is also set.
func WithMatcher(m Matcher) Option {
	return func(o *options) {
		o.Spec = m
	}
}

// WithRecursive enables recursive traversal.
//
// When disabled (the default), only direct children of the root are
// reported and no subdirectory is entered.
func WithRecursive() Option {
	return func(o *options) {
		o.Recursive = true
	}
}

// WithFollowSymlinks makes the walker traverse symbolic links.
//
// The walker performs no cycle detection; a symlink loop will walk until
// the operating system refuses to resolve it. Off by default.
func WithFollowSymlinks() Option {
	return func(o *options) {
		o.FollowSymlinks = true
	}
}

// WithoutPeriodSpecial disables the special treatment of leading dots.
//
// By default, glob wildcards do not match names starting with "." and "**"
// does not sweep dot-entries into a recursive match. With this option a
// leading dot is an ordinary character.
func WithoutPeriodSpecial() Option {
	return func(o *options) {
		o.NoPeriodSpecial = true
	}
}

// WithoutDirFDs forces path-based traversal even on platforms that support
// directory-descriptor-relative opens.
//
// Observable behavior is identical; only the race-avoidance property of
// openat-style traversal is lost. Primarily useful to pin down one backend
// in tests.
func WithoutDirFDs() Option {
	return func(o *options) {
		o.NoDirFDs = true
	}
}

// WithChunkSize bounds the size of every chunk produced by an [Encoder].
//
// Header and boundary text is chunked under the same bound, so no yielded
// chunk ever exceeds it. Values <= 0 use [DefaultChunkSize].
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.ChunkSize = n
	}
}

// WithLogger sets the logger used for non-fatal diagnostics, such as files
// that vanished between being matched and being opened.
//
// If nil (the default), diagnostics are discarded.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.Logger = logger
	}
}

type options struct {
	// Spec is the match spec (see MatcherFromSpec); nil matches everything.
	Spec any
	// Recursive enables descending into subdirectories.
	Recursive bool
	// FollowSymlinks enables traversing symbolic links.
	FollowSymlinks bool
	// NoPeriodSpecial disables leading-dot special casing in globs.
	NoPeriodSpecial bool
	// NoDirFDs forces the path-based traversal backend.
	NoDirFDs bool
	// ChunkSize bounds encoder chunk sizes.
	ChunkSize int
	// Logger receives non-fatal diagnostics.
	Logger *log.Logger
}

// applyOptions merges option values and applies defaults.
func applyOptions(opts []Option) options {
	cfg := options{}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}

	return cfg
}

// matcher resolves the configured spec into a Matcher.
func (o options) matcher() (Matcher, error) {
	return MatcherFromSpec(o.Spec, o.Recursive, !o.NoPeriodSpecial)
}
