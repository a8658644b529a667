// Package filestream selects filesystem entries with glob/regex matchers and
// serializes them into a streaming multipart/form-data body.
//
// It is the upload core of an HTTP API client: callers describe which entries
// under a directory to include (a match spec), the walker lazily enumerates
// the tree, and the encoder turns the matched entries into a correctly framed
// byte stream, chunked to a bounded size, without ever buffering a whole file
// in memory.
//
// # Matching
//
// A match spec is a glob string, a compiled *regexp.Regexp, a [Matcher], or a
// list mixing any of these. Glob patterns are compiled per path label:
// "docs/**/*.md" matches label by label, with "**" spanning any depth.
// Pattern errors (absolute patterns, ".." labels, "**" mixed with other
// characters in one label) are reported at construction time, before any I/O.
//
// Unless period-special matching is disabled, wildcards do not match names
// starting with a dot; a leading dot only matches a literal leading dot in
// the pattern. This mirrors shell globbing.
//
// # Walking
//
// [Walk] returns a pull-based iterator over matched entries. The root
// directory itself is always the first entry, and every ancestor directory of
// a reported entry is reported before it, exactly once. Subtrees the matcher
// refuses to descend into are pruned without enumeration cost.
//
// Where the platform supports it, all opens below the root are performed
// relative to an already-open directory descriptor (openat), avoiding
// time-of-check/time-of-use races between enumeration and reading. Other
// platforms transparently fall back to path-based traversal with identical
// observable behavior.
//
// # Symlinks
//
// Symbolic links are not traversed. [WithFollowSymlinks] enables traversal at
// the caller's risk: the walker performs no cycle detection.
//
// # Encoding
//
// [EncodeWalk], [EncodeFiles], [EncodeParts] and [EncodeBytes] produce an
// [Encoder] whose NextChunk method yields the multipart body one bounded
// chunk at a time. No file is opened until the consumer asks for the chunk
// that needs it, and every opened handle is closed as soon as its content is
// consumed, or on [Encoder.Close], whichever comes first.
//
// A file that vanishes between being matched and being opened is logged and
// skipped; large uploads stay resilient to concurrent filesystem churn, at
// the price that success means "best effort over what still existed". All
// other I/O errors abort the stream.
//
// # Resource handling
//
// Walkers and encoders own every handle they open and release them on normal
// exhaustion, early Close, and error propagation alike. Instances are not
// safe for concurrent use; each upload builds its own matcher/walker/encoder
// graph.
package filestream
