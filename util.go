package stapled

import (
	"io"
	"path/filepath"
	"strings"
)

// readLimited reads at most n bytes from r. No pack example or ecosystem
// library offers a safer primitive for "bounded read of an HTTP response
// body" than io.LimitReader + io.ReadAll; wrapping it here is just for a
// single call site in fetch.go.
func readLimited(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}

// compileIgnorePattern validates an ignore pattern per spec.md §4.1: a
// pattern starting with "/" is absolute and matched against the full path;
// otherwise "**" is prepended and the pattern is matched as a glob against
// the full path. Patterns that look like relative paths (begin with "./")
// are rejected.
//
// Go's path/filepath.Match has no "**" (match across path separators)
// support, and no pack example or ecosystem library in the retrieval set
// offers a double-star glob matcher, so this implements the narrow "**"
// prefix form spec.md actually needs (match the pattern as a suffix glob of
// the full path) directly rather than reaching for stdlib Match, which can't
// express it.
func compileIgnorePattern(pattern string) (matcher func(path string) bool, ok bool) {
	if strings.HasPrefix(pattern, "./") {
		return nil, false
	}
	if strings.HasPrefix(pattern, "/") {
		p := pattern
		return func(path string) bool {
			matched, _ := filepath.Match(p, path)
			return matched
		}, true
	}
	p := pattern
	return func(path string) bool {
		return matchDoubleStarSuffix(p, path)
	}, true
}

// matchDoubleStarSuffix reports whether path matches "**/"+pattern: pattern
// may itself contain filepath.Match wildcards, and "**" may match any number
// of leading path segments (including none).
func matchDoubleStarSuffix(pattern, path string) bool {
	segments := strings.Split(path, string(filepath.Separator))
	for i := range segments {
		candidate := filepath.Join(segments[i:]...)
		if matched, _ := filepath.Match(pattern, candidate); matched {
			return true
		}
	}
	// Also try matching the pattern directly against the full path, for
	// patterns containing their own separators (e.g. "foo/*.pem").
	matched, _ := filepath.Match(pattern, path)
	return matched
}

// ignoreMatcher holds the compiled, valid ignore patterns for a Finder,
// discarding invalid ones (logged by the caller) at construction time.
type ignoreMatcher struct {
	matchers []func(string) bool
}

func newIgnoreMatcher(patterns []string, onInvalid func(pattern string)) *ignoreMatcher {
	m := &ignoreMatcher{}
	for _, p := range patterns {
		fn, ok := compileIgnorePattern(p)
		if !ok {
			if onInvalid != nil {
				onInvalid(p)
			}
			continue
		}
		m.matchers = append(m.matchers, fn)
	}
	return m
}

func (m *ignoreMatcher) Match(path string) bool {
	for _, fn := range m.matchers {
		if fn(path) {
			return true
		}
	}
	return false
}
