// Package match implements scope-pattern matching for hook triggers.
//
// A scope pattern is a comma-separated list of glob segments combined with
// OR: "**/*.go, docs/*.md" matches Go files anywhere and markdown files under
// docs. Matching is pure and deterministic; a malformed segment simply never
// matches.
package match

import (
	"regexp"
	"strings"
	"sync"

	"github.com/hookline/hookline/pkg/types"
)

// Matcher decides whether a file path falls inside a hook's scope. Compiled
// segments are cached, so the dispatcher can call Matches on every trigger
// event without recompiling.
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

// New creates a Matcher with an empty compilation cache.
func New() *Matcher {
	return &Matcher{cache: make(map[string]*regexp.Regexp)}
}

// Matches reports whether filePath falls inside the scope described by
// patternList. An empty list or a match-everything segment accepts any path,
// including the empty string.
func (m *Matcher) Matches(filePath, patternList string) bool {
	if strings.TrimSpace(patternList) == "" {
		return true
	}

	path := normalizePath(filePath)

	for _, segment := range strings.Split(patternList, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == types.MatchAllPattern || segment == "*" {
			return true
		}

		re := m.compiled(segment)
		if re == nil {
			// Malformed segment: fail safe, treat as no match.
			continue
		}

		if re.MatchString(path) {
			return true
		}
	}

	return false
}

// Compiles reports whether a single segment translates into a usable
// matcher. Validation uses it to reject malformed patterns up front, even
// though Matches itself fails safe.
func (m *Matcher) Compiles(segment string) bool {
	segment = strings.TrimSpace(segment)
	if segment == "" || segment == types.MatchAllPattern || segment == "*" {
		return true
	}
	return m.compiled(segment) != nil
}

func (m *Matcher) compiled(segment string) *regexp.Regexp {
	m.mu.RLock()
	re, ok := m.cache[segment]
	m.mu.RUnlock()

	if ok {
		return re
	}

	re = compileSegment(segment)

	m.mu.Lock()
	m.cache[segment] = re
	m.mu.Unlock()

	return re
}

// normalizePath lowercases and forward-slashes a path so matching is
// case-insensitive and OS-independent.
func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

// compileSegment translates one glob segment into an anchored regexp.
// Returns nil when the segment cannot be compiled.
//
// Semantics: "**" crosses any number of path segments including zero, "*"
// matches within one segment, "?" matches one non-separator character, and
// a dot is a literal dot. A segment that is not anchored at the workspace
// root gets an implicit any-depth prefix so "*.ts" matches at every depth.
func compileSegment(segment string) *regexp.Regexp {
	pat := normalizePath(segment)

	var sb strings.Builder
	sb.WriteString("^")

	anchored := strings.HasPrefix(pat, "/")
	if anchored {
		pat = strings.TrimPrefix(pat, "/")
	}
	if !anchored && !strings.HasPrefix(pat, "**") {
		// Suffix pattern: allow any leading directory depth.
		sb.WriteString(`(?:.*/)?`)
	}

	for i := 0; i < len(pat); i++ {
		c := pat[i]
		switch c {
		case '*':
			if i+1 < len(pat) && pat[i+1] == '*' {
				i++
				// "**/" collapses to zero-or-more whole segments so that
				// "**/*.ts" still matches a file at the root.
				if i+1 < len(pat) && pat[i+1] == '/' {
					i++
					sb.WriteString(`(?:.*/)?`)
				} else {
					sb.WriteString(`.*`)
				}
			} else {
				sb.WriteString(`[^/]*`)
			}
		case '?':
			sb.WriteString(`[^/]`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil
	}

	return re
}
