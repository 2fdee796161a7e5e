// Package namepool interns path-segment names for the lifetime of the
// process. Two *Name handles are pointer-identical iff their bytes are equal,
// which lets the rest of the engine use handles as map keys and compare
// sibling names without touching the underlying strings.
package namepool

import (
	"regexp"
	"strings"
	"sync"

	radix "github.com/armon/go-radix"

	"github.com/pathsift/pathsift/psift/cancel"
)

// Name is an interned, deduplicated name. Handles stay valid for the process
// lifetime and are never overwritten.
type Name struct {
	str string
	id  uint32
}

// String returns the interned bytes.
func (n *Name) String() string { return n.str }

// ID is the stable pool index assigned at intern time; ByID resolves it back
// to the handle.
func (n *Name) ID() uint32 { return n.id }

// Set is a set of interned names keyed by handle identity.
type Set map[*Name]struct{}

// Contains reports membership of the handle.
func (s Set) Contains(n *Name) bool {
	_, ok := s[n]
	return ok
}

// Pool is a thread-safe ordered set of unique names. The radix tree keeps
// iteration deterministic and makes prefix scans cheap; byStr provides the
// O(1) intern fast path.
type Pool struct {
	mu    sync.Mutex
	byStr map[string]*Name
	byID  []*Name
	tree  *radix.Tree
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		byStr: make(map[string]*Name),
		tree:  radix.New(),
	}
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide pool, created on first use.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New()
	})
	return defaultPool
}

// Intern returns the canonical handle for s, inserting it if absent.
// Outstanding handles are never invalidated.
func (p *Pool) Intern(s string) *Name {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n, ok := p.byStr[s]; ok {
		return n
	}
	n := &Name{str: strings.Clone(s), id: uint32(len(p.byID))}
	p.byStr[n.str] = n
	p.byID = append(p.byID, n)
	p.tree.Insert(n.str, n)
	return n
}

// InternBytes interns a byte slice without requiring the caller to convert.
func (p *Pool) InternBytes(b []byte) *Name {
	return p.Intern(string(b))
}

// Lookup returns the handle for s if it was ever interned.
func (p *Pool) Lookup(s string) (*Name, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.byStr[s]
	return n, ok
}

// ByID resolves a pool index back to its handle.
func (p *Pool) ByID(id uint32) (*Name, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.byID) {
		return nil, false
	}
	return p.byID[id], true
}

// Len returns the number of interned names.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Walk visits every interned name in lexicographic order until fn returns
// true.
func (p *Pool) Walk(fn func(n *Name) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tree.Walk(func(_ string, v interface{}) bool {
		return fn(v.(*Name))
	})
}

// search scans all interned names with a per-name predicate, checking the
// token at sparse intervals. ok is false iff the scan observed cancellation.
func (p *Pool) search(tok cancel.Token, match func(s string) bool) (Set, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(Set)
	var counter uint64
	cancelled := false
	p.tree.Walk(func(_ string, v interface{}) bool {
		counter++
		if tok.CancelledSparse(counter) {
			cancelled = true
			return true
		}
		n := v.(*Name)
		if match(n.str) {
			out[n] = struct{}{}
		}
		return false
	})
	if cancelled {
		return nil, false
	}
	return out, true
}

// SearchSubstr returns every name containing needle. fold enables ASCII
// case-insensitive matching.
func (p *Pool) SearchSubstr(needle string, fold bool, tok cancel.Token) (Set, bool) {
	if fold {
		needle = foldASCII(needle)
		return p.search(tok, func(s string) bool {
			return strings.Contains(foldASCII(s), needle)
		})
	}
	return p.search(tok, func(s string) bool {
		return strings.Contains(s, needle)
	})
}

// SearchPrefix returns every name starting with needle.
func (p *Pool) SearchPrefix(needle string, fold bool, tok cancel.Token) (Set, bool) {
	if fold {
		needle = foldASCII(needle)
		return p.search(tok, func(s string) bool {
			return strings.HasPrefix(foldASCII(s), needle)
		})
	}
	// Case-sensitive prefix scans only need the matching radix subtree.
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(Set)
	var counter uint64
	cancelled := false
	p.tree.WalkPrefix(needle, func(_ string, v interface{}) bool {
		counter++
		if tok.CancelledSparse(counter) {
			cancelled = true
			return true
		}
		out[v.(*Name)] = struct{}{}
		return false
	})
	if cancelled {
		return nil, false
	}
	return out, true
}

// SearchSuffix returns every name ending with needle.
func (p *Pool) SearchSuffix(needle string, fold bool, tok cancel.Token) (Set, bool) {
	if fold {
		needle = foldASCII(needle)
		return p.search(tok, func(s string) bool {
			return strings.HasSuffix(foldASCII(s), needle)
		})
	}
	return p.search(tok, func(s string) bool {
		return strings.HasSuffix(s, needle)
	})
}

// SearchExact returns the name equal to needle, if interned.
func (p *Pool) SearchExact(needle string, fold bool, tok cancel.Token) (Set, bool) {
	if !fold {
		out := make(Set)
		if n, ok := p.Lookup(needle); ok {
			out[n] = struct{}{}
		}
		return out, true
	}
	needle = foldASCII(needle)
	return p.search(tok, func(s string) bool {
		return foldASCII(s) == needle
	})
}

// SearchRegex returns every name matched by re.
func (p *Pool) SearchRegex(re *regexp.Regexp, tok cancel.Token) (Set, bool) {
	return p.search(tok, re.MatchString)
}

// SearchFunc returns every name satisfying match.
func (p *Pool) SearchFunc(match func(s string) bool, tok cancel.Token) (Set, bool) {
	return p.search(tok, match)
}

// foldASCII lowercases ASCII letters only; non-ASCII bytes pass through
// untouched so folded comparisons stay byte-exact for multibyte names.
func foldASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// FoldASCII exposes the pool's folding rule so matchers elsewhere agree with
// name-level searches.
func FoldASCII(s string) string { return foldASCII(s) }
