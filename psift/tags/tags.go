// Package tags fetches user-assigned file tags on demand. Tags live in the
// user.tags extended attribute as a comma-separated list; fetches are cached
// per path for the lifetime of the fetcher.
package tags

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/xattr"
)

// Attr is the extended attribute holding the tag list.
const Attr = "user.tags"

// ValidateTag rejects characters the tag query backends cannot quote.
func ValidateTag(tag string) error {
	if i := strings.IndexAny(tag, `'\*`); i >= 0 {
		return fmt.Errorf("tag filter contains unsupported character %q: %s", tag[i], tag)
	}
	return nil
}

// Fetcher reads and caches tag lists.
type Fetcher struct {
	mu    sync.Mutex
	cache map[string][]string
}

// NewFetcher creates an empty fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{cache: make(map[string][]string)}
}

// Get returns the tags of path, fetching and caching on first use. Missing
// attributes and unreadable files yield no tags rather than an error; tag
// filters treat both the same way.
func (f *Fetcher) Get(path string) []string {
	f.mu.Lock()
	if tags, ok := f.cache[path]; ok {
		f.mu.Unlock()
		return tags
	}
	f.mu.Unlock()

	tags := readTags(path)
	f.mu.Lock()
	f.cache[path] = tags
	f.mu.Unlock()
	return tags
}

// Invalidate drops the cached entry for path, for use after modify events.
func (f *Fetcher) Invalidate(path string) {
	f.mu.Lock()
	delete(f.cache, path)
	f.mu.Unlock()
}

func readTags(path string) []string {
	raw, err := xattr.Get(path, Attr)
	if err != nil || len(raw) == 0 {
		return nil
	}
	parts := strings.Split(string(raw), ",")
	tags := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}

// Match reports whether any of the wanted tags appears in have, optionally
// case-folding ASCII.
func Match(have []string, want []string, fold bool) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w || fold && strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
