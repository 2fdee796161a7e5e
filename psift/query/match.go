package query

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SegmentMatcher compiles one segment into a per-name predicate. Segments
// containing * or ? become glob matchers; the segment kind contributes the
// anchoring.
func SegmentMatcher(seg Segment, fold bool) func(name string) bool {
	if seg.Kind == SegGlobStar {
		return func(string) bool { return true }
	}
	value := seg.Value
	if fold {
		value = foldLower(value)
	}
	if strings.ContainsAny(seg.Value, "*?") {
		// Wildcards turn the segment into an anchored per-name matcher; open
		// boundary kinds keep their open edge.
		glob := value
		switch seg.Kind {
		case SegPrefix:
			if !strings.HasSuffix(glob, "*") {
				glob += "*"
			}
		case SegSuffix:
			if !strings.HasPrefix(glob, "*") {
				glob = "*" + glob
			}
		}
		if !doublestar.ValidatePattern(glob) {
			return func(string) bool { return false }
		}
		return func(name string) bool {
			if fold {
				name = foldLower(name)
			}
			ok, err := doublestar.Match(glob, name)
			return err == nil && ok
		}
	}
	switch seg.Kind {
	case SegSubstr:
		return func(name string) bool {
			if fold {
				name = foldLower(name)
			}
			return strings.Contains(name, value)
		}
	case SegPrefix:
		return func(name string) bool {
			if fold {
				name = foldLower(name)
			}
			return strings.HasPrefix(name, value)
		}
	case SegSuffix:
		return func(name string) bool {
			if fold {
				name = foldLower(name)
			}
			return strings.HasSuffix(name, value)
		}
	default:
		return func(name string) bool {
			if fold {
				name = foldLower(name)
			}
			return name == value
		}
	}
}

// SegmentHighlight reports the byte range inside name that seg matched.
// Wildcard and globstar segments highlight the whole name.
func SegmentHighlight(seg Segment, name string, fold bool) (off, length int) {
	if seg.Kind == SegGlobStar || strings.ContainsAny(seg.Value, "*?") {
		return 0, len(name)
	}
	haystack, needle := name, seg.Value
	if fold {
		haystack = foldLower(haystack)
		needle = foldLower(needle)
	}
	switch seg.Kind {
	case SegSubstr:
		if i := strings.Index(haystack, needle); i >= 0 {
			return i, len(needle)
		}
	case SegPrefix:
		return 0, len(needle)
	case SegSuffix:
		return len(name) - len(needle), len(needle)
	case SegExact:
		return 0, len(name)
	}
	return 0, len(name)
}

// foldLower is the ASCII fold shared with the name pool; folding never
// changes byte length, so highlight offsets computed on folded strings stay
// valid for the original.
func foldLower(s string) string {
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
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
