// Package query implements the search query language: tokenizer, parser,
// filter argument grammar, and path-token segmentation.
package query

import "strings"

// SegmentKind describes how a segment's text matches one path component.
type SegmentKind uint8

const (
	// SegSubstr matches anywhere inside a component name.
	SegSubstr SegmentKind = iota
	// SegPrefix matches the start of a component name.
	SegPrefix
	// SegSuffix matches the end of a component name.
	SegSuffix
	// SegExact matches a whole component name.
	SegExact
	// SegGlobStar spans any number of components, including zero.
	SegGlobStar
)

func (k SegmentKind) String() string {
	switch k {
	case SegSubstr:
		return "substr"
	case SegPrefix:
		return "prefix"
	case SegSuffix:
		return "suffix"
	case SegExact:
		return "exact"
	default:
		return "globstar"
	}
}

// Segment is one per-component constraint of a path token.
type Segment struct {
	Kind  SegmentKind
	Value string
}

// PathPattern is the segmented form of a path token.
//
//	elloworl        => substr(elloworl)
//	/root           => prefix(root), root-anchored
//	root/           => suffix(root), dir-anchored
//	/root/          => exact(root), root- and dir-anchored
//	/root/bar       => exact(root), prefix(bar), root-anchored
//	foo/bar/kks     => suffix(foo), exact(bar), prefix(kks)
//	foo/**/bar      => suffix(foo), globstar, prefix(bar)
type PathPattern struct {
	Segments []Segment
	// RootAnchored pins the first segment to the first component under the
	// watched root (leading slash).
	RootAnchored bool
	// DirAnchored ends the segment chain at the node's parent rather than
	// the node itself (trailing slash).
	DirAnchored bool
}

// Empty reports whether the pattern constrains nothing. Queries reducing to
// an empty pattern match no paths when any slash was present, and are
// filtered out earlier when the token itself was empty.
func (p PathPattern) Empty() bool { return len(p.Segments) == 0 }

// Segmentation splits a path token into per-component constraints. A leading
// slash closes the left edge, a trailing slash the right edge; unclosed edges
// relax the boundary segment to prefix/suffix (or substr for a lone
// segment). Consecutive slashes produce an empty pattern.
func Segmentation(token string) PathPattern {
	leftClose := strings.HasPrefix(token, "/")
	rightClose := strings.HasSuffix(token, "/")
	trimmed := strings.Trim(token, "/")
	if trimmed == "" {
		return PathPattern{RootAnchored: leftClose, DirAnchored: rightClose}
	}
	parts := strings.Split(trimmed, "/")
	for _, part := range parts {
		if part == "" {
			// "a//b" collapses to the empty pattern.
			return PathPattern{RootAnchored: leftClose, DirAnchored: rightClose}
		}
	}

	kinds := make([]SegmentKind, len(parts))
	for i := range kinds {
		kinds[i] = SegExact
	}
	if len(parts) == 1 {
		switch {
		case !leftClose && !rightClose:
			kinds[0] = SegSubstr
		case !leftClose:
			kinds[0] = SegSuffix
		case !rightClose:
			kinds[0] = SegPrefix
		}
	} else {
		if !leftClose {
			kinds[0] = SegSuffix
		}
		if !rightClose {
			kinds[len(parts)-1] = SegPrefix
		}
	}

	segments := make([]Segment, len(parts))
	for i, part := range parts {
		if part == "**" {
			segments[i] = Segment{Kind: SegGlobStar}
			continue
		}
		segments[i] = Segment{Kind: kinds[i], Value: part}
	}
	return PathPattern{
		Segments:     segments,
		RootAnchored: leftClose,
		DirAnchored:  rightClose,
	}
}

// HasWildcard reports whether any segment value contains the per-name
// wildcards * or ?.
func (p PathPattern) HasWildcard() bool {
	for _, seg := range p.Segments {
		if seg.Kind == SegGlobStar {
			continue
		}
		if strings.ContainsAny(seg.Value, "*?") {
			return true
		}
	}
	return false
}
