package cache

import (
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/query"
	"github.com/pathsift/pathsift/psift/slab"
)

// Range is a byte range within an expanded path that contributed to a match.
type Range struct {
	Off int
	Len int
}

// mergeRanges sorts ranges and unions overlaps.
func mergeRanges(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && (ranges[j].Off < ranges[j-1].Off ||
			ranges[j].Off == ranges[j-1].Off && ranges[j].Len < ranges[j-1].Len); j-- {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
		}
	}
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Off <= last.Off+last.Len {
			if end := r.Off + r.Len; end > last.Off+last.Len {
				last.Len = end - last.Off
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// collect materializes the final result list and computes highlights for the
// returned nodes. Called with the read lock held.
func (ev *evaluator) collect(expr query.Expr, result *roaring.Bitmap, maxResults uint32) Outcome {
	total := result.GetCardinality()
	if maxResults > 0 && total > uint64(maxResults) {
		total = uint64(maxResults)
	}
	nodes := make([]slab.Idx, 0, total)
	it := result.Iterator()
	for it.HasNext() && uint64(len(nodes)) < total {
		nodes = append(nodes, slab.Idx(it.Next()))
	}

	sources := collectSources(expr, false)
	highlights := make(map[slab.Idx][]Range, len(nodes))
	if len(sources) == 0 {
		return Outcome{Nodes: nodes, Highlights: highlights}
	}
	for _, idx := range nodes {
		path, ok := ev.c.nodePathLocked(idx)
		if !ok {
			continue
		}
		var ranges []Range
		for _, src := range sources {
			ranges = append(ranges, ev.sourceRanges(src, idx, path)...)
		}
		if merged := mergeRanges(ranges); len(merged) > 0 {
			highlights[idx] = merged
		}
	}
	return Outcome{Nodes: nodes, Highlights: highlights}
}

// highlightSource is a positive predicate whose matches are worth showing:
// path tokens and filename regexes. Negated occurrences are skipped, since a
// NOT match leaves nothing in the path to point at.
type highlightSource struct {
	token *query.TokenExpr
	regex *query.FilterExpr
}

func collectSources(e query.Expr, negated bool) []highlightSource {
	switch x := e.(type) {
	case *query.AndExpr:
		var out []highlightSource
		for _, p := range x.Parts {
			out = append(out, collectSources(p, negated)...)
		}
		return out
	case *query.OrExpr:
		var out []highlightSource
		for _, p := range x.Parts {
			out = append(out, collectSources(p, negated)...)
		}
		return out
	case *query.NotExpr:
		return collectSources(x.Inner, !negated)
	case *query.TokenExpr:
		if negated {
			return nil
		}
		return []highlightSource{{token: x}}
	case *query.FilterExpr:
		if negated || x.Spec.Kind != query.FilterRegex {
			return nil
		}
		return []highlightSource{{regex: x}}
	default:
		return nil
	}
}

// sourceRanges computes the ranges src actually matched within path. A
// source that does not match this node contributes nothing.
func (ev *evaluator) sourceRanges(src highlightSource, idx slab.Idx, path string) []Range {
	if src.regex != nil {
		node, ok := ev.c.slab.Get(idx)
		if !ok {
			return nil
		}
		name := node.Name.String()
		loc := src.regex.Spec.Regex.FindStringIndex(name)
		if loc == nil {
			return nil
		}
		nameOff := len(path) - len(name)
		return []Range{{Off: nameOff + loc[0], Len: loc[1] - loc[0]}}
	}

	t := src.token
	p := t.Pattern
	if p.Empty() {
		return nil
	}
	if len(p.Segments) == 1 && p.Segments[0].Kind == query.SegSubstr && !p.RootAnchored && !p.DirAnchored {
		return ev.substrRanges(p.Segments[0], idx, path)
	}
	return ev.chainRanges(p, idx, path)
}

// substrRanges records every occurrence of a bare needle in the path, or the
// matched component for wildcard tokens.
func (ev *evaluator) substrRanges(seg query.Segment, idx slab.Idx, path string) []Range {
	if strings.ContainsAny(seg.Value, "*?") {
		matcher := query.SegmentMatcher(seg, ev.fold)
		var out []Range
		for _, comp := range ev.componentSpans(idx, path) {
			if matcher(comp.name) {
				out = append(out, Range{Off: comp.off, Len: len(comp.name)})
			}
		}
		return out
	}
	haystack, needle := path, seg.Value
	if ev.fold {
		haystack = namepool.FoldASCII(haystack)
		needle = namepool.FoldASCII(needle)
	}
	var out []Range
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			break
		}
		out = append(out, Range{Off: from + i, Len: len(needle)})
		from += i + len(needle)
	}
	return out
}

// chainRanges re-runs the chain match recording the first successful
// alignment and highlights each matched component's contributing bytes.
func (ev *evaluator) chainRanges(p query.PathPattern, idx slab.Idx, path string) []Range {
	comps := ev.componentSpans(idx, path)
	names := make([]string, len(comps))
	for i, comp := range comps {
		names[i] = comp.name
	}
	matchers := make([]func(string) bool, len(p.Segments))
	for i, seg := range p.Segments {
		matchers[i] = query.SegmentMatcher(seg, ev.fold)
	}

	maxEnd := len(comps)
	if p.DirAnchored {
		maxEnd--
	}
	starts := len(comps)
	if p.RootAnchored {
		starts = 1
	}
	for start := 0; start < starts; start++ {
		alignment := make([]int, 0, len(p.Segments))
		if traceSegmentsAt(p.Segments, matchers, names, start, maxEnd, &alignment) {
			out := make([]Range, 0, len(alignment))
			for i, compIdx := range alignment {
				if compIdx < 0 {
					continue
				}
				seg := p.Segments[i]
				off, length := query.SegmentHighlight(seg, names[compIdx], ev.fold)
				out = append(out, Range{Off: comps[compIdx].off + off, Len: length})
			}
			return out
		}
	}
	return nil
}

// traceSegmentsAt mirrors matchSegmentsAt but records the component index
// each segment consumed (-1 for globstars).
func traceSegmentsAt(segs []query.Segment, matchers []func(string) bool, comps []string, start, maxEnd int, alignment *[]int) bool {
	if len(segs) == 0 {
		return start <= maxEnd
	}
	if segs[0].Kind == query.SegGlobStar {
		for skip := start; skip <= maxEnd; skip++ {
			*alignment = append(*alignment, -1)
			if traceSegmentsAt(segs[1:], matchers[1:], comps, skip, maxEnd, alignment) {
				return true
			}
			*alignment = (*alignment)[:len(*alignment)-1]
		}
		return false
	}
	if start >= maxEnd || start >= len(comps) {
		return false
	}
	if !matchers[0](comps[start]) {
		return false
	}
	*alignment = append(*alignment, start)
	if traceSegmentsAt(segs[1:], matchers[1:], comps, start+1, maxEnd, alignment) {
		return true
	}
	*alignment = (*alignment)[:len(*alignment)-1]
	return false
}

type componentSpan struct {
	name string
	off  int
}

// componentSpans returns each path component below the root with its byte
// offset inside path.
func (ev *evaluator) componentSpans(idx slab.Idx, path string) []componentSpan {
	names := ev.componentNames(idx)
	spans := make([]componentSpan, len(names))
	off := len(path)
	for i := len(names) - 1; i >= 0; i-- {
		off -= len(names[i])
		spans[i] = componentSpan{name: names[i], off: off}
		off-- // separator
	}
	return spans
}
