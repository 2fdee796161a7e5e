// Package index maintains the reverse map from interned names to the slab
// indices bearing them. Postings are roaring bitmaps, so per-segment unions
// and candidate intersections stay linear in the compressed set sizes.
package index

import (
	"regexp"

	"github.com/RoaringBitmap/roaring"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/query"
	"github.com/pathsift/pathsift/psift/slab"
)

// NameIndex maps every interned name to the sorted, duplicate-free set of
// slab indices whose node carries that name. It is a faithful inversion of
// the slab: an index appears in exactly the bucket of its node's name.
type NameIndex struct {
	buckets map[*namepool.Name]*roaring.Bitmap
}

// New creates an empty index.
func New() *NameIndex {
	return &NameIndex{buckets: make(map[*namepool.Name]*roaring.Bitmap)}
}

// Add inserts idx into name's bucket, creating the bucket if absent.
func (ni *NameIndex) Add(name *namepool.Name, idx slab.Idx) {
	bm, ok := ni.buckets[name]
	if !ok {
		bm = roaring.New()
		ni.buckets[name] = bm
	}
	bm.Add(uint32(idx))
}

// Remove deletes idx from name's bucket and drops the bucket when it
// empties.
func (ni *NameIndex) Remove(name *namepool.Name, idx slab.Idx) {
	bm, ok := ni.buckets[name]
	if !ok {
		return
	}
	bm.Remove(uint32(idx))
	if bm.IsEmpty() {
		delete(ni.buckets, name)
	}
}

// Lookup returns the posting set for name. The returned bitmap is shared;
// callers must not mutate it.
func (ni *NameIndex) Lookup(name *namepool.Name) (*roaring.Bitmap, bool) {
	bm, ok := ni.buckets[name]
	return bm, ok
}

// Len is the number of non-empty buckets.
func (ni *NameIndex) Len() int { return len(ni.buckets) }

// Walk visits every bucket until fn returns false. Iteration order is
// unspecified.
func (ni *NameIndex) Walk(fn func(name *namepool.Name, indices *roaring.Bitmap) bool) {
	for name, bm := range ni.buckets {
		if !fn(name, bm) {
			return
		}
	}
}

// UnionNames returns the union of the posting sets of every name in set.
func (ni *NameIndex) UnionNames(set namepool.Set) *roaring.Bitmap {
	out := roaring.New()
	for name := range set {
		if bm, ok := ni.buckets[name]; ok {
			out.Or(bm)
		}
	}
	return out
}

// ResolveSegment computes the set of interned names satisfying one concrete
// path segment. ok is false iff the pool scan observed cancellation.
func ResolveSegment(pool *namepool.Pool, seg query.Segment, fold bool, tok cancel.Token) (namepool.Set, bool) {
	switch seg.Kind {
	case query.SegSubstr:
		return pool.SearchSubstr(seg.Value, fold, tok)
	case query.SegPrefix:
		return pool.SearchPrefix(seg.Value, fold, tok)
	case query.SegSuffix:
		return pool.SearchSuffix(seg.Value, fold, tok)
	case query.SegExact:
		return pool.SearchExact(seg.Value, fold, tok)
	default:
		// Globstar constrains nothing at the name level.
		return nil, true
	}
}

// ResolveRegex computes the set of interned names matched by re.
func ResolveRegex(pool *namepool.Pool, re *regexp.Regexp, tok cancel.Token) (namepool.Set, bool) {
	return pool.SearchRegex(re, tok)
}

// SegmentSets resolves every concrete segment of p to the set of interned
// names satisfying it, reducing chain verification to handle membership.
// Globstar segments yield a nil entry (unconstrained). ok is false iff a
// pool scan observed cancellation.
func SegmentSets(pool *namepool.Pool, p query.PathPattern, fold bool, tok cancel.Token) ([]namepool.Set, bool) {
	sets := make([]namepool.Set, len(p.Segments))
	for i, seg := range p.Segments {
		if seg.Kind == query.SegGlobStar {
			continue
		}
		var names namepool.Set
		var ok bool
		if wildcardSegment(seg) {
			names, ok = pool.SearchFunc(query.SegmentMatcher(seg, fold), tok)
		} else {
			names, ok = ResolveSegment(pool, seg, fold, tok)
		}
		if !ok {
			return nil, false
		}
		sets[i] = names
	}
	return sets, true
}

func wildcardSegment(seg query.Segment) bool {
	for i := 0; i < len(seg.Value); i++ {
		if seg.Value[i] == '*' || seg.Value[i] == '?' {
			return true
		}
	}
	return false
}
