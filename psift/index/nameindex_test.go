package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/query"
)

func TestAddLookupRemove(t *testing.T) {
	pool := namepool.New()
	ni := New()
	name := pool.Intern("report.txt")

	ni.Add(name, 3)
	ni.Add(name, 1)
	ni.Add(name, 3) // duplicate insert is a no-op

	bm, ok := ni.Lookup(name)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 3}, bm.ToArray(), "postings iterate in ascending order")
	assert.Equal(t, 1, ni.Len())

	ni.Remove(name, 1)
	bm, ok = ni.Lookup(name)
	require.True(t, ok)
	assert.Equal(t, []uint32{3}, bm.ToArray())

	// Dropping the last posting drops the bucket.
	ni.Remove(name, 3)
	_, ok = ni.Lookup(name)
	assert.False(t, ok)
	assert.Equal(t, 0, ni.Len())
}

func TestRemoveMissingBucketIsNoop(t *testing.T) {
	pool := namepool.New()
	ni := New()
	assert.NotPanics(t, func() { ni.Remove(pool.Intern("ghost"), 1) })
}

func TestUnionNames(t *testing.T) {
	pool := namepool.New()
	ni := New()
	a := pool.Intern("a.txt")
	b := pool.Intern("b.txt")
	ni.Add(a, 1)
	ni.Add(a, 5)
	ni.Add(b, 2)

	set := namepool.Set{a: {}, b: {}}
	assert.Equal(t, []uint32{1, 2, 5}, ni.UnionNames(set).ToArray())
}

func TestSegmentSets(t *testing.T) {
	pool := namepool.New()
	alpha := pool.Intern("alpha.txt")
	pool.Intern("beta.txt")
	src := pool.Intern("src")

	p := query.Segmentation("src/alpha.txt")
	sets, ok := SegmentSets(pool, p, false, cancel.Noop())
	require.True(t, ok)
	require.Len(t, sets, 2)
	assert.True(t, sets[0].Contains(src))
	assert.True(t, sets[1].Contains(alpha))
	assert.Len(t, sets[1], 1)

	// Globstar segments stay unconstrained.
	p = query.Segmentation("src/**/alpha.txt")
	sets, ok = SegmentSets(pool, p, false, cancel.Noop())
	require.True(t, ok)
	require.Len(t, sets, 3)
	assert.Nil(t, sets[1])

	// Wildcard segments resolve through the per-name matcher.
	p = query.Segmentation("src/*.txt")
	sets, ok = SegmentSets(pool, p, false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, sets[1], 2)
}

func TestResolveSegment(t *testing.T) {
	pool := namepool.New()
	hello := pool.Intern("hello")
	pool.Intern("hellfire")
	world := pool.Intern("world")

	set, ok := ResolveSegment(pool, query.Segment{Kind: query.SegPrefix, Value: "hell"}, false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, set, 2)

	set, ok = ResolveSegment(pool, query.Segment{Kind: query.SegExact, Value: "world"}, false, cancel.Noop())
	require.True(t, ok)
	assert.True(t, set.Contains(world))
	assert.False(t, set.Contains(hello))
}
