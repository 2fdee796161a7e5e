package namepool

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathsift/pathsift/psift/cancel"
)

func TestInternDedupesByBytes(t *testing.T) {
	pool := New()
	a := pool.Intern("hello")
	b := pool.Intern("hello")
	c := pool.Intern("world")

	assert.Same(t, a, b, "equal bytes should intern to the same handle")
	assert.NotSame(t, a, c)
	assert.Equal(t, "hello", a.String())
	assert.Equal(t, 2, pool.Len())
}

func TestInternAssignsStableIDs(t *testing.T) {
	pool := New()
	a := pool.Intern("foo")
	b := pool.Intern("bar")

	got, ok := pool.ByID(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
	got, ok = pool.ByID(b.ID())
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = pool.ByID(99)
	assert.False(t, ok)
}

func TestSearchSubstr(t *testing.T) {
	pool := New()
	pool.Intern("hello")
	pool.Intern("world")
	pool.Intern("hello world")
	pool.Intern("hello world hello")

	result, ok := pool.SearchSubstr("hello", false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, result, 3)

	result, ok = pool.SearchSubstr("world", false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, result, 3)

	result, ok = pool.SearchSubstr("nonexistent", false, cancel.Noop())
	require.True(t, ok)
	assert.Empty(t, result)
}

func TestSearchPrefixSuffixExact(t *testing.T) {
	pool := New()
	hello := pool.Intern("hello")
	pool.Intern("world")
	helloWorld := pool.Intern("hello world")
	pool.Intern("hello world hello")

	prefix, ok := pool.SearchPrefix("hello", false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, prefix, 3)

	suffix, ok := pool.SearchSuffix("world", false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, suffix, 2)
	assert.True(t, suffix.Contains(helloWorld))

	exact, ok := pool.SearchExact("hello", false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, exact, 1)
	assert.True(t, exact.Contains(hello))

	exact, ok = pool.SearchExact("nope", false, cancel.Noop())
	require.True(t, ok)
	assert.Empty(t, exact)
}

func TestSearchUnicode(t *testing.T) {
	pool := New()
	pool.Intern("こんにちは")
	pool.Intern("世界")
	pool.Intern("こんにちは世界")

	result, ok := pool.SearchSubstr("世界", false, cancel.Noop())
	require.True(t, ok)
	assert.Len(t, result, 2)
}

func TestSearchCaseFolding(t *testing.T) {
	pool := New()
	readme := pool.Intern("README.md")
	pool.Intern("notes.txt")

	folded, ok := pool.SearchSubstr("readme", true, cancel.Noop())
	require.True(t, ok)
	assert.True(t, folded.Contains(readme))

	sensitive, ok := pool.SearchSubstr("readme", false, cancel.Noop())
	require.True(t, ok)
	assert.Empty(t, sensitive)

	exact, ok := pool.SearchExact("readme.MD", true, cancel.Noop())
	require.True(t, ok)
	assert.True(t, exact.Contains(readme))
}

func TestSearchRegex(t *testing.T) {
	pool := New()
	report := pool.Intern("report_2024.txt")
	pool.Intern("report.md")

	result, ok := pool.SearchRegex(regexp.MustCompile(`^report_\d+`), cancel.Noop())
	require.True(t, ok)
	assert.Len(t, result, 1)
	assert.True(t, result.Contains(report))
}

func TestWalkIsOrdered(t *testing.T) {
	pool := New()
	pool.Intern("c")
	pool.Intern("a")
	pool.Intern("b")

	var order []string
	pool.Walk(func(n *Name) bool {
		order = append(order, n.String())
		return false
	})
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
