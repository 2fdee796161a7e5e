package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOK(t *testing.T, input string) Expr {
	t.Helper()
	expr, err := Parse(input)
	require.NoError(t, err, "parsing %q", input)
	return expr
}

func asAnd(t *testing.T, e Expr) []Expr {
	t.Helper()
	and, ok := e.(*AndExpr)
	require.True(t, ok, "expected AndExpr, got %T", e)
	return and.Parts
}

func asOr(t *testing.T, e Expr) []Expr {
	t.Helper()
	or, ok := e.(*OrExpr)
	require.True(t, ok, "expected OrExpr, got %T", e)
	return or.Parts
}

func wordIs(t *testing.T, e Expr, text string) {
	t.Helper()
	tok, ok := e.(*TokenExpr)
	require.True(t, ok, "expected TokenExpr, got %T", e)
	assert.Equal(t, text, tok.Text)
}

func TestImplicitAnd(t *testing.T) {
	parts := asAnd(t, parseOK(t, "foo bar baz"))
	require.Len(t, parts, 3)
	wordIs(t, parts[0], "foo")
	wordIs(t, parts[1], "bar")
	wordIs(t, parts[2], "baz")
}

func TestSpacingVariants(t *testing.T) {
	assert.Len(t, asAnd(t, parseOK(t, "a  b   c\n d")), 4)
	assert.Len(t, asAnd(t, parseOK(t, "a\t\tb   c\n d")), 4)
	assert.Len(t, asOr(t, parseOK(t, "a| b |c")), 3)
	assert.Len(t, asOr(t, parseOK(t, " a| b |c ")), 3)
	assert.Len(t, asOr(t, parseOK(t, "a |b | c")), 3)
}

func TestOrBindsTighterThanAnd(t *testing.T) {
	// "a OR b c" groups as (a|b) AND c.
	parts := asAnd(t, parseOK(t, "a OR b c"))
	require.Len(t, parts, 2)
	orParts := asOr(t, parts[0])
	require.Len(t, orParts, 2)
	wordIs(t, orParts[0], "a")
	wordIs(t, orParts[1], "b")
	wordIs(t, parts[1], "c")
}

func TestNotBindsTightest(t *testing.T) {
	parts := asAnd(t, parseOK(t, "a NOT b c"))
	require.Len(t, parts, 3)
	not, ok := parts[1].(*NotExpr)
	require.True(t, ok)
	wordIs(t, not.Inner, "b")

	parts = asAnd(t, parseOK(t, "ext:txt !report"))
	require.Len(t, parts, 2)
	_, ok = parts[1].(*NotExpr)
	assert.True(t, ok)
}

func TestEmptyOrOperandFoldsToMatchAll(t *testing.T) {
	for _, input := range []string{
		"|a|b", "a||b", "a| |b", "||", "|a||b|", "a|b||c",
		"||a|b|c", "a|||b", "| | | ", "alpha||beta|gamma",
		"|ext:rs|ext:md", "folder:src||ext:rs", "regex:^a| ||b",
	} {
		t.Run(input, func(t *testing.T) {
			expr := parseOK(t, input)
			assert.IsType(t, MatchAll{}, expr)
		})
	}
}

func TestOrWithoutEmptyOperands(t *testing.T) {
	parts := asOr(t, parseOK(t, "a|b|c"))
	require.Len(t, parts, 3)
	wordIs(t, parts[0], "a")
	wordIs(t, parts[1], "b")
	wordIs(t, parts[2], "c")
}

func TestGroups(t *testing.T) {
	// Angle brackets and parentheses group equivalently.
	parts := asAnd(t, parseOK(t, "<D: | E:> *.mp3"))
	require.Len(t, parts, 2)
	orParts := asOr(t, parts[0])
	require.Len(t, orParts, 2)
	wordIs(t, parts[1], "*.mp3")

	parts = asAnd(t, parseOK(t, "(foo bar) baz"))
	require.Len(t, parts, 2)
	inner := asAnd(t, parts[0])
	require.Len(t, inner, 2)
	wordIs(t, inner[0], "foo")
	wordIs(t, inner[1], "bar")
	wordIs(t, parts[1], "baz")

	parts = asAnd(t, parseOK(t, "(foo <bar|baz>) qux"))
	require.Len(t, parts, 2)
	region := asAnd(t, parts[0])
	wordIs(t, region[0], "foo")
	orParts = asOr(t, region[1])
	wordIs(t, orParts[0], "bar")
	wordIs(t, orParts[1], "baz")
	wordIs(t, parts[1], "qux")
}

func TestUnmatchedDelimiters(t *testing.T) {
	_, err := Parse(")foo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected closing")

	_, err = Parse("<foo bar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '>'")
}

func TestEmptyQueryMatchesAll(t *testing.T) {
	assert.IsType(t, MatchAll{}, parseOK(t, ""))
	assert.IsType(t, MatchAll{}, parseOK(t, "   "))
}

func TestQuotedTokens(t *testing.T) {
	tok, ok := parseOK(t, `"hello world"`).(*TokenExpr)
	require.True(t, ok)
	assert.True(t, tok.Quoted)
	assert.Equal(t, "hello world", tok.Text)
	require.Len(t, tok.Pattern.Segments, 1)
	assert.Equal(t, SegSubstr, tok.Pattern.Segments[0].Kind)

	// Quoting suppresses wildcard expansion.
	tok, ok = parseOK(t, `"*.mp3"`).(*TokenExpr)
	require.True(t, ok)
	assert.True(t, tok.Quoted)
}

func TestFilterParsing(t *testing.T) {
	f, ok := parseOK(t, "ext:pdf;TXT").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterExtension, f.Spec.Kind)
	assert.Equal(t, []string{"pdf", "txt"}, f.Spec.Exts)

	f, ok = parseOK(t, "size:>1mb").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterSize, f.Spec.Kind)
	assert.Equal(t, uint64(1<<20)+1, f.Spec.Size.Min)

	f, ok = parseOK(t, "type:picture").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterExtension, f.Spec.Kind)
	assert.Contains(t, f.Spec.Exts, "png")

	f, ok = parseOK(t, "dm:today").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterDateModified, f.Spec.Kind)
	assert.Equal(t, "today", f.Spec.DateArg)

	f, ok = parseOK(t, "tag:work;personal").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, []string{"work", "personal"}, f.Spec.Tags)

	// Unknown filters parse but are marked for rejection.
	f, ok = parseOK(t, "bogus:arg").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterUnknown, f.Spec.Kind)

	f, ok = parseOK(t, "type:nonsense").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterUnknown, f.Spec.Kind)
}

func TestMacroFiltersExpand(t *testing.T) {
	// Bare macro: just the category filter.
	f, ok := parseOK(t, "audio:").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterExtension, f.Spec.Kind)
	assert.Contains(t, f.Spec.Exts, "mp3")

	// Macro with an argument ANDs the residual token on.
	parts := asAnd(t, parseOK(t, "audio:beats"))
	require.Len(t, parts, 2)
	filter, ok := parts[0].(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, FilterExtension, filter.Spec.Kind)
	wordIs(t, parts[1], "beats")

	f, ok = parseOK(t, "doc:").(*FilterExpr)
	require.True(t, ok)
	assert.Contains(t, f.Spec.Exts, "txt")
}

func TestContentFilterRejectsEmptyNeedle(t *testing.T) {
	_, err := Parse("content:")
	require.Error(t, err)

	f, ok := parseOK(t, "content:hello").(*FilterExpr)
	require.True(t, ok)
	assert.Equal(t, "hello", f.Spec.Needle)
}

func TestRegexFilter(t *testing.T) {
	f, ok := parseOK(t, `regex:^foo\d+$`).(*FilterExpr)
	require.True(t, ok)
	require.NotNil(t, f.Spec.Regex)
	assert.True(t, f.Spec.Regex.MatchString("foo42"))

	_, err := Parse("regex:([unclosed")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Regex)
}
