package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/index"
	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/query"
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/tags"
	"github.com/pathsift/pathsift/psift/walker"
)

// Options tunes one search call.
type Options struct {
	CaseSensitive bool
	// MaxResults clamps the result list after filtering; zero is unlimited.
	MaxResults uint32
}

// Outcome is the result of a search. Nodes is nil iff the search was
// cancelled; otherwise it lists matches in ascending slab-index order.
type Outcome struct {
	Nodes      []slab.Idx
	Highlights map[slab.Idx][]Range
}

// Search parses and evaluates q. version seeds a fresh cancellation token,
// logically cancelling any in-flight older search.
func (c *SearchCache) Search(q string, opts Options, version uint64) (Outcome, error) {
	return c.SearchWithToken(q, opts, cancel.New(version))
}

// SearchWithToken evaluates q under an existing token.
func (c *SearchCache) SearchWithToken(q string, opts Options, tok cancel.Token) (Outcome, error) {
	expr, err := query.Parse(q)
	if err != nil {
		return Outcome{}, wrapParseError(err)
	}
	if tok.Cancelled() {
		return Outcome{Nodes: nil}, ErrCancelled
	}

	ev := &evaluator{
		c:    c,
		fold: !opts.CaseSensitive,
		tok:  tok,
		now:  time.Now(),
		meta: make(map[slab.Idx]metaPatch),
	}

	c.mu.RLock()
	result, evalErr := ev.eval(expr, c.live)
	var outcome Outcome
	if evalErr == nil {
		outcome = ev.collect(expr, result, opts.MaxResults)
	}
	c.mu.RUnlock()

	// Metadata fetched on demand during evaluation is cached back onto the
	// nodes, under the writer lock so readers never see a torn node.
	if len(ev.meta) > 0 {
		c.commitMeta(ev.meta)
	}

	if evalErr != nil {
		if errors.Is(evalErr, ErrCancelled) {
			return Outcome{Nodes: nil}, ErrCancelled
		}
		return Outcome{}, evalErr
	}
	return outcome, nil
}

type metaPatch struct {
	size  uint64
	mtime int64
	ctime int64
}

func (c *SearchCache) commitMeta(patches map[slab.Idx]metaPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, patch := range patches {
		node, ok := c.slab.Get(idx)
		if !ok || node.MetaLoaded {
			continue
		}
		node.Size = patch.size
		node.MTime = patch.mtime
		node.CTime = patch.ctime
		node.MetaLoaded = true
	}
}

type evaluator struct {
	c    *SearchCache
	fold bool
	tok  cancel.Token
	now  time.Time
	meta map[slab.Idx]metaPatch
}

// eval computes the subset of cand matching expr. cand is never mutated.
func (ev *evaluator) eval(e query.Expr, cand *roaring.Bitmap) (*roaring.Bitmap, error) {
	switch x := e.(type) {
	case query.MatchAll:
		return cand, nil
	case *query.AndExpr:
		// Narrow left to right, cheap predicates first: every later conjunct
		// only ever sees the already-reduced candidate set.
		parts := append([]query.Expr(nil), x.Parts...)
		sort.SliceStable(parts, func(i, j int) bool {
			return exprCost(parts[i]) < exprCost(parts[j])
		})
		current := cand
		for _, part := range parts {
			next, err := ev.eval(part, current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil
	case *query.OrExpr:
		out := roaring.New()
		for _, part := range x.Parts {
			sub, err := ev.eval(part, cand)
			if err != nil {
				return nil, err
			}
			out.Or(sub)
		}
		return out, nil
	case *query.NotExpr:
		// Complements are closed over the candidate set, never the universe.
		inner, err := ev.eval(x.Inner, cand)
		if err != nil {
			return nil, err
		}
		return roaring.AndNot(cand, inner), nil
	case *query.TokenExpr:
		return ev.evalToken(x, cand)
	case *query.FilterExpr:
		return ev.evalFilter(x, cand)
	default:
		return nil, fmt.Errorf("%w: unknown expression", ErrQuerySyntax)
	}
}

// exprCost orders conjuncts: index-backed and in-node predicates first, then
// regex, then metadata-dependent filters, tags, and finally content scans.
func exprCost(e query.Expr) int {
	switch x := e.(type) {
	case *query.FilterExpr:
		switch x.Spec.Kind {
		case query.FilterRegex:
			return 2
		case query.FilterSize, query.FilterDateModified, query.FilterDateCreated:
			return 3
		case query.FilterTag:
			return 4
		case query.FilterContent:
			return 5
		default:
			return 1
		}
	case *query.AndExpr:
		cost := 0
		for _, p := range x.Parts {
			cost = max(cost, exprCost(p))
		}
		return cost
	case *query.OrExpr:
		cost := 0
		for _, p := range x.Parts {
			cost = max(cost, exprCost(p))
		}
		return cost
	case *query.NotExpr:
		return exprCost(x.Inner)
	default:
		return 0
	}
}

// evalToken matches a path token. Bare substrings reduce to a name-level
// filter plus a memoized ancestor walk; segmented tokens resolve every
// segment to a name set and verify the component chain by ascending
// parents.
func (ev *evaluator) evalToken(t *query.TokenExpr, cand *roaring.Bitmap) (*roaring.Bitmap, error) {
	p := t.Pattern
	if p.Empty() {
		// Slash-only or doubled-slash tokens constrain everything away.
		return roaring.New(), nil
	}

	if len(p.Segments) == 1 && p.Segments[0].Kind == query.SegSubstr && !p.RootAnchored && !p.DirAnchored {
		return ev.evalSubstrToken(p.Segments[0], cand)
	}

	sets, ok := index.SegmentSets(ev.c.pool, p, ev.fold, ev.tok)
	if !ok {
		return nil, ErrCancelled
	}
	// A concrete segment no interned name satisfies kills the whole token.
	prefilter := namepool.Set(nil)
	for i, set := range sets {
		if p.Segments[i].Kind == query.SegGlobStar {
			continue
		}
		if len(set) == 0 {
			return roaring.New(), nil
		}
		if prefilter == nil || len(set) < len(prefilter) {
			prefilter = set
		}
	}

	// Quick reject on the most selective segment: some component of the
	// node's path must carry one of its names. Memoized like the bare
	// substring walk so shared prefixes are decided once.
	memo := make(map[slab.Idx]bool)
	var touches func(idx slab.Idx) bool
	touches = func(idx slab.Idx) bool {
		if idx == slab.NoIdx {
			return false
		}
		if v, seen := memo[idx]; seen {
			return v
		}
		node, ok := ev.c.slab.Get(idx)
		if !ok {
			return false
		}
		v := prefilter.Contains(node.Name) || touches(node.Parent)
		memo[idx] = v
		return v
	}

	out := roaring.New()
	var counter uint64
	it := cand.Iterator()
	for it.HasNext() {
		counter++
		if ev.tok.CancelledSparse(counter) {
			return nil, ErrCancelled
		}
		idx := slab.Idx(it.Next())
		if prefilter != nil && !touches(idx) {
			continue
		}
		comps := ev.componentHandles(idx)
		if matchChain(p, sets, comps) {
			out.Add(uint32(idx))
		}
	}
	return out, nil
}

func (ev *evaluator) evalSubstrToken(seg query.Segment, cand *roaring.Bitmap) (*roaring.Bitmap, error) {
	var names namepool.Set
	var ok bool
	if strings.ContainsAny(seg.Value, "*?") {
		names, ok = ev.c.pool.SearchFunc(query.SegmentMatcher(seg, ev.fold), ev.tok)
	} else {
		names, ok = ev.c.pool.SearchSubstr(seg.Value, ev.fold, ev.tok)
	}
	if !ok {
		return nil, ErrCancelled
	}

	// A node matches when its own name or any ancestor's name does; memoize
	// per index so shared directory prefixes are decided once.
	memo := make(map[slab.Idx]bool)
	var pathMatches func(idx slab.Idx) bool
	pathMatches = func(idx slab.Idx) bool {
		if idx == slab.NoIdx {
			return false
		}
		if v, seen := memo[idx]; seen {
			return v
		}
		node, ok := ev.c.slab.Get(idx)
		if !ok {
			return false
		}
		v := names.Contains(node.Name) || pathMatches(node.Parent)
		memo[idx] = v
		return v
	}

	out := roaring.New()
	var counter uint64
	it := cand.Iterator()
	for it.HasNext() {
		counter++
		if ev.tok.CancelledSparse(counter) {
			return nil, ErrCancelled
		}
		idx := slab.Idx(it.Next())
		if pathMatches(idx) {
			out.Add(uint32(idx))
		}
	}
	return out, nil
}

// componentNames returns the node's path components below the watched root,
// outermost first.
func (ev *evaluator) componentNames(idx slab.Idx) []string {
	handles := ev.componentHandles(idx)
	comps := make([]string, len(handles))
	for i, h := range handles {
		comps[i] = h.String()
	}
	return comps
}

// componentHandles is componentNames without leaving handle space.
func (ev *evaluator) componentHandles(idx slab.Idx) []*namepool.Name {
	var comps []*namepool.Name
	current := idx
	for {
		node, ok := ev.c.slab.Get(current)
		if !ok || node.Parent == slab.NoIdx {
			break
		}
		comps = append(comps, node.Name)
		current = node.Parent
	}
	for i, j := 0, len(comps)-1; i < j; i, j = i+1, j-1 {
		comps[i], comps[j] = comps[j], comps[i]
	}
	return comps
}

// matchChain reports whether the pattern's segments match some consecutive
// run of comps, with segment satisfaction reduced to name-set membership.
// Root anchoring pins the run start to the first component; a dir-anchored
// pattern must finish strictly above the node's own component.
func matchChain(p query.PathPattern, sets []namepool.Set, comps []*namepool.Name) bool {
	maxEnd := len(comps)
	if p.DirAnchored {
		maxEnd--
	}
	if maxEnd < 0 {
		return false
	}
	starts := len(comps)
	if p.RootAnchored {
		starts = 1
	}
	for start := 0; start < starts; start++ {
		if matchSegmentsAt(p.Segments, sets, comps, start, maxEnd) {
			return true
		}
	}
	return false
}

// matchSegmentsAt matches segments against comps beginning at start, with
// globstars spanning zero or more components. The run must end at or before
// maxEnd (exclusive bound on the component after the run).
func matchSegmentsAt(segs []query.Segment, sets []namepool.Set, comps []*namepool.Name, start, maxEnd int) bool {
	if len(segs) == 0 {
		return start <= maxEnd
	}
	if segs[0].Kind == query.SegGlobStar {
		for skip := start; skip <= maxEnd; skip++ {
			if matchSegmentsAt(segs[1:], sets[1:], comps, skip, maxEnd) {
				return true
			}
		}
		return false
	}
	if start >= maxEnd || start >= len(comps) {
		return false
	}
	if !sets[0].Contains(comps[start]) {
		return false
	}
	return matchSegmentsAt(segs[1:], sets[1:], comps, start+1, maxEnd)
}

func (ev *evaluator) evalFilter(f *query.FilterExpr, cand *roaring.Bitmap) (*roaring.Bitmap, error) {
	switch f.Spec.Kind {
	case query.FilterFile:
		return ev.filterByKind(cand, slab.KindFile)
	case query.FilterFolder:
		return ev.filterByKind(cand, slab.KindDir)
	case query.FilterExtension:
		return ev.filterByExtension(cand, f.Spec.Exts)
	case query.FilterParent:
		return ev.filterChildren(cand, f.Spec.Path, false), nil
	case query.FilterNoSubfolders:
		return ev.filterChildren(cand, f.Spec.Path, true), nil
	case query.FilterInFolder:
		return ev.filterDescendants(cand, f.Spec.Path)
	case query.FilterSize:
		return ev.filterBySize(cand, f.Spec.Size)
	case query.FilterDateModified, query.FilterDateCreated:
		r, err := query.ResolveDateArg(f.Spec.DateArg, ev.now)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%s", ErrUnsupportedFilter, f.Ident, f.Spec.DateArg)
		}
		return ev.filterByTime(cand, r, f.Spec.Kind == query.FilterDateCreated)
	case query.FilterRegex:
		return ev.filterByRegex(cand, f)
	case query.FilterContent:
		return ev.filterByContent(cand, f.Spec.Needle)
	case query.FilterTag:
		return ev.filterByTags(cand, f.Spec.Tags)
	default:
		return nil, fmt.Errorf("%w: %s:%s", ErrUnsupportedFilter, f.Ident, f.Arg)
	}
}

func (ev *evaluator) filterByKind(cand *roaring.Bitmap, kind slab.Kind) (*roaring.Bitmap, error) {
	return ev.filterNodes(cand, func(_ slab.Idx, node *slab.FileNode) (bool, error) {
		return node.Kind == kind, nil
	})
}

func (ev *evaluator) filterByExtension(cand *roaring.Bitmap, exts []string) (*roaring.Bitmap, error) {
	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		want[ext] = struct{}{}
	}
	return ev.filterNodes(cand, func(_ slab.Idx, node *slab.FileNode) (bool, error) {
		if node.Kind == slab.KindDir {
			return false, nil
		}
		ext := filepath.Ext(node.Name.String())
		if ext == "" {
			return false, nil
		}
		_, ok := want[strings.ToLower(ext[1:])]
		return ok, nil
	})
}

// filterChildren keeps direct children of the named folder; filesOnly
// additionally drops child folders (nosubfolders:).
func (ev *evaluator) filterChildren(cand *roaring.Bitmap, path string, filesOnly bool) *roaring.Bitmap {
	out := roaring.New()
	base := ev.c.findByPath(path)
	if base == slab.NoIdx {
		return out
	}
	node, ok := ev.c.slab.Get(base)
	if !ok {
		return out
	}
	for child := node.FirstChild; child != slab.NoIdx; {
		n := mustGet(ev.c.slab, child)
		if !filesOnly || n.Kind != slab.KindDir {
			out.Add(uint32(child))
		}
		child = n.NextSibling
	}
	out.And(cand)
	return out
}

func (ev *evaluator) filterDescendants(cand *roaring.Bitmap, path string) (*roaring.Bitmap, error) {
	base := ev.c.findByPath(path)
	if base == slab.NoIdx {
		return roaring.New(), nil
	}
	return ev.filterNodes(cand, func(idx slab.Idx, _ *slab.FileNode) (bool, error) {
		return ev.c.isDescendantOf(idx, base), nil
	})
}

func (ev *evaluator) filterBySize(cand *roaring.Bitmap, r query.SizeRange) (*roaring.Bitmap, error) {
	return ev.filterNodes(cand, func(idx slab.Idx, node *slab.FileNode) (bool, error) {
		if node.Kind == slab.KindDir {
			// Directories report no meaningful size.
			return false, nil
		}
		size, ok := ev.nodeSize(idx, node)
		if !ok {
			return false, nil
		}
		return r.Contains(size), nil
	})
}

func (ev *evaluator) filterByTime(cand *roaring.Bitmap, r query.TimeRange, created bool) (*roaring.Bitmap, error) {
	return ev.filterNodes(cand, func(idx slab.Idx, node *slab.FileNode) (bool, error) {
		mtime, ctime, ok := ev.nodeTimes(idx, node)
		if !ok {
			return false, nil
		}
		if created {
			return r.Contains(ctime), nil
		}
		return r.Contains(mtime), nil
	})
}

func (ev *evaluator) filterByRegex(cand *roaring.Bitmap, f *query.FilterExpr) (*roaring.Bitmap, error) {
	names, ok := index.ResolveRegex(ev.c.pool, f.Spec.Regex, ev.tok)
	if !ok {
		return nil, ErrCancelled
	}
	return ev.filterNodes(cand, func(_ slab.Idx, node *slab.FileNode) (bool, error) {
		return names.Contains(node.Name), nil
	})
}

func (ev *evaluator) filterByTags(cand *roaring.Bitmap, want []string) (*roaring.Bitmap, error) {
	for _, tag := range want {
		if err := tags.ValidateTag(tag); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrQuerySyntax, err)
		}
	}
	return ev.filterNodes(cand, func(idx slab.Idx, _ *slab.FileNode) (bool, error) {
		path, ok := ev.c.nodePathLocked(idx)
		if !ok {
			return false, nil
		}
		return tags.Match(ev.c.tagFetcher.Get(path), want, ev.fold), nil
	})
}

// filterNodes runs a per-node predicate over the candidate set with sparse
// cancellation checks.
func (ev *evaluator) filterNodes(cand *roaring.Bitmap, keep func(idx slab.Idx, node *slab.FileNode) (bool, error)) (*roaring.Bitmap, error) {
	out := roaring.New()
	var counter uint64
	it := cand.Iterator()
	for it.HasNext() {
		counter++
		if ev.tok.CancelledSparse(counter) {
			return nil, ErrCancelled
		}
		idx := slab.Idx(it.Next())
		node, ok := ev.c.slab.Get(idx)
		if !ok {
			continue
		}
		ok, err := keep(idx, node)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Add(uint32(idx))
		}
	}
	return out, nil
}

// nodeSize resolves a node's size, stat'ing lazily when metadata was never
// loaded. Only nodes that reach a metadata predicate are ever stat'ed.
func (ev *evaluator) nodeSize(idx slab.Idx, node *slab.FileNode) (uint64, bool) {
	if node.MetaLoaded {
		return node.Size, true
	}
	patch, ok := ev.backfill(idx)
	if !ok {
		return 0, false
	}
	return patch.size, true
}

func (ev *evaluator) nodeTimes(idx slab.Idx, node *slab.FileNode) (mtime, ctime int64, ok bool) {
	if node.MetaLoaded {
		return node.MTime, node.CTime, true
	}
	patch, ok := ev.backfill(idx)
	if !ok {
		return 0, 0, false
	}
	return patch.mtime, patch.ctime, true
}

func (ev *evaluator) backfill(idx slab.Idx) (metaPatch, bool) {
	if patch, ok := ev.meta[idx]; ok {
		return patch, true
	}
	path, ok := ev.c.nodePathLocked(idx)
	if !ok {
		return metaPatch{}, false
	}
	info, err := walker.Lstat(path)
	if err != nil {
		// Vanished mid-search: demoted to a non-match, not an error.
		return metaPatch{}, false
	}
	patch := metaPatch{
		size:  uint64(info.Size()),
		mtime: info.ModTime().Unix(),
		ctime: walker.ChangeTime(info),
	}
	ev.meta[idx] = patch
	return patch, true
}
