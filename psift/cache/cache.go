// Package cache owns the indexed representation of a watched subtree: the
// node slab, the name index, the interner handle, and the event cursor. All
// mutation funnels through one writer; queries share a read lock and never
// observe partially applied subtrees.
package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/index"
	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/tags"
	"github.com/pathsift/pathsift/psift/walker"
)

// SearchCache orchestrates the slab, name index and pool for one watched
// root.
type SearchCache struct {
	mu    sync.RWMutex
	pool  *namepool.Pool
	slab  *slab.Slab
	names *index.NameIndex
	// live tracks occupied slab indices; it doubles as the query universe.
	live        *roaring.Bitmap
	root        string
	rootIdx     slab.Idx
	lastEventID atomic.Uint64
	tagFetcher  *tags.Fetcher
	snapshotID  uuid.UUID
}

// BuildOptions configures the initial walk.
type BuildOptions struct {
	IgnorePrefixes []string
	IgnorePatterns []string
	NeedMetadata   bool
	Workers        int
}

// NewEmpty creates a cache holding only the root node for root.
func NewEmpty(root string) *SearchCache {
	c := &SearchCache{
		pool:       namepool.Default(),
		slab:       slab.New(),
		names:      index.New(),
		live:       roaring.New(),
		root:       filepath.Clean(root),
		tagFetcher: tags.NewFetcher(),
		snapshotID: uuid.New(),
	}
	c.rootIdx = c.insertNode(slab.FileNode{
		Name:        c.pool.Intern(""),
		Parent:      slab.NoIdx,
		FirstChild:  slab.NoIdx,
		NextSibling: slab.NoIdx,
		Kind:        slab.KindDir,
	})
	return c
}

// BuildFromRoot walks root and builds a fully indexed cache. It returns
// (nil, ErrCancelled) when the walk observed cancellation.
func BuildFromRoot(root string, opts BuildOptions, tok cancel.Token) (*SearchCache, error) {
	w := walker.New()
	tree, err := w.Walk(walker.Options{
		Root:           root,
		IgnorePrefixes: opts.IgnorePrefixes,
		IgnorePatterns: opts.IgnorePatterns,
		NeedMetadata:   opts.NeedMetadata,
		Workers:        opts.Workers,
	}, tok)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	if tree == nil {
		return nil, ErrCancelled
	}

	c := NewEmpty(root)
	c.mu.Lock()
	c.insertChildren(c.rootIdx, tree.Children)
	c.mu.Unlock()

	files, dirs := w.Progress()
	slog.Info("cache built",
		"root", c.root,
		"files", files,
		"dirs", dirs,
		"nodes", c.slab.Len())
	return c, nil
}

// Root returns the watched root path.
func (c *SearchCache) Root() string { return c.root }

// LastEventID returns the id of the newest applied event.
func (c *SearchCache) LastEventID() uint64 { return c.lastEventID.Load() }

// Len returns the number of indexed nodes including the root.
func (c *SearchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slab.Len()
}

// insertNode stores node and keeps the name index and live set faithful.
// Caller holds the write lock (or owns the cache exclusively).
func (c *SearchCache) insertNode(node slab.FileNode) slab.Idx {
	idx := c.slab.Insert(node)
	c.names.Add(node.Name, idx)
	c.live.Add(uint32(idx))
	return idx
}

// removeNode frees idx and its index entries. The node must already be
// unlinked from its parent's child list.
func (c *SearchCache) removeNode(idx slab.Idx) {
	node := c.slab.Remove(idx)
	c.names.Remove(node.Name, idx)
	c.live.Remove(uint32(idx))
}

// insertChildren inserts walked children under parent in depth-first order,
// preserving the walker's name-sorted sibling order.
func (c *SearchCache) insertChildren(parent slab.Idx, children []*walker.Node) {
	var prev slab.Idx = slab.NoIdx
	for _, child := range children {
		idx := c.insertNode(slab.FileNode{
			Name:        c.pool.Intern(child.Name),
			Parent:      parent,
			FirstChild:  slab.NoIdx,
			NextSibling: slab.NoIdx,
			Kind:        child.Kind,
			Size:        child.Size,
			MTime:       child.MTime,
			CTime:       child.CTime,
			MetaLoaded:  child.MetaLoaded,
		})
		if prev == slab.NoIdx {
			mustGet(c.slab, parent).FirstChild = idx
		} else {
			mustGet(c.slab, prev).NextSibling = idx
		}
		prev = idx
		if child.Kind == slab.KindDir {
			c.insertChildren(idx, child.Children)
		}
	}
}

// linkChild pushes idx onto parent's child list.
func (c *SearchCache) linkChild(parent, idx slab.Idx) {
	p := mustGet(c.slab, parent)
	node := mustGet(c.slab, idx)
	node.Parent = parent
	node.NextSibling = p.FirstChild
	p.FirstChild = idx
}

// unlinkChild removes idx from its parent's child list.
func (c *SearchCache) unlinkChild(idx slab.Idx) {
	node := mustGet(c.slab, idx)
	if node.Parent == slab.NoIdx {
		return
	}
	p := mustGet(c.slab, node.Parent)
	if p.FirstChild == idx {
		p.FirstChild = node.NextSibling
		node.NextSibling = slab.NoIdx
		return
	}
	for cur := p.FirstChild; cur != slab.NoIdx; {
		n := mustGet(c.slab, cur)
		if n.NextSibling == idx {
			n.NextSibling = node.NextSibling
			node.NextSibling = slab.NoIdx
			return
		}
		cur = n.NextSibling
	}
}

// removeSubtree unlinks idx and frees it together with every descendant.
func (c *SearchCache) removeSubtree(idx slab.Idx) {
	c.unlinkChild(idx)
	c.freeSubtree(idx)
}

func (c *SearchCache) freeSubtree(idx slab.Idx) {
	node := mustGet(c.slab, idx)
	for child := node.FirstChild; child != slab.NoIdx; {
		next := mustGet(c.slab, child).NextSibling
		c.freeSubtree(child)
		child = next
	}
	c.removeNode(idx)
}

// childByName finds the direct child of dir carrying name, by handle
// identity.
func (c *SearchCache) childByName(dir slab.Idx, name *namepool.Name) slab.Idx {
	node, ok := c.slab.Get(dir)
	if !ok {
		return slab.NoIdx
	}
	for child := node.FirstChild; child != slab.NoIdx; {
		n := mustGet(c.slab, child)
		if n.Name == name {
			return child
		}
		child = n.NextSibling
	}
	return slab.NoIdx
}

// NodePath resolves the absolute path of idx by ascending the parent chain.
func (c *SearchCache) NodePath(idx slab.Idx) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodePathLocked(idx)
}

func (c *SearchCache) nodePathLocked(idx slab.Idx) (string, bool) {
	var segments []string
	current := idx
	for {
		node, ok := c.slab.Get(current)
		if !ok {
			return "", false
		}
		if node.Parent == slab.NoIdx {
			break
		}
		segments = append(segments, node.Name.String())
		current = node.Parent
	}
	if len(segments) == 0 {
		return c.root, true
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return filepath.Join(append([]string{c.root}, segments...)...), true
}

// findByPath resolves an absolute path to its slab index. The path must lie
// under the watched root and every component must already be interned.
func (c *SearchCache) findByPath(path string) slab.Idx {
	rel, ok := c.relativePath(path)
	if !ok {
		return slab.NoIdx
	}
	current := c.rootIdx
	for _, comp := range rel {
		name, ok := c.pool.Lookup(comp)
		if !ok {
			return slab.NoIdx
		}
		current = c.childByName(current, name)
		if current == slab.NoIdx {
			return slab.NoIdx
		}
	}
	return current
}

// relativePath splits path into components relative to the root.
func (c *SearchCache) relativePath(path string) ([]string, bool) {
	path = filepath.Clean(path)
	if path == c.root {
		return nil, true
	}
	prefix := c.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return nil, false
	}
	rel := strings.TrimPrefix(path, prefix)
	return strings.Split(rel, string(filepath.Separator)), true
}

// isDescendantOf reports whether idx lies strictly below ancestor.
func (c *SearchCache) isDescendantOf(idx, ancestor slab.Idx) bool {
	node, ok := c.slab.Get(idx)
	if !ok {
		return false
	}
	for parent := node.Parent; parent != slab.NoIdx; {
		if parent == ancestor {
			return true
		}
		node = mustGet(c.slab, parent)
		parent = node.Parent
	}
	return false
}

// Validate checks the structural invariants and returns every violation
// found. An empty result means the slab, name index and pool agree.
func (c *SearchCache) Validate() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	c.slab.IterOccupied(func(idx slab.Idx, node *slab.FileNode) bool {
		if node.Parent != slab.NoIdx {
			parent, ok := c.slab.Get(node.Parent)
			if !ok {
				errs = append(errs, fmt.Errorf("node %d: parent %d is vacant", idx, node.Parent))
				return true
			}
			if parent.Kind != slab.KindDir {
				errs = append(errs, fmt.Errorf("node %d: parent %d is not a directory", idx, node.Parent))
			}
		}
		if bm, ok := c.names.Lookup(node.Name); !ok || !bm.Contains(uint32(idx)) {
			errs = append(errs, fmt.Errorf("node %d: missing from name index bucket %q", idx, node.Name.String()))
		}
		if node.Kind == slab.KindDir {
			errs = append(errs, c.validateChildren(idx, node)...)
		}
		return true
	})
	c.names.Walk(func(name *namepool.Name, bm *roaring.Bitmap) bool {
		it := bm.Iterator()
		for it.HasNext() {
			idx := slab.Idx(it.Next())
			node, ok := c.slab.Get(idx)
			if !ok {
				errs = append(errs, fmt.Errorf("name %q: stale posting %d", name.String(), idx))
				continue
			}
			if node.Name != name {
				errs = append(errs, fmt.Errorf("name %q: posting %d carries name %q", name.String(), idx, node.Name.String()))
			}
		}
		return true
	})
	return errs
}

func (c *SearchCache) validateChildren(idx slab.Idx, node *slab.FileNode) []error {
	var errs []error
	seen := make(map[*namepool.Name]struct{})
	visited := make(map[slab.Idx]struct{})
	for child := node.FirstChild; child != slab.NoIdx; {
		if _, dup := visited[child]; dup {
			errs = append(errs, fmt.Errorf("dir %d: child list cycles at %d", idx, child))
			break
		}
		visited[child] = struct{}{}
		n, ok := c.slab.Get(child)
		if !ok {
			errs = append(errs, fmt.Errorf("dir %d: vacant child %d", idx, child))
			break
		}
		if n.Parent != idx {
			errs = append(errs, fmt.Errorf("dir %d: child %d claims parent %d", idx, child, n.Parent))
		}
		if _, dup := seen[n.Name]; dup {
			errs = append(errs, fmt.Errorf("dir %d: duplicate child name %q", idx, n.Name.String()))
		}
		seen[n.Name] = struct{}{}
		child = n.NextSibling
	}
	return errs
}

// SortKey selects the attribute Sort orders by.
type SortKey uint8

const (
	SortByName SortKey = iota
	SortByPath
	SortBySize
	SortByMTime
	SortByCTime
)

// SortDirection orders ascending or descending.
type SortDirection uint8

const (
	SortAsc SortDirection = iota
	SortDesc
)

// Sort stably orders indices by key, breaking ties by ascending slab index.
func (c *SearchCache) Sort(indices []slab.Idx, key SortKey, dir SortDirection) []slab.Idx {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]slab.Idx, len(indices))
	copy(out, indices)

	pathOf := func(idx slab.Idx) string {
		p, _ := c.nodePathLocked(idx)
		return p
	}
	less := func(a, b slab.Idx) bool {
		na, aok := c.slab.Get(a)
		nb, bok := c.slab.Get(b)
		if !aok || !bok {
			return bok
		}
		switch key {
		case SortByName:
			if na.Name != nb.Name {
				return na.Name.String() < nb.Name.String()
			}
		case SortByPath:
			pa, pb := pathOf(a), pathOf(b)
			if pa != pb {
				return pa < pb
			}
		case SortBySize:
			if na.Size != nb.Size {
				return na.Size < nb.Size
			}
		case SortByMTime:
			if na.MTime != nb.MTime {
				return na.MTime < nb.MTime
			}
		case SortByCTime:
			if na.CTime != nb.CTime {
				return na.CTime < nb.CTime
			}
		}
		return false
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if dir == SortDesc {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		// Equal keys: ascending slab index regardless of direction.
		return out[i] < out[j]
	})
	return out
}

// mustGet asserts slot occupancy for internal links; a miss is a corrupted
// tree, not a recoverable condition.
func mustGet(s *slab.Slab, idx slab.Idx) *slab.FileNode {
	node, ok := s.Get(idx)
	if !ok {
		panic(fmt.Sprintf("cache: dangling slab index %d", idx))
	}
	return node
}
