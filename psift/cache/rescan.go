package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/walker"
)

// Rescan walks each scope path and reconciles the cache subtree against what
// is on disk: added entries are inserted, vanished ones removed, changed ones
// updated. Scopes are walked in parallel without the lock; mutations apply
// in one exclusive section, so a cancelled rescan leaves the cache untouched.
func (c *SearchCache) Rescan(paths []string, tok cancel.Token) error {
	if len(paths) == 0 {
		return nil
	}

	type scopeResult struct {
		path    string
		tree    *walker.Node
		missing bool
	}

	results := make([]scopeResult, len(paths))
	cancelled := false
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(walker.DefaultWorkers())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			w := walker.New()
			tree, err := w.Walk(walker.Options{Root: path, NeedMetadata: true}, tok)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					results[i] = scopeResult{path: path, missing: true}
					return nil
				}
				return fmt.Errorf("rescanning %s: %w", path, err)
			}
			if tree == nil {
				mu.Lock()
				cancelled = true
				mu.Unlock()
				return nil
			}
			results[i] = scopeResult{path: path, tree: tree}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %s", ErrRescanRequired, err)
	}
	if cancelled {
		return ErrCancelled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, res := range results {
		idx := c.findByPath(res.path)
		switch {
		case res.missing:
			if idx != slab.NoIdx && idx != c.rootIdx {
				c.removeSubtree(idx)
			}
		case idx == slab.NoIdx:
			parent := c.findByPath(filepath.Dir(res.path))
			if parent == slab.NoIdx {
				return fmt.Errorf("%w: no indexed ancestor for %s", ErrRescanRequired, res.path)
			}
			c.insertWalkedNode(parent, res.tree)
		default:
			c.reconcile(idx, res.tree)
		}
	}
	slog.Debug("rescan applied", "scopes", len(paths), "nodes", c.slab.Len())
	return nil
}

// insertWalkedNode links one walked subtree under parent.
func (c *SearchCache) insertWalkedNode(parent slab.Idx, tree *walker.Node) slab.Idx {
	idx := c.insertNode(slab.FileNode{
		Name:        c.pool.Intern(tree.Name),
		Parent:      parent,
		FirstChild:  slab.NoIdx,
		NextSibling: slab.NoIdx,
		Kind:        tree.Kind,
		Size:        tree.Size,
		MTime:       tree.MTime,
		CTime:       tree.CTime,
		MetaLoaded:  tree.MetaLoaded,
	})
	c.linkChild(parent, idx)
	if tree.Kind == slab.KindDir {
		c.insertChildren(idx, tree.Children)
	}
	return idx
}

// reconcile diffs one cached subtree against its freshly walked counterpart.
func (c *SearchCache) reconcile(idx slab.Idx, tree *walker.Node) {
	node := mustGet(c.slab, idx)
	if node.Kind != tree.Kind {
		// The entry changed identity; rebuild the subtree wholesale.
		parent := node.Parent
		if parent == slab.NoIdx {
			return
		}
		c.removeSubtree(idx)
		c.insertWalkedNode(parent, tree)
		return
	}
	if tree.MetaLoaded {
		node.Size = tree.Size
		node.MTime = tree.MTime
		node.CTime = tree.CTime
		node.MetaLoaded = true
	}
	if node.Kind != slab.KindDir {
		return
	}

	walked := make(map[string]*walker.Node, len(tree.Children))
	for _, child := range tree.Children {
		walked[child.Name] = child
	}

	// Deletions first, so a same-named replacement never collides.
	var stale []slab.Idx
	var keep []slab.Idx
	for child := node.FirstChild; child != slab.NoIdx; {
		n := mustGet(c.slab, child)
		next := n.NextSibling
		if _, ok := walked[n.Name.String()]; ok {
			keep = append(keep, child)
		} else {
			stale = append(stale, child)
		}
		child = next
	}
	for _, child := range stale {
		c.removeSubtree(child)
	}
	for _, child := range keep {
		n := mustGet(c.slab, child)
		sub := walked[n.Name.String()]
		delete(walked, n.Name.String())
		c.reconcile(child, sub)
	}
	for _, sub := range walked {
		c.insertWalkedNode(idx, sub)
	}
}
