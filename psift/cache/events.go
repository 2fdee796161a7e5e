package cache

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/walker"
)

// Flag describes a filesystem event delivered by an external watcher.
type Flag uint32

const (
	FlagCreated Flag = 1 << iota
	FlagRemoved
	FlagModified
	FlagRenamed
	FlagMetaModified
	FlagMustScanSubDirs
	FlagHistoryDone
	FlagIDsWrapped
	FlagRootChanged
	FlagIsFile
	FlagIsDir
	FlagIsSymlink
)

// Event is one watcher notification. IDs are totally ordered within a batch.
type Event struct {
	Path  string
	Flags Flag
	ID    uint64
}

// ScanType is the reconciliation strategy an event demands.
type ScanType uint8

const (
	// ScanNop advances the event cursor and nothing else.
	ScanNop ScanType = iota
	// ScanNode re-checks a single entry.
	ScanNode
	// ScanFolder re-checks a folder and everything beneath it.
	ScanFolder
	// ScanRescan invalidates the whole cache.
	ScanRescan
)

// ScanType classifies the event. Directory events always demand a folder
// scan because entry sets may have changed underneath them.
func (f Flag) ScanType() ScanType {
	switch {
	case f&FlagHistoryDone != 0:
		return ScanNop
	case f&FlagIDsWrapped != 0:
		return ScanNop
	case f&FlagRootChanged != 0:
		return ScanRescan
	case f&FlagMustScanSubDirs != 0:
		return ScanFolder
	case f&FlagIsDir != 0:
		return ScanFolder
	default:
		return ScanNode
	}
}

// Ambiguous reports event flag combinations whose net effect cannot be
// decided without looking at the disk: renames, and create+remove pairs
// coalesced into one event.
func (f Flag) Ambiguous() bool {
	if f&FlagRenamed != 0 {
		return true
	}
	return f&FlagCreated != 0 && f&FlagRemoved != 0
}

// RescanRequest carries the minimal scan roots covering every path whose
// events could not be applied in place.
type RescanRequest struct {
	Paths []string
}

// HandleEvents applies a batch of events. Unambiguous single-entry events
// mutate the cache directly; everything else is folded into a bounded rescan
// request for the caller to run. The event cursor advances to the largest
// observed id either way.
func (c *SearchCache) HandleEvents(batch []Event) (*RescanRequest, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	// Coalesce by path: union the flags, keep the largest id.
	coalesced := make(map[string]Event, len(batch))
	var maxID uint64
	for _, ev := range batch {
		path := filepath.Clean(ev.Path)
		cur, ok := coalesced[path]
		if !ok {
			cur = Event{Path: path}
		}
		cur.Flags |= ev.Flags
		if ev.ID > cur.ID {
			cur.ID = ev.ID
		}
		coalesced[path] = cur
		if ev.ID > maxID {
			maxID = ev.ID
		}
	}
	paths := make([]string, 0, len(coalesced))
	for path := range coalesced {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	c.mu.Lock()
	defer c.mu.Unlock()

	var scanRoots []string
	for _, path := range paths {
		ev := coalesced[path]
		if _, under := c.relativePath(path); !under {
			slog.Debug("event outside watched root dropped", "path", path)
			continue
		}
		switch ev.Flags.ScanType() {
		case ScanNop:
			continue
		case ScanRescan:
			scanRoots = append(scanRoots, c.root)
		case ScanFolder:
			if root, ok := c.applyFolderEvent(path); ok {
				scanRoots = append(scanRoots, root)
			}
		case ScanNode:
			if root, ok := c.applyNodeEvent(path, ev.Flags); ok {
				scanRoots = append(scanRoots, root)
			}
		}
	}

	c.advanceEventID(maxID)

	if len(scanRoots) == 0 {
		return nil, nil
	}
	return &RescanRequest{Paths: ReduceScanRoots(scanRoots)}, nil
}

// applyFolderEvent handles a directory-shaped event. Removals apply in
// place; anything else needs its subtree rescanned.
func (c *SearchCache) applyFolderEvent(path string) (string, bool) {
	idx := c.findByPath(path)
	_, statErr := walker.Lstat(path)
	exists := statErr == nil
	switch {
	case !exists && idx != slab.NoIdx && idx != c.rootIdx:
		c.removeSubtree(idx)
		return "", false
	case !exists:
		return "", false
	case idx == slab.NoIdx:
		// The folder is new to the cache; reconcile from the closest
		// ancestor the index already knows.
		return c.nearestCachedDir(filepath.Dir(path)), true
	default:
		return path, true
	}
}

// applyNodeEvent handles a single-entry event, escalating to a scan root
// when the event is ambiguous or the cache is missing context.
func (c *SearchCache) applyNodeEvent(path string, flags Flag) (string, bool) {
	idx := c.findByPath(path)
	info, statErr := walker.Lstat(path)
	exists := statErr == nil

	if flags.Ambiguous() {
		// A rename tells us a name appeared or vanished without saying
		// which; reconcile the enclosing folder.
		return c.nearestCachedDir(filepath.Dir(path)), true
	}

	switch {
	case exists && idx == slab.NoIdx:
		return c.insertSingle(path, info)
	case !exists && idx != slab.NoIdx && idx != c.rootIdx:
		c.removeSubtree(idx)
		return "", false
	case exists && idx != slab.NoIdx:
		node := mustGet(c.slab, idx)
		fresh := walker.FileInfoNode(node.Name.String(), info)
		if fresh.Kind != node.Kind {
			// File replaced by a directory or vice versa.
			return c.nearestCachedDir(filepath.Dir(path)), true
		}
		node.Size = fresh.Size
		node.MTime = fresh.MTime
		node.CTime = fresh.CTime
		node.MetaLoaded = true
		c.tagFetcher.Invalidate(path)
		return "", false
	default:
		return "", false
	}
}

// insertSingle adds one new entry under its already-indexed parent, or asks
// for a rescan of the nearest indexed ancestor when the parent is unknown.
func (c *SearchCache) insertSingle(path string, info fs.FileInfo) (string, bool) {
	parent := c.findByPath(filepath.Dir(path))
	if parent == slab.NoIdx {
		return c.nearestCachedDir(filepath.Dir(path)), true
	}
	name := c.pool.Intern(filepath.Base(path))
	if c.childByName(parent, name) != slab.NoIdx {
		return "", false
	}
	fresh := walker.FileInfoNode(filepath.Base(path), info)
	idx := c.insertNode(slab.FileNode{
		Name:        name,
		Parent:      parent,
		FirstChild:  slab.NoIdx,
		NextSibling: slab.NoIdx,
		Kind:        fresh.Kind,
		Size:        fresh.Size,
		MTime:       fresh.MTime,
		CTime:       fresh.CTime,
		MetaLoaded:  fresh.MetaLoaded,
	})
	c.linkChild(parent, idx)
	if fresh.Kind == slab.KindDir {
		// The new directory may already have contents.
		return path, true
	}
	return "", false
}

// nearestCachedDir ascends from path to the closest directory the cache
// already knows, bottoming out at the watched root.
func (c *SearchCache) nearestCachedDir(path string) string {
	for {
		if idx := c.findByPath(path); idx != slab.NoIdx {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return c.root
		}
		path = parent
	}
}

func (c *SearchCache) advanceEventID(id uint64) {
	for {
		cur := c.lastEventID.Load()
		if id <= cur || c.lastEventID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// ReduceScanRoots minimizes a set of rescan paths: sorted by depth, any path
// covered by an ancestor already in the set is dropped, as are duplicates.
func ReduceScanRoots(paths []string) []string {
	sort.Slice(paths, func(i, j int) bool {
		di := strings.Count(paths[i], string(filepath.Separator))
		dj := strings.Count(paths[j], string(filepath.Separator))
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	var out []string
	for _, path := range paths {
		covered := false
		for _, kept := range out {
			if path == kept || strings.HasPrefix(path, kept+string(filepath.Separator)) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, path)
		}
	}
	return out
}

// ApplyEvents is the convenience composition of HandleEvents and Rescan.
func (c *SearchCache) ApplyEvents(batch []Event, tok cancel.Token) error {
	req, err := c.HandleEvents(batch)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	return c.Rescan(req.Paths, tok)
}
