package cache

import (
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/walker"
)

// NodeInfo is the expanded view of one result handed to consumers.
type NodeInfo struct {
	Idx   slab.Idx
	Path  string
	Kind  slab.Kind
	Size  uint64
	MTime int64
	CTime int64
}

// Expand resolves slab indices to paths and, when asked, metadata. Nodes
// whose metadata was never loaded are stat'ed on demand and the result is
// cached back onto the node.
func (c *SearchCache) Expand(indices []slab.Idx, includeMetadata bool) []NodeInfo {
	patches := make(map[slab.Idx]metaPatch)

	c.mu.RLock()
	out := make([]NodeInfo, 0, len(indices))
	for _, idx := range indices {
		node, ok := c.slab.Get(idx)
		if !ok {
			continue
		}
		path, ok := c.nodePathLocked(idx)
		if !ok {
			continue
		}
		info := NodeInfo{Idx: idx, Path: path, Kind: node.Kind}
		if includeMetadata {
			if node.MetaLoaded || node.Kind == slab.KindDir {
				info.Size = node.Size
				info.MTime = node.MTime
				info.CTime = node.CTime
			} else if st, err := walker.Lstat(path); err == nil {
				info.Size = uint64(st.Size())
				info.MTime = st.ModTime().Unix()
				info.CTime = walker.ChangeTime(st)
				patches[idx] = metaPatch{size: info.Size, mtime: info.MTime, ctime: info.CTime}
			}
		}
		out = append(out, info)
	}
	c.mu.RUnlock()

	if len(patches) > 0 {
		c.commitMeta(patches)
	}
	return out
}
