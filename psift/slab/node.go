package slab

import "github.com/pathsift/pathsift/psift/namepool"

// Idx identifies a slot in the slab. Indices are stable across insertions and
// are only reused after an explicit free via Remove.
type Idx uint32

// NoIdx marks an absent link (no parent, no child, no sibling).
const NoIdx Idx = ^Idx(0)

// Valid reports whether the index refers to a slot at all.
func (i Idx) Valid() bool { return i != NoIdx }

// Kind classifies a node. File is zero because files dominate any real tree
// and compress best that way.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileNode is one indexed path component. Tree edges are slab indices, not
// pointers, so the ownership graph stays mechanical for persistence and
// snapshotting.
type FileNode struct {
	Name        *namepool.Name
	Parent      Idx
	FirstChild  Idx
	NextSibling Idx
	Kind        Kind
	Size        uint64
	MTime       int64 // unix seconds, 0 when unknown
	CTime       int64 // unix seconds, 0 when unknown
	MetaLoaded  bool
}
