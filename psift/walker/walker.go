// Package walker produces a deterministic tree of a filesystem subtree using
// a bounded worker pool. Leaf files are never stat'ed unless metadata was
// requested; directory entries supply their native type instead.
package walker

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/pool"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/slab"
)

// Node is one walked entry. Children are sorted by name so repeated walks of
// an unchanged tree are byte-identical.
type Node struct {
	Name       string
	Kind       slab.Kind
	Size       uint64
	MTime      int64
	CTime      int64
	MetaLoaded bool
	Children   []*Node
}

// Options configures a walk.
type Options struct {
	Root string
	// IgnorePrefixes are exact path prefixes (directories) excluded from the
	// walk together with everything beneath them.
	IgnorePrefixes []string
	// IgnorePatterns are gitignore-style patterns applied to every path.
	IgnorePatterns []string
	// NeedMetadata loads size and times for every entry; without it only the
	// walk root is stat'ed.
	NeedMetadata bool
	// Workers bounds the pool; zero picks a core-derived default.
	Workers int
}

// DefaultWorkers mirrors the traverser heuristic: twice the cores for
// I/O-bound work, clamped for responsiveness and against exhaustion.
func DefaultWorkers() int {
	return min(max(runtime.NumCPU()*2, 4), 32)
}

// Walker runs parallel traversals and exposes progress counters.
type Walker struct {
	filesSeen atomic.Int64
	dirsSeen  atomic.Int64
}

// New creates a Walker.
func New() *Walker {
	return &Walker{}
}

// Progress returns the running counts of files and directories seen.
func (w *Walker) Progress() (files, dirs int64) {
	return w.filesSeen.Load(), w.dirsSeen.Load()
}

// Walk traverses opts.Root breadth-first, one pool task per directory per
// level. It returns (nil, nil) when the token was observed cancelled and an
// error only when the root itself is unreadable.
func (w *Walker) Walk(opts Options, tok cancel.Token) (*Node, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	var matcher *ignore.GitIgnore
	if len(opts.IgnorePatterns) > 0 {
		matcher = ignore.CompileIgnoreLines(opts.IgnorePatterns...)
	}

	info, err := lstatRetry(opts.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, err
	}
	root := &Node{Name: filepath.Base(opts.Root)}
	fillFromInfo(root, info)
	if root.Kind != slab.KindDir {
		w.filesSeen.Add(1)
		return root, nil
	}
	w.dirsSeen.Add(1)

	var cancelled atomic.Bool
	level := []dirTask{{path: opts.Root, node: root}}
	for len(level) > 0 && !cancelled.Load() {
		var nextMu sync.Mutex
		var next []dirTask

		p := pool.New().WithMaxGoroutines(workers)
		for _, task := range level {
			task := task
			p.Go(func() {
				if cancelled.Load() {
					return
				}
				children, subdirs := w.readDir(task.path, opts, matcher, tok, &cancelled)
				task.node.Children = children
				if len(subdirs) > 0 {
					nextMu.Lock()
					next = append(next, subdirs...)
					nextMu.Unlock()
				}
			})
		}
		p.Wait()
		level = next
	}

	if cancelled.Load() {
		return nil, nil
	}
	return root, nil
}

type dirTask struct {
	path string
	node *Node
}

// readDir lists one directory, returning its child nodes sorted by name and
// the subdirectory tasks for the next level.
func (w *Walker) readDir(dir string, opts Options, matcher *ignore.GitIgnore, tok cancel.Token, cancelled *atomic.Bool) ([]*Node, []dirTask) {
	// Every directory is a cancellation point; entries within it only pay
	// the sparse check.
	if tok.Cancelled() {
		cancelled.Store(true)
		return nil, nil
	}
	entries, err := readDirRetry(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to read directory", "path", dir, "error", err)
		}
		return nil, nil
	}

	children := make([]*Node, 0, len(entries))
	var subdirs []dirTask
	var counter uint64
	for _, entry := range entries {
		counter++
		if tok.CancelledSparse(counter) {
			cancelled.Store(true)
			return nil, nil
		}
		childPath := filepath.Join(dir, entry.Name())
		if skipPath(childPath, opts.IgnorePrefixes, matcher) {
			continue
		}
		node := &Node{Name: entry.Name()}
		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			// Recorded but never followed: symlinks would introduce cycles.
			node.Kind = slab.KindSymlink
			w.filesSeen.Add(1)
		case entry.IsDir():
			node.Kind = slab.KindDir
			w.dirsSeen.Add(1)
			if opts.NeedMetadata {
				w.loadMetadata(childPath, node)
			}
			subdirs = append(subdirs, dirTask{path: childPath, node: node})
		case entry.Type().IsRegular():
			node.Kind = slab.KindFile
			w.filesSeen.Add(1)
			if opts.NeedMetadata {
				w.loadMetadata(childPath, node)
			}
		default:
			node.Kind = slab.KindUnknown
			w.filesSeen.Add(1)
		}
		children = append(children, node)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, subdirs
}

func (w *Walker) loadMetadata(path string, node *Node) {
	info, err := lstatRetry(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("failed to stat entry", "path", path, "error", err)
		}
		return
	}
	fillFromInfo(node, info)
}

func fillFromInfo(node *Node, info fs.FileInfo) {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		node.Kind = slab.KindSymlink
	case info.IsDir():
		node.Kind = slab.KindDir
	case info.Mode().IsRegular():
		node.Kind = slab.KindFile
	default:
		node.Kind = slab.KindUnknown
	}
	if node.Kind != slab.KindDir {
		node.Size = uint64(info.Size())
	}
	node.MTime = info.ModTime().Unix()
	node.CTime = changeTime(info)
	node.MetaLoaded = true
}

func skipPath(path string, prefixes []string, matcher *ignore.GitIgnore) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return matcher != nil && matcher.MatchesPath(path)
}

// lstatRetry retries interrupted syscalls inline.
func lstatRetry(path string) (fs.FileInfo, error) {
	for {
		info, err := os.Lstat(path)
		if err != nil && errors.Is(err, syscall.EINTR) {
			continue
		}
		return info, err
	}
}

func readDirRetry(dir string) ([]os.DirEntry, error) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil && errors.Is(err, syscall.EINTR) {
			continue
		}
		return entries, err
	}
}

// Lstat exposes the retrying stat for callers that backfill metadata.
func Lstat(path string) (fs.FileInfo, error) {
	return lstatRetry(path)
}

// FileInfoNode builds a standalone node from an already-fetched FileInfo.
func FileInfoNode(name string, info fs.FileInfo) *Node {
	node := &Node{Name: name}
	fillFromInfo(node, info)
	return node
}

// ChangeTime reports the time dc: filters compare against: the status-change
// time on Linux, the birth time on macOS, and zero on other platforms.
func ChangeTime(info fs.FileInfo) int64 {
	return changeTime(info)
}
