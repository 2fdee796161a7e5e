package cache

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/sourcegraph/conc/pool"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/walker"
)

// contentBufSize is the read granularity of content scans; cancellation is
// checked at every buffer boundary.
const contentBufSize = 64 << 10

// filterByContent runs the I/O-bound content scans last and in parallel
// across the already-narrowed candidate files.
func (ev *evaluator) filterByContent(cand *roaring.Bitmap, needle string) (*roaring.Bitmap, error) {
	needleBytes := []byte(needle)
	if ev.fold {
		needleBytes = []byte(namepool.FoldASCII(needle))
	}

	type target struct {
		idx  slab.Idx
		path string
	}
	var targets []target
	it := cand.Iterator()
	for it.HasNext() {
		idx := slab.Idx(it.Next())
		node, ok := ev.c.slab.Get(idx)
		if !ok || node.Kind != slab.KindFile {
			continue
		}
		if path, ok := ev.c.nodePathLocked(idx); ok {
			targets = append(targets, target{idx: idx, path: path})
		}
	}

	out := roaring.New()
	var outMu sync.Mutex
	var cancelled atomic.Bool

	p := pool.New().WithMaxGoroutines(walker.DefaultWorkers())
	for _, t := range targets {
		t := t
		p.Go(func() {
			if cancelled.Load() {
				return
			}
			found, wasCancelled := scanFileForNeedle(t.path, needleBytes, ev.fold, ev.tok)
			if wasCancelled {
				cancelled.Store(true)
				return
			}
			if found {
				outMu.Lock()
				out.Add(uint32(t.idx))
				outMu.Unlock()
			}
		})
	}
	p.Wait()

	if cancelled.Load() {
		return nil, ErrCancelled
	}
	return out, nil
}

// scanFileForNeedle streams the file through a sliding buffer so matches
// spanning chunk boundaries are still seen. Unreadable files simply do not
// match.
func scanFileForNeedle(path string, needle []byte, fold bool, tok cancel.Token) (found, cancelled bool) {
	if len(needle) == 0 {
		return false, false
	}
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("content scan skipped unreadable file", "path", path, "error", err)
		}
		return false, false
	}
	defer f.Close()

	overlap := len(needle) - 1
	buf := make([]byte, contentBufSize+overlap)
	carry := 0
	for {
		// Every buffer boundary is a cancellation point.
		if tok.Cancelled() {
			return false, true
		}
		n, err := f.Read(buf[carry:])
		if n > 0 {
			window := buf[:carry+n]
			if fold {
				foldASCIIBytes(window[carry:])
			}
			if bytes.Contains(window, needle) {
				return true, false
			}
			if len(window) > overlap {
				copy(buf, window[len(window)-overlap:])
				carry = overlap
			} else {
				carry = len(window)
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("content scan read error", "path", path, "error", err)
			}
			return false, false
		}
	}
}

func foldASCIIBytes(b []byte) {
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
}
