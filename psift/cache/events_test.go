package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/slab"
)

func TestScanTypeClassification(t *testing.T) {
	tests := []struct {
		name  string
		flags Flag
		want  ScanType
	}{
		{"history done", FlagHistoryDone, ScanNop},
		{"ids wrapped", FlagIDsWrapped, ScanNop},
		{"root changed", FlagRootChanged, ScanRescan},
		{"file created", FlagCreated | FlagIsFile, ScanNode},
		{"dir removed", FlagRemoved | FlagIsDir, ScanFolder},
		{"file removed", FlagRemoved | FlagIsFile, ScanNode},
		{"file modified", FlagModified | FlagIsFile, ScanNode},
		{"must scan subdirs", FlagMustScanSubDirs | FlagIsDir, ScanFolder},
		{"typeless event", Flag(0), ScanNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flags.ScanType())
		})
	}
}

func TestAmbiguousFlags(t *testing.T) {
	assert.True(t, (FlagRenamed | FlagIsFile).Ambiguous())
	assert.True(t, (FlagCreated | FlagRemoved).Ambiguous())
	assert.False(t, (FlagCreated | FlagIsFile).Ambiguous())
	assert.False(t, (FlagModified).Ambiguous())
}

func TestReduceScanRoots(t *testing.T) {
	got := ReduceScanRoots([]string{
		"/r/a/b/c",
		"/r/a",
		"/r/a/b",
		"/r/x",
		"/r/a",
	})
	assert.Equal(t, []string{"/r/a", "/r/x"}, got)

	got = ReduceScanRoots([]string{"/r"})
	assert.Equal(t, []string{"/r"}, got)

	// An ancestor in the set swallows everything beneath it.
	got = ReduceScanRoots([]string{"/r/deep/er/path", "/r"})
	assert.Equal(t, []string{"/r"}, got)
}

func TestIncrementalAdd(t *testing.T) {
	root := t.TempDir()
	c := NewEmpty(root)

	path := filepath.Join(root, "new.txt")
	writeFile(t, path, []byte("hello"))

	req, err := c.HandleEvents([]Event{{Path: path, Flags: FlagCreated | FlagIsFile, ID: 7}})
	require.NoError(t, err)
	assert.Nil(t, req, "a plain file creation needs no rescan")
	assert.EqualValues(t, 7, c.LastEventID())
	require.Empty(t, c.Validate())

	outcome := search(t, c, "new")
	assert.Equal(t, []string{"new.txt"}, sortedPaths(t, c, outcome.Nodes))
}

func TestIncrementalRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doomed.txt")
	writeFile(t, path, []byte("x"))
	c := buildCache(t, root)
	require.Len(t, search(t, c, "doomed").Nodes, 1)

	require.NoError(t, os.Remove(path))
	req, err := c.HandleEvents([]Event{{Path: path, Flags: FlagRemoved | FlagIsFile, ID: 3}})
	require.NoError(t, err)
	assert.Nil(t, req)
	require.Empty(t, c.Validate())

	assert.Empty(t, search(t, c, "doomed").Nodes)
	assert.EqualValues(t, 3, c.LastEventID())
}

func TestEventIdempotence(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "stable.txt")
	writeFile(t, path, []byte("x"))
	c := NewEmpty(root)

	batch := []Event{{Path: path, Flags: FlagCreated | FlagIsFile, ID: 5}}
	_, err := c.HandleEvents(batch)
	require.NoError(t, err)
	before := c.Len()

	// Applying the already-applied batch again changes nothing.
	req, err := c.HandleEvents(batch)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, before, c.Len())
	assert.EqualValues(t, 5, c.LastEventID())
	require.Empty(t, c.Validate())
}

func TestRenameTriggersBoundedRescan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", "a.txt"), []byte("x"))
	c := buildCache(t, root)
	require.Len(t, search(t, c, "a.txt").Nodes, 1)

	// The directory is renamed on disk; the watcher reports both sides.
	require.NoError(t, os.Rename(filepath.Join(root, "x"), filepath.Join(root, "y")))
	err := c.ApplyEvents([]Event{
		{Path: filepath.Join(root, "x"), Flags: FlagRenamed | FlagModified | FlagIsDir, ID: 10},
		{Path: filepath.Join(root, "y"), Flags: FlagRenamed | FlagIsDir, ID: 11},
	}, cancel.Noop())
	require.NoError(t, err)
	require.Empty(t, c.Validate())

	assert.EqualValues(t, 11, c.LastEventID())
	outcome := search(t, c, "a.txt")
	assert.Equal(t, []string{"y/a.txt"}, sortedPaths(t, c, outcome.Nodes))
	assert.Empty(t, search(t, c, "/x/").Nodes)
}

func TestCoalescingKeepsMaxID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "multi.txt")
	writeFile(t, path, []byte("x"))
	c := NewEmpty(root)

	_, err := c.HandleEvents([]Event{
		{Path: path, Flags: FlagCreated | FlagIsFile, ID: 2},
		{Path: path, Flags: FlagModified | FlagIsFile, ID: 9},
		{Path: path, Flags: FlagModified | FlagIsFile, ID: 4},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9, c.LastEventID())
	assert.Len(t, search(t, c, "multi").Nodes, 1)
}

func TestEventsOutsideRootAreDropped(t *testing.T) {
	root := t.TempDir()
	c := NewEmpty(root)

	req, err := c.HandleEvents([]Event{{Path: "/somewhere/else.txt", Flags: FlagCreated | FlagIsFile, ID: 9}})
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, 1, c.Len(), "only the root node remains")
	assert.EqualValues(t, 9, c.LastEventID(), "the cursor still advances")
}

func TestModifyRefreshesMetadataInPlace(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "grow.txt")
	writeFile(t, path, []byte("x"))
	c := buildCache(t, root)

	writeFile(t, path, make([]byte, 4096))
	req, err := c.HandleEvents([]Event{{Path: path, Flags: FlagModified | FlagIsFile, ID: 2}})
	require.NoError(t, err)
	assert.Nil(t, req)

	idx := c.findByPath(path)
	require.NotEqual(t, slab.NoIdx, idx)
	node, ok := c.slab.Get(idx)
	require.True(t, ok)
	assert.True(t, node.MetaLoaded)
	assert.EqualValues(t, 4096, node.Size)
}

func TestHistoryDoneOnlyAdvancesCursor(t *testing.T) {
	root := t.TempDir()
	c := NewEmpty(root)

	req, err := c.HandleEvents([]Event{{Path: root, Flags: FlagHistoryDone, ID: 77}})
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.EqualValues(t, 77, c.LastEventID())
	assert.Equal(t, 1, c.Len())
}

func TestRootChangedRequestsFullRescan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "seed.txt"), []byte("x"))
	c := NewEmpty(root)

	req, err := c.HandleEvents([]Event{{Path: root, Flags: FlagRootChanged, ID: 5}})
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, []string{c.Root()}, req.Paths)

	require.NoError(t, c.Rescan(req.Paths, cancel.Noop()))
	require.Empty(t, c.Validate())
	assert.Len(t, search(t, c, "seed").Nodes, 1)
}

func TestRescanReconcilesDiff(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "d", "keep.txt"), []byte("x"))
	writeFile(t, filepath.Join(root, "d", "drop.txt"), []byte("x"))
	c := buildCache(t, root)

	require.NoError(t, os.Remove(filepath.Join(root, "d", "drop.txt")))
	writeFile(t, filepath.Join(root, "d", "fresh.txt"), []byte("x"))

	require.NoError(t, c.Rescan([]string{filepath.Join(root, "d")}, cancel.Noop()))
	require.Empty(t, c.Validate())

	assert.Empty(t, search(t, c, "drop").Nodes)
	assert.Len(t, search(t, c, "fresh").Nodes, 1)
	assert.Len(t, search(t, c, "keep").Nodes, 1)
}

func TestRescanCancelledLeavesCacheUntouched(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "d", "a.txt"), []byte("x"))
	c := buildCache(t, root)
	before := c.Len()

	writeFile(t, filepath.Join(root, "d", "b.txt"), []byte("x"))

	stale := cancel.New(7)
	cancel.New(8)
	err := c.Rescan([]string{filepath.Join(root, "d")}, stale)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, before, c.Len(), "cancelled rescans apply nothing")
	require.Empty(t, c.Validate())
}
