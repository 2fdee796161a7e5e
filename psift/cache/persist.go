package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/exp/mmap"

	"github.com/pathsift/pathsift/psift/index"
	"github.com/pathsift/pathsift/psift/namepool"
	"github.com/pathsift/pathsift/psift/slab"
	"github.com/pathsift/pathsift/psift/tags"
)

// Snapshot file layout: an uncompressed header (magic, version, flags,
// snapshot uuid) followed by a zstd-compressed body holding the watched
// root, the event cursor, the name dictionary, the slab slots as ThinSlab
// records, and the name-index buckets. The body ends with its own xxhash64,
// computed before compression.
const (
	snapshotMagic   = "PSIFTCCH"
	snapshotVersion = uint16(1)

	flagZstd = uint16(1 << 0)
)

// Save writes a snapshot of the cache to w.
func (c *SearchCache) Save(w io.Writer) error {
	c.mu.RLock()
	body, err := c.encodeBody()
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	var header bytes.Buffer
	header.WriteString(snapshotMagic)
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], snapshotVersion)
	header.Write(u16[:])
	binary.LittleEndian.PutUint16(u16[:], flagZstd)
	header.Write(u16[:])
	header.Write(c.snapshotID[:])
	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("opening zstd stream: %w", err)
	}
	if _, err := enc.Write(body); err != nil {
		enc.Close()
		return fmt.Errorf("writing snapshot body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing snapshot body: %w", err)
	}
	slog.Info("snapshot saved",
		"snapshot", c.snapshotID.String(),
		"root", c.root,
		"nodes", c.slab.Len())
	return nil
}

// encodeBody serializes the cache under the read lock.
func (c *SearchCache) encodeBody() ([]byte, error) {
	var body bytes.Buffer
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		body.Write(b[:])
	}
	writeU64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		body.Write(b[:])
	}
	writeString := func(s string) {
		writeU32(uint32(len(s)))
		body.WriteString(s)
	}

	writeString(c.root)
	writeU64(c.lastEventID.Load())

	// Name dictionary: the names this cache actually references, in
	// first-use order over an ascending slot scan. The shared process pool
	// holds names other caches interned; those do not belong in a snapshot.
	dict := make(map[*namepool.Name]uint32)
	var dictNames []*namepool.Name
	dictID := func(n *namepool.Name) uint32 {
		if id, ok := dict[n]; ok {
			return id
		}
		id := uint32(len(dictNames))
		dict[n] = id
		dictNames = append(dictNames, n)
		return id
	}
	c.slab.IterOccupied(func(_ slab.Idx, node *slab.FileNode) bool {
		dictID(node.Name)
		return true
	})
	writeU32(uint32(len(dictNames)))
	for _, n := range dictNames {
		writeString(n.String())
	}

	// Slab slots: occupancy byte plus a ThinSlab record per occupied slot.
	writeU32(uint32(c.slab.Slots()))
	record := make([]byte, slab.RecordSize)
	occupied := make([]bool, c.slab.Slots())
	c.slab.IterOccupied(func(idx slab.Idx, _ *slab.FileNode) bool {
		occupied[idx] = true
		return true
	})
	for i := 0; i < c.slab.Slots(); i++ {
		if !occupied[i] {
			body.WriteByte(0)
			continue
		}
		body.WriteByte(1)
		node := mustGet(c.slab, slab.Idx(i))
		slab.EncodeRecord(record, slab.Record{
			NameID:      dict[node.Name],
			Parent:      node.Parent,
			FirstChild:  node.FirstChild,
			NextSibling: node.NextSibling,
			Kind:        node.Kind,
			Size:        node.Size,
			MTime:       node.MTime,
			CTime:       node.CTime,
			MetaLoaded:  node.MetaLoaded,
		})
		body.Write(record)
	}

	// Name-index buckets, ordered by dictionary id for determinism.
	type bucket struct {
		nameID  uint32
		indices []uint32
	}
	buckets := make([]bucket, 0, c.names.Len())
	c.names.Walk(func(name *namepool.Name, bm *roaring.Bitmap) bool {
		buckets = append(buckets, bucket{nameID: dict[name], indices: bm.ToArray()})
		return true
	})
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].nameID < buckets[j].nameID })
	writeU32(uint32(len(buckets)))
	for _, b := range buckets {
		writeU32(b.nameID)
		writeU32(uint32(len(b.indices)))
		for _, idx := range b.indices {
			writeU32(idx)
		}
	}

	sum := xxhash.Sum64(body.Bytes())
	writeU64(sum)
	return body.Bytes(), nil
}

// Load reads a snapshot produced by Save. Any mismatch in magic, version or
// checksum is an ErrIntegrity: the caller falls back to a full rebuild.
func Load(r io.Reader) (*SearchCache, error) {
	header := make([]byte, len(snapshotMagic)+2+2+16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short snapshot header: %s", ErrIntegrity, err)
	}
	if string(header[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrIntegrity)
	}
	version := binary.LittleEndian.Uint16(header[len(snapshotMagic):])
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, engine speaks %d", ErrIntegrity, version, snapshotVersion)
	}
	flags := binary.LittleEndian.Uint16(header[len(snapshotMagic)+2:])
	var snapshotID uuid.UUID
	copy(snapshotID[:], header[len(snapshotMagic)+4:])

	var body []byte
	if flags&flagZstd != 0 {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: opening zstd stream: %s", ErrIntegrity, err)
		}
		defer dec.Close()
		body, err = io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing snapshot: %s", ErrIntegrity, err)
		}
	} else {
		var err error
		body, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading snapshot: %s", ErrIntegrity, err)
		}
	}
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: truncated snapshot body", ErrIntegrity)
	}
	payload, trailer := body[:len(body)-8], body[len(body)-8:]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(trailer) {
		return nil, fmt.Errorf("%w: snapshot checksum mismatch", ErrIntegrity)
	}

	c, err := decodeBody(payload)
	if err != nil {
		return nil, err
	}
	c.snapshotID = snapshotID
	slog.Info("snapshot loaded",
		"snapshot", snapshotID.String(),
		"root", c.root,
		"nodes", c.slab.Len())
	return c, nil
}

func decodeBody(payload []byte) (*SearchCache, error) {
	rd := &bodyReader{buf: payload}

	root := rd.str()
	lastEventID := rd.u64()

	dictLen := rd.u32()
	pool := namepool.Default()
	dict := make([]*namepool.Name, dictLen)
	for i := range dict {
		dict[i] = pool.Intern(rd.str())
	}

	slotCount := rd.u32()
	occupied := make([]bool, slotCount)
	nodes := make([]slab.FileNode, slotCount)
	rootIdx := slab.NoIdx
	for i := uint32(0); i < slotCount; i++ {
		if rd.u8() == 0 {
			continue
		}
		rec := slab.DecodeRecord(rd.take(slab.RecordSize))
		if rd.failed || int(rec.NameID) >= len(dict) {
			return nil, fmt.Errorf("%w: slab record out of range", ErrIntegrity)
		}
		occupied[i] = true
		nodes[i] = slab.FileNode{
			Name:        dict[rec.NameID],
			Parent:      rec.Parent,
			FirstChild:  rec.FirstChild,
			NextSibling: rec.NextSibling,
			Kind:        rec.Kind,
			Size:        rec.Size,
			MTime:       rec.MTime,
			CTime:       rec.CTime,
			MetaLoaded:  rec.MetaLoaded,
		}
		if rec.Parent == slab.NoIdx {
			if rootIdx != slab.NoIdx {
				return nil, fmt.Errorf("%w: multiple root nodes", ErrIntegrity)
			}
			rootIdx = slab.Idx(i)
		}
	}

	names := index.New()
	live := roaring.New()
	for i, occ := range occupied {
		if occ {
			live.Add(uint32(i))
		}
	}
	bucketCount := rd.u32()
	for i := uint32(0); i < bucketCount; i++ {
		nameID := rd.u32()
		n := rd.u32()
		if rd.failed || int(nameID) >= len(dict) {
			return nil, fmt.Errorf("%w: name index bucket out of range", ErrIntegrity)
		}
		for j := uint32(0); j < n; j++ {
			names.Add(dict[nameID], slab.Idx(rd.u32()))
		}
	}
	if rd.failed {
		return nil, fmt.Errorf("%w: truncated snapshot body", ErrIntegrity)
	}
	if rootIdx == slab.NoIdx {
		return nil, fmt.Errorf("%w: snapshot has no root node", ErrIntegrity)
	}

	c := &SearchCache{
		pool:       pool,
		slab:       slab.Restore(occupied, nodes),
		names:      names,
		live:       live,
		root:       root,
		rootIdx:    rootIdx,
		tagFetcher: tags.NewFetcher(),
		snapshotID: uuid.New(),
	}
	c.lastEventID.Store(lastEventID)
	return c, nil
}

// bodyReader is a little-endian cursor that latches failure instead of
// returning an error at every read.
type bodyReader struct {
	buf    []byte
	pos    int
	failed bool
}

func (r *bodyReader) take(n int) []byte {
	if r.failed || r.pos+n > len(r.buf) {
		r.failed = true
		return make([]byte, n)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *bodyReader) u8() byte    { return r.take(1)[0] }
func (r *bodyReader) u32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *bodyReader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }
func (r *bodyReader) str() string { return string(r.take(int(r.u32()))) }

// SaveFile atomically replaces path with a fresh snapshot via
// write-to-temp, fsync, rename.
func (c *SearchCache) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".psift-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// LoadFile reads a snapshot from disk, memory-mapping it read-only when the
// platform allows so large snapshots decode without a second copy.
func LoadFile(path string) (*SearchCache, error) {
	if m, err := mmap.Open(path); err == nil {
		defer m.Close()
		return Load(io.NewSectionReader(m, 0, int64(m.Len())))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
