package slab

import "encoding/binary"

// ThinSlab is the fixed-width record layout used by cache snapshots. Records
// are position-addressed, so a snapshot region can be scanned in place (for
// example through a memory mapping) without decoding the whole slab first.
// The live slab is always the in-memory vector; both backings expose the same
// record semantics.

// RecordSize is the encoded width of one slot record, excluding the
// occupancy byte written ahead of it.
const RecordSize = 4 + 4 + 4 + 4 + 6 + 8 + 8 + 1

// maxThinSize is the largest encodable size: the low 46 bits of the packed
// kind+size word.
const maxThinSize = (uint64(1) << 46) - 1

// PackKindSize packs kind into the high 2 bits and a saturated size into the
// low 46 bits of a 6-byte little-endian word.
func PackKindSize(kind Kind, size uint64) [6]byte {
	if size > maxThinSize {
		size = maxThinSize
	}
	word := size | uint64(kind)<<46
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	var out [6]byte
	copy(out[:], buf[:6])
	return out
}

// UnpackKindSize reverses PackKindSize.
func UnpackKindSize(b [6]byte) (Kind, uint64) {
	var buf [8]byte
	copy(buf[:], b[:])
	word := binary.LittleEndian.Uint64(buf[:])
	return Kind(b[5] >> 6), word & maxThinSize
}

// Record is a FileNode with its name flattened to a pool index, ready for a
// fixed-width encode.
type Record struct {
	NameID      uint32
	Parent      Idx
	FirstChild  Idx
	NextSibling Idx
	Kind        Kind
	Size        uint64
	MTime       int64
	CTime       int64
	MetaLoaded  bool
}

// EncodeRecord writes r into dst, which must be at least RecordSize bytes.
func EncodeRecord(dst []byte, r Record) {
	_ = dst[RecordSize-1]
	binary.LittleEndian.PutUint32(dst[0:], r.NameID)
	binary.LittleEndian.PutUint32(dst[4:], uint32(r.Parent))
	binary.LittleEndian.PutUint32(dst[8:], uint32(r.FirstChild))
	binary.LittleEndian.PutUint32(dst[12:], uint32(r.NextSibling))
	ks := PackKindSize(r.Kind, r.Size)
	copy(dst[16:22], ks[:])
	binary.LittleEndian.PutUint64(dst[22:], uint64(r.MTime))
	binary.LittleEndian.PutUint64(dst[30:], uint64(r.CTime))
	if r.MetaLoaded {
		dst[38] = 1
	} else {
		dst[38] = 0
	}
}

// DecodeRecord reads a record encoded by EncodeRecord.
func DecodeRecord(src []byte) Record {
	_ = src[RecordSize-1]
	var ks [6]byte
	copy(ks[:], src[16:22])
	kind, size := UnpackKindSize(ks)
	return Record{
		NameID:      binary.LittleEndian.Uint32(src[0:]),
		Parent:      Idx(binary.LittleEndian.Uint32(src[4:])),
		FirstChild:  Idx(binary.LittleEndian.Uint32(src[8:])),
		NextSibling: Idx(binary.LittleEndian.Uint32(src[12:])),
		Kind:        kind,
		Size:        size,
		MTime:       int64(binary.LittleEndian.Uint64(src[22:])),
		CTime:       int64(binary.LittleEndian.Uint64(src[30:])),
		MetaLoaded:  src[38] == 1,
	}
}
