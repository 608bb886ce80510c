package fat

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/embeddedgo/fatfs/block"
)

// DirEntrySize is the fixed size of one 8.3/LFN directory entry slot.
const DirEntrySize = 32

// Marker bytes stored in the first byte of a short-name slot.
const (
	markerFree        = 0x00
	markerDeleted     = 0xE5
	markerKanjiEscape = 0x05 // real first byte is 0xE5, escaped to avoid ambiguity
)

// DirEntryLocation pins a decoded entry to the (block, byte offset) it was
// read from, so callers can write an update or a deletion back in place
// without re-walking the directory.
type DirEntryLocation struct {
	Block  block.Idx
	Offset int // byte offset within the block, always a multiple of DirEntrySize
}

// DirEntry is the decoded form of one short-name (8.3) directory entry.
type DirEntry struct {
	Name         ShortFileName
	Attr         Attributes
	Created      Timestamp
	Accessed     Timestamp // date-only; time-of-day fields are always zero
	Modified     Timestamp
	FirstCluster ClusterID
	FileSize     uint32

	Location DirEntryLocation
}

// DecodeDirEntry parses a 32-byte slot. free reports the slot has never been
// used (name[0] == 0x00 and every later slot in the directory is also free);
// deleted reports the slot held a removed entry whose data is still largely
// intact (name[0] == 0xE5).
func DecodeDirEntry(raw []byte, loc DirEntryLocation) (entry DirEntry, free bool, deleted bool) {
	if raw[0] == markerFree {
		return DirEntry{Location: loc}, true, false
	}

	var name ShortFileName
	copy(name[:], raw[0:11])
	if raw[0] == markerDeleted {
		deleted = true
		name[0] = markerDeleted
	} else if raw[0] == markerKanjiEscape {
		name[0] = 0xE5
	}

	attr := Attributes(raw[11])

	createdDate := binary.LittleEndian.Uint16(raw[16:18])
	createdTime := binary.LittleEndian.Uint16(raw[14:16])
	accessedDate := binary.LittleEndian.Uint16(raw[18:20])
	clusterHigh := binary.LittleEndian.Uint16(raw[20:22])
	modifiedTime := binary.LittleEndian.Uint16(raw[22:24])
	modifiedDate := binary.LittleEndian.Uint16(raw[24:26])
	clusterLow := binary.LittleEndian.Uint16(raw[26:28])
	fileSize := binary.LittleEndian.Uint32(raw[28:32])

	entry = DirEntry{
		Name:         name,
		Attr:         attr,
		Created:      FromFAT(createdDate, createdTime),
		Accessed:     FromFAT(accessedDate, 0),
		Modified:     FromFAT(modifiedDate, modifiedTime),
		FirstCluster: ClusterID(uint32(clusterHigh)<<16 | uint32(clusterLow)),
		FileSize:     fileSize,
		Location:     loc,
	}
	return entry, false, deleted
}

// EncodeDirEntry serializes e into its 32-byte on-disk form using a
// bytewriter-backed io.Writer, matching the field layout DecodeDirEntry
// reads.
func EncodeDirEntry(e DirEntry) [DirEntrySize]byte {
	var raw [DirEntrySize]byte
	w := bytewriter.New(raw[:])

	name := e.Name
	w.Write(name[:])
	w.Write([]byte{byte(e.Attr), 0})

	createdDate, createdTime := e.Created.ToFAT()
	accessedDate, _ := e.Accessed.ToFAT()
	modifiedDate, modifiedTime := e.Modified.ToFAT()
	clusterHigh := uint16(e.FirstCluster >> 16)
	clusterLow := uint16(e.FirstCluster & 0xFFFF)

	var u16 [2]byte
	putU16 := func(v uint16) {
		binary.LittleEndian.PutUint16(u16[:], v)
		w.Write(u16[:])
	}
	var u32 [4]byte

	w.Write([]byte{0}) // CreatedTimeMillis, not tracked at 2s resolution
	putU16(createdTime)
	putU16(createdDate)
	putU16(accessedDate)
	putU16(clusterHigh)
	putU16(modifiedTime)
	putU16(modifiedDate)
	putU16(clusterLow)
	binary.LittleEndian.PutUint32(u32[:], e.FileSize)
	w.Write(u32[:])

	return raw
}

// DeletedMarkerByte is the value written over a slot's first byte to delete
// it.
const DeletedMarkerByte = markerDeleted
