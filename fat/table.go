package fat

import (
	"encoding/binary"

	"github.com/embeddedgo/fatfs/block"
	"github.com/embeddedgo/fatfs/ferrors"
)

// Table reads and writes FAT entries through a shared single-slot block
// cache, and tracks the free-cluster/next-free hints carried in vol.
type Table struct {
	vol   *FatVolume
	cache *block.Cache
}

// NewTable wraps a volume's FAT region for entry-level access.
func NewTable(vol *FatVolume, cache *block.Cache) *Table {
	return &Table{vol: vol, cache: cache}
}

// entryLocation returns the (block, intra-block byte offset) of a
// cluster's FAT entry, given the FAT's on-disk entry width.
func (t *Table) entryLocation(id ClusterID) (block.Idx, int) {
	var byteOffset uint32
	if t.vol.Type == FatType16 {
		byteOffset = uint32(id) * 2
	} else {
		byteOffset = uint32(id) * 4
	}
	blockOffset := byteOffset / block.Size
	within := int(byteOffset % block.Size)
	abs := t.vol.AbsoluteBlock(t.vol.FATStartBlock.Add(block.Count(blockOffset)))
	return abs, within
}

// Read returns the raw successor entry for id: the next cluster in the
// chain, or one of ClusterEOF/ClusterBad/ClusterInvalid.
func (t *Table) Read(id ClusterID) (ClusterID, error) {
	idx, off := t.entryLocation(id)
	b, err := t.cache.Read(idx, "fat-entry")
	if err != nil {
		return 0, err
	}
	if t.vol.Type == FatType16 {
		raw := binary.LittleEndian.Uint16(b[off : off+2])
		return normalizeFAT16(raw), nil
	}
	raw := binary.LittleEndian.Uint32(b[off:off+4]) & 0x0FFFFFFF
	return normalizeFAT32(raw), nil
}

// Write sets the successor entry for id to value. For FAT32 the reserved
// upper 4 bits of the 32-bit slot are preserved untouched, per the FAT
// specification.
func (t *Table) Write(id ClusterID, value ClusterID) error {
	idx, off := t.entryLocation(id)
	b, err := t.cache.Mut(idx, "fat-entry")
	if err != nil {
		return err
	}
	if t.vol.Type == FatType16 {
		binary.LittleEndian.PutUint16(b[off:off+2], uint16(value))
		return nil
	}
	existing := binary.LittleEndian.Uint32(b[off : off+4])
	merged := (existing & 0xF0000000) | (uint32(value) & 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(b[off:off+4], merged)
	return nil
}

func normalizeFAT16(raw uint16) ClusterID {
	switch {
	case raw == 0:
		return ClusterEmpty
	case raw >= 0xFFF8:
		return ClusterEOF
	case raw == 0xFFF7:
		return ClusterBad
	case raw >= 0xFFF0:
		return ClusterInvalid
	default:
		return ClusterID(raw)
	}
}

func normalizeFAT32(raw uint32) ClusterID {
	switch {
	case raw == 0:
		return ClusterEmpty
	case raw >= 0x0FFFFFF8:
		return ClusterEOF
	case raw == 0x0FFFFFF7:
		return ClusterBad
	case raw >= 0x0FFFFFF0:
		return ClusterInvalid
	default:
		return ClusterID(raw)
	}
}

// FollowChain walks the cluster chain starting at first, returning every
// cluster id visited in order. Returns ErrUnterminatedFatChain if the chain
// runs into a free cluster instead of an EOF marker, and ErrBadCluster if it
// hits the bad-cluster sentinel.
func (t *Table) FollowChain(first ClusterID) ([]ClusterID, error) {
	var chain []ClusterID
	cur := first
	for {
		chain = append(chain, cur)
		next, err := t.Read(cur)
		if err != nil {
			return nil, err
		}
		if next.IsEOF() {
			return chain, nil
		}
		if next == ClusterBad {
			return nil, ferrors.ErrBadCluster.WithMessage("cluster chain references a bad-cluster marker")
		}
		if next == ClusterEmpty {
			return nil, ferrors.ErrUnterminatedFatChain.WithMessage("chain ended on a free cluster")
		}
		cur = next
	}
}

// findFreeClusterFrom performs a single linear scan from hint up to (but not
// including) FirstUsableCluster+ClusterCount. It does not wrap around: if no
// free cluster lies in that range it returns ErrDiskFull.
func (t *Table) findFreeClusterFrom(hint ClusterID) (ClusterID, error) {
	last := ClusterID(uint32(FirstUsableCluster) + t.vol.ClusterCount)
	for id := hint; id < last; id++ {
		entry, err := t.Read(id)
		if err != nil {
			return 0, err
		}
		if entry == ClusterEmpty {
			return id, nil
		}
	}
	return 0, ferrors.ErrDiskFull
}

// AllocCluster finds and marks one free cluster as the end of a chain
// (ClusterEOF), updating the volume's free-count and next-free hints. The
// scan starts at the next-free hint and wraps around exactly once: if the
// first pass from the hint to the end of the cluster range finds nothing,
// it retries once over the whole range starting at FirstUsableCluster, then
// gives up.
func (t *Table) AllocCluster() (ClusterID, error) {
	hint := ClusterID(t.vol.NextFreeCluster)
	if hint < FirstUsableCluster {
		hint = FirstUsableCluster
	}

	found, err := t.findFreeClusterFrom(hint)
	if err == ferrors.ErrDiskFull && hint != FirstUsableCluster {
		found, err = t.findFreeClusterFrom(FirstUsableCluster)
	}
	if err != nil {
		return 0, err
	}

	if err := t.Write(found, ClusterEOF); err != nil {
		return 0, err
	}

	if t.vol.FreeClusterCount != 0xFFFFFFFF && t.vol.FreeClusterCount > 0 {
		t.vol.FreeClusterCount--
	}
	t.vol.NextFreeCluster = uint32(found) + 1
	return found, nil
}

// ExtendChain allocates one new cluster and links it onto the end of an
// existing chain whose current last cluster is tail.
func (t *Table) ExtendChain(tail ClusterID) (ClusterID, error) {
	next, err := t.AllocCluster()
	if err != nil {
		return 0, err
	}
	if err := t.Write(tail, next); err != nil {
		return 0, err
	}
	return next, nil
}

// TruncateChain cuts the chain off after first: first itself stays
// allocated and is marked ClusterEOF, and every successor is freed
// (ClusterEmpty), bumping the free-count hint. NextFreeCluster is lowered
// to the smallest freed id so a subsequent allocation finds the space
// sooner. Ids below FirstUsableCluster are a no-op.
func (t *Table) TruncateChain(first ClusterID) error {
	if first < FirstUsableCluster {
		return nil
	}
	succ, err := t.Read(first)
	if err != nil {
		return err
	}
	switch {
	case succ.IsEOF():
		return nil
	case succ == ClusterBad:
		return ferrors.ErrBadCluster.WithMessage("cluster chain references a bad-cluster marker")
	case succ == ClusterEmpty || succ == ClusterInvalid:
		return ferrors.ErrUnterminatedFatChain.WithMessage("chain ended on a free cluster")
	}
	if err := t.Write(first, ClusterEOF); err != nil {
		return err
	}

	cur := succ
	for {
		next, err := t.Read(cur)
		if err != nil {
			return err
		}
		if next == ClusterBad {
			return ferrors.ErrBadCluster.WithMessage("cluster chain references a bad-cluster marker")
		}
		if next == ClusterEmpty || next == ClusterInvalid {
			return ferrors.ErrUnterminatedFatChain.WithMessage("chain ended on a free cluster")
		}
		if err := t.Write(cur, ClusterEmpty); err != nil {
			return err
		}
		if t.vol.FreeClusterCount != 0xFFFFFFFF {
			t.vol.FreeClusterCount++
		}
		if uint32(cur) < t.vol.NextFreeCluster {
			t.vol.NextFreeCluster = uint32(cur)
		}
		if next.IsEOF() {
			return nil
		}
		cur = next
	}
}
