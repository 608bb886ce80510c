package fat

import (
	"strings"

	"github.com/embeddedgo/fatfs/block"
	"github.com/embeddedgo/fatfs/ferrors"
)

// DirRegion names the block range backing a directory's contents: either
// the fixed, pre-allocated FAT16 root area, or a normal cluster chain (every
// subdirectory, and the FAT32 root).
type DirRegion struct {
	Fixed      bool
	StartBlock block.Idx   // absolute; fixed region only
	NumBlocks  block.Count // fixed region only

	FirstCluster ClusterID // chain region only
}

// RootDirRegion returns the region describing vol's root directory.
func RootDirRegion(vol *FatVolume) DirRegion {
	if vol.Type == FatType16 {
		start, count := vol.RootDirBlockRange()
		return DirRegion{Fixed: true, StartBlock: vol.AbsoluteBlock(start), NumBlocks: count}
	}
	return DirRegion{FirstCluster: vol.FirstRootDirCluster}
}

// Directory reads and writes one directory's entries through the volume's
// FAT table and shared block cache.
type Directory struct {
	vol    *FatVolume
	cache  *block.Cache
	table  *Table
	region DirRegion
}

// NewDirectory opens a directory over the given region.
func NewDirectory(vol *FatVolume, cache *block.Cache, table *Table, region DirRegion) *Directory {
	return &Directory{vol: vol, cache: cache, table: table, region: region}
}

// DirEntryView is one resolved directory entry as returned by iteration and
// lookup: the short-name entry plus, if preceded by LFN fragments whose
// checksum matches, the long name.
type DirEntryView struct {
	Entry       DirEntry
	LongName    string
	HasLongName bool
}

// DisplayName returns the long name if present, else the short name in
// "NAME.EXT" form.
func (v DirEntryView) DisplayName() string {
	if v.HasLongName {
		return v.LongName
	}
	return v.Entry.Name.String()
}

// blocks yields the absolute block indices backing this directory, in
// order, following the cluster chain for non-fixed regions.
func (d *Directory) blocks() ([]block.Idx, error) {
	if d.region.Fixed {
		idxs := make([]block.Idx, d.region.NumBlocks)
		for i := range idxs {
			idxs[i] = d.region.StartBlock.Add(block.Count(i))
		}
		return idxs, nil
	}

	chain, err := d.table.FollowChain(d.region.FirstCluster)
	if err != nil {
		return nil, err
	}
	var idxs []block.Idx
	for _, cid := range chain {
		first := d.vol.ClusterToBlock(cid)
		for i := block.Count(0); i < d.vol.BlocksPerCluster; i++ {
			idxs = append(idxs, first.Add(i))
		}
	}
	return idxs, nil
}

// ForEach visits every non-free entry in on-disk order, reassembling any
// preceding LFN fragments into DirEntryView.LongName. fn's stop return ends
// iteration early without error.
func (d *Directory) ForEach(fn func(DirEntryView) (stop bool, err error)) error {
	idxs, err := d.blocks()
	if err != nil {
		return err
	}

	lfn := NewReassemblyBuffer()
	haveLFN := false
	lfnChecksum := byte(0)

	for _, idx := range idxs {
		b, err := d.cache.Read(idx, "dirent")
		if err != nil {
			return err
		}
		for off := 0; off+DirEntrySize <= block.Size; off += DirEntrySize {
			raw := b[off : off+DirEntrySize]
			if raw[0] == markerFree {
				return nil // never-used slot: end of directory
			}

			attr := Attributes(raw[11])
			if attr.IsLFN() {
				frag := DecodeLFNFragment(raw)
				if frag.IsLast {
					lfn.Reset()
					lfnChecksum = frag.Checksum
					haveLFN = true
				}
				lfn.Push(frag)
				continue
			}

			loc := DirEntryLocation{Block: idx, Offset: off}
			entry, _, deleted := DecodeDirEntry(raw, loc)
			if deleted {
				haveLFN = false
				continue
			}

			view := DirEntryView{Entry: entry}
			if haveLFN && lfn.Valid() && entry.Name.LFNChecksum() == lfnChecksum {
				view.LongName = lfn.String()
				view.HasLongName = view.LongName != ""
			}
			haveLFN = false

			stop, err := fn(view)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
	return nil
}

// Lookup finds an entry by name, matching case-insensitively against both
// the long name (if any) and the short 8.3 name.
func (d *Directory) Lookup(name string) (DirEntryView, error) {
	sfn, sfnErr := ParseShortFileName(name)
	var found DirEntryView
	ok := false

	err := d.ForEach(func(v DirEntryView) (bool, error) {
		if v.HasLongName && strings.EqualFold(v.LongName, name) {
			found, ok = v, true
			return true, nil
		}
		if sfnErr == nil && v.Entry.Name == sfn {
			found, ok = v, true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return DirEntryView{}, err
	}
	if !ok {
		return DirEntryView{}, ferrors.ErrNotFound
	}
	return found, nil
}

// findFreeSlot locates the first free (0x00 or 0xE5) 32-byte slot, growing
// the chain by one cluster if the directory is a cluster chain and none is
// found. Fixed (FAT16 root) regions return ErrNotEnoughSpace instead of
// growing, since they cannot be extended.
func (d *Directory) findFreeSlot() (DirEntryLocation, error) {
	idxs, err := d.blocks()
	if err != nil {
		return DirEntryLocation{}, err
	}

	for _, idx := range idxs {
		b, err := d.cache.Read(idx, "dirent-scan")
		if err != nil {
			return DirEntryLocation{}, err
		}
		for off := 0; off+DirEntrySize <= block.Size; off += DirEntrySize {
			if b[off] == markerFree || b[off] == markerDeleted {
				return DirEntryLocation{Block: idx, Offset: off}, nil
			}
		}
	}

	if d.region.Fixed {
		return DirEntryLocation{}, ferrors.ErrNotEnoughSpace
	}

	chain, err := d.table.FollowChain(d.region.FirstCluster)
	if err != nil {
		return DirEntryLocation{}, err
	}
	tail := chain[len(chain)-1]
	next, err := d.table.ExtendChain(tail)
	if err != nil {
		return DirEntryLocation{}, err
	}
	first := d.vol.ClusterToBlock(next)
	if _, err := d.cache.BlankMut(first); err != nil {
		return DirEntryLocation{}, err
	}
	if err := d.cache.WriteBack(); err != nil {
		return DirEntryLocation{}, err
	}
	for i := block.Count(1); i < d.vol.BlocksPerCluster; i++ {
		if _, err := d.cache.BlankMut(first.Add(i)); err != nil {
			return DirEntryLocation{}, err
		}
		if err := d.cache.WriteBack(); err != nil {
			return DirEntryLocation{}, err
		}
	}
	return DirEntryLocation{Block: first, Offset: 0}, nil
}

// CreateEntry writes a new short-name entry into the first available slot
// and returns it with its on-disk location filled in. Long-name writing is
// not supported: names are stored in 8.3 form only.
func (d *Directory) CreateEntry(name string, attr Attributes, firstCluster ClusterID, size uint32, now Timestamp) (DirEntry, error) {
	sfn, err := ParseShortFileName(name)
	if err != nil {
		return DirEntry{}, err
	}
	if _, err := d.Lookup(name); err == nil {
		return DirEntry{}, ferrors.ErrFileAlreadyExists
	}

	loc, err := d.findFreeSlot()
	if err != nil {
		return DirEntry{}, err
	}

	entry := DirEntry{
		Name:         sfn,
		Attr:         attr,
		Created:      now,
		Accessed:     now,
		Modified:     now,
		FirstCluster: firstCluster,
		FileSize:     size,
		Location:     loc,
	}
	if err := d.writeEntry(entry); err != nil {
		return DirEntry{}, err
	}
	return entry, nil
}

// UpdateEntry rewrites an existing entry in place (e.g. after a write
// extends FileSize, or FirstCluster changes on first allocation).
func (d *Directory) UpdateEntry(entry DirEntry) error {
	return d.writeEntry(entry)
}

func (d *Directory) writeEntry(entry DirEntry) error {
	raw := EncodeDirEntry(entry)
	b, err := d.cache.Mut(entry.Location.Block, "dirent-write")
	if err != nil {
		return err
	}
	copy(b[entry.Location.Offset:entry.Location.Offset+DirEntrySize], raw[:])
	return d.cache.WriteBack()
}

// DeleteEntry marks loc's slot as deleted. The entry's cluster chain is
// left allocated; a deleted file's clusters are reclaimed by external
// repair tools, not by this driver. Any LFN fragments preceding the slot are
// left in place.
func (d *Directory) DeleteEntry(loc DirEntryLocation) error {
	b, err := d.cache.Mut(loc.Block, "dirent-delete")
	if err != nil {
		return err
	}
	b[loc.Offset] = markerDeleted
	return d.cache.WriteBack()
}

// IsEmpty reports whether the directory contains only "." and ".." (or
// nothing, for a fixed root region).
func (d *Directory) IsEmpty() (bool, error) {
	empty := true
	err := d.ForEach(func(v DirEntryView) (bool, error) {
		if v.Entry.Name.IsDot() || v.Entry.Name.IsDotDot() {
			return false, nil
		}
		empty = false
		return true, nil
	})
	return empty, err
}
