package fatfs

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/embeddedgo/fatfs/block"
	"github.com/embeddedgo/fatfs/fat"
	"github.com/embeddedgo/fatfs/ferrors"
	"github.com/embeddedgo/fatfs/mbr"
)

// Clock supplies the current time for directory entry ctime/mtime stamps.
// Kept as a capability, not a direct time.Now call, so callers on
// platforms without a battery-backed RTC can inject a fixed or
// externally-synced time source.
type Clock interface {
	Now() fat.Timestamp
}

// VolumeManager opens MBR partitions, parses FAT volumes, and owns the
// bounded open-volume/open-directory/open-file tables plus the single
// shared block cache every FAT operation goes through. All mutation to the
// filesystem flows through a VolumeManager method; callers never touch the
// fat or block packages directly.
//
// A VolumeManager is not safe for concurrent use from multiple goroutines,
// but it does guard against accidental reentrancy: calling any method from inside
// an IterateDir callback returns LockError instead of corrupting state.
type VolumeManager struct {
	mu   sync.Mutex
	busy bool

	device block.Device
	cache  *block.Cache
	clock  Clock
	cfg    Config
	logger *slog.Logger

	handles *handleGenerator

	volumes    []volumeRecord
	volumesSet []bool
	volumesBM  bitmap.Bitmap

	dirs    []directoryInfo
	dirsSet []bool
	dirsBM  bitmap.Bitmap

	files    []fileInfo
	filesSet []bool
	filesBM  bitmap.Bitmap
}

// NewVolumeManager constructs a manager over dev. cfg.resolve()'s defaults
// apply for any zero field. seed initialises the handle generator so a
// caller that persists handles across manager restarts can avoid id reuse.
func NewVolumeManager(dev block.Device, clock Clock, cfg Config, seed uint32) *VolumeManager {
	cfg = cfg.resolve()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &VolumeManager{
		device:     dev,
		cache:      block.NewCache(dev),
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		handles:    newHandleGenerator(seed),
		volumes:    make([]volumeRecord, cfg.MaxVolumes),
		volumesSet: make([]bool, cfg.MaxVolumes),
		volumesBM:  bitmap.New(cfg.MaxVolumes),
		dirs:       make([]directoryInfo, cfg.MaxDirs),
		dirsSet:    make([]bool, cfg.MaxDirs),
		dirsBM:     bitmap.New(cfg.MaxDirs),
		files:      make([]fileInfo, cfg.MaxFiles),
		filesSet:   make([]bool, cfg.MaxFiles),
		filesBM:    bitmap.New(cfg.MaxFiles),
	}
}

// enter claims the manager's single-owner lock token for the duration of
// one public call, failing with LockError on reentrancy (a callback
// invoked from inside an iteration calling back into the manager).
func (m *VolumeManager) enter() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return ferrors.ErrLockError
	}
	m.busy = true
	return nil
}

func (m *VolumeManager) leave() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

// --- slot bookkeeping -------------------------------------------------

func (m *VolumeManager) allocVolumeSlot() (int, error) {
	for i := 0; i < len(m.volumes); i++ {
		if !m.volumesBM.Get(i) {
			m.volumesBM.Set(i, true)
			m.volumesSet[i] = true
			return i, nil
		}
	}
	return 0, ferrors.ErrTooManyOpenVolumes
}

func (m *VolumeManager) freeVolumeSlot(i int) {
	m.volumesBM.Set(i, false)
	m.volumesSet[i] = false
	m.volumes[i] = volumeRecord{}
}

func (m *VolumeManager) allocDirSlot() (int, error) {
	for i := 0; i < len(m.dirs); i++ {
		if !m.dirsBM.Get(i) {
			m.dirsBM.Set(i, true)
			m.dirsSet[i] = true
			return i, nil
		}
	}
	return 0, ferrors.ErrTooManyOpenDirs
}

func (m *VolumeManager) freeDirSlot(i int) {
	m.dirsBM.Set(i, false)
	m.dirsSet[i] = false
	m.dirs[i] = directoryInfo{}
}

func (m *VolumeManager) allocFileSlot() (int, error) {
	for i := 0; i < len(m.files); i++ {
		if !m.filesBM.Get(i) {
			m.filesBM.Set(i, true)
			m.filesSet[i] = true
			return i, nil
		}
	}
	return 0, ferrors.ErrTooManyOpenFiles
}

func (m *VolumeManager) freeFileSlot(i int) {
	m.filesBM.Set(i, false)
	m.filesSet[i] = false
	m.files[i] = fileInfo{}
}

func (m *VolumeManager) findVolume(h Handle) (*volumeRecord, int, error) {
	for i := range m.volumes {
		if m.volumesSet[i] && m.volumes[i].handle == h {
			return &m.volumes[i], i, nil
		}
	}
	return nil, 0, ferrors.ErrBadHandle
}

func (m *VolumeManager) findDir(h Handle) (*directoryInfo, int, error) {
	for i := range m.dirs {
		if m.dirsSet[i] && m.dirs[i].handle == h {
			return &m.dirs[i], i, nil
		}
	}
	return nil, 0, ferrors.ErrBadHandle
}

func (m *VolumeManager) findFile(h Handle) (*fileInfo, int, error) {
	for i := range m.files {
		if m.filesSet[i] && m.files[i].handle == h {
			return &m.files[i], i, nil
		}
	}
	return nil, 0, ferrors.ErrBadHandle
}

func (m *VolumeManager) volumeInUse(h Handle) bool {
	for i := range m.dirs {
		if m.dirsSet[i] && m.dirs[i].volumeHandle == h {
			return true
		}
	}
	for i := range m.files {
		if m.filesSet[i] && m.files[i].volumeHandle == h {
			return true
		}
	}
	return false
}

func (m *VolumeManager) fileAlreadyOpen(volHandle Handle, loc fat.DirEntryLocation) bool {
	for i := range m.files {
		if m.filesSet[i] && m.files[i].volumeHandle == volHandle && sameDirEntry(m.files[i].entry.Location, loc) {
			return true
		}
	}
	return false
}

// --- volumes ------------------------------------------------------------

// OpenVolume opens the FAT volume on the MBR partition at idx (0..3). It
// fails with VolumeAlreadyOpen if that partition index is already open,
// and TooManyOpenVolumes if the volume table is full.
func (m *VolumeManager) OpenVolume(idx int) (RawVolume, error) {
	if err := m.enter(); err != nil {
		return RawVolume{}, err
	}
	defer m.leave()

	for i := range m.volumes {
		if m.volumesSet[i] && m.volumes[i].index == idx {
			return RawVolume{}, ferrors.ErrVolumeAlreadyOpen
		}
	}

	slot, err := m.allocVolumeSlot()
	if err != nil {
		return RawVolume{}, err
	}

	part, err := mbr.ReadPartition(m.device, idx)
	if err != nil {
		m.freeVolumeSlot(slot)
		return RawVolume{}, err
	}
	if !mbr.AcceptedPartitionTypes[part.Type] {
		m.freeVolumeSlot(slot)
		return RawVolume{}, ferrors.ErrFormatError.WithMessage("partition type is not a recognised FAT type")
	}

	vol, err := fat.ParseBPB(m.device, part.StartLBA, part.NumBlocks)
	if err != nil {
		m.freeVolumeSlot(slot)
		return RawVolume{}, err
	}

	h := m.handles.generate()
	m.volumes[slot] = volumeRecord{
		handle:              h,
		index:               idx,
		vol:                 vol,
		table:               fat.NewTable(vol, m.cache),
		lastFreeClusters:    vol.FreeClusterCount,
		lastNextFreeCluster: vol.NextFreeCluster,
	}
	m.logger.Debug("fatfs: volume opened", "index", idx, "type", vol.Type.String())
	return RawVolume{h: h}, nil
}

// CloseVolume closes a previously opened volume. It fails with
// VolumeStillInUse if any directory or file opened from it is still open.
func (m *VolumeManager) CloseVolume(rv RawVolume) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()
	return m.closeVolumeLocked(rv)
}

func (m *VolumeManager) closeVolumeLocked(rv RawVolume) error {
	_, slot, err := m.findVolume(rv.h)
	if err != nil {
		return err
	}
	if m.volumeInUse(rv.h) {
		return ferrors.ErrVolumeStillInUse
	}
	m.freeVolumeSlot(slot)
	m.logger.Debug("fatfs: volume closed")
	return nil
}

// GetRootVolumeLabel returns the volume label: the one embedded in the BPB
// if non-blank, otherwise the name of the root directory entry carrying
// exactly the VolumeID attribute (if any).
func (m *VolumeManager) GetRootVolumeLabel(rv RawVolume) (string, error) {
	if err := m.enter(); err != nil {
		return "", err
	}
	defer m.leave()

	volRec, _, err := m.findVolume(rv.h)
	if err != nil {
		return "", err
	}
	if volRec.vol.VolumeLabel != "" {
		return volRec.vol.VolumeLabel, nil
	}

	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, fat.RootDirRegion(volRec.vol))
	label := ""
	err = dir.ForEach(func(v fat.DirEntryView) (bool, error) {
		if v.Entry.Attr == fat.AttrVolumeID {
			label = strings.TrimRight(string(v.Entry.Name[:]), " ")
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return label, nil
}

// --- directories ---------------------------------------------------------

// OpenRootDir opens the root directory of an open volume. It may be called
// more than once; each call returns a fresh handle.
func (m *VolumeManager) OpenRootDir(rv RawVolume) (RawDirectory, error) {
	if err := m.enter(); err != nil {
		return RawDirectory{}, err
	}
	defer m.leave()

	volRec, _, err := m.findVolume(rv.h)
	if err != nil {
		return RawDirectory{}, err
	}
	slot, err := m.allocDirSlot()
	if err != nil {
		return RawDirectory{}, err
	}
	h := m.handles.generate()
	m.dirs[slot] = directoryInfo{handle: h, volumeHandle: rv.h, region: fat.RootDirRegion(volRec.vol)}
	return RawDirectory{h: h}, nil
}

// OpenDir opens a subdirectory of parent by name. "." returns a new handle
// over the same region without touching the disk.
func (m *VolumeManager) OpenDir(parent RawDirectory, name string) (RawDirectory, error) {
	if err := m.enter(); err != nil {
		return RawDirectory{}, err
	}
	defer m.leave()

	parentRec, _, err := m.findDir(parent.h)
	if err != nil {
		return RawDirectory{}, err
	}

	if name == "." {
		slot, err := m.allocDirSlot()
		if err != nil {
			return RawDirectory{}, err
		}
		h := m.handles.generate()
		m.dirs[slot] = directoryInfo{handle: h, volumeHandle: parentRec.volumeHandle, region: parentRec.region}
		return RawDirectory{h: h}, nil
	}

	volRec, _, err := m.findVolume(parentRec.volumeHandle)
	if err != nil {
		return RawDirectory{}, err
	}

	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, parentRec.region)
	view, err := dir.Lookup(name)
	if err != nil {
		return RawDirectory{}, err
	}
	if !view.Entry.Attr.IsDirectory() {
		return RawDirectory{}, ferrors.ErrOpenedFileAsDir
	}

	region := fat.DirRegion{FirstCluster: view.Entry.FirstCluster}
	if view.Entry.FirstCluster < fat.FirstUsableCluster {
		region = fat.RootDirRegion(volRec.vol)
	}

	slot, err := m.allocDirSlot()
	if err != nil {
		return RawDirectory{}, err
	}
	h := m.handles.generate()
	m.dirs[slot] = directoryInfo{handle: h, volumeHandle: parentRec.volumeHandle, region: region}
	return RawDirectory{h: h}, nil
}

// CloseDir closes a directory handle. Directories cache no mutable state,
// so this never touches the disk.
func (m *VolumeManager) CloseDir(rd RawDirectory) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()
	_, slot, err := m.findDir(rd.h)
	if err != nil {
		return err
	}
	m.freeDirSlot(slot)
	return nil
}

// IterateDir visits every entry of rd in on-disk order. fn must not call
// back into the manager: doing so returns LockError from the reentered
// call and leaves state untouched.
func (m *VolumeManager) IterateDir(rd RawDirectory, fn func(fat.DirEntryView) (stop bool, err error)) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	rec, _, err := m.findDir(rd.h)
	if err != nil {
		return err
	}
	volRec, _, err := m.findVolume(rec.volumeHandle)
	if err != nil {
		return err
	}
	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, rec.region)
	return dir.ForEach(fn)
}

// FindDirectoryEntry looks up name within rd without opening it.
func (m *VolumeManager) FindDirectoryEntry(rd RawDirectory, name string) (fat.DirEntryView, error) {
	if err := m.enter(); err != nil {
		return fat.DirEntryView{}, err
	}
	defer m.leave()

	rec, _, err := m.findDir(rd.h)
	if err != nil {
		return fat.DirEntryView{}, err
	}
	volRec, _, err := m.findVolume(rec.volumeHandle)
	if err != nil {
		return fat.DirEntryView{}, err
	}
	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, rec.region)
	return dir.Lookup(name)
}

// MakeDirInDir creates a new subdirectory named name inside parent,
// writing its synthetic "." and ".." entries.
func (m *VolumeManager) MakeDirInDir(parent RawDirectory, name string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	parentRec, _, err := m.findDir(parent.h)
	if err != nil {
		return err
	}
	volRec, _, err := m.findVolume(parentRec.volumeHandle)
	if err != nil {
		return err
	}

	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, parentRec.region)
	if existing, err := dir.Lookup(name); err == nil {
		if existing.Entry.Attr.IsDirectory() {
			return ferrors.ErrDirAlreadyExists
		}
		return ferrors.ErrFileAlreadyExists
	}

	now := m.clock.Now()
	entry, err := dir.CreateEntry(name, fat.AttrDirectory, 0, 0, now)
	if err != nil {
		return err
	}

	newCluster, err := volRec.table.AllocCluster()
	if err != nil {
		return err
	}
	entry.FirstCluster = newCluster
	if err := dir.UpdateEntry(entry); err != nil {
		return err
	}

	// ".." stores the parent's real cluster, except FAT16's root region,
	// which isn't a real cluster at all and is conventionally written as 0.
	dotDotCluster := parentRec.region.FirstCluster
	if parentRec.region.Fixed {
		dotDotCluster = 0
	}

	first := volRec.vol.ClusterToBlock(newCluster)
	blk, err := m.cache.BlankMut(first)
	if err != nil {
		return err
	}
	dotEntry := fat.DirEntry{
		Name: fat.DotEntry, Attr: fat.AttrDirectory,
		Created: now, Modified: now, Accessed: now,
		FirstCluster: newCluster,
		Location:     fat.DirEntryLocation{Block: first, Offset: 0},
	}
	dotDotEntry := fat.DirEntry{
		Name: fat.DotDotEntry, Attr: fat.AttrDirectory,
		Created: now, Modified: now, Accessed: now,
		FirstCluster: dotDotCluster,
		Location:     fat.DirEntryLocation{Block: first, Offset: fat.DirEntrySize},
	}
	rawDot := fat.EncodeDirEntry(dotEntry)
	rawDotDot := fat.EncodeDirEntry(dotDotEntry)
	copy(blk[0:fat.DirEntrySize], rawDot[:])
	copy(blk[fat.DirEntrySize:2*fat.DirEntrySize], rawDotDot[:])
	if err := m.cache.WriteBack(); err != nil {
		return err
	}

	for i := block.Count(1); i < volRec.vol.BlocksPerCluster; i++ {
		if _, err := m.cache.BlankMut(first.Add(i)); err != nil {
			return err
		}
		if err := m.cache.WriteBack(); err != nil {
			return err
		}
	}
	m.logger.Debug("fatfs: directory created", "name", name)
	return nil
}

// DeleteFileInDir removes name from parent. It refuses to delete an open
// file (FileAlreadyOpen) or a directory entry (DeleteDirAsFile); callers
// must close the file first. Only the directory slot is marked deleted:
// the file's cluster chain and any preceding long-name fragments stay on
// disk.
func (m *VolumeManager) DeleteFileInDir(parent RawDirectory, name string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	parentRec, _, err := m.findDir(parent.h)
	if err != nil {
		return err
	}
	volRec, _, err := m.findVolume(parentRec.volumeHandle)
	if err != nil {
		return err
	}

	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, parentRec.region)
	view, err := dir.Lookup(name)
	if err != nil {
		return err
	}
	if view.Entry.Attr.IsDirectory() {
		return ferrors.ErrDeleteDirAsFile
	}
	if m.fileAlreadyOpen(parentRec.volumeHandle, view.Entry.Location) {
		return ferrors.ErrFileAlreadyOpen
	}

	if err := dir.DeleteEntry(view.Entry.Location); err != nil {
		return err
	}
	m.logger.Debug("fatfs: file deleted", "name", name)
	return nil
}

// --- files ----------------------------------------------------------------

// OpenFileInDir opens (and, depending on mode, creates or truncates) the
// file named name inside parent. See Mode for the resolution table.
func (m *VolumeManager) OpenFileInDir(parent RawDirectory, name string, mode Mode) (RawFile, error) {
	if err := m.enter(); err != nil {
		return RawFile{}, err
	}
	defer m.leave()

	parentRec, _, err := m.findDir(parent.h)
	if err != nil {
		return RawFile{}, err
	}
	volRec, _, err := m.findVolume(parentRec.volumeHandle)
	if err != nil {
		return RawFile{}, err
	}

	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, parentRec.region)
	view, lookupErr := dir.Lookup(name)
	exists := lookupErr == nil

	resolved, create, err := resolveMode(mode, exists)
	if err != nil {
		return RawFile{}, err
	}

	now := m.clock.Now()
	var entry fat.DirEntry

	if create {
		entry, err = dir.CreateEntry(name, fat.AttrArchive, 0, 0, now)
		if err != nil {
			return RawFile{}, err
		}
	} else {
		entry = view.Entry
		if entry.Attr.IsDirectory() {
			return RawFile{}, ferrors.ErrOpenedDirAsFile
		}
		if entry.Attr.IsReadOnly() && resolved.writable() {
			return RawFile{}, ferrors.ErrReadOnly
		}
		if m.fileAlreadyOpen(parentRec.volumeHandle, entry.Location) {
			return RawFile{}, ferrors.ErrFileAlreadyOpen
		}
	}

	slot, err := m.allocFileSlot()
	if err != nil {
		return RawFile{}, err
	}

	info := fileInfo{
		mode:    resolved,
		entry:   entry,
		cluster: entry.FirstCluster,
	}

	switch resolved {
	case ModeReadWriteTruncate:
		// The chain is cut after its first cluster, which stays allocated
		// and attached to the entry; only the size resets.
		if entry.FirstCluster >= fat.FirstUsableCluster {
			if err := volRec.table.TruncateChain(entry.FirstCluster); err != nil {
				m.freeFileSlot(slot)
				return RawFile{}, err
			}
		}
		info.entry.FileSize = 0
		info.entry.Modified = now
		if err := dir.UpdateEntry(info.entry); err != nil {
			m.freeFileSlot(slot)
			return RawFile{}, err
		}
	case ModeReadWriteAppend:
		info.offset = entry.FileSize
	}

	h := m.handles.generate()
	info.handle = h
	info.volumeHandle = parentRec.volumeHandle
	m.files[slot] = info
	m.logger.Debug("fatfs: file opened", "name", name, "mode", resolved.String())
	return RawFile{h: h}, nil
}

// resolvePosition finds the (block, in-block offset, bytes available in
// that block) for offset within f, using and updating f's cluster
// short-cut. When grow is true, running off the end of the chain allocates
// a new cluster linked from the tail instead of returning EndOfFile.
func (m *VolumeManager) resolvePosition(volRec *volumeRecord, f *fileInfo, offset uint32, grow bool) (block.Idx, int, int, error) {
	bytesPerCluster := uint32(volRec.vol.BlocksPerCluster) * block.Size

	if offset < f.boundaryBytes || f.cluster < fat.FirstUsableCluster {
		f.boundaryBytes = 0
		f.cluster = f.entry.FirstCluster
	}
	if f.cluster < fat.FirstUsableCluster {
		return 0, 0, 0, ferrors.ErrEndOfFile
	}

	for f.boundaryBytes+bytesPerCluster <= offset {
		next, err := volRec.table.Read(f.cluster)
		if err != nil {
			return 0, 0, 0, err
		}
		if next.IsEOF() {
			if !grow {
				return 0, 0, 0, ferrors.ErrEndOfFile
			}
			next, err = volRec.table.ExtendChain(f.cluster)
			if err != nil {
				return 0, 0, 0, err
			}
		}
		f.cluster = next
		f.boundaryBytes += bytesPerCluster
	}

	residue := offset - f.boundaryBytes
	blockWithin := block.Count(residue / block.Size)
	off := int(residue % block.Size)
	abs := volRec.vol.ClusterToBlock(f.cluster).Add(blockWithin)
	return abs, off, block.Size - off, nil
}

// Read copies up to len(buf) bytes starting at the file's current offset,
// advancing it, and returns the number of bytes actually copied. Reading
// at or past end-of-file returns (0, nil).
func (m *VolumeManager) Read(rf RawFile, buf []byte) (int, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()

	f, _, err := m.findFile(rf.h)
	if err != nil {
		return 0, err
	}
	volRec, _, err := m.findVolume(f.volumeHandle)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) && f.offset < f.entry.FileSize {
		idx, off, avail, err := m.resolvePosition(volRec, f, f.offset, false)
		if err == ferrors.ErrEndOfFile {
			break
		}
		if err != nil {
			return n, err
		}
		blk, err := m.cache.Read(idx, "file-read")
		if err != nil {
			return n, err
		}
		take := avail
		if remaining := len(buf) - n; remaining < take {
			take = remaining
		}
		if fileRemaining := int(f.entry.FileSize - f.offset); fileRemaining < take {
			take = fileRemaining
		}
		copy(buf[n:n+take], blk[off:off+take])
		n += take
		f.offset += uint32(take)
	}
	return n, nil
}

// Write copies buf into the file starting at its current offset,
// allocating and linking new clusters as needed, and advances the offset.
// The directory entry is updated in memory only; flush via FlushFile or
// CloseFile to persist size/cluster/mtime.
func (m *VolumeManager) Write(rf RawFile, buf []byte) (int, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()

	f, _, err := m.findFile(rf.h)
	if err != nil {
		return 0, err
	}
	if !f.mode.writable() {
		return 0, ferrors.ErrReadOnly
	}
	volRec, _, err := m.findVolume(f.volumeHandle)
	if err != nil {
		return 0, err
	}

	f.dirty = true

	if f.entry.FirstCluster < fat.FirstUsableCluster {
		newCluster, err := volRec.table.AllocCluster()
		if err != nil {
			return 0, err
		}
		f.entry.FirstCluster = newCluster
		f.cluster = newCluster
		f.boundaryBytes = 0
	}

	want := len(buf)
	if remaining := maxFileSize - f.offset; uint32(want) > remaining {
		want = int(remaining)
	}

	n := 0
	for n < want {
		idx, off, avail, err := m.resolvePosition(volRec, f, f.offset, true)
		if err != nil {
			return n, err
		}
		take := avail
		if remaining := want - n; remaining < take {
			take = remaining
		}

		var blk *block.Block
		if off == 0 && take == block.Size {
			blk, err = m.cache.BlankMut(idx)
		} else {
			blk, err = m.cache.Mut(idx, "file-write")
		}
		if err != nil {
			return n, err
		}
		copy(blk[off:off+take], buf[n:n+take])
		if err := m.cache.WriteBack(); err != nil {
			return n, err
		}

		n += take
		f.offset += uint32(take)
		if f.offset > f.entry.FileSize {
			f.entry.FileSize = f.offset
		}
	}

	f.entry.Attr |= fat.AttrArchive
	f.entry.Modified = m.clock.Now()
	return n, nil
}

// Seek repositions the file's cursor. whence follows io.Seeker's
// conventions (io.SeekStart/SeekCurrent/SeekEnd). The resulting offset
// must land within [0, file size]; anything else is InvalidOffset.
func (m *VolumeManager) Seek(rf RawFile, offset int64, whence int) (int64, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()

	f, _, err := m.findFile(rf.h)
	if err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(f.offset)
	case io.SeekEnd:
		base = int64(f.entry.FileSize)
	default:
		return 0, ferrors.ErrInvalidOffset
	}

	newOffset := base + offset
	if newOffset < 0 || newOffset > int64(f.entry.FileSize) {
		return 0, ferrors.ErrInvalidOffset
	}
	f.offset = uint32(newOffset)
	return newOffset, nil
}

// FileLength returns the file's current size in bytes, including any
// unflushed growth from writes.
func (m *VolumeManager) FileLength(rf RawFile) (uint32, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()

	f, _, err := m.findFile(rf.h)
	if err != nil {
		return 0, err
	}
	return f.entry.FileSize, nil
}

// FileOffset returns the file's current cursor position.
func (m *VolumeManager) FileOffset(rf RawFile) (uint32, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()

	f, _, err := m.findFile(rf.h)
	if err != nil {
		return 0, err
	}
	return f.offset, nil
}

// FlushFile rewrites the directory entry (and, for FAT32, the FSInfo
// sector if its hints changed) for a dirty file. A clean file's FlushFile
// is a no-op.
func (m *VolumeManager) FlushFile(rf RawFile) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()
	return m.flushFileLocked(rf.h)
}

func (m *VolumeManager) flushFileLocked(h Handle) error {
	f, _, err := m.findFile(h)
	if err != nil {
		return err
	}
	if !f.dirty {
		return nil
	}
	volRec, _, err := m.findVolume(f.volumeHandle)
	if err != nil {
		return err
	}

	var merr *multierror.Error
	if volRec.vol.Type == fat.FatType32 &&
		(volRec.vol.FreeClusterCount != volRec.lastFreeClusters || volRec.vol.NextFreeCluster != volRec.lastNextFreeCluster) {
		if err := fat.WriteFSInfo(m.device, volRec.vol); err != nil {
			merr = multierror.Append(merr, err)
		} else {
			volRec.lastFreeClusters = volRec.vol.FreeClusterCount
			volRec.lastNextFreeCluster = volRec.vol.NextFreeCluster
		}
	}

	dir := fat.NewDirectory(volRec.vol, m.cache, volRec.table, fat.DirRegion{})
	if err := dir.UpdateEntry(f.entry); err != nil {
		merr = multierror.Append(merr, err)
	} else {
		f.dirty = false
	}

	if merr != nil {
		return merr.ErrorOrNil()
	}
	m.logger.Debug("fatfs: file flushed")
	return nil
}

// CloseFile flushes a dirty file, then removes its table slot regardless
// of whether the flush succeeded (propagate-and-still-remove policy); a
// flush error, if any, is returned to the caller.
func (m *VolumeManager) CloseFile(rf RawFile) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	_, slot, err := m.findFile(rf.h)
	if err != nil {
		return err
	}
	flushErr := m.flushFileLocked(rf.h)
	m.freeFileSlot(slot)
	m.logger.Debug("fatfs: file closed")
	return flushErr
}

// Close tears the manager down: flushes and closes every open file, closes
// every open directory, then closes every open volume, aggregating any
// errors encountered along the way via go-multierror.
func (m *VolumeManager) Close() error {
	var merr *multierror.Error

	for i := range m.files {
		if m.filesSet[i] {
			h := m.files[i].handle
			if err := m.CloseFile(RawFile{h: h}); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
	}
	for i := range m.dirs {
		if m.dirsSet[i] {
			h := m.dirs[i].handle
			if err := m.CloseDir(RawDirectory{h: h}); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
	}
	for i := range m.volumes {
		if m.volumesSet[i] {
			h := m.volumes[i].handle
			if err := m.CloseVolume(RawVolume{h: h}); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
	}
	if err := m.cache.WriteBack(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
