package fatfs

import (
	"github.com/embeddedgo/fatfs/fat"
)

// volumeRecord is the per-open-volume record backing a RawVolume handle.
type volumeRecord struct {
	handle Handle
	index  int // MBR partition index this volume was opened from

	vol   *fat.FatVolume
	table *fat.Table

	// Baseline free/next-free hints as of open (or last flush), used to
	// decide whether FSInfo needs rewriting on flush.
	lastFreeClusters    uint32
	lastNextFreeCluster uint32
}

// directoryInfo is the per-open-directory record backing a RawDirectory
// handle. Directories cache no mutable state, so closing one never touches
// the disk.
type directoryInfo struct {
	handle       Handle
	volumeHandle Handle
	region       fat.DirRegion
}

// fileInfo is the per-open-file record backing a RawFile handle.
type fileInfo struct {
	handle       Handle
	volumeHandle Handle

	mode  Mode
	entry fat.DirEntry

	offset uint32
	dirty  bool

	// Cluster short-cut: boundaryBytes is the file offset at which cluster
	// begins. resolvePosition rewinds to the start only when the requested
	// offset is earlier than boundaryBytes.
	cluster       fat.ClusterID
	boundaryBytes uint32
}

// maxFileSize is the largest size the 32-bit on-disk FileSize field can
// represent.
const maxFileSize = 0xFFFFFFFF

// sameDirEntry reports whether two cached directory entries refer to the
// same on-disk slot, the identity FileAlreadyOpen / double-open checks key
// on.
func sameDirEntry(a, b fat.DirEntryLocation) bool {
	return a.Block == b.Block && a.Offset == b.Offset
}
