package fat

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/embeddedgo/fatfs/block"
	"github.com/embeddedgo/fatfs/ferrors"
)

// FatType distinguishes the two on-disk layouts this driver supports. FAT12
// is explicitly out of scope and rejected by ParseBPB.
type FatType int

const (
	FatType16 FatType = iota
	FatType32
)

func (t FatType) String() string {
	if t == FatType32 {
		return "FAT32"
	}
	return "FAT16"
}

// fat12ClusterCeiling / fat16ClusterCeiling are the cluster-count thresholds
// Microsoft's FAT documentation (v1.03, p.14) defines for classification.
const (
	fat12ClusterCeiling = 4085
	fat16ClusterCeiling = 65525
)

const bootSignatureOffset = 510
const bootSignature = 0xAA55

// FSInfo mirrors the FAT32-only info sector: free cluster count and
// next-free-cluster hint, each possibly "unknown" (0xFFFFFFFF).
type FSInfo struct {
	BlockIdx        block.Idx
	FreeClusters    uint32 // 0xFFFFFFFF means unknown
	NextFreeCluster uint32 // 0xFFFFFFFF means unknown
}

const (
	fsiLeadSig      = 0x41615252
	fsiStructSig    = 0x61417272
	fsiTrailSig     = 0xAA550000
	fsiFreeCountOff = 488
	fsiNextFreeOff  = 492
)

// FatVolume is the parsed, in-memory description of an open FAT volume: its
// location on the underlying block device plus everything the cluster/
// directory layer needs to translate between cluster ids and block
// addresses.
type FatVolume struct {
	Type FatType

	PartitionStart block.Idx
	PartitionLen   block.Count

	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16

	BlocksPerCluster block.Count
	FATStartBlock    block.Idx // relative to PartitionStart
	SectorsPerFAT    uint32
	FirstDataBlock   block.Idx // relative to PartitionStart
	ClusterCount     uint32

	// FAT16-only.
	FirstRootDirBlock block.Idx // relative to PartitionStart
	RootDirBlocks     block.Count

	// FAT32-only.
	FirstRootDirCluster ClusterID
	Info                FSInfo

	VolumeLabel string

	// Mutable allocation hints, invalidated (lowered) on every truncate.
	FreeClusterCount uint32 // 0xFFFFFFFF == unknown
	NextFreeCluster  uint32
}

// ParseBPB reads the boot sector of the partition starting at
// partitionStart (a device-relative block index) and parses the BPB, and
// for FAT32 the FSInfo sector. It classifies the volume as FAT16 or FAT32
// by cluster count; FAT12-range cluster counts are rejected.
func ParseBPB(dev block.Device, partitionStart block.Idx, partitionLen block.Count) (*FatVolume, error) {
	var buf [1]block.Block
	if err := dev.Read(buf[:], partitionStart, "bpb"); err != nil {
		return nil, ferrors.ErrFormatError.WrapError(err)
	}
	b := buf[0][:]

	if binary.LittleEndian.Uint16(b[bootSignatureOffset:bootSignatureOffset+2]) != bootSignature {
		return nil, ferrors.ErrFormatError.WithMessage("missing 0xAA55 boot sector signature")
	}

	bytesPerSector := binary.LittleEndian.Uint16(b[11:13])
	if bytesPerSector != block.Size {
		return nil, ferrors.ErrBadBlockSize.WithMessage(
			fmt.Sprintf("BPB declares %d bytes/sector, only %d is supported", bytesPerSector, block.Size))
	}

	sectorsPerCluster := b[13]
	if err := validateSectorsPerCluster(sectorsPerCluster); err != nil {
		return nil, err
	}

	reservedSectors := binary.LittleEndian.Uint16(b[14:16])
	numFATs := b[16]
	rootEntryCount := binary.LittleEndian.Uint16(b[17:19])

	totalSectors16 := binary.LittleEndian.Uint16(b[19:21])
	sectorsPerFAT16 := binary.LittleEndian.Uint16(b[22:24])
	totalSectors32 := binary.LittleEndian.Uint32(b[32:36])
	sectorsPerFAT32 := binary.LittleEndian.Uint32(b[36:40])

	var totalSectors uint32
	if totalSectors16 != 0 {
		totalSectors = uint32(totalSectors16)
	} else {
		totalSectors = totalSectors32
	}

	var sectorsPerFAT uint32
	if sectorsPerFAT16 != 0 {
		sectorsPerFAT = uint32(sectorsPerFAT16)
	} else {
		sectorsPerFAT = sectorsPerFAT32
	}

	rootDirSectors := (uint32(rootEntryCount)*32 + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
	totalFATSectors := uint32(numFATs) * sectorsPerFAT
	dataSectors := totalSectors - (uint32(reservedSectors) + totalFATSectors + rootDirSectors)
	clusterCount := dataSectors / uint32(sectorsPerCluster)

	if clusterCount < fat12ClusterCeiling {
		return nil, ferrors.ErrFormatError.WithMessage("FAT12 is unsupported")
	}

	vol := &FatVolume{
		PartitionStart:    partitionStart,
		PartitionLen:      partitionLen,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		RootEntryCount:    rootEntryCount,
		BlocksPerCluster:  block.Count(sectorsPerCluster),
		FATStartBlock:     block.Idx(reservedSectors),
		SectorsPerFAT:     sectorsPerFAT,
		ClusterCount:      clusterCount,
		FreeClusterCount:  0xFFFFFFFF,
		NextFreeCluster:   uint32(FirstUsableCluster),
	}

	if clusterCount < fat16ClusterCeiling {
		vol.Type = FatType16
		vol.FirstRootDirBlock = block.Idx(uint32(reservedSectors) + totalFATSectors)
		vol.RootDirBlocks = block.Count(rootDirSectors)
		vol.FirstDataBlock = vol.FirstRootDirBlock.Add(vol.RootDirBlocks)
		vol.VolumeLabel = decodeVolumeLabel(b[43:54])
		return vol, nil
	}

	vol.Type = FatType32
	if rootDirSectors != 0 {
		return nil, ferrors.ErrFormatError.WithMessage("FAT32 volume has a nonzero fixed root directory region")
	}
	fsVersion := binary.LittleEndian.Uint16(b[42:44])
	if fsVersion != 0 {
		return nil, ferrors.ErrFormatError.WithMessage("unsupported FAT32 filesystem version")
	}
	vol.FirstDataBlock = block.Idx(uint32(reservedSectors) + totalFATSectors)
	vol.FirstRootDirCluster = ClusterID(binary.LittleEndian.Uint32(b[44:48]))
	vol.VolumeLabel = decodeVolumeLabel(b[71:82])

	fsInfoSector := binary.LittleEndian.Uint16(b[48:50])
	info, err := readFSInfo(dev, partitionStart.Add(block.Count(fsInfoSector)))
	if err != nil {
		return nil, err
	}
	vol.Info = info
	if info.FreeClusters != 0xFFFFFFFF {
		vol.FreeClusterCount = info.FreeClusters
	}
	if info.NextFreeCluster != 0xFFFFFFFF {
		vol.NextFreeCluster = info.NextFreeCluster
	}

	return vol, nil
}

func validateSectorsPerCluster(n uint8) error {
	switch n {
	case 1, 2, 4, 8, 16, 32, 64, 128:
		return nil
	default:
		return ferrors.ErrFormatError.WithMessage(
			fmt.Sprintf("SectorsPerCluster must be a power of 2 in [1,128], got %d", n))
	}
}

func decodeVolumeLabel(raw []byte) string {
	return strings.TrimRight(string(raw), " ")
}

func readFSInfo(dev block.Device, idx block.Idx) (FSInfo, error) {
	var buf [1]block.Block
	if err := dev.Read(buf[:], idx, "fsinfo"); err != nil {
		return FSInfo{}, ferrors.ErrFormatError.WrapError(err)
	}
	b := buf[0][:]

	if binary.LittleEndian.Uint32(b[0:4]) != fsiLeadSig ||
		binary.LittleEndian.Uint32(b[484:488]) != fsiStructSig ||
		binary.LittleEndian.Uint32(b[508:512]) != fsiTrailSig {
		return FSInfo{}, ferrors.ErrFormatError.WithMessage("FSInfo sector signatures do not match")
	}

	return FSInfo{
		BlockIdx:        idx,
		FreeClusters:    binary.LittleEndian.Uint32(b[fsiFreeCountOff : fsiFreeCountOff+4]),
		NextFreeCluster: binary.LittleEndian.Uint32(b[fsiNextFreeOff : fsiNextFreeOff+4]),
	}, nil
}

// WriteFSInfo rewrites the free-count/next-free fields of the FSInfo sector.
// Only meaningful for FAT32 volumes.
func WriteFSInfo(dev block.Device, vol *FatVolume) error {
	if vol.Type != FatType32 {
		return nil
	}
	var buf [1]block.Block
	if err := dev.Read(buf[:], vol.Info.BlockIdx, "fsinfo"); err != nil {
		return ferrors.ErrFormatError.WrapError(err)
	}
	b := buf[0][:]
	binary.LittleEndian.PutUint32(b[fsiFreeCountOff:fsiFreeCountOff+4], vol.FreeClusterCount)
	binary.LittleEndian.PutUint32(b[fsiNextFreeOff:fsiNextFreeOff+4], vol.NextFreeCluster)
	return dev.Write(buf[:], vol.Info.BlockIdx)
}

// RootDirBlockRange returns the fixed block range of the FAT16 root
// directory, relative to PartitionStart. Only valid for FAT16 volumes.
func (v *FatVolume) RootDirBlockRange() (start block.Idx, count block.Count) {
	return v.FirstRootDirBlock, v.RootDirBlocks
}

// ClusterToBlock converts a cluster id into the device-absolute index of
// its first block.
func (v *FatVolume) ClusterToBlock(id ClusterID) block.Idx {
	off := clusterToBlockOffset(id, uint32(v.BlocksPerCluster))
	return v.PartitionStart.Add(block.Count(v.FirstDataBlock)).Add(block.Count(off))
}

// AbsoluteBlock translates a partition-relative block index into a
// device-absolute one.
func (v *FatVolume) AbsoluteBlock(relative block.Idx) block.Idx {
	return v.PartitionStart.Add(block.Count(relative))
}
