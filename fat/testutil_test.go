package fat

import (
	"encoding/binary"

	"github.com/embeddedgo/fatfs/block"
)

// fat16Image describes a synthetic, minimally-valid FAT16 volume built
// directly into a MemoryDevice, for tests that need real BPB/FAT/root-dir
// bytes rather than a hand-built FatVolume struct.
type fat16Image struct {
	dev   *block.MemoryDevice
	vol   *FatVolume
	cache *block.Cache
}

// buildFAT16Image lays out a single-FAT, 1-sector-per-cluster FAT16 volume
// with clusterCount usable clusters and a 16-entry (1-sector) root
// directory, starting at partition (device) offset 0.
func buildFAT16Image(clusterCount uint32) *fat16Image {
	const reservedSectors = 1
	const numFATs = 1
	const rootEntries = 16
	rootDirSectors := uint32(rootEntries*32) / block.Size

	sectorsPerFAT := (clusterCount*2 + block.Size - 1) / block.Size
	totalSectors := reservedSectors + numFATs*sectorsPerFAT + rootDirSectors + clusterCount

	dev := block.NewBlankMemoryDevice(block.Count(totalSectors))

	var boot block.Block
	binary.LittleEndian.PutUint16(boot[11:13], block.Size)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint16(boot[17:19], rootEntries)
	if totalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(boot[19:21], uint16(totalSectors))
	} else {
		binary.LittleEndian.PutUint32(boot[32:36], totalSectors)
	}
	binary.LittleEndian.PutUint16(boot[22:24], uint16(sectorsPerFAT))
	copy(boot[43:54], "NO NAME    ")
	binary.LittleEndian.PutUint16(boot[510:512], bootSignature)
	_ = dev.Write([]block.Block{boot}, 0)

	vol := &FatVolume{
		Type:              FatType16,
		PartitionStart:    0,
		PartitionLen:      block.Count(totalSectors),
		BytesPerSector:    block.Size,
		SectorsPerCluster: 1,
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		RootEntryCount:    rootEntries,
		BlocksPerCluster:  1,
		FATStartBlock:     block.Idx(reservedSectors),
		SectorsPerFAT:     sectorsPerFAT,
		ClusterCount:      clusterCount,
		FirstRootDirBlock: block.Idx(reservedSectors + numFATs*sectorsPerFAT),
		RootDirBlocks:     block.Count(rootDirSectors),
		VolumeLabel:       "NO NAME",
		FreeClusterCount:  0xFFFFFFFF,
		NextFreeCluster:   uint32(FirstUsableCluster),
	}
	vol.FirstDataBlock = vol.FirstRootDirBlock.Add(vol.RootDirBlocks)

	cache := block.NewCache(dev)
	return &fat16Image{dev: dev, vol: vol, cache: cache}
}

// minFAT32Clusters is the smallest cluster count classified as FAT32.
const minFAT32Clusters = 65525

// buildFAT32Image lays out a single-FAT, 1-sector-per-cluster FAT32 volume
// with clusterCount usable clusters, the root directory on cluster 2, and a
// valid FSInfo sector at partition block 1.
func buildFAT32Image(clusterCount uint32) *fat16Image {
	const reservedSectors = 32
	const numFATs = 1

	sectorsPerFAT := (clusterCount*4 + block.Size - 1) / block.Size
	totalSectors := reservedSectors + numFATs*sectorsPerFAT + clusterCount

	dev := block.NewBlankMemoryDevice(block.Count(totalSectors))

	var boot block.Block
	binary.LittleEndian.PutUint16(boot[11:13], block.Size)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint32(boot[32:36], totalSectors)
	binary.LittleEndian.PutUint32(boot[36:40], sectorsPerFAT)
	binary.LittleEndian.PutUint16(boot[42:44], 0) // fs version
	binary.LittleEndian.PutUint32(boot[44:48], 2) // root dir cluster
	binary.LittleEndian.PutUint16(boot[48:50], 1) // FSInfo sector
	copy(boot[71:82], "NO NAME    ")
	binary.LittleEndian.PutUint16(boot[510:512], bootSignature)
	_ = dev.Write([]block.Block{boot}, 0)

	var info block.Block
	binary.LittleEndian.PutUint32(info[0:4], fsiLeadSig)
	binary.LittleEndian.PutUint32(info[484:488], fsiStructSig)
	binary.LittleEndian.PutUint32(info[fsiFreeCountOff:fsiFreeCountOff+4], clusterCount-1)
	binary.LittleEndian.PutUint32(info[fsiNextFreeOff:fsiNextFreeOff+4], 3)
	binary.LittleEndian.PutUint32(info[508:512], fsiTrailSig)
	_ = dev.Write([]block.Block{info}, 1)

	// Terminate the root directory's single-cluster chain.
	var fatBlock block.Block
	binary.LittleEndian.PutUint32(fatBlock[2*4:2*4+4], 0x0FFFFFFF)
	_ = dev.Write([]block.Block{fatBlock}, reservedSectors)

	vol := &FatVolume{
		Type:                FatType32,
		PartitionStart:      0,
		PartitionLen:        block.Count(totalSectors),
		BytesPerSector:      block.Size,
		SectorsPerCluster:   1,
		ReservedSectors:     reservedSectors,
		NumFATs:             numFATs,
		BlocksPerCluster:    1,
		FATStartBlock:       block.Idx(reservedSectors),
		SectorsPerFAT:       sectorsPerFAT,
		ClusterCount:        clusterCount,
		FirstDataBlock:      block.Idx(reservedSectors + numFATs*sectorsPerFAT),
		FirstRootDirCluster: 2,
		Info:                FSInfo{BlockIdx: 1, FreeClusters: clusterCount - 1, NextFreeCluster: 3},
		VolumeLabel:         "NO NAME",
		FreeClusterCount:    clusterCount - 1,
		NextFreeCluster:     3,
	}

	cache := block.NewCache(dev)
	return &fat16Image{dev: dev, vol: vol, cache: cache}
}
