package fatfs

import (
	"encoding/binary"

	"github.com/embeddedgo/fatfs/block"
)

// minFAT16Clusters is the smallest cluster count ParseBPB classifies as
// FAT16 rather than rejecting as the unsupported FAT12 range.
const minFAT16Clusters = 4085

// buildFAT16Disk lays out a one-partition MBR followed by a single-FAT,
// 1-sector-per-cluster FAT16 volume with clusterCount usable clusters and a
// 16-entry root directory, mirroring fat.buildFAT16Image but with a real MBR
// in block 0 so VolumeManager.OpenVolume has something to parse. clusterCount
// must be >= minFAT16Clusters or ParseBPB rejects it as FAT12.
func buildFAT16Disk(clusterCount uint32) *block.MemoryDevice {
	const reservedSectors = 1
	const numFATs = 1
	const rootEntries = 16
	const partitionStart = 1
	rootDirSectors := uint32(rootEntries*32) / block.Size

	sectorsPerFAT := (clusterCount*2 + block.Size - 1) / block.Size
	volumeSectors := reservedSectors + numFATs*sectorsPerFAT + rootDirSectors + clusterCount
	totalSectors := partitionStart + volumeSectors

	dev := block.NewBlankMemoryDevice(block.Count(totalSectors))

	var mbrSector block.Block
	const entryOff = 446
	mbrSector[entryOff] = 0x00                                       // status
	mbrSector[entryOff+4] = 0x06                                     // FAT16B
	binary.LittleEndian.PutUint32(mbrSector[entryOff+8:entryOff+12], partitionStart)
	binary.LittleEndian.PutUint32(mbrSector[entryOff+12:entryOff+16], volumeSectors)
	binary.LittleEndian.PutUint16(mbrSector[510:512], 0xAA55)
	_ = dev.Write([]block.Block{mbrSector}, 0)

	var boot block.Block
	binary.LittleEndian.PutUint16(boot[11:13], block.Size)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = numFATs
	binary.LittleEndian.PutUint16(boot[17:19], rootEntries)
	binary.LittleEndian.PutUint16(boot[19:21], uint16(volumeSectors))
	binary.LittleEndian.PutUint16(boot[22:24], uint16(sectorsPerFAT))
	copy(boot[43:54], "NO NAME    ")
	binary.LittleEndian.PutUint16(boot[510:512], 0xAA55)
	_ = dev.Write([]block.Block{boot}, block.Idx(partitionStart))

	return dev
}

// testManager wraps a fresh buildFAT16Disk in a VolumeManager configured by
// cfg, so capacity-limit tests can pass small table capacities.
func testManager(cfg Config) *VolumeManager {
	dev := buildFAT16Disk(minFAT16Clusters)
	return NewVolumeManager(dev, EpochClock, cfg, 1)
}
