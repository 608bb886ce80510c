package fat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/fatfs/block"
)

func TestParseBPBClassifiesFAT16(t *testing.T) {
	img := buildFAT16Image(4087)
	vol, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.NoError(t, err)
	require.Equal(t, FatType16, vol.Type)
	require.EqualValues(t, 4087, vol.ClusterCount)
	require.Equal(t, "NO NAME", vol.VolumeLabel)
}

func TestParseBPBRejectsMissingSignature(t *testing.T) {
	img := buildFAT16Image(4087)
	buf := make([]block.Block, 1)
	require.NoError(t, img.dev.Read(buf, 0, "test"))
	binary.LittleEndian.PutUint16(buf[0][510:512], 0x0000)
	require.NoError(t, img.dev.Write(buf, 0))

	_, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.Error(t, err)
}

func TestParseBPBRejectsFAT12ClusterCount(t *testing.T) {
	img := buildFAT16Image(100) // well under the FAT12 ceiling
	_, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.Error(t, err)
}

// The classification thresholds are exact: 4084 clusters is FAT12 (rejected),
// 4085 and 65524 are FAT16, 65525 is FAT32.
func TestParseBPBClassificationBoundaries(t *testing.T) {
	img := buildFAT16Image(4084)
	_, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.Error(t, err)

	img = buildFAT16Image(4085)
	vol, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.NoError(t, err)
	require.Equal(t, FatType16, vol.Type)

	img = buildFAT16Image(65524)
	vol, err = ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.NoError(t, err)
	require.Equal(t, FatType16, vol.Type)

	img32 := buildFAT32Image(minFAT32Clusters)
	vol, err = ParseBPB(img32.dev, 0, img32.vol.PartitionLen)
	require.NoError(t, err)
	require.Equal(t, FatType32, vol.Type)
}

func TestParseBPBReadsFSInfoHints(t *testing.T) {
	img := buildFAT32Image(minFAT32Clusters)
	vol, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.NoError(t, err)
	require.Equal(t, ClusterID(2), vol.FirstRootDirCluster)
	require.Equal(t, block.Idx(1), vol.Info.BlockIdx)
	require.EqualValues(t, minFAT32Clusters-1, vol.FreeClusterCount)
	require.EqualValues(t, 3, vol.NextFreeCluster)
}

func TestWriteFSInfoRoundTrips(t *testing.T) {
	img := buildFAT32Image(minFAT32Clusters)
	img.vol.FreeClusterCount = 777
	img.vol.NextFreeCluster = 42
	require.NoError(t, WriteFSInfo(img.dev, img.vol))

	info, err := readFSInfo(img.dev, img.vol.Info.BlockIdx)
	require.NoError(t, err)
	require.EqualValues(t, 777, info.FreeClusters)
	require.EqualValues(t, 42, info.NextFreeCluster)
}

func TestParseBPBRejectsBadSectorSize(t *testing.T) {
	img := buildFAT16Image(4087)
	buf := make([]block.Block, 1)
	require.NoError(t, img.dev.Read(buf, 0, "test"))
	binary.LittleEndian.PutUint16(buf[0][11:13], 1024)
	require.NoError(t, img.dev.Write(buf, 0))

	_, err := ParseBPB(img.dev, 0, img.vol.PartitionLen)
	require.Error(t, err)
}
