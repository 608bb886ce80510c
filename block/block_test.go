package block_test

import (
	"testing"

	"github.com/embeddedgo/fatfs/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesToBlocks(t *testing.T) {
	assert.Equal(t, block.Count(0), block.BytesToBlocks(0))
	assert.Equal(t, block.Count(1), block.BytesToBlocks(1))
	assert.Equal(t, block.Count(1), block.BytesToBlocks(block.Size))
	assert.Equal(t, block.Count(2), block.BytesToBlocks(block.Size+1))
}

func TestIdxAddSaturates(t *testing.T) {
	max := block.Idx(^uint32(0))
	assert.Equal(t, max, max.Add(1))
	assert.Equal(t, block.Idx(5), block.Idx(2).Add(3))
}

func TestMemoryDeviceReadWrite(t *testing.T) {
	dev := block.NewBlankMemoryDevice(4)

	var buf block.Block
	for i := range buf {
		buf[i] = 0xAB
	}
	require.NoError(t, dev.Write([]block.Block{buf}, 2))

	got := make([]block.Block, 4)
	require.NoError(t, dev.Read(got, 0, "test"))
	assert.NotEqual(t, buf, got[0])
	assert.Equal(t, buf, got[2])

	n, err := dev.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, block.Count(4), n)
}

func TestMemoryDeviceOutOfRange(t *testing.T) {
	dev := block.NewBlankMemoryDevice(2)
	err := dev.Read(make([]block.Block, 1), 5, "test")
	require.Error(t, err)
	var rangeErr *block.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
}

func TestCacheReadHitsAndWriteBack(t *testing.T) {
	dev := block.NewBlankMemoryDevice(4)
	cache := block.NewCache(dev)

	blk, err := cache.Mut(1, "test")
	require.NoError(t, err)
	blk[0] = 0x42

	// Not yet flushed to the device.
	raw := make([]block.Block, 1)
	require.NoError(t, dev.Read(raw, 1, "verify"))
	assert.Equal(t, byte(0), raw[0][0])

	require.NoError(t, cache.WriteBack())
	require.NoError(t, dev.Read(raw, 1, "verify"))
	assert.Equal(t, byte(0x42), raw[0][0])
}

func TestCacheBlankMutDoesNotTouchDevice(t *testing.T) {
	dev := block.NewBlankMemoryDevice(2)
	seeded := block.Block{}
	seeded[0] = 0x7

	require.NoError(t, dev.Write([]block.Block{seeded}, 0))

	cache := block.NewCache(dev)
	blk, err := cache.BlankMut(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), blk[0], "BlankMut must not read the old contents")
}

func TestCacheEvictionWritesBackDirty(t *testing.T) {
	dev := block.NewBlankMemoryDevice(2)
	cache := block.NewCache(dev)

	blk, err := cache.Mut(0, "test")
	require.NoError(t, err)
	blk[0] = 0x11

	_, err = cache.Read(1, "test")
	require.NoError(t, err)

	raw := make([]block.Block, 1)
	require.NoError(t, dev.Read(raw, 0, "verify"))
	assert.Equal(t, byte(0x11), raw[0][0], "switching slots must flush the dirty block first")
}
