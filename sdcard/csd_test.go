package sdcard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCsdV1CapacityBlocks(t *testing.T) {
	var c csdV1
	c.data[5] = 0x09 // READ_BL_LEN = 9 -> 512-byte blocks
	// C_SIZE = 0, C_SIZE_MULT = 0 -> capacity = 1 * 4 * 512 = 2048 bytes = 4 blocks
	require.Equal(t, uint32(4), c.capacityBlocks())
}

func TestCsdV2CapacityBlocks(t *testing.T) {
	var c csdV2
	// C_SIZE = 0 -> capacity = (0+1) * 1024 blocks
	require.Equal(t, uint32(1024), c.capacityBlocks())

	c.data[9] = 0x01 // C_SIZE = 1 -> 2048 blocks
	require.Equal(t, uint32(2048), c.capacityBlocks())
}

func TestEraseSingleBlockEnabled(t *testing.T) {
	var c csdV1
	require.False(t, c.eraseSingleBlockEnabled())
	c.data[10] = 0x40
	require.True(t, c.eraseSingleBlockEnabled())
}
