// Package block defines the fixed-size block abstraction every layer above
// it is built on: the 512-byte Block, block-indexed addressing, and the
// BlockDevice capability that the FAT engine and the SD/SPI driver both
// implement or consume.
package block

import "fmt"

// Size is the only block size this driver understands. Any BPB that claims
// a different sector size is rejected by the caller as BadBlockSize.
const Size = 512

// Block is a single fixed-size unit of storage I/O.
type Block [Size]byte

// Idx is an absolute block address on a device.
type Idx uint32

// Count is a number of blocks.
type Count uint32

// Add returns idx+n, saturating at the maximum representable Idx instead of
// wrapping around.
func (idx Idx) Add(n Count) Idx {
	sum := uint64(idx) + uint64(n)
	if sum > uint64(^Idx(0)) {
		return ^Idx(0)
	}
	return Idx(sum)
}

// BytesToBlocks converts a byte length into the number of blocks needed to
// hold it, rounding up.
func BytesToBlocks(numBytes uint32) Count {
	return Count((numBytes + Size - 1) / Size)
}

// Device is the capability contract every block-addressable storage backend
// must provide. Implementations are not required to be safe for concurrent
// use; the filesystem layer above serialises all access through the volume
// manager's single-owner lock.
type Device interface {
	// Read fills dst with the contents of len(dst) consecutive blocks
	// starting at start. reason is an opaque diagnostic tag that
	// implementations may ignore.
	Read(dst []Block, start Idx, reason string) error

	// Write writes src to len(src) consecutive blocks starting at start.
	Write(src []Block, start Idx) error

	// NumBlocks reports the total number of addressable blocks on the
	// device.
	NumBlocks() (Count, error)
}

// OutOfRangeError reports an access that falls outside the device's block
// count.
type OutOfRangeError struct {
	Start Idx
	Count Count
	Total Count
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf(
		"block range [%d, %d) is out of bounds for device with %d blocks",
		e.Start, uint64(e.Start)+uint64(e.Count), e.Total)
}
