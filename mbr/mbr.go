// Package mbr decodes the Master Boot Record partition table that precedes
// a FAT volume on a raw block device. Only primary partitions are
// understood; extended/logical partitions and GPT are out of scope.
package mbr

import (
	"encoding/binary"

	"github.com/embeddedgo/fatfs/block"
	"github.com/embeddedgo/fatfs/ferrors"
)

const (
	partitionTableOffset = 446
	partitionEntrySize   = 16
	bootSignatureOffset  = 510
	bootSignature        = 0xAA55
	maxPrimaryPartitions = 4
)

// PartitionType is the single-byte type code of a primary partition.
type PartitionType byte

// Partition types this driver recognises as FAT. The volume manager rejects
// any other nonzero type with ErrFormatError; a type byte of 0 marks an empty
// slot, which ReadPartition reports as ErrNoSuchVolume.
const (
	PartitionTypeFAT16    PartitionType = 0x04
	PartitionTypeFAT16B   PartitionType = 0x06
	PartitionTypeFAT32CHS PartitionType = 0x0B
	PartitionTypeFAT32LBA PartitionType = 0x0C
	PartitionTypeFAT16LBA PartitionType = 0x0E
)

// AcceptedPartitionTypes is the set of partition type bytes this driver will
// hand off to the FAT parser.
var AcceptedPartitionTypes = map[PartitionType]bool{
	PartitionTypeFAT16:    true,
	PartitionTypeFAT16B:   true,
	PartitionTypeFAT32CHS: true,
	PartitionTypeFAT32LBA: true,
	PartitionTypeFAT16LBA: true,
}

// Partition describes one decoded primary partition table entry.
type Partition struct {
	Status    byte
	Type      PartitionType
	StartLBA  block.Idx
	NumBlocks block.Count
}

// Bootable reports whether the partition's status byte marks it bootable
// (0x80). A status byte other than 0x00/0x80 is a format error, checked by
// ReadPartition before this is meaningful.
func (p Partition) Bootable() bool { return p.Status == 0x80 }

// ReadPartition reads block 0 of dev and decodes the primary partition table
// entry at index idx (0..3). It validates the 0xAA55 boot signature and the
// entry's status byte, but does not check the partition type against
// AcceptedPartitionTypes -- callers that only care about FAT volumes should
// do that themselves so they can report FormatError with full context.
func ReadPartition(dev block.Device, idx int) (Partition, error) {
	if idx < 0 || idx >= maxPrimaryPartitions {
		return Partition{}, ferrors.ErrNoSuchVolume.WithMessage("partition index out of range [0,4)")
	}

	var buf [1]block.Block
	if err := dev.Read(buf[:], 0, "mbr"); err != nil {
		return Partition{}, ferrors.ErrFormatError.WrapError(err)
	}
	sector := buf[0][:]

	if binary.LittleEndian.Uint16(sector[bootSignatureOffset:bootSignatureOffset+2]) != bootSignature {
		return Partition{}, ferrors.ErrFormatError.WithMessage("missing 0xAA55 boot signature")
	}

	off := partitionTableOffset + idx*partitionEntrySize
	entry := sector[off : off+partitionEntrySize]

	status := entry[0]
	if status != 0x00 && status != 0x80 {
		return Partition{}, ferrors.ErrFormatError.WithMessage("partition status byte is neither 0x00 nor 0x80")
	}
	if entry[4] == 0 || binary.LittleEndian.Uint32(entry[12:16]) == 0 {
		return Partition{}, ferrors.ErrNoSuchVolume.WithMessage("partition table slot is empty")
	}

	return Partition{
		Status:    status,
		Type:      PartitionType(entry[4]),
		StartLBA:  block.Idx(binary.LittleEndian.Uint32(entry[8:12])),
		NumBlocks: block.Count(binary.LittleEndian.Uint32(entry[12:16])),
	}, nil
}
