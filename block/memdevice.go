package block

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/xaionaro-go/bytesextra"
)

// MemoryDevice is a reference BlockDevice backed entirely by an in-memory
// byte slice. It exists for two reasons: tests across this module need a
// hermetic, deterministic device to build synthetic disk images against,
// and a caller that has already read an entire disk image into RAM (e.g.
// for a desktop-side test harness) needs a trivial way to mount it without
// writing its own Device implementation.
type MemoryDevice struct {
	rws    io.ReadWriteSeeker
	blocks Count
	logger *slog.Logger
}

// NewMemoryDevice wraps buf, whose length must be an exact multiple of
// Size, as a Device. buf is used directly, not copied; writes to the
// returned device mutate it in place.
func NewMemoryDevice(buf []byte) (*MemoryDevice, error) {
	if len(buf)%Size != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of block size %d", len(buf), Size)
	}
	return &MemoryDevice{
		rws:    bytesextra.NewReadWriteSeeker(buf),
		blocks: Count(len(buf) / Size),
	}, nil
}

// NewBlankMemoryDevice allocates a new zero-filled buffer of numBlocks
// blocks and wraps it as a Device.
func NewBlankMemoryDevice(numBlocks Count) *MemoryDevice {
	dev, err := NewMemoryDevice(make([]byte, int(numBlocks)*Size))
	if err != nil {
		// Unreachable: the buffer we just allocated is always block-aligned.
		panic(err)
	}
	return dev
}

// SetLogger attaches a logger used to trace reads/writes at debug level.
// A nil logger (the default) disables tracing.
func (m *MemoryDevice) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

func (m *MemoryDevice) Read(dst []Block, start Idx, reason string) error {
	if err := m.checkRange(start, Count(len(dst))); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Debug("block read", "start", start, "count", len(dst), "reason", reason)
	}
	if _, err := m.rws.Seek(int64(start)*Size, io.SeekStart); err != nil {
		return err
	}
	for i := range dst {
		if _, err := io.ReadFull(m.rws, dst[i][:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDevice) Write(src []Block, start Idx) error {
	if err := m.checkRange(start, Count(len(src))); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Debug("block write", "start", start, "count", len(src))
	}
	if _, err := m.rws.Seek(int64(start)*Size, io.SeekStart); err != nil {
		return err
	}
	for i := range src {
		if _, err := m.rws.Write(src[i][:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDevice) NumBlocks() (Count, error) {
	return m.blocks, nil
}

func (m *MemoryDevice) checkRange(start Idx, count Count) error {
	if uint64(start)+uint64(count) > uint64(m.blocks) {
		return &OutOfRangeError{Start: start, Count: count, Total: m.blocks}
	}
	return nil
}
