package fatfs

import "github.com/embeddedgo/fatfs/ferrors"

// Mode is a file open mode, resolved against whatever OpenFileInDir finds
// (or doesn't find) in the parent directory before any disk state changes.
type Mode int

const (
	// ModeReadOnly opens an existing file for reading only.
	ModeReadOnly Mode = iota
	// ModeReadWriteAppend opens an existing file for read/write, with the
	// cursor positioned at end-of-file.
	ModeReadWriteAppend
	// ModeReadWriteTruncate opens an existing file for read/write,
	// discarding its current contents.
	ModeReadWriteTruncate
	// ModeReadWriteCreate creates a new file; it is an error if one
	// already exists under that name.
	ModeReadWriteCreate
	// ModeReadWriteCreateOrAppend opens for append if the file exists,
	// otherwise creates it.
	ModeReadWriteCreateOrAppend
	// ModeReadWriteCreateOrTruncate opens for truncate if the file
	// exists, otherwise creates it.
	ModeReadWriteCreateOrTruncate
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "ReadOnly"
	case ModeReadWriteAppend:
		return "ReadWriteAppend"
	case ModeReadWriteTruncate:
		return "ReadWriteTruncate"
	case ModeReadWriteCreate:
		return "ReadWriteCreate"
	case ModeReadWriteCreateOrAppend:
		return "ReadWriteCreateOrAppend"
	case ModeReadWriteCreateOrTruncate:
		return "ReadWriteCreateOrTruncate"
	default:
		return "Unknown"
	}
}

// writable reports whether this (already-resolved) mode permits writes.
func (m Mode) writable() bool { return m != ModeReadOnly }

// resolveMode maps a requested mode plus whether the target name already
// exists onto the concrete mode to open it in, and whether a new directory
// entry must be created first.
func resolveMode(requested Mode, exists bool) (resolved Mode, create bool, err error) {
	switch requested {
	case ModeReadOnly:
		if !exists {
			return 0, false, ferrors.ErrNotFound
		}
		return ModeReadOnly, false, nil
	case ModeReadWriteAppend:
		if !exists {
			return 0, false, ferrors.ErrNotFound
		}
		return ModeReadWriteAppend, false, nil
	case ModeReadWriteTruncate:
		if !exists {
			return 0, false, ferrors.ErrNotFound
		}
		return ModeReadWriteTruncate, false, nil
	case ModeReadWriteCreate:
		if exists {
			return 0, false, ferrors.ErrFileAlreadyExists
		}
		return ModeReadWriteAppend, true, nil
	case ModeReadWriteCreateOrAppend:
		if exists {
			return ModeReadWriteAppend, false, nil
		}
		return ModeReadWriteAppend, true, nil
	case ModeReadWriteCreateOrTruncate:
		if exists {
			return ModeReadWriteTruncate, false, nil
		}
		return ModeReadWriteAppend, true, nil
	default:
		return 0, false, ferrors.ErrUnsupported
	}
}
