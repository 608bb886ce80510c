package fat

import (
	"strings"

	"github.com/embeddedgo/fatfs/ferrors"
)

// ShortFileName is the 11-byte, space-padded, uppercase ISO-8859-1 name
// stored in a primary directory entry slot.
type ShortFileName [11]byte

// invalidSFNBytes enumerates the single-byte characters MS-DOS rejects in
// an 8.3 name component, beyond the generic control-character range.
const invalidSFNBytes = "\"*+,/:;<=>?[\\]|"

func isInvalidSFNByte(b byte) bool {
	if b < 0x20 {
		return true
	}
	if b == ' ' {
		return true // space is reserved as the pad byte
	}
	return strings.IndexByte(invalidSFNBytes, b) >= 0
}

// DotEntry and DotDotEntry are the synthetic "." and ".." directory entry
// names written by MakeDirInDir.
var (
	DotEntry    = ShortFileName{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	DotDotEntry = ShortFileName{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

// ParseShortFileName converts a human-readable "NAME.EXT" string into its
// 11-byte on-disk form, upper-casing ASCII letters and validating DOS 8.3
// rules. An empty name is accepted and maps to ".".
func ParseShortFileName(name string) (ShortFileName, error) {
	if name == "" {
		name = "."
	}
	if name == "." {
		return DotEntry, nil
	}
	if name == ".." {
		return DotDotEntry, nil
	}

	base, ext, hasDot := strings.Cut(name, ".")
	if hasDot && strings.Contains(ext, ".") {
		return ShortFileName{}, &ferrors.FilenameError{Kind: ferrors.MisplacedPeriod, Name: name}
	}
	if base == "" {
		return ShortFileName{}, &ferrors.FilenameError{Kind: ferrors.FilenameEmpty, Name: name}
	}
	if len(base) > 8 || len(ext) > 3 {
		return ShortFileName{}, &ferrors.FilenameError{Kind: ferrors.NameTooLong, Name: name}
	}

	var sfn ShortFileName
	for i := range sfn {
		sfn[i] = ' '
	}

	for i := 0; i < len(base); i++ {
		c := upperASCII(base[i])
		if isInvalidSFNByte(c) {
			return ShortFileName{}, &ferrors.FilenameError{Kind: ferrors.InvalidCharacter, Name: name}
		}
		sfn[i] = c
	}
	for i := 0; i < len(ext); i++ {
		c := upperASCII(ext[i])
		if isInvalidSFNByte(c) {
			return ShortFileName{}, &ferrors.FilenameError{Kind: ferrors.InvalidCharacter, Name: name}
		}
		sfn[8+i] = c
	}

	return sfn, nil
}

func upperASCII(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// BaseName returns the trimmed 8-character name component.
func (s ShortFileName) BaseName() string {
	return strings.TrimRight(string(s[:8]), " ")
}

// Extension returns the trimmed 3-character extension component.
func (s ShortFileName) Extension() string {
	return strings.TrimRight(string(s[8:11]), " ")
}

// String renders the short name back into "NAME.EXT" (or "NAME" with no
// extension) form.
func (s ShortFileName) String() string {
	base := s.BaseName()
	ext := s.Extension()
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// IsDot reports whether this is the synthetic "this directory" entry.
func (s ShortFileName) IsDot() bool { return s == DotEntry }

// IsDotDot reports whether this is the synthetic "parent directory" entry.
func (s ShortFileName) IsDotDot() bool { return s == DotDotEntry }

// LFNChecksum computes the checksum over the 11 raw SFN bytes used to tie a
// run of LFN fragments to the short entry that follows them: a fold-right-
// rotate-add, per the FAT/VFAT specification.
func (s ShortFileName) LFNChecksum() byte {
	var sum byte
	for _, b := range s {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}
