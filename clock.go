package fatfs

import "github.com/embeddedgo/fatfs/fat"

// FixedClock always returns the same timestamp. It is the natural default
// on boards with no battery-backed RTC: every entry created or modified in
// one run carries the same stamp. What time it is remains entirely up to
// the embedder; nothing here assumes a wall clock exists.
type FixedClock fat.Timestamp

// Now returns the fixed timestamp c was built with.
func (c FixedClock) Now() fat.Timestamp { return fat.Timestamp(c) }

// EpochClock stamps every entry with the earliest date FAT can represent
// (1980-01-01 00:00:00), for callers with no RTC and no wish to pick a
// date of their own; FixedClock's zero value is NOT usable for this since
// Timestamp{}'s Year of 0 falls outside FAT's representable range.
var EpochClock = FixedClock{Year: 1980, Month: 1, Day: 1}
