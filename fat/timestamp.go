package fat

import "github.com/embeddedgo/fatfs/ferrors"

// Timestamp is a calendar timestamp with the resolution FAT actually stores:
// the full calendar year (not an offset from 1970), one-based month and day
// fields, and two-second granularity on seconds.
type Timestamp struct {
	Year   int // full year, e.g. 2018
	Month  int // 1-12
	Day    int // 1-31
	Hour   int // 0-23
	Minute int // 0-59
	Second int // 0-59, odd values are rounded down on the FAT round-trip
}

// FromCalendar validates and constructs a Timestamp. FAT can only represent
// years in [1980, 2107].
func FromCalendar(year, month, day, hour, minute, second int) (Timestamp, error) {
	t := Timestamp{Year: year, Month: month, Day: day, Hour: hour, Minute: minute, Second: second}
	if year < 1980 || year > 2107 {
		return Timestamp{}, ferrors.ErrConversionError.WithMessage("year out of FAT-representable range [1980, 2107]")
	}
	if month < 1 || month > 12 {
		return Timestamp{}, ferrors.ErrConversionError.WithMessage("month out of range [1, 12]")
	}
	if day < 1 || day > 31 {
		return Timestamp{}, ferrors.ErrConversionError.WithMessage("day out of range [1, 31]")
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return Timestamp{}, ferrors.ErrConversionError.WithMessage("time-of-day field out of range")
	}
	return t, nil
}

// ToFAT packs the timestamp into the on-disk date/time halves: date packs
// (year-1980):9 / month:4 / day:5; time packs hours:5 / minutes:6 /
// (seconds/2):5.
func (t Timestamp) ToFAT() (date uint16, timeOfDay uint16) {
	date = uint16((t.Year-1980)<<9) | uint16(t.Month<<5) | uint16(t.Day)
	timeOfDay = uint16(t.Hour<<11) | uint16(t.Minute<<5) | uint16(t.Second/2)
	return date, timeOfDay
}

// FromFAT unpacks an on-disk date/time pair into a Timestamp. The odd
// second, if any, is lost (FAT's resolution is two seconds).
func FromFAT(date uint16, timeOfDay uint16) Timestamp {
	return Timestamp{
		Year:   1980 + int(date>>9),
		Month:  int((date >> 5) & 0x0F),
		Day:    int(date & 0x1F),
		Hour:   int(timeOfDay >> 11),
		Minute: int((timeOfDay >> 5) & 0x3F),
		Second: int(timeOfDay&0x1F) * 2,
	}
}
