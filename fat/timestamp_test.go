package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTripEvenSeconds(t *testing.T) {
	cases := []Timestamp{
		{Year: 1980, Month: 1, Day: 1},
		{Year: 2018, Month: 12, Day: 9, Hour: 19, Minute: 22, Second: 34},
		{Year: 2107, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 58},
	}
	for _, ts := range cases {
		date, timeOfDay := ts.ToFAT()
		assert.Equal(t, ts, FromFAT(date, timeOfDay))
	}
}

func TestTimestampOddSecondRoundsDown(t *testing.T) {
	ts := Timestamp{Year: 2020, Month: 6, Day: 15, Hour: 12, Minute: 30, Second: 33}
	date, timeOfDay := ts.ToFAT()
	got := FromFAT(date, timeOfDay)
	assert.Equal(t, 32, got.Second)

	ts.Second = 32
	assert.Equal(t, ts, got)
}

func TestFromCalendarValidatesRanges(t *testing.T) {
	_, err := FromCalendar(2024, 2, 29, 12, 0, 0)
	require.NoError(t, err)

	for _, bad := range [][6]int{
		{1979, 1, 1, 0, 0, 0},  // before the FAT epoch
		{2108, 1, 1, 0, 0, 0},  // past the 7-bit year field
		{2024, 0, 1, 0, 0, 0},  // month
		{2024, 13, 1, 0, 0, 0}, // month
		{2024, 1, 0, 0, 0, 0},  // day
		{2024, 1, 32, 0, 0, 0}, // day
		{2024, 1, 1, 24, 0, 0}, // hour
		{2024, 1, 1, 0, 60, 0}, // minute
		{2024, 1, 1, 0, 0, 60}, // second
	} {
		_, err := FromCalendar(bad[0], bad[1], bad[2], bad[3], bad[4], bad[5])
		require.Error(t, err, "expected rejection for %v", bad)
	}
}
