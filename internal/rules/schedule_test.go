package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-events/internal/data"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestSchedule_Weekdays(t *testing.T) {
	s, err := ParseSchedule(data.ScheduleSpec{
		Start: "09:00", End: "17:00",
		Days:     []string{"mon", "tue", "wed", "thu", "fri"},
		Timezone: "UTC",
	})
	require.NoError(t, err)

	// 2026-03-04 is a Wednesday, 2026-03-07 a Saturday.
	assert.True(t, s.Contains(utc(2026, 3, 4, 10, 0)))
	assert.False(t, s.Contains(utc(2026, 3, 7, 10, 0)))
	assert.True(t, s.Contains(utc(2026, 3, 4, 9, 0)), "start is inclusive")
	assert.False(t, s.Contains(utc(2026, 3, 4, 17, 0)), "end is exclusive")
	assert.False(t, s.Contains(utc(2026, 3, 4, 8, 59)))
}

func TestSchedule_Wraparound(t *testing.T) {
	s, err := ParseSchedule(data.ScheduleSpec{Start: "22:00", End: "06:00", Timezone: "UTC"})
	require.NoError(t, err)

	assert.True(t, s.Contains(utc(2026, 3, 4, 23, 30)))
	assert.True(t, s.Contains(utc(2026, 3, 5, 5, 0)))
	assert.False(t, s.Contains(utc(2026, 3, 4, 12, 0)))
	assert.False(t, s.Contains(utc(2026, 3, 5, 6, 0)))
}

func TestSchedule_WraparoundBelongsToStartDay(t *testing.T) {
	s, err := ParseSchedule(data.ScheduleSpec{Start: "22:00", End: "06:00", Days: []string{"fri"}, Timezone: "UTC"})
	require.NoError(t, err)

	// Friday 2026-03-06 23:00 and the following Saturday 05:00 are the same night.
	assert.True(t, s.Contains(utc(2026, 3, 6, 23, 0)))
	assert.True(t, s.Contains(utc(2026, 3, 7, 5, 0)))
	assert.False(t, s.Contains(utc(2026, 3, 7, 23, 0)))
	assert.False(t, s.Contains(utc(2026, 3, 6, 5, 0)), "belongs to Thursday night")
}

func TestSchedule_Timezone(t *testing.T) {
	s, err := ParseSchedule(data.ScheduleSpec{Start: "09:00", End: "17:00", Timezone: "America/New_York"})
	require.NoError(t, err)

	// 14:00 UTC is 09:00 in New York (EST, before the March DST switch).
	assert.True(t, s.Contains(utc(2026, 3, 4, 14, 0)))
	assert.False(t, s.Contains(utc(2026, 3, 4, 13, 0)))
}

func TestSchedule_FullDay(t *testing.T) {
	s, err := ParseSchedule(data.ScheduleSpec{Start: "00:00", End: "24:00", Timezone: "UTC"})
	require.NoError(t, err)
	assert.True(t, s.Contains(utc(2026, 3, 4, 0, 0)))
	assert.True(t, s.Contains(utc(2026, 3, 4, 23, 59)))
}

func TestParseSchedule_Invalid(t *testing.T) {
	tests := []data.ScheduleSpec{
		{Start: "9", End: "17:00"},
		{Start: "09:00", End: "25:00"},
		{Start: "09:60", End: "17:00"},
		{Start: "09:00", End: "17:00", Days: []string{"funday"}},
		{Start: "09:00", End: "17:00", Timezone: "Mars/Olympus"},
	}
	for _, spec := range tests {
		_, err := ParseSchedule(spec)
		assert.Error(t, err, "%+v", spec)
	}
}
