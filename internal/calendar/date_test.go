package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDayOfUsesReferenceTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	instant := time.Date(2025, time.March, 1, 20, 30, 0, 0, time.UTC)
	require.Equal(t, Date{Year: 2025, Month: time.March, Day: 1}, DayOf(instant, time.UTC))
	require.Equal(t, Date{Year: 2025, Month: time.March, Day: 2}, DayOf(instant, tokyo))
}

func TestDaysBetweenAcrossMonthAndDST(t *testing.T) {
	require.Equal(t, 1, DaysBetween(Date{2024, time.February, 28}, Date{2024, time.February, 29}))
	require.Equal(t, 2, DaysBetween(Date{2024, time.February, 28}, Date{2024, time.March, 1}))
	require.Equal(t, -1, DaysBetween(Date{2025, time.January, 1}, Date{2024, time.December, 31}))
	// US DST starts 2025-03-09.
	require.Equal(t, 1, DaysBetween(Date{2025, time.March, 8}, Date{2025, time.March, 9}))
}

func TestParseAndText(t *testing.T) {
	d, err := Parse("2025-10-27")
	require.NoError(t, err)
	require.Equal(t, "2025-10-27", d.String())
	require.Equal(t, Date{2025, time.October, 28}, d.Next())

	var decoded Date
	require.NoError(t, decoded.UnmarshalText([]byte("2024-12-31")))
	require.Equal(t, Date{2025, time.January, 1}, decoded.AddDays(1))

	_, err = Parse("27/10/2025")
	require.Error(t, err)
}

func TestStartIsMidnightInLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := Date{2025, time.July, 4}.Start(ny)
	require.Equal(t, 0, start.Hour())
	require.Equal(t, "2025-07-04T04:00:00Z", start.UTC().Format(time.RFC3339))
	require.True(t, Date{2025, time.July, 3}.Before(Date{2025, time.July, 4}))
	require.False(t, Date{2025, time.July, 4}.Before(Date{2025, time.July, 4}))
}
