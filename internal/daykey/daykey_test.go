package daykey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	t.Parallel()

	d, err := Parse(" 2025-07-04 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-07-04", d.String())

	_, err = Parse("07/04/2025")
	require.Error(t, err)
}

func TestFromTimeUsesUTCDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-5", -5*60*60)
	d := FromTime(time.Date(2025, 7, 4, 22, 0, 0, 0, loc))
	assert.Equal(t, "2025-07-05", d.String())
}

func TestExpandTemplate(t *testing.T) {
	t.Parallel()

	d, err := Parse("2025-07-04")
	require.NoError(t, err)

	assert.Equal(t,
		"https://example.org/2025/07/04/data.json",
		d.Expand("https://example.org/{YYYY}/{MM}/{DD}/data.json"),
	)
	assert.Equal(t,
		"https://example.org/data?date=2025-07-04&alt=2025-07-04",
		d.Expand("https://example.org/data?date={DATE}&alt={YYYY-MM-DD}"),
	)
	assert.Equal(t, "https://example.org/static", d.Expand("https://example.org/static"))
}

func TestRange(t *testing.T) {
	t.Parallel()

	start, _ := Parse("2025-02-27")
	end, _ := Parse("2025-03-02")

	days, truncated, err := Range(start, end, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	var keys []string
	for _, d := range days {
		keys = append(keys, d.String())
	}
	assert.Equal(t, []string{"2025-02-27", "2025-02-28", "2025-03-01", "2025-03-02"}, keys)

	days, truncated, err = Range(start, end, 2)
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-02-28", days[1].String())

	days, truncated, err = Range(start, start, 1)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, days, 1)
}

func TestRangeErrors(t *testing.T) {
	t.Parallel()

	start, _ := Parse("2025-03-02")
	end, _ := Parse("2025-03-01")

	_, _, err := Range(start, end, 0)
	require.ErrorIs(t, err, ErrInvertedRange)

	_, _, err = Range(start, Day{}, 0)
	require.Error(t, err)
}
