package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A fixed Wednesday keeps the week arithmetic honest.
var testNow = time.Date(2024, time.March, 13, 15, 30, 0, 0, time.UTC)

func ts(year int, month time.Month, day, hour int) int64 {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC).Unix()
}

func TestResolveDateKeywords(t *testing.T) {
	today, err := ResolveDateArg("today", testNow)
	require.NoError(t, err)
	assert.True(t, today.Contains(ts(2024, time.March, 13, 0)))
	assert.True(t, today.Contains(ts(2024, time.March, 13, 23)))
	assert.False(t, today.Contains(ts(2024, time.March, 12, 23)))

	yesterday, err := ResolveDateArg("yesterday", testNow)
	require.NoError(t, err)
	assert.True(t, yesterday.Contains(ts(2024, time.March, 12, 12)))
	assert.False(t, yesterday.Contains(ts(2024, time.March, 13, 0)))

	// Weeks anchor on Monday; March 11 2024 was one.
	thisweek, err := ResolveDateArg("thisweek", testNow)
	require.NoError(t, err)
	assert.True(t, thisweek.Contains(ts(2024, time.March, 11, 0)))
	assert.True(t, thisweek.Contains(ts(2024, time.March, 17, 23)))
	assert.False(t, thisweek.Contains(ts(2024, time.March, 10, 23)))

	lastweek, err := ResolveDateArg("lastweek", testNow)
	require.NoError(t, err)
	assert.True(t, lastweek.Contains(ts(2024, time.March, 4, 0)))
	assert.False(t, lastweek.Contains(ts(2024, time.March, 11, 0)))

	thismonth, err := ResolveDateArg("thismonth", testNow)
	require.NoError(t, err)
	assert.True(t, thismonth.Contains(ts(2024, time.March, 1, 0)))
	assert.True(t, thismonth.Contains(ts(2024, time.March, 31, 23)))
	assert.False(t, thismonth.Contains(ts(2024, time.April, 1, 0)))

	lastmonth, err := ResolveDateArg("lastmonth", testNow)
	require.NoError(t, err)
	assert.True(t, lastmonth.Contains(ts(2024, time.February, 29, 12)))

	thisyear, err := ResolveDateArg("thisyear", testNow)
	require.NoError(t, err)
	assert.True(t, thisyear.Contains(ts(2024, time.January, 1, 0)))
	assert.False(t, thisyear.Contains(ts(2023, time.December, 31, 23)))

	lastyear, err := ResolveDateArg("lastyear", testNow)
	require.NoError(t, err)
	assert.True(t, lastyear.Contains(ts(2023, time.June, 1, 0)))

	pastweek, err := ResolveDateArg("pastweek", testNow)
	require.NoError(t, err)
	assert.True(t, pastweek.Contains(testNow.Unix()))
	assert.True(t, pastweek.Contains(testNow.AddDate(0, 0, -7).Unix()))
	assert.False(t, pastweek.Contains(testNow.AddDate(0, 0, -8).Unix()))

	pastmonth, err := ResolveDateArg("pastmonth", testNow)
	require.NoError(t, err)
	assert.True(t, pastmonth.Contains(testNow.AddDate(0, 0, -29).Unix()))

	pastyear, err := ResolveDateArg("pastyear", testNow)
	require.NoError(t, err)
	assert.True(t, pastyear.Contains(testNow.AddDate(0, -11, 0).Unix()))
}

func TestResolveDateAbsolute(t *testing.T) {
	for _, arg := range []string{"2020-05-10", "2020/05/10", "2020.05.10"} {
		r, err := ResolveDateArg(arg, testNow)
		require.NoError(t, err, arg)
		assert.True(t, r.Contains(ts(2020, time.May, 10, 12)), arg)
		assert.False(t, r.Contains(ts(2020, time.May, 11, 0)), arg)
	}

	// Day-first when the first number cannot be a month.
	r, err := ResolveDateArg("31/8/2014", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2014, time.August, 31, 6)))

	// Month-first when the second number cannot be a day-first month.
	r, err = ResolveDateArg("8/31/2014", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2014, time.August, 31, 6)))
}

func TestResolveDateComparisons(t *testing.T) {
	r, err := ResolveDateArg(">=2020-01-01", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2020, time.January, 1, 0)))
	assert.True(t, r.Contains(ts(2024, time.January, 1, 0)))
	assert.False(t, r.Contains(ts(2019, time.December, 31, 23)))

	r, err = ResolveDateArg("<2020-01-01", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2019, time.December, 31, 23)))
	assert.False(t, r.Contains(ts(2020, time.January, 1, 0)))

	r, err = ResolveDateArg(">2020-01-01", testNow)
	require.NoError(t, err)
	assert.False(t, r.Contains(ts(2020, time.January, 1, 23)))
	assert.True(t, r.Contains(ts(2020, time.January, 2, 0)))
}

func TestResolveDateRanges(t *testing.T) {
	r, err := ResolveDateArg("2020-01-01..2020-12-31", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2020, time.May, 10, 12)))
	assert.False(t, r.Contains(ts(2021, time.January, 1, 0)))

	// Dash-separated ranges between full dates.
	r, err = ResolveDateArg("2020/01/01-2020/12/31", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2020, time.May, 10, 12)))

	r, err = ResolveDateArg("1/8/2014-31/8/2014", testNow)
	require.NoError(t, err)
	assert.True(t, r.Contains(ts(2014, time.August, 15, 10)))
	assert.False(t, r.Contains(ts(2014, time.September, 1, 0)))
}

func TestResolveDateRejectsUnsupported(t *testing.T) {
	for _, arg := range []string{"accessed", "", "2020-13-01", "2020-02-30", "next-tuesday"} {
		_, err := ResolveDateArg(arg, testNow)
		assert.Error(t, err, "expected %q to be rejected", arg)
	}
}

func TestZeroTimestampNeverMatches(t *testing.T) {
	r, err := ResolveDateArg("<=2020-01-01", testNow)
	require.NoError(t, err)
	assert.False(t, r.Contains(0), "unknown times must not match")
}
