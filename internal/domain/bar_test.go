package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarValid(t *testing.T) {
	cases := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"ok", Bar{Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}, true},
		{"negative volume", Bar{Open: 10, High: 12, Low: 9, Close: 11, Volume: -1}, false},
		{"open above high", Bar{Open: 13, High: 12, Low: 9, Close: 11}, false},
		{"low above open", Bar{Open: 8, High: 12, Low: 9, Close: 11}, false},
		{"close below low", Bar{Open: 10, High: 12, Low: 9, Close: 8}, false},
		{"close above high", Bar{Open: 10, High: 12, Low: 9, Close: 13}, false},
		{"zero volume ok", Bar{Open: 10, High: 10, Low: 10, Close: 10, Volume: 0}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.bar.Valid())
		})
	}
}

func TestParseFormatDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", FormatDate(d))
}

func TestParseDateInvalid(t *testing.T) {
	_, err := ParseDate("not-a-date")
	assert.Error(t, err)
}

func TestCacheEligible(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.True(t, CacheEligible("2024-03-13", now), "exactly T-2 is eligible")
	assert.True(t, CacheEligible("2024-01-01", now), "far past is eligible")
	assert.False(t, CacheEligible("2024-03-14", now), "T-1 is not eligible")
	assert.False(t, CacheEligible("2024-03-15", now), "T-0 is not eligible")
	assert.False(t, CacheEligible("2024-03-16", now), "future is not eligible")
	assert.False(t, CacheEligible("garbage", now), "unparseable date is not eligible")
}

func TestDateRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, DateRange(start, end))

	assert.Nil(t, DateRange(end, start), "end before start yields nil")

	same := DateRange(start, start)
	assert.Equal(t, []string{"2024-01-01"}, same)
}

func TestPriceSeriesPutAndLookup(t *testing.T) {
	series := NewPriceSeries()
	series.Put("SPY", Bar{Date: "2024-01-02", Close: 100})
	series.Put("SPY", Bar{Date: "2024-01-03", Close: 101})
	series.Put("SPY", Bar{Date: "2024-01-03", Close: 102}) // replace, no dup date

	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, series.Dates("SPY"))
	assert.Equal(t, []float64{100, 102}, series.Closes("SPY"))
	assert.Equal(t, "2024-01-02", series.FirstDate("SPY"))

	bar, ok := series.Bar("SPY", "2024-01-03")
	require.True(t, ok)
	assert.Equal(t, 102.0, bar.Close)

	_, ok = series.Bar("SPY", "2024-01-09")
	assert.False(t, ok)

	_, ok = series.Bar("QQQ", "2024-01-02")
	assert.False(t, ok)

	assert.Equal(t, "", NewPriceSeries().FirstDate("SPY"))
}

func TestPriceSeriesBarsAlignedWithDates(t *testing.T) {
	series := NewPriceSeries()
	series.Put("SPY", Bar{Date: "2024-01-02", Close: 100})
	series.Put("SPY", Bar{Date: "2024-01-03", Close: 101})

	bars := series.Bars("SPY")
	dates := series.Dates("SPY")
	require.Len(t, bars, len(dates))
	for i, d := range dates {
		assert.Equal(t, d, bars[i].Date)
	}
}

func TestPriceSeriesTickers(t *testing.T) {
	series := NewPriceSeries()
	series.Put("SPY", Bar{Date: "2024-01-02", Close: 100})
	series.Put("QQQ", Bar{Date: "2024-01-02", Close: 200})

	tickers := series.Tickers()
	assert.ElementsMatch(t, []string{"SPY", "QQQ"}, tickers)
}
