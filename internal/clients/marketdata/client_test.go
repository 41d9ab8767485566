package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBarsParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/bars", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "SPY,QQQ", r.URL.Query().Get("symbols"))
		assert.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "all", r.URL.Query().Get("adjustment"))
		assert.Equal(t, "10000", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bars":{"SPY":[{"t":"2024-01-02T00:00:00Z","o":100,"h":101,"l":99,"c":100.5,"v":1000}]}}`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", zerolog.Nop())
	bars, err := client.GetBars(context.Background(), []string{"SPY", "QQQ"}, "2024-01-01", "2024-01-02")
	require.NoError(t, err)
	require.Contains(t, bars, "SPY")
	assert.Equal(t, "2024-01-02", bars["SPY"][0].Date)
	assert.Equal(t, 100.5, bars["SPY"][0].Close)
}

func TestBarDateExtractsFirst10Chars(t *testing.T) {
	assert.Equal(t, "2024-01-02", barDate("2024-01-02T00:00:00Z"))
	assert.Equal(t, "2024-01-02", barDate("2024-01-02"))
}

func TestGetBarsEmptyTickers(t *testing.T) {
	client := New("http://example.com", "", zerolog.Nop())
	bars, err := client.GetBars(context.Background(), nil, "2024-01-01", "2024-01-02")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestGetBarsNon200Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "", zerolog.Nop())
	_, err := client.GetBars(context.Background(), []string{"SPY"}, "2024-01-01", "2024-01-02")
	assert.Error(t, err)
}

func TestGetBarsMalformedJSONErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := New(server.URL, "", zerolog.Nop())
	_, err := client.GetBars(context.Background(), []string{"SPY"}, "2024-01-01", "2024-01-02")
	assert.Error(t, err)
}
