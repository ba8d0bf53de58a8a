package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphawatch/internal/application/port"
)

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "https://nof1.ai/api/positions", NormalizeEndpoint("https://nof1.ai/api/account-totals"))
	assert.Equal(t, "https://nof1.ai/api/positions", NormalizeEndpoint(" https://nof1.ai/api/account-totals/ "))
	assert.Equal(t, "https://nof1.ai/api/positions?limit=10", NormalizeEndpoint("https://nof1.ai/api/positions?limit=10"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"positions":[{"id":"grok-4","realized_pnl":1,"positions":{"BTC":{"quantity":0.5,"leverage":10}}}]}`))
	}))
	defer srv.Close()

	f := New(srv.URL+"/api/account-totals", time.Second, zerolog.Nop())
	snap, err := f.Fetch(context.Background())
	require.NoError(t, err)
	m, ok := snap.Model("grok-4")
	require.True(t, ok)
	assert.Equal(t, "0.5", m.Positions["BTC"].Quantity.String())
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "upstream down", http.StatusBadGateway) }},
		{"not json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }},
		{"positions not a list", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"positions":{}}`)) }},
		{"error body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"error":"rate limited"}`)) }},
		{"null positions", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"positions":null}`)) }},
		{"empty object", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{}`)) }},
		{"timeout", func(w http.ResponseWriter, r *http.Request) { time.Sleep(300 * time.Millisecond) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := New(srv.URL, 100*time.Millisecond, zerolog.Nop())
			snap, err := f.Fetch(context.Background())
			assert.Nil(t, snap)
			assert.ErrorIs(t, err, port.ErrFetchUnavailable)
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second, zerolog.Nop()).Fetch(context.Background())
	assert.ErrorIs(t, err, port.ErrFetchUnavailable)
}
