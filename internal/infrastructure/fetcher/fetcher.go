package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

const (
	DefaultTimeout = 30 * time.Second

	maxBody = 32 << 20
)

// HTTPFetcher GETs the positions document from the leaderboard API.
type HTTPFetcher struct {
	endpoint   string
	httpClient *http.Client
	log        zerolog.Logger
}

func New(endpoint string, timeout time.Duration, log zerolog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		endpoint:   NormalizeEndpoint(endpoint),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "fetcher").Logger(),
	}
}

// NormalizeEndpoint points an account-totals URL at the positions resource.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, "/account-totals") {
		return strings.TrimSuffix(trimmed, "/account-totals") + "/positions"
	}
	return endpoint
}

func (f *HTTPFetcher) Endpoint() string { return f.endpoint }

func (f *HTTPFetcher) Fetch(ctx context.Context) (*model.Snapshot, error) {
	f.log.Debug().Str("endpoint", f.endpoint).Msg("fetching positions")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrFetchUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "alphawatch/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrFetchUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", port.ErrFetchUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: positions http %d: %s", port.ErrFetchUnavailable, resp.StatusCode, snippet(body))
	}

	snap, err := model.DecodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrFetchUnavailable, err)
	}
	f.log.Info().Int("models", len(snap.Models)).Msg("positions fetched")
	return snap, nil
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

var _ port.SnapshotFetcher = (*HTTPFetcher)(nil)
