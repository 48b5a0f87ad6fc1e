package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/detailhub/zoneconfigurator/internal/config"
	"github.com/detailhub/zoneconfigurator/internal/observability"
)

// ErrTooLarge is returned when a model file exceeds the configured limit.
var ErrTooLarge = errors.New("asset: model file exceeds size limit")

// Fetcher downloads model files. http and https URLs go through a shared
// client and circuit breaker; file URLs are read from local disk.
type Fetcher struct {
	client   *http.Client
	breaker  *CircuitBreaker
	maxBytes int64
	metrics  *observability.Metrics
}

// NewFetcher creates a fetcher from configuration. metrics may be nil.
func NewFetcher(cfg config.FetchConfig, metrics *observability.Metrics) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout, Transport: transport},
		breaker:  NewCircuitBreaker(cfg.CircuitBreaker, breakerGauge(metrics)),
		maxBytes: maxBytes,
		metrics:  metrics,
	}
}

func breakerGauge(m *observability.Metrics) func(BreakerState) {
	return func(s BreakerState) {
		m.SetAssetCircuitBreakerState(float64(s))
	}
}

// Breaker exposes the fetch circuit breaker.
func (f *Fetcher) Breaker() *CircuitBreaker {
	return f.breaker
}

// Fetch returns the bytes behind rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("asset: invalid model url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "file":
		return f.readFile(u.Path)
	default:
		return nil, fmt.Errorf("asset: unsupported model url scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.breaker.Allow(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("asset: build request: %w", err)
	}
	req.Header.Set("Accept", "model/gltf-binary, model/gltf+json, application/octet-stream")
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.breaker.RecordFailure()
		return nil, fmt.Errorf("asset: download model: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		f.breaker.RecordFailure()
		return nil, fmt.Errorf("asset: download model: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		// Missing files are not infrastructure failures.
		return nil, fmt.Errorf("asset: download model: status %d", resp.StatusCode)
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		if !errors.Is(err, ErrTooLarge) {
			f.breaker.RecordFailure()
		}
		return nil, err
	}
	f.breaker.RecordSuccess()
	f.metrics.RecordAssetFetch(time.Since(start))
	return data, nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asset: open model file: %w", err)
	}
	defer file.Close()
	return f.readLimited(file)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("asset: read model: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
