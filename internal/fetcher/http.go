package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-tax/refund-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	Timeout   time.Duration
	UserAgent string
	Retry     resilience.RetryConfig
}

// HTTPFetcher downloads files over HTTP(S), retrying transient failures.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	retry     resilience.RetryConfig
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "refund-cli/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		retry:     opts.Retry,
	}
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	cfg := f.retry
	cfg.OnRetry = resilience.RetryLogger("fetcher", "download")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: create request for %s", url)
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: get %s", url)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close() //nolint:errcheck
			err := eris.Errorf("fetcher: %s returned %d", url, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return resp.Body, nil
	})
}

// DownloadToFile fetches the URL into a local file. Returns bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, url string, path string) (int64, error) {
	rc, err := f.Download(ctx, url)
	if err != nil {
		return 0, err
	}

	n, err := writeToFile(rc, path)
	if err != nil {
		return n, err
	}

	zap.L().Info("downloaded rate file",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return n, nil
}
