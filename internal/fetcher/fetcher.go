// Package fetcher downloads the comptroller's quarterly rate file over
// HTTP or FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher downloads one remote file.
type Fetcher interface {
	// Download returns the remote body; the caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile writes the remote body to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// ForURL picks a backend by URL scheme.
func ForURL(rawURL string, timeout time.Duration) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(HTTPOptions{Timeout: timeout}), nil
	case "ftp":
		return NewFTPFetcher(FTPOptions{Timeout: timeout}), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// writeToFile copies a download into path, creating parent directories.
func writeToFile(rc io.ReadCloser, path string) (int64, error) {
	defer rc.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrapf(err, "fetcher: create dir for %s", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", path)
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	return n, nil
}
