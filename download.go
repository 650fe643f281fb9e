package imagepick

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MinImageBytes is the smallest payload accepted as an image. Anything
	// smaller is treated as a provider error page.
	MinImageBytes = 1024

	// JPEGQuality is the quality of the canonical format.
	JPEGQuality = 95

	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second

	defaultTimeout  = 10 * time.Second
	defaultMaxBytes = 50 << 20 // 50MB
)

var (
	ErrStatus     = errors.New("unexpected HTTP status")
	ErrUndersized = errors.New("payload below minimum image size")
	ErrDecode     = errors.New("payload is not a decodable image")
	ErrStockImage = errors.New("stock agency metadata")
)

// FetchError is returned when every download attempt failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error // last attempt's failure
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads candidate images and persists them in the canonical format.
type Fetcher struct {
	HTTPClient  *http.Client  // default: http.DefaultClient
	UserAgent   string
	MaxAttempts int           // default: 3
	RetryDelay  time.Duration // fixed pause between attempts (default: 1s)
	Timeout     time.Duration // per-request timeout (default: 10s)
	MaxBytes    int64         // max response body size (default: 50MB)
	RejectStock bool          // fail without retry on stock agency metadata
}

// NewFetcher builds a fetcher from cfg.
func NewFetcher(cfg *Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		HTTPClient:  cfg.HTTPClient,
		UserAgent:   cfg.UserAgent,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		RejectStock: cfg.RejectStock,
	}
}

func (f *Fetcher) defaults() {
	if f.HTTPClient == nil {
		f.HTTPClient = http.DefaultClient
	}
	if f.MaxAttempts <= 0 {
		f.MaxAttempts = DefaultMaxAttempts
	}
	if f.RetryDelay <= 0 {
		f.RetryDelay = DefaultRetryDelay
	}
	if f.Timeout <= 0 {
		f.Timeout = defaultTimeout
	}
	if f.MaxBytes <= 0 {
		f.MaxBytes = defaultMaxBytes
	}
}

// Fetch downloads url, validates it, normalizes its color model and writes it
// to dest as a quality-95 JPEG. A nil error means dest holds a decodable
// image. On failure a *FetchError is returned and nothing is written to dest.
//
// Each attempt rejects non-2xx answers, payloads under MinImageBytes and
// payloads that do not decode; all of those are retried after RetryDelay.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	f.defaults()

	var lastErr error
	attempts := 0
	for attempts < f.MaxAttempts {
		if attempts > 0 {
			if err := sleep(ctx, f.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		err := f.attempt(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Debug("imagepick: download attempt failed", "url", url, "attempt", attempts, "error", err.Error())

		if errors.Is(err, ErrStockImage) {
			break
		}
	}
	return &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url, dest string) error {
	data, err := f.download(ctx, url)
	if err != nil {
		return err
	}
	if len(data) < MinImageBytes {
		return fmt.Errorf("%w: %d bytes", ErrUndersized, len(data))
	}
	if f.RejectStock {
		if meta := ExtractImageMetadata(data); IsStockByMetadata(meta) {
			return fmt.Errorf("%w: %s", ErrStockImage, meta.stockDetail())
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	slog.Debug("imagepick: decoded", "url", url, "format", format, "bounds", img.Bounds().String())

	return WriteJPEG(dest, Normalize(img))
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.HTTPClient.Do(req) //nolint:gosec // G704: URL comes from search results
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// WriteJPEG encodes img at JPEGQuality into a temporary file next to dest
// and renames it into place, so dest is either absent or complete.
func WriteJPEG(dest string, img image.Image) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
