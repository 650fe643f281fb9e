package imagepick

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(client *http.Client) *Fetcher {
	return &Fetcher{HTTPClient: client, RetryDelay: time.Millisecond}
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t, "image/jpeg", makeNoisyJPEG(64, 64, 1))
	dest := filepath.Join(t.TempDir(), "candidate_1.jpg")

	if err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/a.jpg", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := ValidateCandidateFile(dest); err != nil {
		t.Errorf("written file is not a valid candidate: %v", err)
	}
}

func TestFetch_ConvertsPNGToJPEG(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t, "image/png", makeTransparentPNG(64, 64))
	dest := filepath.Join(t.TempDir(), "candidate_1.jpg")

	if err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/a.png", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}

	// Transparent pixels must come out white, not black.
	r, g, b, _ := img.At(2, 2).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("transparent pixel = (%d,%d,%d), want near white", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = img.At(60, 20).RGBA()
	if r>>8 < 200 || g>>8 > 60 || b>>8 > 60 {
		t.Errorf("opaque red pixel = (%d,%d,%d), want near red", r>>8, g>>8, b>>8)
	}
}

func TestFetch_UndersizedRetriedThenFails(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "candidate_1.jpg")
	err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, dest)
	if !errors.Is(err, ErrUndersized) {
		t.Fatalf("Fetch error = %v, want ErrUndersized", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Attempts != DefaultMaxAttempts {
		t.Errorf("FetchError attempts = %+v, want %d", fe, DefaultMaxAttempts)
	}
	if got := hits.Load(); got != DefaultMaxAttempts {
		t.Errorf("server hits = %d, want %d", got, DefaultMaxAttempts)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("destination exists after failure (stat err = %v)", err)
	}
}

func TestFetch_Non200Retried(t *testing.T) {
	t.Parallel()

	body := makeNoisyJPEG(64, 64, 2)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c.jpg")
	if err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Fetch after transient 503: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestFetch_RejectsStockMetadata(t *testing.T) {
	t.Parallel()

	body := withEXIFCopyright(makeNoisyJPEG(64, 64, 4), "Shutterstock, Inc.")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "candidate_1.jpg")
	f := newTestFetcher(srv.Client())
	f.RejectStock = true

	err := f.Fetch(context.Background(), srv.URL, dest)
	if !errors.Is(err, ErrStockImage) {
		t.Fatalf("Fetch error = %v, want ErrStockImage", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Attempts != 1 {
		t.Errorf("FetchError attempts = %+v, want 1", fe)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("destination exists after rejection (stat err = %v)", err)
	}

	// Without RejectStock the same image is accepted.
	if err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Fetch without RejectStock: %v", err)
	}
}

func TestFetch_UndecodableBody(t *testing.T) {
	t.Parallel()

	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	srv := newImageServer(t, "image/jpeg", garbage)
	dest := filepath.Join(t.TempDir(), "c.jpg")

	f := newTestFetcher(srv.Client())
	f.MaxAttempts = 2
	err := f.Fetch(context.Background(), srv.URL, dest)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Fetch error = %v, want ErrDecode", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 0 {
		t.Errorf("directory holds %d entries after failure, want 0", len(entries))
	}
}

func TestFetch_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	dest := filepath.Join(t.TempDir(), "c.jpg")
	var fe *FetchError
	if err := newTestFetcher(nil).Fetch(context.Background(), url, dest); !errors.As(err, &fe) {
		t.Fatalf("Fetch error = %v, want *FetchError", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination exists after transport failure")
	}
}

func TestFetch_CancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	srv := newImageServer(t, "image/jpeg", []byte("tiny"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &Fetcher{HTTPClient: srv.Client(), RetryDelay: time.Hour}
	start := time.Now()
	if err := f.Fetch(ctx, srv.URL, filepath.Join(t.TempDir(), "c.jpg")); err == nil {
		t.Fatal("Fetch with cancelled context returned nil")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Fetch kept sleeping after cancellation")
	}
}

func TestWriteJPEG_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "nested", "out.jpg")
	img, err := jpeg.Decode(bytes.NewReader(makeNoisyJPEG(16, 16, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteJPEG(dest, Normalize(img)); err != nil {
		t.Fatalf("WriteJPEG: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.jpg" {
		t.Errorf("directory entries = %v, want only out.jpg", entries)
	}
}
