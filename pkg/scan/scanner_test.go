package scan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/s"
)

type fakeEngine struct {
	mu        sync.Mutex
	scans     int
	infected  bool
	signature string
	err       error
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Ping() error  { return nil }

func (f *fakeEngine) Scan(ctx context.Context, r io.Reader) (EngineResult, error) {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()

	if _, err := io.ReadAll(r); err != nil {
		return EngineResult{}, err
	}
	if f.err != nil {
		return EngineResult{}, f.err
	}
	if f.infected {
		return EngineResult{Infected: true, Signature: f.signature}, nil
	}
	return EngineResult{}, nil
}

func (f *fakeEngine) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

type fakeObject struct {
	content []byte
	etag    string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	fetches int
	copies  []string
	deletes []string

	// When set, GetObjectStream hands out this body instead of the
	// object content. Used for never ending streams.
	body io.ReadCloser
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]fakeObject)}
}

func (f *fakeStore) put(bucket, key string, content []byte, etag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = fakeObject{content: content, etag: etag}
}

func (f *fakeStore) GetObjectStream(ctx context.Context, bucket, key string) (*s.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++

	obj, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, e.ErrObjectNotFound
	}

	body := f.body
	if body == nil {
		body = io.NopCloser(bytes.NewReader(obj.content))
	}

	return &s.Object{
		Body:          body,
		ContentLength: int64(len(obj.content)),
		ETag:          obj.etag,
	}, nil
}

func (f *fakeStore) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, visibility s.Visibility) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, srcBucket+"/"+srcKey+"->"+dstBucket+"/"+dstKey)
	return nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, bucket+"/"+key)
	return nil
}

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func baseConfig() Config {
	return Config{
		Enabled:          true,
		Timeout:          5 * time.Second,
		MaxFileSizeBytes: 1 << 20,
		CacheTTL:         time.Minute,
		SkipMetadataTag:  "scan-exempt",
	}
}

func TestScanDisabled(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	cfg := baseConfig()
	cfg.Enabled = false
	scanner := NewScanner(cfg, engine, store, nil)

	verdict, err := scanner.ScanObject(context.Background(), Request{Bucket: "b", Key: "k", SizeBytes: 2048})
	if err != nil {
		t.Fatal(err)
	}

	if verdict.Status != s.ScanStatusSkipped || verdict.Reason != "scanner-disabled" {
		t.Errorf("Expected skipped/scanner-disabled, got %s/%s", verdict.Status, verdict.Reason)
	}
	if store.fetchCount() != 0 {
		t.Errorf("Expected storage to never be fetched, got %d fetches", store.fetchCount())
	}
}

func TestScanSkipMetadataTag(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	scanner := NewScanner(baseConfig(), engine, store, nil)

	verdict, err := scanner.ScanObject(context.Background(), Request{
		Bucket:   "b",
		Key:      "k",
		Metadata: map[string]string{"scan-exempt": "true"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if verdict.Status != s.ScanStatusSkipped || verdict.Reason != "metadata-skip-tag" {
		t.Errorf("Expected skipped/metadata-skip-tag, got %s/%s", verdict.Status, verdict.Reason)
	}
	if engine.scanCount() != 0 {
		t.Errorf("Expected engine not to run, got %d scans", engine.scanCount())
	}
}

func TestScanOversized(t *testing.T) {
	t.Run("fail-open", func(t *testing.T) {
		cfg := baseConfig()
		cfg.FailOpen = true
		store := newFakeStore()
		scanner := NewScanner(cfg, &fakeEngine{}, store, nil)

		verdict, err := scanner.ScanObject(context.Background(), Request{Bucket: "b", Key: "k", SizeBytes: cfg.MaxFileSizeBytes + 1})
		if err != nil {
			t.Fatal(err)
		}
		if verdict.Status != s.ScanStatusSkipped || verdict.Reason != "oversized-fail-open" {
			t.Errorf("Expected skipped/oversized-fail-open, got %s/%s", verdict.Status, verdict.Reason)
		}
	})

	t.Run("fail-closed", func(t *testing.T) {
		cfg := baseConfig()
		store := newFakeStore()
		scanner := NewScanner(cfg, &fakeEngine{}, store, nil)

		_, err := scanner.ScanObject(context.Background(), Request{Bucket: "b", Key: "k", SizeBytes: cfg.MaxFileSizeBytes + 1})
		if !errors.Is(err, e.ErrPayloadTooLarge) {
			t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
		}
		if store.fetchCount() != 0 {
			t.Errorf("Expected storage to never be fetched, got %d fetches", store.fetchCount())
		}
	})
}

func TestScanCleanAndCached(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	store.put("uploads", "cache.bin", []byte("some file content"), "etag-1")
	scanner := NewScanner(baseConfig(), engine, store, nil)

	first, err := scanner.ScanObject(context.Background(), Request{Bucket: "uploads", Key: "cache.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != s.ScanStatusClean || first.Cached {
		t.Errorf("Expected clean uncached verdict, got %s cached=%v", first.Status, first.Cached)
	}
	if first.BytesScanned != int64(len("some file content")) {
		t.Errorf("Expected bytesScanned %d, got %d", len("some file content"), first.BytesScanned)
	}

	second, err := scanner.ScanObject(context.Background(), Request{Bucket: "uploads", Key: "cache.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != s.ScanStatusClean || !second.Cached {
		t.Errorf("Expected clean cached verdict, got %s cached=%v", second.Status, second.Cached)
	}
	if engine.scanCount() != 1 {
		t.Errorf("Expected engine invoked exactly once, got %d", engine.scanCount())
	}
}

func TestScanCacheInvalidatedByOverwrite(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	store.put("uploads", "doc.pdf", []byte("v1"), "etag-1")
	scanner := NewScanner(baseConfig(), engine, store, nil)

	if _, err := scanner.ScanObject(context.Background(), Request{Bucket: "uploads", Key: "doc.pdf"}); err != nil {
		t.Fatal(err)
	}

	// Overwrite changes the etag, so the next scan is a cache miss.
	store.put("uploads", "doc.pdf", []byte("v2 content"), "etag-2")

	verdict, err := scanner.ScanObject(context.Background(), Request{Bucket: "uploads", Key: "doc.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Cached {
		t.Error("Expected cache miss after overwrite")
	}
	if engine.scanCount() != 2 {
		t.Errorf("Expected engine invoked twice, got %d", engine.scanCount())
	}
}

func TestScanInfected(t *testing.T) {
	engine := &fakeEngine{infected: true, signature: "stream: Eicar-Test-Signature FOUND"}
	store := newFakeStore()
	store.put("uploads", "evil.bin", []byte("X5O!P%@"), "etag-1")

	cfg := baseConfig()
	cfg.QuarantineBucket = "quarantine"
	scanner := NewScanner(cfg, engine, store, nil)

	verdict, err := scanner.ScanObject(context.Background(), Request{Bucket: "uploads", Key: "evil.bin"})
	if err != nil {
		t.Fatal(err)
	}

	if verdict.Status != s.ScanStatusInfected {
		t.Fatalf("Expected infected verdict, got %s", verdict.Status)
	}
	if verdict.Signature != "Eicar-Test-Signature" {
		t.Errorf("Expected normalized signature, got %q", verdict.Signature)
	}
	if verdict.BytesScanned != 7 {
		t.Errorf("Expected 7 bytes scanned, got %d", verdict.BytesScanned)
	}

	// Infected verdicts are never cached, the next call scans again.
	if _, err = scanner.ScanObject(context.Background(), Request{Bucket: "uploads", Key: "evil.bin"}); err != nil {
		t.Fatal(err)
	}
	if engine.scanCount() != 2 {
		t.Errorf("Expected engine invoked twice, got %d", engine.scanCount())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.copies) == 0 || store.copies[0] != "uploads/evil.bin->quarantine/evil.bin" {
		t.Errorf("Expected quarantine copy, got %v", store.copies)
	}
	if len(store.deletes) == 0 || store.deletes[0] != "uploads/evil.bin" {
		t.Errorf("Expected original deleted, got %v", store.deletes)
	}
}

func TestScanEngineFailurePolicy(t *testing.T) {
	t.Run("fail-open", func(t *testing.T) {
		engine := &fakeEngine{err: errors.New("connection refused")}
		store := newFakeStore()
		store.put("b", "k", []byte("data"), "etag-1")

		cfg := baseConfig()
		cfg.FailOpen = true
		scanner := NewScanner(cfg, engine, store, nil)

		verdict, err := scanner.ScanObject(context.Background(), Request{Bucket: "b", Key: "k"})
		if err != nil {
			t.Fatal(err)
		}
		if verdict.Status != s.ScanStatusSkipped || verdict.Reason != "scanner-unavailable" {
			t.Errorf("Expected skipped/scanner-unavailable, got %s/%s", verdict.Status, verdict.Reason)
		}
	})

	t.Run("fail-closed", func(t *testing.T) {
		engine := &fakeEngine{err: errors.New("connection refused")}
		store := newFakeStore()
		store.put("b", "k", []byte("data"), "etag-1")
		scanner := NewScanner(baseConfig(), engine, store, nil)

		_, err := scanner.ScanObject(context.Background(), Request{Bucket: "b", Key: "k"})
		if !errors.Is(err, e.ErrScanFailed) {
			t.Errorf("Expected ErrScanFailed, got %v", err)
		}
	})
}

func TestScanTimeout(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	store.put("b", "k", []byte("data"), "etag-1")

	// A pipe with no writer blocks the engine until the scanner
	// destroys the stream on timeout.
	pr, _ := io.Pipe()
	store.body = pr

	cfg := baseConfig()
	cfg.Timeout = 50 * time.Millisecond
	scanner := NewScanner(cfg, engine, store, nil)

	start := time.Now()
	_, err := scanner.ScanObject(context.Background(), Request{Bucket: "b", Key: "k"})
	if !errors.Is(err, e.ErrScanTimeout) {
		t.Errorf("Expected ErrScanTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timeout took too long: %s", elapsed)
	}
}

func TestNormalizeSignature(t *testing.T) {
	tables := []struct {
		name     string
		raw      string
		expected string
	}{
		{"clamd stream framing", "stream: Eicar-Test-Signature FOUND", "Eicar-Test-Signature"},
		{"no framing", "Win.Test.EICAR_HDB-1", "Win.Test.EICAR_HDB-1"},
		{"trailing FOUND only", "Eicar-Test-Signature FOUND", "Eicar-Test-Signature"},
		{"whitespace", "  stream:  Some.Sig  FOUND  ", "Some.Sig"},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			if diff := cmp.Diff(table.expected, NormalizeSignature(table.raw)); diff != "" {
				t.Errorf("NormalizeSignature() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
