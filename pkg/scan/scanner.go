package scan

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/metrics"
	"github.com/campushq/asset-server/pkg/s"
)

type Config struct {
	Enabled          bool
	Timeout          time.Duration
	MaxFileSizeBytes int64
	FailOpen         bool
	CacheTTL         time.Duration
	SkipMetadataTag  string
	QuarantineBucket string
}

// ObjectStore is the slice of the storage backend the scanner needs.
type ObjectStore interface {
	GetObjectStream(ctx context.Context, bucket, key string) (*s.Object, error)
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, visibility s.Visibility) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// VerdictRecorder persists terminal verdicts for audit. Recording is
// best effort, failures are logged and never fail the scan.
type VerdictRecorder interface {
	RecordVerdict(verdict s.ScanVerdict) error
}

type Request struct {
	Bucket    string            `json:"bucket"`
	Key       string            `json:"key"`
	SizeBytes int64             `json:"sizeBytes,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	AssetID   string            `json:"assetId,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	MimeType  string            `json:"mimeType,omitempty"`
}

type Scanner struct {
	cfg      Config
	engine   Engine
	store    ObjectStore
	cache    *VerdictCache
	recorder VerdictRecorder
}

func NewScanner(cfg Config, engine Engine, store ObjectStore, recorder VerdictRecorder) *Scanner {
	return &Scanner{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		cache:    NewVerdictCache(cfg.CacheTTL),
		recorder: recorder,
	}
}

type engineOutcome struct {
	result EngineResult
	err    error
}

// ScanObject fetches the object's byte stream and drives it through the
// scanning engine, racing a hard timeout. Non infected verdicts are
// cached by (bucket, key, etag); the verdict for an unchanged object is
// served from cache without re-invoking the engine.
func (sc *Scanner) ScanObject(ctx context.Context, req Request) (s.ScanVerdict, error) {
	if !sc.cfg.Enabled {
		return sc.finish(sc.skipped(req, "scanner-disabled")), nil
	}

	if sc.cfg.SkipMetadataTag != "" && truthy(req.Metadata[sc.cfg.SkipMetadataTag]) {
		return sc.finish(sc.skipped(req, "metadata-skip-tag")), nil
	}

	// The caller declared size gates the ceiling, the stream observed
	// count is what ends up in bytesScanned.
	if sc.cfg.MaxFileSizeBytes > 0 && req.SizeBytes > sc.cfg.MaxFileSizeBytes {
		if sc.cfg.FailOpen {
			return sc.finish(sc.skipped(req, "oversized-fail-open")), nil
		}
		return s.ScanVerdict{}, &e.StorageError{Op: "scan", Status: http.StatusUnprocessableEntity, Err: e.ErrPayloadTooLarge}
	}

	obj, err := sc.store.GetObjectStream(ctx, req.Bucket, req.Key)
	if err != nil {
		return s.ScanVerdict{}, err
	}
	defer obj.Body.Close()

	if verdict, ok := sc.cache.Get(req.Bucket, req.Key, obj.ETag); ok {
		verdict.Cached = true
		metrics.ObserveScan(string(verdict.Status), true, 0)
		return verdict, nil
	}

	verdict, err := sc.runEngine(ctx, req, obj)
	if err != nil {
		return s.ScanVerdict{}, err
	}

	sc.cache.Put(req.Bucket, req.Key, obj.ETag, verdict)
	return sc.finish(verdict), nil
}

func (sc *Scanner) runEngine(ctx context.Context, req Request, obj *s.Object) (s.ScanVerdict, error) {
	start := time.Now()
	counter := &countingReader{r: obj.Body}

	scanCtx, cancel := context.WithTimeout(ctx, sc.cfg.Timeout)
	defer cancel()

	done := make(chan engineOutcome, 1)
	go func() {
		result, err := sc.engine.Scan(scanCtx, counter)
		done <- engineOutcome{result: result, err: err}
	}()

	// Race the engine against the timer. Exactly one branch resolves;
	// on timeout the stream is destroyed so the engine side reader
	// unblocks and the descriptor is released.
	select {
	case outcome := <-done:
		if outcome.err != nil {
			return sc.scanFailure(req, counter.count(), time.Since(start), outcome.err)
		}
		return sc.conclude(req, outcome.result, counter.count(), time.Since(start)), nil
	case <-scanCtx.Done():
		_ = obj.Body.Close()
		return sc.scanFailure(req, counter.count(), time.Since(start), e.ErrScanTimeout)
	}
}

func (sc *Scanner) conclude(req Request, result EngineResult, bytesScanned int64, elapsed time.Duration) s.ScanVerdict {
	verdict := s.ScanVerdict{
		Status:          s.ScanStatusClean,
		Engine:          sc.engine.Name(),
		BytesScanned:    bytesScanned,
		DurationSeconds: elapsed.Seconds(),
		ScannedAt:       time.Now().UTC(),
		Bucket:          req.Bucket,
		Key:             req.Key,
	}

	if result.Infected {
		verdict.Status = s.ScanStatusInfected
		verdict.Signature = NormalizeSignature(result.Signature)
		log.Warn().Str("bucket", req.Bucket).Str("key", req.Key).
			Str("signature", verdict.Signature).Msg("Infected object detected")
		sc.quarantine(req)
	}

	return verdict
}

// scanFailure applies the fail-open/fail-closed policy to a timeout,
// stream error or unreachable engine.
func (sc *Scanner) scanFailure(req Request, bytesScanned int64, elapsed time.Duration, cause error) (s.ScanVerdict, error) {
	if sc.cfg.FailOpen {
		log.Warn().Err(cause).Str("bucket", req.Bucket).Str("key", req.Key).
			Msg("Scan failed, letting object through (fail-open)")
		verdict := sc.skipped(req, "scanner-unavailable")
		verdict.BytesScanned = bytesScanned
		verdict.DurationSeconds = elapsed.Seconds()
		return verdict, nil
	}

	log.Error().Err(cause).Str("bucket", req.Bucket).Str("key", req.Key).Msg("Scan failed (fail-closed)")
	sentinel := e.ErrScanFailed
	if errors.Is(cause, e.ErrScanTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		sentinel = e.ErrScanTimeout
	}
	return s.ScanVerdict{}, &e.StorageError{Op: "scan", Status: http.StatusBadGateway, Err: sentinel}
}

// quarantine moves an infected object out of normal read/write paths.
// Best effort, an unreachable quarantine bucket never masks the verdict.
func (sc *Scanner) quarantine(req Request) {
	if sc.cfg.QuarantineBucket == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sc.store.CopyObject(ctx, req.Bucket, req.Key, sc.cfg.QuarantineBucket, req.Key, ""); err != nil {
		log.Error().Err(err).Str("bucket", req.Bucket).Str("key", req.Key).Msg("Failed to quarantine object")
		return
	}
	if err := sc.store.DeleteObject(ctx, req.Bucket, req.Key); err != nil {
		log.Error().Err(err).Str("bucket", req.Bucket).Str("key", req.Key).Msg("Failed to delete infected object")
	}
}

func (sc *Scanner) skipped(req Request, reason string) s.ScanVerdict {
	return s.ScanVerdict{
		Status:    s.ScanStatusSkipped,
		Engine:    sc.engine.Name(),
		Reason:    reason,
		ScannedAt: time.Now().UTC(),
		Bucket:    req.Bucket,
		Key:       req.Key,
	}
}

// finish records and observes a terminal verdict.
func (sc *Scanner) finish(verdict s.ScanVerdict) s.ScanVerdict {
	metrics.ObserveScan(string(verdict.Status), false, verdict.DurationSeconds)

	if sc.recorder != nil {
		if err := sc.recorder.RecordVerdict(verdict); err != nil {
			log.Error().Err(err).Str("bucket", verdict.Bucket).Str("key", verdict.Key).Msg("Failed to record scan verdict")
		}
	}
	return verdict
}

// NormalizeSignature strips the clamd transport framing from a
// signature, e.g. "stream: Eicar-Test-Signature FOUND" becomes
// "Eicar-Test-Signature".
func NormalizeSignature(raw string) string {
	signature := strings.TrimSpace(raw)
	if idx := strings.Index(signature, ":"); idx != -1 {
		signature = signature[idx+1:]
	}
	signature = strings.TrimSuffix(strings.TrimSpace(signature), "FOUND")
	return strings.TrimSpace(signature)
}

func truthy(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// countingReader tracks bytes observed on the wire. The count is read
// from the timeout branch while the engine goroutine may still be
// mid-read, hence the atomic.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) count() int64 {
	return c.n.Load()
}
