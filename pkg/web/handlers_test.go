package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campushq/asset-server/pkg/s"
	"github.com/campushq/asset-server/pkg/scan"
	"github.com/campushq/asset-server/pkg/storage/local"
)

type stubEngine struct {
	result scan.EngineResult
}

func (e *stubEngine) Name() string { return "stub" }
func (e *stubEngine) Ping() error  { return nil }

func (e *stubEngine) Scan(ctx context.Context, r io.Reader) (scan.EngineResult, error) {
	_, err := io.ReadAll(r)
	return e.result, err
}

func testRouter(t *testing.T, engine scan.Engine) (*gin.Engine, *local.Backend) {
	t.Helper()

	backend, err := local.New(s.StorageConfig{
		PublicBucket:   "public-assets",
		PrivateBucket:  "workspace-assets",
		UploadsBucket:  "uploads",
		UploadTTL:      15 * time.Minute,
		DownloadTTL:    time.Hour,
		MaxUploadBytes: 1 << 20,
		LocalRoot:      t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = backend.Setup(); err != nil {
		t.Fatal(err)
	}

	scanner := scan.NewScanner(scan.Config{
		Enabled:          true,
		Timeout:          5 * time.Second,
		MaxFileSizeBytes: 1 << 20,
		CacheTTL:         time.Minute,
	}, engine, backend, nil)

	handlers := Handlers{
		Storage:        backend,
		Scanner:        scanner,
		MaxUploadBytes: 1 << 20,
		Debug:          true,
	}

	// Routes without the auth middleware, token validation is covered
	// by its own tests against a fake issuer.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.POST("/v1/uploads", handlers.CreateUpload)
	router.PUT("/v1/uploads/:token", handlers.CompleteDirectUpload)
	router.POST("/v1/downloads", handlers.CreateDownload)
	router.POST("/v1/scans", handlers.ScanObject)
	router.GET("/local/:bucket/*key", handlers.ServeLocalObject)

	return router, backend
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadFlow(t *testing.T) {
	router, _ := testRouter(t, &stubEngine{})

	w := doJSON(router, http.MethodPost, "/v1/uploads", s.UploadURLRequest{
		Key:           "uploads/ebook/test.epub",
		ContentType:   "application/epub+zip",
		ContentLength: 10,
		Visibility:    s.VisibilityUpload,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Bucket string     `json:"bucket"`
		Key    string     `json:"key"`
		URL    string     `json:"url"`
		Method string     `json:"method"`
		Token  string     `json:"token"`
		Retry  RetryHints `json:"retry"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("Expected a token from the local backend")
	}
	if resp.Bucket != "uploads" || resp.Method != http.MethodPut {
		t.Errorf("Unexpected descriptor %+v", resp)
	}
	if resp.Retry.MaxAttempts == 0 || resp.Retry.BackoffMultiplier == 0 {
		t.Errorf("Expected retry hints, got %+v", resp.Retry)
	}

	// Complete the upload with the raw body.
	content := []byte("epub bytes")
	req := httptest.NewRequest(http.MethodPut, "/v1/uploads/"+resp.Token, bytes.NewReader(content))
	req.Header.Set("Content-Type", "application/epub+zip")
	completed := httptest.NewRecorder()
	router.ServeHTTP(completed, req)

	if completed.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", completed.Code, completed.Body.String())
	}
	var putResp struct {
		StorageBucket string `json:"storageBucket"`
		StorageKey    string `json:"storageKey"`
		Checksum      string `json:"checksum"`
		Size          int64  `json:"size"`
	}
	if err := json.Unmarshal(completed.Body.Bytes(), &putResp); err != nil {
		t.Fatal(err)
	}
	if putResp.Size != int64(len(content)) || putResp.Checksum == "" {
		t.Errorf("Unexpected completion response %+v", putResp)
	}

	// Replaying the token is rejected with 410.
	replay := httptest.NewRecorder()
	router.ServeHTTP(replay, httptest.NewRequest(http.MethodPut, "/v1/uploads/"+resp.Token, bytes.NewReader(content)))
	if replay.Code != http.StatusGone {
		t.Errorf("Expected 410 on token replay, got %d", replay.Code)
	}

	// And the stored object is served back.
	served := httptest.NewRecorder()
	router.ServeHTTP(served, httptest.NewRequest(http.MethodGet, "/local/"+putResp.StorageBucket+"/"+putResp.StorageKey, nil))
	if served.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", served.Code)
	}
	if !bytes.Equal(served.Body.Bytes(), content) {
		t.Error("Served bytes differ from uploaded bytes")
	}
}

func TestCreateUploadValidation(t *testing.T) {
	router, _ := testRouter(t, &stubEngine{})

	w := doJSON(router, http.MethodPost, "/v1/uploads", map[string]interface{}{"contentType": "text/plain"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing key, got %d", w.Code)
	}

	w = doJSON(router, http.MethodPost, "/v1/uploads", s.UploadURLRequest{
		Key:           "too-big.iso",
		ContentLength: 10 << 20,
		Visibility:    s.VisibilityUpload,
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413 for oversized upload, got %d", w.Code)
	}
}

func TestCreateDownload(t *testing.T) {
	router, backend := testRouter(t, &stubEngine{})

	if _, err := backend.UploadBuffer(context.Background(), "uploads", "file.txt", []byte("hello"), s.PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(router, http.MethodPost, "/v1/downloads", map[string]string{"key": "file.txt", "bucket": "uploads"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var descriptor s.UploadDescriptor
	if err := json.Unmarshal(w.Body.Bytes(), &descriptor); err != nil {
		t.Fatal(err)
	}
	if descriptor.Method != http.MethodGet || descriptor.URL == "" {
		t.Errorf("Unexpected descriptor %+v", descriptor)
	}
}

func TestScanEndpoint(t *testing.T) {
	engine := &stubEngine{result: scan.EngineResult{Infected: true, Signature: "stream: Eicar-Test-Signature FOUND"}}
	router, backend := testRouter(t, engine)

	if _, err := backend.UploadBuffer(context.Background(), "uploads", "evil.bin", []byte("X5O!P%@"), s.PutOptions{}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(router, http.MethodPost, "/v1/scans", map[string]string{"bucket": "uploads", "key": "evil.bin"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var verdict s.ScanVerdict
	if err := json.Unmarshal(w.Body.Bytes(), &verdict); err != nil {
		t.Fatal(err)
	}
	if verdict.Status != s.ScanStatusInfected || verdict.Signature != "Eicar-Test-Signature" {
		t.Errorf("Unexpected verdict %+v", verdict)
	}
}

func TestScanEndpointValidation(t *testing.T) {
	router, _ := testRouter(t, &stubEngine{})

	w := doJSON(router, http.MethodPost, "/v1/scans", map[string]string{"bucket": "uploads"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing key, got %d", w.Code)
	}
}

func TestServeLocalObjectNotFound(t *testing.T) {
	router, _ := testRouter(t, &stubEngine{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/local/uploads/missing.bin", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
