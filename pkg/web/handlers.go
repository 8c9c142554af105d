package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/campushq/asset-server/pkg/database"
	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/s"
	"github.com/campushq/asset-server/pkg/scan"
	"github.com/campushq/asset-server/pkg/storage"
)

type Handlers struct {
	Storage        storage.Backend
	Scanner        *scan.Scanner
	Database       database.Backend
	MaxUploadBytes int64
	Debug          bool
}

// RetryHints tell upload clients how to back off when a presigned write
// fails transiently.
type RetryHints struct {
	RecommendedDelayMs int     `json:"recommendedDelayMs"`
	MaxAttempts        int     `json:"maxAttempts"`
	BackoffMultiplier  float64 `json:"backoffMultiplier"`
	JitterRatio        float64 `json:"jitterRatio"`
}

var defaultRetryHints = RetryHints{
	RecommendedDelayMs: 1000,
	MaxAttempts:        5,
	BackoffMultiplier:  2.0,
	JitterRatio:        0.2,
}

type uploadResponse struct {
	Bucket    string            `json:"bucket"`
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt string            `json:"expiresAt"`
	Token     string            `json:"token,omitempty"`
	Retry     RetryHints        `json:"retry"`
}

func renderError(c *gin.Context, err error, fallback string) {
	status := e.StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(fallback)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handlers) CreateUpload(c *gin.Context) {
	var json s.UploadURLRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if json.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}

	descriptor, err := h.Storage.CreateUploadURL(c.Request.Context(), json)
	if err != nil {
		renderError(c, err, "failed to create upload url")
		return
	}

	headers := map[string]string{}
	if json.ContentType != "" {
		headers["Content-Type"] = json.ContentType
	}

	c.JSON(http.StatusCreated, uploadResponse{
		Bucket:    descriptor.Location.Bucket,
		Key:       descriptor.Location.Key,
		URL:       descriptor.URL,
		Method:    descriptor.Method,
		Headers:   headers,
		ExpiresAt: descriptor.ExpiresAt.Format(time.RFC3339),
		Token:     descriptor.Token,
		Retry:     defaultRetryHints,
	})
}

type completeUploadResponse struct {
	s.PutResult
	ContentType string `json:"contentType"`
}

// CompleteDirectUpload finishes the local backend's two phase flow. The
// raw request body is the object content, the token is single use.
func (h *Handlers) CompleteDirectUpload(c *gin.Context) {
	uploader, ok := h.Storage.(storage.DirectUploader)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "direct uploads not supported by this storage backend"})
		return
	}

	token := c.Param("token")
	contentType := c.ContentType()

	body := c.Request.Body
	if h.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.MaxUploadBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}

	result, err := uploader.CompleteDirectUpload(c.Request.Context(), token, data, contentType)
	if err != nil {
		renderError(c, err, "failed to complete upload")
		return
	}

	c.JSON(http.StatusCreated, completeUploadResponse{PutResult: result, ContentType: contentType})
}

type downloadRequest struct {
	Key        string       `json:"key"`
	Bucket     string       `json:"bucket,omitempty"`
	Visibility s.Visibility `json:"visibility,omitempty"`
}

func (h *Handlers) CreateDownload(c *gin.Context) {
	var json downloadRequest
	if err := c.ShouldBindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if json.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}

	descriptor, err := h.Storage.CreateDownloadURL(c.Request.Context(), json.Key, json.Bucket, json.Visibility)
	if err != nil {
		renderError(c, err, "failed to create download url")
		return
	}

	c.JSON(http.StatusCreated, descriptor)
}

func (h *Handlers) ScanObject(c *gin.Context) {
	var json scan.Request
	if err := c.ShouldBindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if json.Bucket == "" || json.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing bucket or key"})
		return
	}

	verdict, err := h.Scanner.ScanObject(c.Request.Context(), json)
	if err != nil {
		renderError(c, err, "failed to scan object")
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// ScanHistory exposes the verdict audit log for compliance tooling.
func (h *Handlers) ScanHistory(c *gin.Context) {
	bucket := c.Query("bucket")
	key := c.Query("key")
	if bucket == "" || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing bucket or key query parameter"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}

	verdicts, err := h.Database.RecentVerdicts(bucket, key, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list scan verdicts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scan verdicts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"verdicts": verdicts})
}

// localFiles is the capability the local backend exposes for serving
// object bytes straight off disk.
type localFiles interface {
	ObjectFilePath(bucket, key string) (string, error)
}

// ServeLocalObject backs the download URLs handed out by the local
// storage backend. Cloud backends hand out presigned URLs instead and
// never route object bytes through this server.
func (h *Handlers) ServeLocalObject(c *gin.Context) {
	files, ok := h.Storage.(localFiles)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	bucket := c.Param("bucket")
	key := c.Param("key")

	path, err := files.ObjectFilePath(bucket, key)
	if err != nil {
		if errors.Is(err, e.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		} else {
			log.Error().Err(err).Msg("Failed to get file")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get file"})
		}
		return
	}

	c.File(path)
}
