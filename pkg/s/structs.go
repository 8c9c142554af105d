package s

import (
	"io"
	"time"
)

// Visibility classifies an object and selects its default bucket.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityWorkspace Visibility = "workspace"
	VisibilityPrivate   Visibility = "private"
	VisibilityUpload    Visibility = "upload"
)

// Location uniquely addresses an object. Key is always normalized, no
// leading path separators.
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// UploadDescriptor is a transient instruction for writing bytes out of
// band. Token is only populated by the local backend's two phase flow.
type UploadDescriptor struct {
	Location  Location  `json:"location"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
	Token     string    `json:"token,omitempty"`
}

// UploadSession is owned by the local backend's session registry. It is
// consumed exactly once and deleted afterwards.
type UploadSession struct {
	Token         string
	Location      Location
	ContentType   string
	ContentLength int64
	Visibility    Visibility
	ExpiresAt     time.Time
}

type ObjectMetadata struct {
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PutResult describes a completed write. Checksum is a hex encoded
// SHA-256 over the bytes actually written.
type PutResult struct {
	Bucket   string `json:"storageBucket"`
	Key      string `json:"storageKey"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// UploadURLRequest asks a backend for somewhere to write bytes.
// Bucket, when set, always overrides the visibility derived default.
type UploadURLRequest struct {
	Key           string     `json:"key"`
	ContentType   string     `json:"contentType"`
	ContentLength int64      `json:"contentLength"`
	Visibility    Visibility `json:"visibility"`
	Bucket        string     `json:"bucket,omitempty"`
}

type PutOptions struct {
	ContentType string
	Visibility  Visibility
	Metadata    map[string]string
}

// Object couples a byte stream with the metadata the scanner depends
// on. Callers own Body and must close it.
type Object struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	ETag          string
	Metadata      map[string]string
}

// StorageConfig is shared by every storage backend implementation.
type StorageConfig struct {
	AccountID       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	PublicBucket     string
	PrivateBucket    string
	UploadsBucket    string
	QuarantineBucket string

	UploadTTL      time.Duration
	DownloadTTL    time.Duration
	MaxUploadBytes int64

	CDNURL string

	// Local backend settings.
	LocalRoot      string
	LocalPublicURL string
}

// BucketFor resolves the target bucket. An explicit bucket always wins,
// otherwise the visibility table applies.
func (c StorageConfig) BucketFor(explicit string, visibility Visibility) string {
	if explicit != "" {
		return explicit
	}

	switch visibility {
	case VisibilityPublic:
		return c.PublicBucket
	case VisibilityWorkspace, VisibilityPrivate:
		return c.PrivateBucket
	default:
		return c.UploadsBucket
	}
}

type ScanStatus string

const (
	ScanStatusClean    ScanStatus = "clean"
	ScanStatusInfected ScanStatus = "infected"
	ScanStatusSkipped  ScanStatus = "skipped"
	ScanStatusError    ScanStatus = "error"
)

type ScanVerdict struct {
	Status          ScanStatus `json:"status"`
	Engine          string     `json:"engine"`
	Signature       string     `json:"signature,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	BytesScanned    int64      `json:"bytesScanned"`
	DurationSeconds float64    `json:"durationSeconds"`
	ScannedAt       time.Time  `json:"scannedAt"`
	Bucket          string     `json:"bucket"`
	Key             string     `json:"key"`
	Cached          bool       `json:"cached"`
}
