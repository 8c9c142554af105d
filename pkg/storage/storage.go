package storage

import (
	"context"
	"errors"
	"io"

	awss3 "github.com/campushq/asset-server/pkg/storage/aws-s3"
	"github.com/campushq/asset-server/pkg/storage/azureblob"
	"github.com/campushq/asset-server/pkg/storage/local"

	"github.com/campushq/asset-server/pkg/s"
)

// Backend is the object storage contract all application code is
// written against. One implementation is selected at startup and passed
// to consumers explicitly.
type Backend interface {
	Setup() error
	Type() string
	CreateUploadURL(ctx context.Context, req s.UploadURLRequest) (s.UploadDescriptor, error)
	CreateDownloadURL(ctx context.Context, key, bucket string, visibility s.Visibility) (s.UploadDescriptor, error)
	UploadBuffer(ctx context.Context, bucket, key string, body []byte, opts s.PutOptions) (s.PutResult, error)
	UploadStream(ctx context.Context, bucket, key string, r io.Reader, opts s.PutOptions) (s.PutResult, error)
	HeadObject(ctx context.Context, bucket, key string) (s.ObjectMetadata, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	DownloadToBuffer(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectStream(ctx context.Context, bucket, key string) (*s.Object, error)
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, visibility s.Visibility) error
	PublicURL(bucket, key string) string
}

// DirectUploader is the extra capability of backends that accept upload
// bytes through a completion call instead of a presigned URL. The web
// layer asserts for it before wiring the completion endpoint.
type DirectUploader interface {
	CompleteDirectUpload(ctx context.Context, token string, body []byte, contentType string) (s.PutResult, error)
}

func GetStorageBackend(backend string, cfg s.StorageConfig) (Backend, error) {
	var b Backend
	var err error

	switch backend {
	case "local":
		b, err = local.New(cfg)
	case "s3":
		b, err = awss3.New(cfg)
	case "azureblob":
		b, err = azureblob.New(cfg)
	default:
		return nil, errors.New("invalid storage backend")
	}

	if err != nil {
		return nil, err
	}

	if err = b.Setup(); err != nil {
		return nil, err
	}

	return b, nil
}
