package azureblob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"

	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/s"
	"github.com/campushq/asset-server/pkg/utils"
)

// Backend stores objects as block blobs, one container per bucket.
// Presigned URLs are SAS tokens minted from the shared key credential.
type Backend struct {
	Service azblob.ServiceClient

	account             string
	sharedKeyCredential *azblob.SharedKeyCredential
	cfg                 s.StorageConfig
}

func New(cfg s.StorageConfig) (*Backend, error) {
	if cfg.AccountID == "" || cfg.SecretAccessKey == "" {
		return &Backend{}, errors.New("azure account name and key are required")
	}

	creds, err := azblob.NewSharedKeyCredential(cfg.AccountID, cfg.SecretAccessKey)
	if err != nil {
		return &Backend{}, err
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountID)
	service, err := azblob.NewServiceClientWithSharedKey(serviceURL, creds, &azblob.ClientOptions{})
	if err != nil {
		return &Backend{}, err
	}

	// Enable uuid rand pool for better performance
	uuid.EnableRandPool()

	backend := Backend{
		Service:             service,
		account:             cfg.AccountID,
		sharedKeyCredential: creds,
		cfg:                 cfg,
	}
	return &backend, nil
}

func (b *Backend) Setup() error {
	if b.cfg.UploadsBucket == "" {
		return errors.New("uploads bucket is required")
	}
	return nil
}

func (b *Backend) Type() string {
	return "azureblob"
}

func (b *Backend) blobClient(bucket, key string) azblob.BlockBlobClient {
	container := b.Service.NewContainerClient(bucket)
	return container.NewBlockBlobClient(utils.NormalizeKey(key))
}

func (b *Backend) sasURL(bucket, key string, permissions azblob.BlobSASPermissions, ttl time.Duration) (string, time.Time, error) {
	blobClient := b.blobClient(bucket, key)
	sharedKeyClient, err := azblob.NewBlobClientWithSharedKey(blobClient.URL(), b.sharedKeyCredential, &azblob.ClientOptions{})
	if err != nil {
		return "", time.Time{}, err
	}

	// Backdate the start a little to ride out clock skew.
	start := time.Now().Add(-1 * time.Minute)
	expire := time.Now().UTC().Add(ttl)

	sas, err := sharedKeyClient.GetSASToken(permissions, start, expire)
	if err != nil {
		return "", time.Time{}, err
	}

	return blobClient.URL() + "?" + sas.Encode(), expire, nil
}

func (b *Backend) CreateUploadURL(ctx context.Context, req s.UploadURLRequest) (s.UploadDescriptor, error) {
	if b.cfg.MaxUploadBytes > 0 && req.ContentLength > b.cfg.MaxUploadBytes {
		return s.UploadDescriptor{}, &e.StorageError{Op: "presign-upload", Status: http.StatusRequestEntityTooLarge, Err: e.ErrPayloadTooLarge}
	}

	key := utils.NormalizeKey(req.Key)
	bucket := b.cfg.BucketFor(req.Bucket, req.Visibility)

	sasURL, expire, err := b.sasURL(bucket, key, azblob.BlobSASPermissions{Create: true, Write: true}, b.cfg.UploadTTL)
	if err != nil {
		return s.UploadDescriptor{}, e.NewStorageError("presign-upload", err)
	}

	return s.UploadDescriptor{
		Location:  s.Location{Bucket: bucket, Key: key},
		URL:       sasURL,
		Method:    http.MethodPut,
		ExpiresAt: expire,
	}, nil
}

func (b *Backend) CreateDownloadURL(ctx context.Context, key, bucket string, visibility s.Visibility) (s.UploadDescriptor, error) {
	key = utils.NormalizeKey(key)
	bucket = b.cfg.BucketFor(bucket, visibility)

	sasURL, expire, err := b.sasURL(bucket, key, azblob.BlobSASPermissions{Read: true}, b.cfg.DownloadTTL)
	if err != nil {
		return s.UploadDescriptor{}, e.NewStorageError("presign-download", err)
	}

	return s.UploadDescriptor{
		Location:  s.Location{Bucket: bucket, Key: key},
		URL:       sasURL,
		Method:    http.MethodGet,
		ExpiresAt: expire,
	}, nil
}

func (b *Backend) UploadBuffer(ctx context.Context, bucket, key string, body []byte, opts s.PutOptions) (s.PutResult, error) {
	return b.UploadStream(ctx, bucket, key, bytes.NewReader(body), opts)
}

func (b *Backend) UploadStream(ctx context.Context, bucket, key string, r io.Reader, opts s.PutOptions) (s.PutResult, error) {
	key = utils.NormalizeKey(key)
	bucket = b.cfg.BucketFor(bucket, opts.Visibility)

	// Upload needs an io.ReadSeekCloser but we only have io.Reader, so
	// spool through a temp file.
	f, err := os.CreateTemp(os.TempDir(), "blob-*")
	if err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}
	defer func() {
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
	}()

	hasher := sha256.New()
	writtenBytes, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}

	options := azblob.UploadBlockBlobOptions{}
	if opts.ContentType != "" {
		contentType := opts.ContentType
		options.HTTPHeaders = &azblob.BlobHTTPHeaders{BlobContentType: &contentType}
	}
	if len(opts.Metadata) > 0 {
		options.Metadata = opts.Metadata
	}

	blobClient := b.blobClient(bucket, key)
	if _, err = blobClient.Upload(ctx, f, &options); err != nil {
		return s.PutResult{}, wrapErr("upload", err)
	}

	return s.PutResult{
		Bucket:   bucket,
		Key:      key,
		Size:     writtenBytes,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (s.ObjectMetadata, error) {
	blobClient := b.blobClient(bucket, key)
	resp, err := blobClient.GetProperties(ctx, &azblob.GetBlobPropertiesOptions{})
	if err != nil {
		return s.ObjectMetadata{}, wrapErr("head", err)
	}

	return s.ObjectMetadata{
		Size:        derefInt64(resp.ContentLength),
		ContentType: derefString(resp.ContentType),
		ETag:        cleanETag(derefString(resp.ETag)),
		Metadata:    resp.Metadata,
	}, nil
}

func (b *Backend) DeleteObject(ctx context.Context, bucket, key string) error {
	blobClient := b.blobClient(bucket, key)
	if _, err := blobClient.Delete(ctx, &azblob.DeleteBlobOptions{}); err != nil && !isNotFound(err) {
		return wrapErr("delete", err)
	}
	return nil
}

func (b *Backend) DownloadToBuffer(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := b.GetObjectStream(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, e.NewStorageError("download", err)
	}
	return data, nil
}

func (b *Backend) GetObjectStream(ctx context.Context, bucket, key string) (*s.Object, error) {
	blobClient := b.blobClient(bucket, key)
	resp, err := blobClient.Download(ctx, &azblob.DownloadBlobOptions{})
	if err != nil {
		return nil, wrapErr("get", err)
	}

	return &s.Object{
		Body:          resp.Body(azblob.RetryReaderOptions{}),
		ContentLength: derefInt64(resp.ContentLength),
		ContentType:   derefString(resp.ContentType),
		ETag:          cleanETag(derefString(resp.ETag)),
		Metadata:      resp.Metadata,
	}, nil
}

func (b *Backend) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, visibility s.Visibility) error {
	dstBucket = b.cfg.BucketFor(dstBucket, visibility)

	// Server side copy needs a readable source URL.
	srcURL, _, err := b.sasURL(srcBucket, srcKey, azblob.BlobSASPermissions{Read: true}, 5*time.Minute)
	if err != nil {
		return e.NewStorageError("copy", err)
	}

	blobClient := b.blobClient(dstBucket, dstKey)
	if _, err = blobClient.StartCopyFromURL(ctx, srcURL, &azblob.StartCopyBlobOptions{}); err != nil {
		return wrapErr("copy", err)
	}
	return nil
}

func (b *Backend) PublicURL(bucket, key string) string {
	key = utils.NormalizeKey(key)
	if b.cfg.CDNURL != "" {
		return strings.TrimSuffix(b.cfg.CDNURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", b.account, bucket, key)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNotFound(err error) bool {
	var stgErr *azblob.StorageError
	if errors.As(err, &stgErr) {
		code := stgErr.ErrorCode
		return code == azblob.StorageErrorCodeBlobNotFound || code == azblob.StorageErrorCodeContainerNotFound
	}
	return false
}

func wrapErr(op string, err error) error {
	if isNotFound(err) {
		return &e.StorageError{Op: op, Status: http.StatusNotFound, Err: e.ErrObjectNotFound}
	}
	return e.NewStorageError(op, err)
}
