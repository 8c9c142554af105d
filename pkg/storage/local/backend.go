package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	p "path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/s"
	"github.com/campushq/asset-server/pkg/utils"
)

const metadataSuffix = ".meta.json"

// Backend emulates the cloud object store contract against a local
// directory tree. Presigned URLs become single use upload tokens
// completed through CompleteDirectUpload, downloads are served straight
// off disk by the web layer.
type Backend struct {
	Sessions *SessionRegistry

	root string
	cfg  s.StorageConfig
}

// sidecar is the per object metadata record persisted next to the
// object file. Checksum doubles as the etag so overwrites always change
// object identity.
type sidecar struct {
	ContentType string            `json:"contentType"`
	Checksum    string            `json:"checksum"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func New(cfg s.StorageConfig) (*Backend, error) {
	if cfg.LocalRoot == "" {
		return nil, errors.New("local storage root is required")
	}

	// Enable uuid rand pool for better performance
	uuid.EnableRandPool()

	backend := Backend{
		Sessions: NewSessionRegistry(),
		root:     filepath.Clean(cfg.LocalRoot),
		cfg:      cfg,
	}
	return &backend, nil
}

func (b *Backend) Setup() error {
	return os.MkdirAll(b.root, 0o755)
}

func (b *Backend) Type() string {
	return "local"
}

func (b *Backend) objectPath(bucket, key string) (string, error) {
	path := filepath.Join(b.root, bucket, filepath.FromSlash(utils.NormalizeKey(key)))
	if !strings.HasPrefix(path, b.root+string(os.PathSeparator)) {
		return "", &e.StorageError{Op: "resolve-path", Status: http.StatusNotFound, Err: e.ErrObjectNotFound}
	}
	return path, nil
}

func (b *Backend) publicBase() string {
	if b.cfg.LocalPublicURL != "" {
		return strings.TrimSuffix(b.cfg.LocalPublicURL, "/")
	}
	return "http://localhost:8080"
}

func (b *Backend) CreateUploadURL(ctx context.Context, req s.UploadURLRequest) (s.UploadDescriptor, error) {
	if b.cfg.MaxUploadBytes > 0 && req.ContentLength > b.cfg.MaxUploadBytes {
		return s.UploadDescriptor{}, &e.StorageError{Op: "create-upload", Status: http.StatusRequestEntityTooLarge, Err: e.ErrPayloadTooLarge}
	}

	location := s.Location{
		Bucket: b.cfg.BucketFor(req.Bucket, req.Visibility),
		Key:    utils.NormalizeKey(req.Key),
	}

	session := s.UploadSession{
		Token:         uuid.NewString(),
		Location:      location,
		ContentType:   req.ContentType,
		ContentLength: req.ContentLength,
		Visibility:    req.Visibility,
		ExpiresAt:     time.Now().UTC().Add(b.cfg.UploadTTL),
	}
	b.Sessions.Put(session)

	return s.UploadDescriptor{
		Location:  location,
		URL:       b.publicBase() + "/v1/uploads/" + session.Token,
		Method:    http.MethodPut,
		ExpiresAt: session.ExpiresAt,
		Token:     session.Token,
	}, nil
}

func (b *Backend) CompleteDirectUpload(ctx context.Context, token string, body []byte, contentType string) (s.PutResult, error) {
	session, err := b.Sessions.Consume(token)
	if err != nil {
		return s.PutResult{}, err
	}

	if contentType == "" {
		contentType = session.ContentType
	}

	return b.UploadBuffer(ctx, session.Location.Bucket, session.Location.Key, body, s.PutOptions{
		ContentType: contentType,
		Visibility:  session.Visibility,
	})
}

func (b *Backend) CreateDownloadURL(ctx context.Context, key, bucket string, visibility s.Visibility) (s.UploadDescriptor, error) {
	location := s.Location{
		Bucket: b.cfg.BucketFor(bucket, visibility),
		Key:    utils.NormalizeKey(key),
	}

	return s.UploadDescriptor{
		Location:  location,
		URL:       b.publicBase() + "/local/" + location.Bucket + "/" + location.Key,
		Method:    http.MethodGet,
		ExpiresAt: time.Now().UTC().Add(b.cfg.DownloadTTL),
	}, nil
}

func (b *Backend) UploadBuffer(ctx context.Context, bucket, key string, body []byte, opts s.PutOptions) (s.PutResult, error) {
	return b.UploadStream(ctx, bucket, key, bytes.NewReader(body), opts)
}

func (b *Backend) UploadStream(ctx context.Context, bucket, key string, r io.Reader, opts s.PutOptions) (s.PutResult, error) {
	bucket = b.cfg.BucketFor(bucket, opts.Visibility)
	key = utils.NormalizeKey(key)

	path, err := b.objectPath(bucket, key)
	if err != nil {
		return s.PutResult{}, err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}

	fp, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}

	hasher := sha256.New()
	writtenBytes, err := io.Copy(io.MultiWriter(fp, hasher), r)
	_ = fp.Close()

	if err != nil {
		_ = os.Remove(path)
		return s.PutResult{}, e.NewStorageError("upload", err)
	}

	meta := sidecar{
		ContentType: opts.ContentType,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		Metadata:    opts.Metadata,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}
	if err = os.WriteFile(path+metadataSuffix, metaBytes, 0o644); err != nil {
		return s.PutResult{}, e.NewStorageError("upload", err)
	}

	return s.PutResult{
		Bucket:   bucket,
		Key:      key,
		Size:     writtenBytes,
		Checksum: meta.Checksum,
	}, nil
}

func (b *Backend) readSidecar(path string) sidecar {
	var meta sidecar
	data, err := os.ReadFile(path + metadataSuffix)
	if err != nil {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}

func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (s.ObjectMetadata, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return s.ObjectMetadata{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return s.ObjectMetadata{}, wrapFsErr("head", err)
	}
	meta := b.readSidecar(path)

	return s.ObjectMetadata{
		Size:        info.Size(),
		ContentType: meta.ContentType,
		ETag:        meta.Checksum,
		Metadata:    meta.Metadata,
	}, nil
}

func (b *Backend) DeleteObject(ctx context.Context, bucket, key string) error {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return e.NewStorageError("delete", err)
	}
	_ = os.Remove(path + metadataSuffix)
	return nil
}

func (b *Backend) DownloadToBuffer(ctx context.Context, bucket, key string) ([]byte, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapFsErr("download", err)
	}
	return data, nil
}

func (b *Backend) GetObjectStream(ctx context.Context, bucket, key string) (*s.Object, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	fp, err := os.Open(path)
	if err != nil {
		return nil, wrapFsErr("get", err)
	}
	info, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return nil, wrapFsErr("get", err)
	}
	meta := b.readSidecar(path)

	return &s.Object{
		Body:          fp,
		ContentLength: info.Size(),
		ContentType:   meta.ContentType,
		ETag:          meta.Checksum,
		Metadata:      meta.Metadata,
	}, nil
}

func (b *Backend) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, visibility s.Visibility) error {
	srcPath, err := b.objectPath(srcBucket, srcKey)
	if err != nil {
		return err
	}

	meta := b.readSidecar(srcPath)
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return wrapFsErr("copy", err)
	}

	_, err = b.UploadBuffer(ctx, dstBucket, dstKey, data, s.PutOptions{
		ContentType: meta.ContentType,
		Visibility:  visibility,
		Metadata:    meta.Metadata,
	})
	return err
}

func (b *Backend) PublicURL(bucket, key string) string {
	key = utils.NormalizeKey(key)
	if b.cfg.CDNURL != "" {
		return strings.TrimSuffix(b.cfg.CDNURL, "/") + "/" + key
	}
	return b.publicBase() + p.Join("/local", bucket, key)
}

// ObjectFilePath resolves a key to an on disk path for the web layer to
// serve directly. Path escapes resolve to not found.
func (b *Backend) ObjectFilePath(bucket, key string) (string, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return "", err
	}
	if _, err = os.Stat(path); err != nil {
		return "", wrapFsErr("serve", err)
	}
	return path, nil
}

func wrapFsErr(op string, err error) error {
	if os.IsNotExist(err) {
		return &e.StorageError{Op: op, Status: http.StatusNotFound, Err: e.ErrObjectNotFound}
	}
	return e.NewStorageError(op, err)
}
