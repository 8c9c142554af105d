package awss3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/s"
	"github.com/campushq/asset-server/pkg/utils"
)

type Backend struct {
	Session *session.Session
	Client  *s3.S3

	cfg s.StorageConfig
}

func New(cfg s.StorageConfig) (*Backend, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsConfig := aws.Config{Region: aws.String(region)}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		// Account scoped S3 compatible services need path style addressing.
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&awsConfig)
	if err != nil {
		return &Backend{}, err
	}

	backend := Backend{
		Session: sess,
		Client:  s3.New(sess),
		cfg:     cfg,
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
	return "s3"
}

func (b *Backend) CreateUploadURL(ctx context.Context, req s.UploadURLRequest) (s.UploadDescriptor, error) {
	if b.cfg.MaxUploadBytes > 0 && req.ContentLength > b.cfg.MaxUploadBytes {
		return s.UploadDescriptor{}, &e.StorageError{Op: "presign-upload", Status: http.StatusRequestEntityTooLarge, Err: e.ErrPayloadTooLarge}
	}

	key := utils.NormalizeKey(req.Key)
	bucket := b.cfg.BucketFor(req.Bucket, req.Visibility)

	putReq, _ := b.Client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.ContentLength),
	})
	putReq.SetContext(ctx)

	presignedURL, err := putReq.Presign(b.cfg.UploadTTL)
	if err != nil {
		return s.UploadDescriptor{}, wrapErr("presign-upload", err)
	}

	return s.UploadDescriptor{
		Location:  s.Location{Bucket: bucket, Key: key},
		URL:       presignedURL,
		Method:    http.MethodPut,
		ExpiresAt: nowPlus(b.cfg.UploadTTL),
	}, nil
}

func (b *Backend) CreateDownloadURL(ctx context.Context, key, bucket string, visibility s.Visibility) (s.UploadDescriptor, error) {
	key = utils.NormalizeKey(key)
	bucket = b.cfg.BucketFor(bucket, visibility)

	getReq, _ := b.Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	getReq.SetContext(ctx)

	presignedURL, err := getReq.Presign(b.cfg.DownloadTTL)
	if err != nil {
		return s.UploadDescriptor{}, wrapErr("presign-download", err)
	}

	return s.UploadDescriptor{
		Location:  s.Location{Bucket: bucket, Key: key},
		URL:       presignedURL,
		Method:    http.MethodGet,
		ExpiresAt: nowPlus(b.cfg.DownloadTTL),
	}, nil
}

func (b *Backend) UploadBuffer(ctx context.Context, bucket, key string, body []byte, opts s.PutOptions) (s.PutResult, error) {
	return b.UploadStream(ctx, bucket, key, bytes.NewReader(body), opts)
}

func (b *Backend) UploadStream(ctx context.Context, bucket, key string, r io.Reader, opts s.PutOptions) (s.PutResult, error) {
	key = utils.NormalizeKey(key)
	bucket = b.cfg.BucketFor(bucket, opts.Visibility)

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hasher)}

	uploader := s3manager.NewUploaderWithClient(b.Client)
	input := s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   counter,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = aws.StringMap(opts.Metadata)
	}

	if _, err := uploader.UploadWithContext(ctx, &input); err != nil {
		return s.PutResult{}, wrapErr("upload", err)
	}

	return s.PutResult{
		Bucket:   bucket,
		Key:      key,
		Size:     counter.n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (s.ObjectMetadata, error) {
	resp, err := b.Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(utils.NormalizeKey(key)),
	})
	if err != nil {
		return s.ObjectMetadata{}, wrapErr("head", err)
	}

	return s.ObjectMetadata{
		Size:        aws.Int64Value(resp.ContentLength),
		ContentType: aws.StringValue(resp.ContentType),
		ETag:        cleanETag(aws.StringValue(resp.ETag)),
		Metadata:    aws.StringValueMap(resp.Metadata),
	}, nil
}

func (b *Backend) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := b.Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(utils.NormalizeKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", err)
	}
	// Deletes are idempotent, already gone is fine.
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
		return nil, wrapErr("download", err)
	}
	return data, nil
}

func (b *Backend) GetObjectStream(ctx context.Context, bucket, key string) (*s.Object, error) {
	resp, err := b.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(utils.NormalizeKey(key)),
	})
	if err != nil {
		return nil, wrapErr("get", err)
	}

	return &s.Object{
		Body:          resp.Body,
		ContentLength: aws.Int64Value(resp.ContentLength),
		ContentType:   aws.StringValue(resp.ContentType),
		ETag:          cleanETag(aws.StringValue(resp.ETag)),
		Metadata:      aws.StringValueMap(resp.Metadata),
	}, nil
}

func (b *Backend) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, visibility s.Visibility) error {
	dstBucket = b.cfg.BucketFor(dstBucket, visibility)
	source := url.PathEscape(srcBucket + "/" + utils.NormalizeKey(srcKey))

	_, err := b.Client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(utils.NormalizeKey(dstKey)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return wrapErr("copy", err)
	}
	return nil
}

func (b *Backend) PublicURL(bucket, key string) string {
	key = utils.NormalizeKey(key)
	if b.cfg.CDNURL != "" {
		return strings.TrimSuffix(b.cfg.CDNURL, "/") + "/" + key
	}
	if b.cfg.Endpoint != "" {
		return strings.TrimSuffix(b.cfg.Endpoint, "/") + "/" + bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, aws.StringValue(b.Session.Config.Region), key)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func nowPlus(d time.Duration) time.Time {
	return time.Now().UTC().Add(d)
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNotFound(err error) bool {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

func wrapErr(op string, err error) error {
	if isNotFound(err) {
		return &e.StorageError{Op: op, Status: http.StatusNotFound, Err: e.ErrObjectNotFound}
	}
	return e.NewStorageError(op, err)
}
