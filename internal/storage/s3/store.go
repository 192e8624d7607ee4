// Package s3 keeps exported query results in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sqlchat/sqlchat/internal/storage"
)

// Config mirrors the SQLCHAT_EXPORT_* settings.
type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// bucketAPI is the slice of the S3 API the export store needs.
type bucketAPI interface {
	upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	head(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	bucketExists(ctx context.Context, bucket string) (bool, error)
	makeBucket(ctx context.Context, bucket, region string) error
}

// Store implements storage.ObjectStore. Every key is placed under the
// configured prefix.
type Store struct {
	api    bucketAPI
	bucket string
	region string
	prefix []string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	api, err := dialMinio(cfg)
	if err != nil {
		return nil, err
	}
	store := newStore(api, cfg)
	if cfg.AutoCreateBucket {
		if err := store.bucketReady(ctx, true); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(api bucketAPI, cfg Config) *Store {
	prefix, _ := splitKey(cfg.Prefix)
	return &Store{api: api, bucket: cfg.Bucket, region: cfg.Region, prefix: prefix}
}

func (c Config) normalized() (Config, error) {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Region = strings.TrimSpace(c.Region)
	switch {
	case c.Endpoint == "":
		return c, errors.New("export endpoint is required")
	case c.Bucket == "":
		return c, errors.New("export bucket is required")
	}
	if _, err := splitKey(c.Prefix); err != nil {
		return c, fmt.Errorf("export prefix: %w", err)
	}
	return c, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.upload(ctx, s.bucket, full, body, size, opts.ContentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload export %s: %w", full, err)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	body, err := s.api.open(ctx, s.bucket, full)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, storage.ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("open export %s: %w", full, err)
	}
	return body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.head(ctx, s.bucket, full)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	case err != nil:
		return storage.ObjectInfo{}, fmt.Errorf("stat export %s: %w", full, err)
	}
	return info, nil
}

// Check is the readiness check for the export bucket.
func (s *Store) Check(ctx context.Context) error {
	return s.bucketReady(ctx, false)
}

func (s *Store) Bucket() string {
	return s.bucket
}

// bucketReady fails when the bucket is missing, unless create is set and the
// bucket can be made.
func (s *Store) bucketReady(ctx context.Context, create bool) error {
	ok, err := s.api.bucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("export bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if !create {
		return fmt.Errorf("export bucket %s does not exist", s.bucket)
	}
	if err := s.api.makeBucket(ctx, s.bucket, s.region); err != nil {
		return fmt.Errorf("create export bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) objectKey(key string) (string, error) {
	parts, err := splitKey(key)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", errors.New("object key is required")
	}
	return strings.Join(append(append([]string(nil), s.prefix...), parts...), "/"), nil
}

// splitKey breaks a slash separated key into segments, dropping empty ones.
// Relative segments are refused so a key cannot leave the prefix.
func splitKey(key string) ([]string, error) {
	var parts []string
	for _, part := range strings.Split(strings.TrimSpace(key), "/") {
		switch part {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid object key %q", key)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func dialMinio(cfg Config) (*minioAPI, error) {
	host, secure, err := endpointHost(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioAPI{client: client}, nil
}

// endpointHost accepts either host[:port] or a full URL. An https URL turns
// TLS on regardless of useSSL.
func endpointHost(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		if raw == "" {
			return "", false, errors.New("export endpoint is required")
		}
		return raw, useSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("export endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false, fmt.Errorf("export endpoint scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("export endpoint %q has no host", raw)
	}
	return u.Host, useSSL || u.Scheme == "https", nil
}

type minioAPI struct {
	client *minio.Client
}

func (m *minioAPI) upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	out, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return storage.ObjectInfo{
		Key:          out.Key,
		Size:         out.Size,
		ETag:         out.ETag,
		ContentType:  contentType,
		LastModified: out.LastModified,
	}, nil
}

// open stats the object before returning it; GetObject itself is lazy and
// would only report a missing key on the first read.
func (m *minioAPI) open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translateErr(err)
	}
	return obj, nil
}

func (m *minioAPI) head(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	st, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return storage.ObjectInfo{
		Key:          st.Key,
		Size:         st.Size,
		ETag:         st.ETag,
		ContentType:  st.ContentType,
		LastModified: st.LastModified,
	}, nil
}

func (m *minioAPI) bucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := m.client.BucketExists(ctx, bucket)
	return ok, translateErr(err)
}

func (m *minioAPI) makeBucket(ctx context.Context, bucket, region string) error {
	return translateErr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket", resp.Code == "NotFound":
		return storage.ErrObjectNotFound
	case resp.StatusCode == http.StatusNotFound:
		return storage.ErrObjectNotFound
	}
	return err
}
