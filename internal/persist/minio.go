package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/crypto"
)

// Minio implements Store against an S3-compatible object store. One
// object per key; the namespace separator ":" becomes "/" in object
// names so listings group by kind.
type Minio struct {
	client *minio.Client
	bucket string
}

// MinioOptions configures the object-store backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinio connects to the object store and ensures the bucket exists.
func NewMinio(ctx context.Context, opts MinioOptions) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("persist: minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("persist: bucket check: %w", netErr(err))
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("persist: make bucket: %w", netErr(err))
		}
	}
	return &Minio{client: client, bucket: opts.Bucket}, nil
}

func objectName(key string) string {
	return strings.ReplaceAll(key, ":", "/") + blobExt
}

func keyForObject(name string) string {
	if !strings.HasSuffix(name, blobExt) {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSuffix(name, blobExt), "/", ":")
}

// Put writes the packed blob as a single object. Object puts are atomic:
// readers see either the old or the new version.
func (m *Minio) Put(ctx context.Context, key string, blob crypto.Blob) error {
	if key == "" {
		return fmt.Errorf("persist: empty key: %w", apperr.ErrInvalidInput)
	}
	packed := blob.Pack()
	_, err := m.client.PutObject(ctx, m.bucket, objectName(key),
		bytes.NewReader(packed), int64(len(packed)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("persist: put %s: %w", key, netErr(err))
	}
	return nil
}

// Get fetches and unpacks the object for key.
func (m *Minio) Get(ctx context.Context, key string) (crypto.Blob, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return crypto.Blob{}, fmt.Errorf("persist: get %s: %w", key, netErr(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return crypto.Blob{}, fmt.Errorf("persist: get %s: %w", key, apperr.ErrNotFound)
		}
		return crypto.Blob{}, fmt.Errorf("persist: read %s: %w", key, netErr(err))
	}
	return crypto.Unpack(data)
}

// List returns every key with the given prefix.
func (m *Minio) List(ctx context.Context, prefix string) ([]string, error) {
	objPrefix := strings.ReplaceAll(prefix, ":", "/")
	out := []string{}
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    objPrefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("persist: list %q: %w", prefix, netErr(info.Err))
		}
		if key := keyForObject(info.Key); key != "" {
			out = append(out, key)
		}
	}
	return out, nil
}

// Delete removes the object for key, reporting whether it existed.
func (m *Minio) Delete(ctx context.Context, key string) (bool, error) {
	name := objectName(key)
	_, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("persist: stat %s: %w", key, netErr(err))
	}
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("persist: delete %s: %w", key, netErr(err))
	}
	return true, nil
}

// Close is a no-op; the minio client holds no persistent connection.
func (m *Minio) Close() error { return nil }

// netErr tags transport-level failures so callers can retry with backoff.
func netErr(err error) error {
	return fmt.Errorf("%v: %w", err, apperr.ErrNetworkFailure)
}
