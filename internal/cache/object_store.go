package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectOptions configures NewObjectStore
type ObjectOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// ObjectStore keeps payloads in an S3-compatible bucket
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore connects and creates the bucket when missing
func NewObjectStore(ctx context.Context, opts ObjectOptions) (*ObjectStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", opts.Bucket, err)
		}
		slog.Info("created cache bucket", "bucket", opts.Bucket)
	}

	return &ObjectStore{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *ObjectStore) objectName(key string) string {
	return objectName(s.prefix, key)
}

func objectName(prefix, key string) string {
	return path.Join(prefix, hashKey(key)+".audio")
}

func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: map[string]string{"Cache-Key": key},
		})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Clear removes every object under the prefix
func (s *ObjectStore) Clear(ctx context.Context) error {
	listPrefix := s.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true})
	return drainRemovals(s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}), cancel)
}

// drainRemovals reads results until minio closes the channel. The first
// failure cancels the removal but the channel is still drained so the
// producer goroutine can exit.
func drainRemovals(results <-chan minio.RemoveObjectError, cancel context.CancelFunc) error {
	var first error
	for result := range results {
		if result.Err != nil && first == nil {
			first = fmt.Errorf("failed to remove %s: %w", result.ObjectName, result.Err)
			cancel()
		}
	}
	return first
}

func (s *ObjectStore) Close() error { return nil }
