package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ColdStore holds content payloads after they leave the hot tier. Put
// returns the URI later passed to Get and Delete.
type ColdStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}

// MinioStore implements ColdStore on MinIO/S3 compatible storage. URIs
// take the form s3://bucket/key.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put uploads an object and returns its URI.
func (m *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return objectURI(m.bucket, key), nil
}

// Get downloads an object by URI.
func (m *MinioStore) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes an object by URI.
func (m *MinioStore) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseObjectURI(uri)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func objectURI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

func parseObjectURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid object uri %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object uri %q", uri)
	}
	return bucket, key, nil
}

// MemoryColdStore is the in-memory ColdStore for tests and dev mode.
type MemoryColdStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

// NewMemoryColdStore returns an empty store using the given bucket name
// in the URIs it mints.
func NewMemoryColdStore(bucket string) *MemoryColdStore {
	if bucket == "" {
		bucket = "cold"
	}
	return &MemoryColdStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *MemoryColdStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return objectURI(m.bucket, key), nil
}

func (m *MemoryColdStore) Get(ctx context.Context, uri string) ([]byte, error) {
	_, key, err := parseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryColdStore) Delete(ctx context.Context, uri string) error {
	_, key, err := parseObjectURI(uri)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports the number of stored objects. Test helper.
func (m *MemoryColdStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
