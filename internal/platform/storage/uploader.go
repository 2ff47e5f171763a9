package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const publicHost = "https://storage.googleapis.com"

// ObjectWriterFactory opens a writer for a single object. The indirection
// keeps Uploader testable without a live bucket.
type ObjectWriterFactory interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

// Uploader writes generated documents (invoice PDFs, labels) to a bucket
// and returns their public URLs.
type Uploader struct {
	bucket  string
	baseURL string
	writers ObjectWriterFactory
}

// NewUploader constructs an Uploader for the given bucket. When publicBaseURL
// is empty the canonical storage.googleapis.com form is used.
func NewUploader(bucket string, writers ObjectWriterFactory, publicBaseURL string) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	if writers == nil {
		return nil, errors.New("storage uploader: writer factory is required")
	}
	return &Uploader{
		bucket:  bucket,
		baseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		writers: writers,
	}, nil
}

// Put stores the object with the given content type and returns its public URL.
func (u *Uploader) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	if u == nil || u.writers == nil {
		return "", errors.New("storage uploader: not initialised")
	}
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return "", errors.New("storage uploader: object name is required")
	}
	if len(data) == 0 {
		return "", errors.New("storage uploader: empty payload")
	}

	w := u.writers.NewWriter(ctx, object, contentType)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage uploader: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage uploader: close %s: %w", object, err)
	}

	return u.PublicURL(object), nil
}

// PublicURL renders the externally reachable URL for an object in the bucket.
func (u *Uploader) PublicURL(object string) string {
	object = strings.TrimLeft(object, "/")
	if u.baseURL != "" {
		return u.baseURL + "/" + object
	}
	return fmt.Sprintf("%s/%s/%s", publicHost, u.bucket, object)
}

// BucketWriterFactory adapts a Cloud Storage client to ObjectWriterFactory,
// marking every written object public-read.
type BucketWriterFactory struct {
	client *gcs.Client
	bucket string
}

// NewBucketWriterFactory wraps the Cloud Storage client for the named bucket.
func NewBucketWriterFactory(client *gcs.Client, bucket string) (*BucketWriterFactory, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	return &BucketWriterFactory{client: client, bucket: bucket}, nil
}

// NewWriter opens a public-read object writer.
func (f *BucketWriterFactory) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := f.client.Bucket(f.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.PredefinedACL = "publicRead"
	w.CacheControl = "public, max-age=86400"
	return w
}
