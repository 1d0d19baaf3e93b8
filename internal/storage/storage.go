package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("not found")

// Object is one stored object's listing entry. MD5 is the hex digest of the
// stored bytes, which for gzip-uploaded site files is the digest of the
// compressed content.
type Object struct {
	Key string
	MD5 string
}

// ObjectMeta carries the content headers for a Put.
type ObjectMeta struct {
	ContentType     string
	ContentEncoding string
}

// Store is the object storage service backing deploy buckets and site
// archives. Implementations must make Put visible to a subsequent Head/List
// with the stored MD5, which is what upload-if-different compares against.
type Store interface {
	// List returns all objects under prefix, paginating as needed.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	Get(ctx context.Context, bucket, key string, w io.Writer) error
	Put(ctx context.Context, bucket, key string, body io.Reader, meta *ObjectMeta) error
	Delete(ctx context.Context, bucket, key string) error
	// Head returns the object's MD5 or ErrNotFound.
	Head(ctx context.Context, bucket, key string) (string, error)
	// EnsureBucket idempotently creates the bucket and configures it for
	// website serving.
	EnsureBucket(ctx context.Context, bucket, indexDocument, errorDocument string) error
}
