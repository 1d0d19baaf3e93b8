package storages3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	transport "github.com/aws/smithy-go/endpoints"

	"github.com/v0gel/mason/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// NewClient creates an S3 client using the provided connection string.
// The connection string must be a valid URL in the format: http://key:secret@s3:9000.
// For MinIO, the key and secret are the username and password respectively.
// It panics if the connection string is not a valid URL.
func NewClient(connectionString string) *s3.Client {
	u, err := url.Parse(connectionString)
	if err != nil {
		panic(err)
	}

	username := u.User.Username()
	password, _ := u.User.Password()
	u.User = nil

	client := s3.New(
		s3.Options{
			Credentials:        credentials.NewStaticCredentialsProvider(username, password, ""),
			EndpointResolverV2: &endpointResolver{BaseURL: u},
		},
	)
	return client
}

// endpointResolver implements s3.EndpointResolverV2.
// It resolves endpoints for S3-compatible object storage like MinIO.
type endpointResolver struct {
	BaseURL *url.URL // required
}

func (r *endpointResolver) ResolveEndpoint(_ context.Context, params s3.EndpointParameters) (transport.Endpoint, error) {
	u := *r.BaseURL
	u.Path += "/" + *params.Bucket
	return transport.Endpoint{URI: u}, nil
}

// downloadPartSize should be greater than or equal 5MB.
// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
const downloadPartSize = 10 * 1024 * 1024 // 10MB

type Store struct {
	client *s3.Client // required
}

func New(client *s3.Client) *Store {
	return &Store{client: client}
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]storage.Object, error) {
	var objects []storage.Object

	input := &s3.ListObjectsV2Input{Bucket: &bucket}
	if prefix != "" {
		input.Prefix = &prefix
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storages3.Store: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.Object{
				Key: *obj.Key,
				MD5: etagToMD5(obj.ETag),
			})
		}
	}

	return objects, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string, w io.Writer) error {
	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = int64(downloadPartSize)
		d.Concurrency = 1
	})

	// fakeWriterAt needs manager.Downloader.Concurrency set to 1.
	_, err := downloader.Download(ctx, fakeWriterAt{w}, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("storages3.Store: %w", storage.ErrNotFound)
		}
		return fmt.Errorf("storages3.Store: %w", err)
	}

	return nil
}

// Put stores the object in a single request. A multipart upload would give
// the object a part-digest ETag, and Head's MD5 contract is what
// upload-if-different compares against.
func (s *Store) Put(ctx context.Context, bucket, key string, body io.Reader, meta *storage.ObjectMeta) error {
	input := &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   body,
	}
	if meta != nil {
		if meta.ContentType != "" {
			input.ContentType = &meta.ContentType
		}
		if meta.ContentEncoding != "" {
			input.ContentEncoding = &meta.ContentEncoding
		}
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("storages3.Store: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("storages3.Store: %w", err)
	}

	return nil
}

func (s *Store) Head(ctx context.Context, bucket, key string) (string, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("storages3.Store: %w", storage.ErrNotFound)
		}
		return "", fmt.Errorf("storages3.Store: %w", err)
	}

	return etagToMD5(head.ETag), nil
}

func (s *Store) EnsureBucket(ctx context.Context, bucket, indexDocument, errorDocument string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		var alreadyExists *types.BucketAlreadyExists
		if !errors.As(err, &alreadyOwned) && !errors.As(err, &alreadyExists) {
			return fmt.Errorf("storages3.Store: %w", err)
		}
	}

	_, err = s.client.PutBucketWebsite(ctx, &s3.PutBucketWebsiteInput{
		Bucket: &bucket,
		WebsiteConfiguration: &types.WebsiteConfiguration{
			IndexDocument: &types.IndexDocument{Suffix: &indexDocument},
			ErrorDocument: &types.ErrorDocument{Key: &errorDocument},
		},
	})
	if err != nil {
		return fmt.Errorf("storages3.Store: %w", err)
	}

	return nil
}

// etagToMD5 strips the quotes S3 wraps around ETags. For non-multipart
// uploads the result is the MD5 hex digest of the stored bytes.
func etagToMD5(etag *string) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(*etag, `"`)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket"
	}
	return false
}

// fakeWriterAt wraps an io.Writer to provide a fake WriteAt method.
// This method simply calls w.Write ignoring the offset parameter.
// It can be used with github.com/aws/aws-sdk-go-v2/feature/s3/manager.Downloader.Download
// if its concurrency is set to 1 because this guarantees the sequential writes.
type fakeWriterAt struct {
	w io.Writer // required
}

func (writerAt fakeWriterAt) WriteAt(p []byte, _ int64) (n int, err error) {
	return writerAt.w.Write(p)
}
